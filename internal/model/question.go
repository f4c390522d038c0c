package model

import "gorm.io/datatypes"

type Choice struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// swagger:model Question
type Question struct {
	BaseModel
	ModuleID uint                        `gorm:"index;not null" json:"moduleId"`
	Order    int                         `gorm:"column:sort_order;not null" json:"order"`
	Text     string                      `gorm:"type:text;not null" json:"text"`
	Choices  datatypes.JSONSlice[Choice] `json:"choices"`
}

func (Question) TableName() string {
	return "questions"
}

// swagger:model ScoreBand
type ScoreBand struct {
	BaseModel
	ModuleID       uint   `gorm:"index;not null" json:"moduleId"`
	Min            int    `json:"min"`
	Max            int    `json:"max"`
	Label          string `gorm:"size:100" json:"label"`
	Interpretation string `gorm:"type:text" json:"interpretation"`
}

func (ScoreBand) TableName() string {
	return "score_bands"
}

func (b ScoreBand) Contains(score int) bool {
	return b.Min <= score && score <= b.Max
}

// ScoreBandSummary 按 (module, totalScore) 在读取时关联出的分段
type ScoreBandSummary struct {
	ID             uint   `json:"id"`
	Label          string `json:"label"`
	Interpretation string `json:"interpretation"`
	Min            int    `json:"min"`
	Max            int    `json:"max"`
}

func (b ScoreBand) Summary() *ScoreBandSummary {
	return &ScoreBandSummary{ID: b.ID, Label: b.Label, Interpretation: b.Interpretation, Min: b.Min, Max: b.Max}
}
