package model

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "started"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptAbandoned AttemptStatus = "abandoned"
)

// AttemptAnswer 问卷作答；ChosenIndex/ChosenText 由服务端根据 ChosenScore 推导
type AttemptAnswer struct {
	QuestionID  uint    `json:"questionId"`
	ChosenScore int     `json:"chosenScore"`
	ChosenIndex *int    `json:"chosenIndex,omitempty"`
	ChosenText  *string `json:"chosenText,omitempty"`
}

// DiaryEntry 活动日记条目，数值字段均可选
type DiaryEntry struct {
	At          time.Time `json:"at"`
	Label       string    `json:"label,omitempty"`
	Activity    string    `json:"activity"`
	Mood        *int      `json:"mood,omitempty"`
	Achievement *int      `json:"achievement,omitempty"`
	Closeness   *int      `json:"closeness,omitempty"`
	Enjoyment   *int      `json:"enjoyment,omitempty"`
}

type SnapshotQuestion struct {
	ID      uint     `json:"id"`
	Text    string   `json:"text"`
	Choices []Choice `json:"choices"`
}

// ModuleSnapshot 开始作答时的模块内容副本，不引用任何在线数据
type ModuleSnapshot struct {
	Title      string             `json:"title"`
	Disclaimer string             `json:"disclaimer,omitempty"`
	Questions  []SnapshotQuestion `json:"questions"`
}

func (s *ModuleSnapshot) QuestionByID(id uint) (SnapshotQuestion, bool) {
	if s == nil {
		return SnapshotQuestion{}, false
	}
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return SnapshotQuestion{}, false
}

// swagger:model ModuleAttempt
type ModuleAttempt struct {
	UUIDBase

	UserID      uint       `gorm:"index:idx_attempt_user_module;not null" json:"userId"`
	TherapistID *uint      `gorm:"index" json:"therapistId,omitempty"` // 事件发生时的治疗师副本，可能过期
	ProgramID   uint       `gorm:"index" json:"programId"`
	ModuleID    uint       `gorm:"index:idx_attempt_user_module;not null" json:"moduleId"`
	ModuleType  ModuleType `gorm:"size:30;not null" json:"moduleType"`

	Status            AttemptStatus `gorm:"size:20;index;not null" json:"status"`
	StartedAt         time.Time     `json:"startedAt"`
	LastInteractionAt time.Time     `gorm:"index" json:"lastInteractionAt"`
	CompletedAt       *time.Time    `gorm:"index" json:"completedAt,omitempty"`
	DurationSecs      *int          `json:"durationSecs,omitempty"`
	Iteration         int           `json:"iteration"`
	DueAt             *time.Time    `json:"dueAt,omitempty"`
	AssignmentID      *string       `gorm:"type:varchar(36);index" json:"assignmentId,omitempty"`
	Revision          int           `gorm:"not null;default:0" json:"revision"` // 每次保存进度自增，用于乐观并发

	ModuleSnapshot datatypes.JSONType[ModuleSnapshot] `json:"moduleSnapshot"`
	Answers        datatypes.JSONSlice[AttemptAnswer] `json:"answers,omitempty"`
	DiaryEntries   datatypes.JSONSlice[DiaryEntry]    `json:"diaryEntries,omitempty"`

	TotalScore     *int       `json:"totalScore,omitempty"`
	ScoreBandLabel *string    `gorm:"size:100" json:"scoreBandLabel,omitempty"`
	WeekStart      *time.Time `gorm:"index" json:"weekStart,omitempty"`

	UserNote      string `gorm:"type:text" json:"userNote,omitempty"`
	TherapistNote string `gorm:"type:text" json:"therapistNote,omitempty"`

	PercentComplete *int `gorm:"-" json:"percentComplete,omitempty"`
}

func (ModuleAttempt) TableName() string {
	return "module_attempts"
}

func (a *ModuleAttempt) Snapshot() *ModuleSnapshot {
	s := a.ModuleSnapshot.Data()
	return &s
}

// HasSnapshot 旧数据可能没有题目快照
func (a *ModuleAttempt) HasSnapshot() bool {
	s := a.ModuleSnapshot.Data()
	return s.Title != "" || len(s.Questions) > 0
}

// AttemptPayload 按 moduleType 区分的作答内容
type AttemptPayload interface {
	Kind() ModuleType
}

type QuestionnairePayload struct {
	Answers []AttemptAnswer
}

func (QuestionnairePayload) Kind() ModuleType { return ModuleQuestionnaire }

type DiaryPayload struct {
	Entries []DiaryEntry
}

func (DiaryPayload) Kind() ModuleType { return ModuleActivityDiary }

// UnscoredPayload psychoeducation / exercise 没有结构化内容
type UnscoredPayload struct {
	Type ModuleType
}

func (p UnscoredPayload) Kind() ModuleType { return p.Type }

func (a *ModuleAttempt) Payload() AttemptPayload {
	switch a.ModuleType {
	case ModuleQuestionnaire:
		return QuestionnairePayload{Answers: a.Answers}
	case ModuleActivityDiary:
		return DiaryPayload{Entries: a.DiaryEntries}
	default:
		return UnscoredPayload{Type: a.ModuleType}
	}
}

func AnswerList(answers []AttemptAnswer) datatypes.JSONSlice[AttemptAnswer] {
	return datatypes.JSONSlice[AttemptAnswer](answers)
}

func DiaryList(entries []DiaryEntry) datatypes.JSONSlice[DiaryEntry] {
	return datatypes.JSONSlice[DiaryEntry](entries)
}
