package model

type ModuleType string

const (
	ModuleQuestionnaire   ModuleType = "questionnaire"
	ModulePsychoeducation ModuleType = "psychoeducation"
	ModuleExercise        ModuleType = "exercise"
	ModuleActivityDiary   ModuleType = "activity_diary"
)

func (t ModuleType) Valid() bool {
	switch t {
	case ModuleQuestionnaire, ModulePsychoeducation, ModuleExercise, ModuleActivityDiary:
		return true
	}
	return false
}

type AccessPolicy string

const (
	AccessOpen     AccessPolicy = "open"
	AccessEnrolled AccessPolicy = "enrolled"
	AccessAssigned AccessPolicy = "assigned"
)

// swagger:model Program
type Program struct {
	BaseModel
	Title       string `gorm:"size:100;not null" json:"title"`
	Description string `gorm:"size:500" json:"description"`
}

func (Program) TableName() string {
	return "programs"
}

// swagger:model Module
type Module struct {
	BaseModel
	ProgramID    uint         `gorm:"index;not null" json:"programId"`
	Title        string       `gorm:"size:100;not null" json:"title"`
	Description  string       `gorm:"size:500" json:"description"`
	Type         ModuleType   `gorm:"size:30;not null" json:"type"`
	Disclaimer   string       `gorm:"type:text" json:"disclaimer,omitempty"`
	ImageURL     string       `gorm:"size:255" json:"imageUrl,omitempty"`
	AccessPolicy AccessPolicy `gorm:"size:20;default:'open'" json:"accessPolicy"`
}

func (Module) TableName() string {
	return "modules"
}

// ModuleSummary 报表中使用的模块摘要
type ModuleSummary struct {
	ID    uint       `json:"id"`
	Title string     `json:"title"`
	Type  ModuleType `json:"type,omitempty"`
}

func (m *Module) Summary() ModuleSummary {
	return ModuleSummary{ID: m.ID, Title: m.Title, Type: m.Type}
}

// ModuleEnrollment enrolled 访问策略下的用户名单
type ModuleEnrollment struct {
	BaseModel
	ModuleID uint `gorm:"uniqueIndex:idx_module_enrollment;not null" json:"moduleId"`
	UserID   uint `gorm:"uniqueIndex:idx_module_enrollment;not null" json:"userId"`
}

func (ModuleEnrollment) TableName() string {
	return "module_enrollments"
}
