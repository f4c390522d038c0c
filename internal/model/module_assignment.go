package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

var ActiveAssignmentStatuses = []AssignmentStatus{AssignmentAssigned, AssignmentInProgress}

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentAssigned, AssignmentInProgress, AssignmentCompleted, AssignmentCancelled:
		return true
	}
	return false
}

func (s AssignmentStatus) Active() bool {
	return s == AssignmentAssigned || s == AssignmentInProgress
}

type RecurrenceFreq string

const (
	RecurrenceNone    RecurrenceFreq = "none"
	RecurrenceWeekly  RecurrenceFreq = "weekly"
	RecurrenceMonthly RecurrenceFreq = "monthly"
)

type Recurrence struct {
	Freq     RecurrenceFreq `json:"freq"`
	Interval int            `json:"interval"`
}

// swagger:model ModuleAssignment
type ModuleAssignment struct {
	UUIDBase

	UserID      uint       `gorm:"index;not null" json:"userId"`
	TherapistID uint       `gorm:"index:idx_assignment_therapist_status;not null" json:"therapistId"`
	ProgramID   uint       `gorm:"index" json:"programId"`
	ModuleID    uint       `gorm:"index;not null" json:"moduleId"`
	ModuleType  ModuleType `gorm:"size:30;not null" json:"moduleType"`

	Status          AssignmentStatus               `gorm:"size:20;index:idx_assignment_therapist_status;not null;default:'assigned'" json:"status"`
	DueAt           *time.Time                     `gorm:"index" json:"dueAt,omitempty"`
	Recurrence      datatypes.JSONType[Recurrence] `json:"recurrence"`
	LatestAttemptID *string                        `gorm:"type:varchar(36)" json:"latestAttemptId,omitempty"` // 弱引用
	Notes           string                         `gorm:"type:text" json:"notes,omitempty"`

	// 仅在 assigned/in_progress 时非空，唯一索引保证 (user, module) 至多一个进行中的分配
	ActiveKey *string `gorm:"size:64;uniqueIndex" json:"-"`
}

func (ModuleAssignment) TableName() string {
	return "module_assignments"
}

func ActiveKeyFor(userID, moduleID uint) string {
	return fmt.Sprintf("%d:%d", userID, moduleID)
}

// ActiveKeyValue 根据状态计算 active_key 列的值
func ActiveKeyValue(status AssignmentStatus, userID, moduleID uint) *string {
	if !status.Active() {
		return nil
	}
	key := ActiveKeyFor(userID, moduleID)
	return &key
}

func (a *ModuleAssignment) BeforeSave(tx *gorm.DB) error {
	a.ActiveKey = ActiveKeyValue(a.Status, a.UserID, a.ModuleID)
	return nil
}
