package model

import "time"

type SyncJobStatus string

const (
	SyncJobPending SyncJobStatus = "pending"
	SyncJobDone    SyncJobStatus = "done"
	SyncJobFailed  SyncJobStatus = "failed"
)

// AssignmentSyncJob 提交后同步分配状态的 outbox 记录，与提交在同一事务中写入
type AssignmentSyncJob struct {
	UUIDBase
	AttemptID    string        `gorm:"type:varchar(36);index;not null" json:"attemptId"`
	AssignmentID *string       `gorm:"type:varchar(36)" json:"assignmentId,omitempty"` // 显式指定或作答来源的分配
	Explicit     bool          `json:"explicit"`                                       // 显式指定时不再自动查找
	UserID       uint          `json:"userId"`
	ModuleID     uint          `json:"moduleId"`
	TherapistID  *uint         `json:"therapistId,omitempty"`
	Status       SyncJobStatus `gorm:"size:20;index:idx_sync_job_due;not null" json:"status"`
	Tries        int           `json:"tries"`
	LastError    string        `gorm:"type:text" json:"lastError,omitempty"`
	NextRunAt    time.Time     `gorm:"index:idx_sync_job_due" json:"nextRunAt"`
}

func (AssignmentSyncJob) TableName() string {
	return "assignment_sync_jobs"
}
