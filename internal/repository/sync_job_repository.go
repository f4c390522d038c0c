package repository

import (
	"context"
	"time"

	"therapy_backend/internal/model"

	"gorm.io/gorm"
)

type SyncJobRepository struct {
	DB *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{DB: db}
}

func (r *SyncJobRepository) WithTx(tx *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{DB: tx}
}

func (r *SyncJobRepository) Create(ctx context.Context, job *model.AssignmentSyncJob) error {
	return r.DB.WithContext(ctx).Create(job).Error
}

func (r *SyncJobRepository) FindByAttempt(ctx context.Context, attemptID string) (*model.AssignmentSyncJob, error) {
	var job model.AssignmentSyncJob
	if err := r.DB.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListDue 到期待处理的任务
func (r *SyncJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.AssignmentSyncJob, error) {
	var jobs []model.AssignmentSyncJob
	err := r.DB.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", model.SyncJobPending, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// MarkDone 仅处理 pending 任务，避免重复执行
func (r *SyncJobRepository) MarkDone(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.AssignmentSyncJob{}).
		Where("id = ? AND status = ?", id, model.SyncJobPending).
		Updates(map[string]interface{}{"status": model.SyncJobDone, "last_error": ""})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *SyncJobRepository) MarkRetry(ctx context.Context, id string, tries int, nextRunAt time.Time, lastErr string) error {
	return r.DB.WithContext(ctx).Model(&model.AssignmentSyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tries":       tries,
			"next_run_at": nextRunAt,
			"last_error":  lastErr,
		}).Error
}

func (r *SyncJobRepository) MarkFailed(ctx context.Context, id string, tries int, lastErr string) error {
	return r.DB.WithContext(ctx).Model(&model.AssignmentSyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.SyncJobFailed,
			"tries":      tries,
			"last_error": lastErr,
		}).Error
}

func (r *SyncJobRepository) CountByStatus(ctx context.Context, status model.SyncJobStatus) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.AssignmentSyncJob{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
