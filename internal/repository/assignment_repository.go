package repository

import (
	"context"
	"errors"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"

	"gorm.io/gorm"
)

// in_progress 优先，其次最早截止，无截止时间的排最后
const activeAssignmentOrder = "CASE status WHEN 'in_progress' THEN 0 ELSE 1 END, due_at IS NULL, due_at ASC, created_at ASC"

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: db}
}

func (r *AssignmentRepository) WithTx(tx *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: tx}
}

// Create 唯一索引冲突映射为 ErrActiveAssignmentExists
func (r *AssignmentRepository) Create(ctx context.Context, a *model.ModuleAssignment) error {
	if err := r.DB.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return util.ErrActiveAssignmentExists
		}
		return err
	}
	return nil
}

func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*model.ModuleAssignment, error) {
	var a model.ModuleAssignment
	if err := r.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindActiveForUserModule 查找进行中的分配，therapistID 非空时只匹配该治疗师
func (r *AssignmentRepository) FindActiveForUserModule(ctx context.Context, userID, moduleID uint, therapistID *uint) (*model.ModuleAssignment, error) {
	db := r.DB.WithContext(ctx).
		Where("user_id = ? AND module_id = ? AND status IN ?", userID, moduleID, model.ActiveAssignmentStatuses)
	if therapistID != nil {
		db = db.Where("therapist_id = ?", *therapistID)
	}
	var a model.ModuleAssignment
	if err := db.Order(activeAssignmentOrder).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ClaimForAttempt assigned -> in_progress；并发开始作答时只有一个请求能命中
func (r *AssignmentRepository) ClaimForAttempt(ctx context.Context, id, attemptID string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.ModuleAssignment{}).
		Where("id = ? AND status = ?", id, model.AssignmentAssigned).
		Updates(map[string]interface{}{
			"status":            model.AssignmentInProgress,
			"latest_attempt_id": attemptID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CompleteWithAttempt 进行中的分配 -> completed，已完成或已取消的分配保持不变
func (r *AssignmentRepository) CompleteWithAttempt(ctx context.Context, id, attemptID string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.ModuleAssignment{}).
		Where("id = ? AND status IN ?", id, model.ActiveAssignmentStatuses).
		Updates(map[string]interface{}{
			"status":            model.AssignmentCompleted,
			"latest_attempt_id": attemptID,
			"active_key":        nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatus 治疗师手动修改状态，active_key 需与状态同步写入
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, a *model.ModuleAssignment, status model.AssignmentStatus) error {
	err := r.DB.WithContext(ctx).Model(&model.ModuleAssignment{}).
		Where("id = ?", a.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"active_key": model.ActiveKeyValue(status, a.UserID, a.ModuleID),
		}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return util.ErrActiveAssignmentExists
		}
		return err
	}
	a.Status = status
	a.ActiveKey = model.ActiveKeyValue(status, a.UserID, a.ModuleID)
	return nil
}

func (r *AssignmentRepository) ListActiveForTherapist(ctx context.Context, therapistID uint) ([]model.ModuleAssignment, error) {
	var list []model.ModuleAssignment
	err := r.DB.WithContext(ctx).
		Where("therapist_id = ? AND status IN ?", therapistID, model.ActiveAssignmentStatuses).
		Order("due_at IS NULL, due_at ASC, created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *AssignmentRepository) ListForUser(ctx context.Context, userID uint, statuses []model.AssignmentStatus) ([]model.ModuleAssignment, error) {
	db := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		db = db.Where("status IN ?", statuses)
	}
	var list []model.ModuleAssignment
	err := db.Order("due_at IS NULL, due_at ASC, created_at DESC").Find(&list).Error
	return list, err
}

func (r *AssignmentRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.ModuleAssignment{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
