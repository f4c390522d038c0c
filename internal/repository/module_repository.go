package repository

import (
	"context"
	"errors"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"

	"gorm.io/gorm"
)

// ModuleRepository 内容目录：项目、模块、题目与报名名单
type ModuleRepository struct {
	DB *gorm.DB
}

func NewModuleRepository(db *gorm.DB) *ModuleRepository {
	return &ModuleRepository{DB: db}
}

func (r *ModuleRepository) CreateProgram(ctx context.Context, p *model.Program) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

func (r *ModuleRepository) CreateModule(ctx context.Context, m *model.Module) error {
	return r.DB.WithContext(ctx).Create(m).Error
}

func (r *ModuleRepository) CreateQuestions(ctx context.Context, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&questions).Error
}

func (r *ModuleRepository) FindModule(ctx context.Context, id uint) (*model.Module, error) {
	var m model.Module
	if err := r.DB.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrModuleNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *ModuleRepository) FindModulesByIDs(ctx context.Context, ids []uint) (map[uint]*model.Module, error) {
	result := make(map[uint]*model.Module, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var modules []model.Module
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&modules).Error; err != nil {
		return nil, err
	}
	for i := range modules {
		result[modules[i].ID] = &modules[i]
	}
	return result, nil
}

// FindQuestions 按 sort_order 升序返回模块题目
func (r *ModuleRepository) FindQuestions(ctx context.Context, moduleID uint) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Order("sort_order ASC, id ASC").
		Find(&questions).Error
	return questions, err
}

func (r *ModuleRepository) Enroll(ctx context.Context, moduleID, userID uint) error {
	var existing model.ModuleEnrollment
	err := r.DB.WithContext(ctx).Where("module_id = ? AND user_id = ?", moduleID, userID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.DB.WithContext(ctx).Create(&model.ModuleEnrollment{ModuleID: moduleID, UserID: userID}).Error
}

func (r *ModuleRepository) IsEnrolled(ctx context.Context, moduleID, userID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.ModuleEnrollment{}).
		Where("module_id = ? AND user_id = ?", moduleID, userID).
		Count(&count).Error
	return count > 0, err
}
