package service

import (
	"context"

	"therapy_backend/internal/model"
)

// UserDirectory 用户身份、角色与治疗师关系
type UserDirectory interface {
	FindUser(ctx context.Context, id uint) (*model.User, error)
	FindUsersByIDs(ctx context.Context, ids []uint) (map[uint]*model.User, error)
	ListPatientsOf(ctx context.Context, therapistID uint) ([]model.User, error)
}

// ContentCatalog 模块、题目与报名名单
type ContentCatalog interface {
	FindModule(ctx context.Context, id uint) (*model.Module, error)
	FindModulesByIDs(ctx context.Context, ids []uint) (map[uint]*model.Module, error)
	FindQuestions(ctx context.Context, moduleID uint) ([]model.Question, error)
	IsEnrolled(ctx context.Context, moduleID, userID uint) (bool, error)
}

// canViewPatient 管理员，或已认证且为该患者治疗师的用户
func canViewPatient(viewer, patient *model.User) bool {
	if viewer.IsAdmin() {
		return true
	}
	return viewer.IsVerifiedTherapistUser() && patient.TherapistID != nil && *patient.TherapistID == viewer.ID
}

func isTherapistOrAdmin(u *model.User) bool {
	return u.IsAdmin() || u.IsVerifiedTherapistUser()
}
