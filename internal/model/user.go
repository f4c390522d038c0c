package model

import (
	"gorm.io/datatypes"
)

type UserRole string

const (
	RolePatient   UserRole = "patient"
	RoleTherapist UserRole = "therapist"
	RoleAdmin     UserRole = "admin"
)

// swagger:model User
type User struct {
	BaseModel
	Username            string                        `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Name                string                        `gorm:"size:100" json:"name"`
	Email               string                        `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Roles               datatypes.JSONSlice[UserRole] `json:"roles"`
	IsVerifiedTherapist bool                          `gorm:"default:false" json:"isVerifiedTherapist"`
	TherapistID         *uint                         `gorm:"index" json:"therapistId,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) HasRole(role UserRole) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// IsVerifiedTherapistUser 治疗师角色且已通过认证
func (u *User) IsVerifiedTherapistUser() bool {
	return u.HasRole(RoleTherapist) && u.IsVerifiedTherapist
}

// UserSummary 报表中使用的用户摘要
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Email: u.Email, Name: u.Name}
}
