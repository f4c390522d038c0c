package service

import (
	"context"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/util"
	"therapy_backend/pkg/logger"
	"therapy_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type AssignmentService struct {
	Assignments *repository.AssignmentRepository
	Attempts    *repository.AttemptRepository
	Users       UserDirectory
	Catalog     ContentCatalog
}

func NewAssignmentService(assignments *repository.AssignmentRepository, attempts *repository.AttemptRepository, users UserDirectory, catalog ContentCatalog) *AssignmentService {
	return &AssignmentService{
		Assignments: assignments,
		Attempts:    attempts,
		Users:       users,
		Catalog:     catalog,
	}
}

type CreateAssignmentRequest struct {
	UserID     uint              `json:"userId" binding:"required"`
	ModuleID   uint              `json:"moduleId" binding:"required"`
	DueAt      *time.Time        `json:"dueAt"`
	Recurrence *model.Recurrence `json:"recurrence"`
	Notes      string            `json:"notes"`
}

// AttemptBrief 分配列表中最近一次作答的摘要
type AttemptBrief struct {
	ID             string              `json:"id"`
	Status         model.AttemptStatus `json:"status"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	TotalScore     *int                `json:"totalScore,omitempty"`
	ScoreBandLabel *string             `json:"scoreBandLabel,omitempty"`
}

type AssignmentView struct {
	model.ModuleAssignment
	Module        *model.ModuleSummary `json:"module,omitempty"`
	Patient       *model.UserSummary   `json:"user,omitempty"`
	LatestAttempt *AttemptBrief        `json:"latestAttempt,omitempty"`
}

func normalizeRecurrence(r *model.Recurrence) (model.Recurrence, error) {
	if r == nil {
		return model.Recurrence{Freq: model.RecurrenceNone, Interval: 1}, nil
	}
	out := *r
	if out.Freq == "" {
		out.Freq = model.RecurrenceNone
	}
	switch out.Freq {
	case model.RecurrenceNone, model.RecurrenceWeekly, model.RecurrenceMonthly:
	default:
		return out, util.ErrInvalidRecurrence
	}
	if out.Interval == 0 {
		out.Interval = 1
	}
	if out.Interval < 1 {
		return out, util.ErrInvalidRecurrence
	}
	return out, nil
}

func (s *AssignmentService) requireTherapist(ctx context.Context, id uint) (*model.User, error) {
	me, err := s.Users.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isTherapistOrAdmin(me) {
		return nil, util.ErrForbidden
	}
	return me, nil
}

// Create 同一 (user, module) 已有进行中的分配时返回 ErrActiveAssignmentExists
func (s *AssignmentService) Create(ctx context.Context, therapistID uint, req CreateAssignmentRequest) (*model.ModuleAssignment, error) {
	me, err := s.requireTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	module, err := s.Catalog.FindModule(ctx, req.ModuleID)
	if err != nil {
		return nil, err
	}
	patient, err := s.Users.FindUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !canViewPatient(me, patient) {
		return nil, util.ErrForbidden
	}
	recurrence, err := normalizeRecurrence(req.Recurrence)
	if err != nil {
		return nil, err
	}

	if _, err := s.Assignments.FindActiveForUserModule(ctx, req.UserID, req.ModuleID, nil); err == nil {
		return nil, util.ErrActiveAssignmentExists
	} else if !util.IsNotFound(err) {
		return nil, err
	}

	var dueAt *time.Time
	if req.DueAt != nil {
		d := req.DueAt.UTC()
		dueAt = &d
	}
	asg := &model.ModuleAssignment{
		UserID:      req.UserID,
		TherapistID: me.ID,
		ProgramID:   module.ProgramID,
		ModuleID:    module.ID,
		ModuleType:  module.Type,
		Status:      model.AssignmentAssigned,
		DueAt:       dueAt,
		Recurrence:  datatypes.NewJSONType(recurrence),
		Notes:       req.Notes,
	}
	if err := s.Assignments.Create(ctx, asg); err != nil {
		return nil, err
	}

	monitoring.AssignmentTransitions.WithLabelValues(string(model.AssignmentAssigned)).Inc()
	logger.Log.Info("assignment created",
		zap.String("assignmentId", asg.ID),
		zap.Uint("therapistId", me.ID),
		zap.Uint("userId", req.UserID),
		zap.Uint("moduleId", req.ModuleID))
	return asg, nil
}

// ListForTherapist 治疗师名下进行中的分配
func (s *AssignmentService) ListForTherapist(ctx context.Context, therapistID uint) ([]AssignmentView, error) {
	if _, err := s.requireTherapist(ctx, therapistID); err != nil {
		return nil, err
	}
	list, err := s.Assignments.ListActiveForTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, list, true)
}

// ListMine status: active | completed | all
func (s *AssignmentService) ListMine(ctx context.Context, userID uint, status string) ([]AssignmentView, error) {
	var statuses []model.AssignmentStatus
	switch status {
	case "", "active":
		statuses = model.ActiveAssignmentStatuses
	case "completed":
		statuses = []model.AssignmentStatus{model.AssignmentCompleted}
	case "all":
	default:
		return nil, util.ErrInvalidStatus
	}
	list, err := s.Assignments.ListForUser(ctx, userID, statuses)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, list, false)
}

func (s *AssignmentService) loadManaged(ctx context.Context, therapistID uint, assignmentID string) (*model.ModuleAssignment, error) {
	me, err := s.requireTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	asg, err := s.Assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if asg.TherapistID != me.ID && !me.IsAdmin() {
		return nil, util.ErrForbidden
	}
	return asg, nil
}

func (s *AssignmentService) UpdateStatus(ctx context.Context, therapistID uint, assignmentID string, status model.AssignmentStatus) (*model.ModuleAssignment, error) {
	if !status.Valid() {
		return nil, util.ErrInvalidStatus
	}
	asg, err := s.loadManaged(ctx, therapistID, assignmentID)
	if err != nil {
		return nil, err
	}
	if asg.Status == status {
		return asg, nil
	}
	from := asg.Status
	if err := s.Assignments.UpdateStatus(ctx, asg, status); err != nil {
		return nil, err
	}
	monitoring.AssignmentTransitions.WithLabelValues(string(status)).Inc()
	logger.Log.Info("assignment status changed",
		zap.String("assignmentId", asg.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	return asg, nil
}

func (s *AssignmentService) Remove(ctx context.Context, therapistID uint, assignmentID string) error {
	asg, err := s.loadManaged(ctx, therapistID, assignmentID)
	if err != nil {
		return err
	}
	ok, err := s.Assignments.Delete(ctx, asg.ID)
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrAssignmentNotFound
	}
	logger.Log.Info("assignment removed", zap.String("assignmentId", asg.ID))
	return nil
}

func (s *AssignmentService) decorate(ctx context.Context, list []model.ModuleAssignment, withPatient bool) ([]AssignmentView, error) {
	moduleIDs := make([]uint, 0, len(list))
	userIDs := make([]uint, 0, len(list))
	attemptIDs := make([]string, 0, len(list))
	for _, a := range list {
		moduleIDs = append(moduleIDs, a.ModuleID)
		userIDs = append(userIDs, a.UserID)
		if a.LatestAttemptID != nil {
			attemptIDs = append(attemptIDs, *a.LatestAttemptID)
		}
	}
	modules, err := s.Catalog.FindModulesByIDs(ctx, moduleIDs)
	if err != nil {
		return nil, err
	}
	attempts, err := s.Attempts.FindByIDs(ctx, attemptIDs)
	if err != nil {
		return nil, err
	}
	var users map[uint]*model.User
	if withPatient {
		if users, err = s.Users.FindUsersByIDs(ctx, userIDs); err != nil {
			return nil, err
		}
	}

	views := make([]AssignmentView, 0, len(list))
	for _, a := range list {
		v := AssignmentView{ModuleAssignment: a}
		if m, ok := modules[a.ModuleID]; ok {
			sum := m.Summary()
			v.Module = &sum
		}
		if u, ok := users[a.UserID]; ok {
			sum := u.Summary()
			v.Patient = &sum
		}
		if a.LatestAttemptID != nil {
			if at, ok := attempts[*a.LatestAttemptID]; ok {
				v.LatestAttempt = &AttemptBrief{
					ID:             at.ID,
					Status:         at.Status,
					CompletedAt:    at.CompletedAt,
					TotalScore:     at.TotalScore,
					ScoreBandLabel: at.ScoreBandLabel,
				}
			}
		}
		views = append(views, v)
	}
	return views, nil
}
