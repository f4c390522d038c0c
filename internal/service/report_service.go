package service

import (
	"context"
	"fmt"
	"time"

	"therapy_backend/internal/config"
	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/util"
)

// AttemptListItem 报表中的作答行，分数段在读取时按 (module, totalScore) 关联
type AttemptListItem struct {
	ID                string                  `json:"id"`
	UserID            uint                    `json:"userId"`
	ProgramID         uint                    `json:"programId"`
	ModuleID          uint                    `json:"moduleId"`
	ModuleType        model.ModuleType        `json:"moduleType"`
	Status            model.AttemptStatus     `json:"status"`
	Iteration         int                     `json:"iteration"`
	StartedAt         time.Time               `json:"startedAt"`
	LastInteractionAt time.Time               `json:"lastInteractionAt"`
	CompletedAt       *time.Time              `json:"completedAt,omitempty"`
	DurationSecs      *int                    `json:"durationSecs,omitempty"`
	DueAt             *time.Time              `json:"dueAt,omitempty"`
	AssignmentID      *string                 `json:"assignmentId,omitempty"`
	TotalScore        *int                    `json:"totalScore,omitempty"`
	ScoreBandLabel    *string                 `json:"scoreBandLabel,omitempty"`
	Band              *model.ScoreBandSummary `json:"band,omitempty"`
	WeekStart         *time.Time              `json:"weekStart,omitempty"`
	UserNote          string                  `json:"userNote,omitempty"`
	TherapistNote     string                  `json:"therapistNote,omitempty"`
	Module            *model.ModuleSummary    `json:"module,omitempty"`
	PercentComplete   int                     `json:"percentComplete"`
}

type HistoryPage struct {
	Items      []AttemptListItem `json:"items"`
	NextCursor *string           `json:"nextCursor"`
}

// HistoryRequest status: submitted（默认）| active
type HistoryRequest struct {
	ModuleID *uint
	Status   string
	Limit    int
	Cursor   *util.HistoryCursor
}

type LatestAttemptRow struct {
	Patient model.UserSummary   `json:"patient"`
	Module  model.ModuleSummary `json:"module"`
	Attempt AttemptListItem     `json:"attempt"`
}

type ReportService struct {
	Attempts *repository.AttemptRepository
	Users    UserDirectory
	Catalog  ContentCatalog
	Scoring  *ScoringService
	Week     *WeekClock
	limits   config.EngineConfig
	now      func() time.Time
}

func NewReportService(attempts *repository.AttemptRepository, users UserDirectory, catalog ContentCatalog, scoring *ScoringService, week *WeekClock, limits config.EngineConfig) *ReportService {
	return &ReportService{
		Attempts: attempts,
		Users:    users,
		Catalog:  catalog,
		Scoring:  scoring,
		Week:     week,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

func (s *ReportService) listItem(ctx context.Context, a *model.ModuleAttempt, bands *bandLookup, modules map[uint]*model.Module) (AttemptListItem, error) {
	band, err := bands.resolve(ctx, a.ModuleID, a.TotalScore)
	if err != nil {
		return AttemptListItem{}, err
	}
	item := AttemptListItem{
		ID:                a.ID,
		UserID:            a.UserID,
		ProgramID:         a.ProgramID,
		ModuleID:          a.ModuleID,
		ModuleType:        a.ModuleType,
		Status:            a.Status,
		Iteration:         a.Iteration,
		StartedAt:         a.StartedAt,
		LastInteractionAt: a.LastInteractionAt,
		CompletedAt:       a.CompletedAt,
		DurationSecs:      a.DurationSecs,
		DueAt:             a.DueAt,
		AssignmentID:      a.AssignmentID,
		TotalScore:        a.TotalScore,
		ScoreBandLabel:    a.ScoreBandLabel,
		Band:              band,
		WeekStart:         a.WeekStart,
		UserNote:          a.UserNote,
		TherapistNote:     a.TherapistNote,
		PercentComplete:   PercentComplete(a, s.now(), s.Week),
	}
	if m, ok := modules[a.ModuleID]; ok {
		sum := m.Summary()
		item.Module = &sum
	}
	return item, nil
}

func (s *ReportService) modulesFor(ctx context.Context, attempts []model.ModuleAttempt) (map[uint]*model.Module, error) {
	seen := make(map[uint]bool)
	var ids []uint
	for _, a := range attempts {
		if !seen[a.ModuleID] {
			seen[a.ModuleID] = true
			ids = append(ids, a.ModuleID)
		}
	}
	return s.Catalog.FindModulesByIDs(ctx, ids)
}

// MyAttempts 用户自己的作答历史，倒序，单字段游标
func (s *ReportService) MyAttempts(ctx context.Context, userID uint, req HistoryRequest) (*HistoryPage, error) {
	var active bool
	switch req.Status {
	case "", util.HistoryStatusSubmitted:
	case util.HistoryStatusActive:
		active = true
	default:
		return nil, fmt.Errorf("%w: %q", util.ErrInvalidStatus, req.Status)
	}
	limit := clampLimit(req.Limit, s.limits.HistoryDefaultLimit, s.limits.HistoryMaxLimit)

	rows, err := s.Attempts.ListHistory(ctx, repository.HistoryQuery{
		UserID:   userID,
		ModuleID: req.ModuleID,
		Active:   active,
		Limit:    limit,
		Cursor:   req.Cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Items: make([]AttemptListItem, 0, limit)}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		if active {
			page.NextCursor = util.FormatCursor(last.LastInteractionAt, last.ID)
		} else if last.CompletedAt != nil {
			page.NextCursor = util.FormatCursor(*last.CompletedAt, last.ID)
		}
	}

	modules, err := s.modulesFor(ctx, rows)
	if err != nil {
		return nil, err
	}
	bands := s.Scoring.newLookup()
	for i := range rows {
		item, err := s.listItem(ctx, &rows[i], bands, modules)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// TherapistLatest 每个 (患者, 模块) 最近一次已提交的作答
func (s *ReportService) TherapistLatest(ctx context.Context, therapistID uint, limit int) ([]LatestAttemptRow, error) {
	me, err := s.Users.FindUser(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if !me.IsVerifiedTherapistUser() {
		return nil, util.ErrForbidden
	}
	limit = clampLimit(limit, s.limits.LatestDefaultLimit, s.limits.LatestMaxLimit)

	patients, err := s.Users.ListPatientsOf(ctx, me.ID)
	if err != nil {
		return nil, err
	}
	patientByID := make(map[uint]*model.User, len(patients))
	ids := make([]uint, 0, len(patients))
	for i := range patients {
		patientByID[patients[i].ID] = &patients[i]
		ids = append(ids, patients[i].ID)
	}

	attempts, err := s.Attempts.ListSubmittedForPatients(ctx, ids)
	if err != nil {
		return nil, err
	}
	type pair struct{ user, module uint }
	seen := make(map[pair]bool)
	latest := make([]model.ModuleAttempt, 0)
	for _, a := range attempts {
		key := pair{a.UserID, a.ModuleID}
		if seen[key] {
			continue
		}
		seen[key] = true
		latest = append(latest, a)
		if len(latest) == limit {
			break
		}
	}

	modules, err := s.modulesFor(ctx, latest)
	if err != nil {
		return nil, err
	}
	bands := s.Scoring.newLookup()
	rows := make([]LatestAttemptRow, 0, len(latest))
	for i := range latest {
		a := &latest[i]
		item, err := s.listItem(ctx, a, bands, modules)
		if err != nil {
			return nil, err
		}
		row := LatestAttemptRow{
			Patient: patientByID[a.UserID].Summary(),
			Attempt: item,
		}
		if item.Module != nil {
			row.Module = *item.Module
		} else {
			row.Module = model.ModuleSummary{ID: a.ModuleID, Type: a.ModuleType}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PatientTimeline 某患者在某模块上的全部作答，按开始时间升序
func (s *ReportService) PatientTimeline(ctx context.Context, viewerID, patientID, moduleID uint) ([]AttemptListItem, error) {
	viewer, err := s.Users.FindUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	patient, err := s.Users.FindUser(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !canViewPatient(viewer, patient) {
		return nil, util.ErrForbidden
	}
	module, err := s.Catalog.FindModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.Attempts.ListTimeline(ctx, patientID, moduleID)
	if err != nil {
		return nil, err
	}
	modules := map[uint]*model.Module{module.ID: module}
	bands := s.Scoring.newLookup()
	items := make([]AttemptListItem, 0, len(attempts))
	for i := range attempts {
		item, err := s.listItem(ctx, &attempts[i], bands, modules)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
