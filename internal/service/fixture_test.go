package service

import (
	"context"
	"testing"
	"time"

	"therapy_backend/internal/config"
	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/pkg/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	ctx         context.Context
	db          *gorm.DB
	clock       *testClock
	users       *repository.UserRepository
	modules     *repository.ModuleRepository
	attempts    *repository.AttemptRepository
	assignments *repository.AssignmentRepository
	jobs        *repository.SyncJobRepository

	attemptSvc    *AttemptService
	assignmentSvc *AssignmentService
	reportSvc     *ReportService
	sync          *AssignmentSynchronizer

	therapist *model.User
	patient   *model.User
	phq9      *model.Module
	diary     *model.Module
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ReferenceTimezone:   "Europe/London",
		HistoryDefaultLimit: 20,
		HistoryMaxLimit:     100,
		LatestDefaultLimit:  200,
		LatestMaxLimit:      500,
		SyncMaxRetries:      3,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLiteMemory(t.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if err := database.SeedDemoContent(db); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := &fixture{
		ctx: context.Background(),
		db:  db,
		// 2024-01-10 周三 12:00（冬令时，伦敦与 UTC 一致）
		clock:       &testClock{t: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)},
		users:       repository.NewUserRepository(db),
		modules:     repository.NewModuleRepository(db),
		attempts:    repository.NewAttemptRepository(db),
		assignments: repository.NewAssignmentRepository(db),
		jobs:        repository.NewSyncJobRepository(db),
	}

	week := mustWeekClock(t)
	scoring := NewScoringService(repository.NewScoreBandRepository(db, nil, 0))
	f.sync = NewAssignmentSynchronizer(f.assignments, f.jobs, nil, 3)
	f.sync.now = f.clock.now
	f.attemptSvc = NewAttemptService(db, f.attempts, f.assignments, f.jobs, f.users, f.modules, scoring, week, f.sync)
	f.attemptSvc.now = f.clock.now
	f.assignmentSvc = NewAssignmentService(f.assignments, f.attempts, f.users, f.modules)
	f.reportSvc = NewReportService(f.attempts, f.users, f.modules, scoring, week, testEngineConfig())
	f.reportSvc.now = f.clock.now

	f.therapist = f.createUser(t, "dr_who", []model.UserRole{model.RoleTherapist}, true, nil)
	f.patient = f.createUser(t, "patient_one", []model.UserRole{model.RolePatient}, false, &f.therapist.ID)

	var phq9, diary model.Module
	if err := db.Where("title = ?", "PHQ-9").First(&phq9).Error; err != nil {
		t.Fatalf("load phq9: %v", err)
	}
	if err := db.Where("title = ?", "Activity Diary").First(&diary).Error; err != nil {
		t.Fatalf("load diary: %v", err)
	}
	f.phq9, f.diary = &phq9, &diary
	return f
}

func (f *fixture) createUser(t *testing.T, username string, roles []model.UserRole, verified bool, therapistID *uint) *model.User {
	t.Helper()
	u := &model.User{
		Username:            username,
		Email:               username + "@example.com",
		Roles:               datatypes.JSONSlice[model.UserRole](roles),
		IsVerifiedTherapist: verified,
		TherapistID:         therapistID,
	}
	if err := f.users.Create(f.ctx, u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func (f *fixture) questions(t *testing.T, moduleID uint) []model.Question {
	t.Helper()
	qs, err := f.modules.FindQuestions(f.ctx, moduleID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	return qs
}

func (f *fixture) assign(t *testing.T, patient *model.User, module *model.Module, dueAt *time.Time) *model.ModuleAssignment {
	t.Helper()
	asg, err := f.assignmentSvc.Create(f.ctx, f.therapist.ID, CreateAssignmentRequest{
		UserID:   patient.ID,
		ModuleID: module.ID,
		DueAt:    dueAt,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return asg
}

func answersFor(qs []model.Question, scores []int) []AnswerInput {
	in := make([]AnswerInput, 0, len(scores))
	for i, s := range scores {
		in = append(in, AnswerInput{QuestionID: qs[i].ID, ChosenScore: s})
	}
	return in
}
