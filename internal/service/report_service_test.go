package service

import (
	"errors"
	"testing"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"
)

func (f *fixture) completePHQ9(t *testing.T, user *model.User, score int) *model.ModuleAttempt {
	t.Helper()
	qs := f.questions(t, f.phq9.ID)
	a, err := f.attemptSvc.Start(f.ctx, user.ID, f.phq9.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	scores := make([]int, len(qs))
	for i := 0; i < score && i < len(scores); i++ {
		scores[i] = 1
	}
	answers := answersFor(qs, scores)
	if _, err := f.attemptSvc.SaveProgress(f.ctx, a.ID, user.ID, SaveProgressInput{Answers: &answers}); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.clock.advance(time.Minute)
	done, err := f.attemptSvc.Submit(f.ctx, a.ID, user.ID, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.clock.advance(time.Hour)
	return done
}

func TestMyAttemptsPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.completePHQ9(t, f.patient, i)
	}
	open, err := f.attemptSvc.Start(f.ctx, f.patient.ID, f.phq9.ID, "")
	if err != nil {
		t.Fatalf("start open attempt: %v", err)
	}

	page, err := f.reportSvc.MyAttempts(f.ctx, f.patient.ID, HistoryRequest{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("page 1: n=%d cursor=%v", len(page.Items), page.NextCursor)
	}
	if page.Items[0].Iteration != 5 || page.Items[0].Band == nil || page.Items[0].Band.Label != "Minimal" {
		t.Fatalf("page 1 first: %+v", page.Items[0])
	}

	seen := len(page.Items)
	for page.NextCursor != nil {
		cursor, err := util.ParseCursor(*page.NextCursor)
		if err != nil {
			t.Fatalf("cursor: %v", err)
		}
		page, err = f.reportSvc.MyAttempts(f.ctx, f.patient.ID, HistoryRequest{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("next page: %v", err)
		}
		seen += len(page.Items)
	}
	if seen != 5 {
		t.Fatalf("submitted total: want=5 got=%d", seen)
	}

	active, err := f.reportSvc.MyAttempts(f.ctx, f.patient.ID, HistoryRequest{Status: util.HistoryStatusActive})
	if err != nil || len(active.Items) != 1 || active.Items[0].ID != open.ID || active.NextCursor != nil {
		t.Fatalf("active: %+v err=%v", active, err)
	}
	if _, err := f.reportSvc.MyAttempts(f.ctx, f.patient.ID, HistoryRequest{Status: "bogus"}); !errors.Is(err, util.ErrInvalidStatus) {
		t.Fatalf("bogus status: want=%v got=%v", util.ErrInvalidStatus, err)
	}
}

func TestTherapistLatestGroupsByPatientModule(t *testing.T) {
	f := newFixture(t)
	second := f.createUser(t, "patient_two", []model.UserRole{model.RolePatient}, false, &f.therapist.ID)
	outsider := f.createUser(t, "patient_three", []model.UserRole{model.RolePatient}, false, nil)

	f.completePHQ9(t, f.patient, 2)
	latestFirst := f.completePHQ9(t, f.patient, 7)
	latestSecond := f.completePHQ9(t, second, 9)
	f.completePHQ9(t, outsider, 1)

	rows, err := f.reportSvc.TherapistLatest(f.ctx, f.therapist.ID, 0)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}
	if rows[0].Attempt.ID != latestSecond.ID || rows[1].Attempt.ID != latestFirst.ID {
		t.Fatalf("order: got %s, %s", rows[0].Attempt.ID, rows[1].Attempt.ID)
	}
	if rows[1].Attempt.Band == nil || rows[1].Attempt.Band.Label != "Mild" || rows[1].Module.Title != "PHQ-9" {
		t.Fatalf("join: %+v", rows[1])
	}

	limited, err := f.reportSvc.TherapistLatest(f.ctx, f.therapist.ID, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: n=%d err=%v", len(limited), err)
	}

	if _, err := f.reportSvc.TherapistLatest(f.ctx, f.patient.ID, 0); !errors.Is(err, util.ErrForbidden) {
		t.Fatalf("patient caller: want=%v got=%v", util.ErrForbidden, err)
	}
}

func TestPatientTimeline(t *testing.T) {
	f := newFixture(t)
	first := f.completePHQ9(t, f.patient, 3)
	open, err := f.attemptSvc.Start(f.ctx, f.patient.ID, f.phq9.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	items, err := f.reportSvc.PatientTimeline(f.ctx, f.therapist.ID, f.patient.ID, f.phq9.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(items) != 2 || items[0].ID != first.ID || items[1].ID != open.ID {
		t.Fatalf("timeline order: %+v", items)
	}
	if items[1].Status != model.AttemptStarted || items[1].PercentComplete != 0 {
		t.Fatalf("open item: %+v", items[1])
	}

	stranger := f.createUser(t, "dr_other", []model.UserRole{model.RoleTherapist}, true, nil)
	if _, err := f.reportSvc.PatientTimeline(f.ctx, stranger.ID, f.patient.ID, f.phq9.ID); !errors.Is(err, util.ErrForbidden) {
		t.Fatalf("stranger: want=%v got=%v", util.ErrForbidden, err)
	}
}
