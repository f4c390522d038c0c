package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"therapy_backend/internal/config"
	"therapy_backend/internal/middleware"
	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/service"
	"therapy_backend/internal/util"
	"therapy_backend/pkg/database"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

const testSecret = "controller-test-secret-0123456789abcdef"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router    *gin.Engine
	modules   *repository.ModuleRepository
	therapist *model.User
	patient   *model.User
	phq9      model.Module
	diary     model.Module
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	users := repository.NewUserRepository(db)
	modules := repository.NewModuleRepository(db)
	attempts := repository.NewAttemptRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	jobs := repository.NewSyncJobRepository(db)

	engine := config.EngineConfig{
		ReferenceTimezone:   "Europe/London",
		HistoryDefaultLimit: 20,
		HistoryMaxLimit:     100,
		LatestDefaultLimit:  200,
		LatestMaxLimit:      500,
	}
	week, err := service.NewWeekClock(engine.ReferenceTimezone)
	if err != nil {
		t.Fatalf("week clock: %v", err)
	}
	scoring := service.NewScoringService(repository.NewScoreBandRepository(db, nil, 0))
	sync := service.NewAssignmentSynchronizer(assignments, jobs, nil, 3)
	attemptSvc := service.NewAttemptService(db, attempts, assignments, jobs, users, modules, scoring, week, sync)
	assignmentSvc := service.NewAssignmentService(assignments, attempts, users, modules)
	reportSvc := service.NewReportService(attempts, users, modules, scoring, week, engine)

	s := &testServer{modules: modules}
	ctx := context.Background()
	s.therapist = &model.User{
		Username:            "dr_who",
		Email:               "dr_who@example.com",
		Roles:               datatypes.JSONSlice[model.UserRole]{model.RoleTherapist},
		IsVerifiedTherapist: true,
	}
	if err := users.Create(ctx, s.therapist); err != nil {
		t.Fatalf("create therapist: %v", err)
	}
	s.patient = &model.User{
		Username:    "patient_one",
		Email:       "patient_one@example.com",
		Roles:       datatypes.JSONSlice[model.UserRole]{model.RolePatient},
		TherapistID: &s.therapist.ID,
	}
	if err := users.Create(ctx, s.patient); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	if err := db.Where("title = ?", "PHQ-9").First(&s.phq9).Error; err != nil {
		t.Fatalf("load phq9: %v", err)
	}
	if err := db.Where("title = ?", "Activity Diary").First(&s.diary).Error; err != nil {
		t.Fatalf("load diary: %v", err)
	}

	attemptCtl := NewAttemptController(attemptSvc)
	assignmentCtl := NewAssignmentController(assignmentSvc)
	reportCtl := NewReportController(reportSvc)
	moduleCtl := NewModuleController(scoring)

	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}
	r := gin.New()
	api := r.Group("/api", middleware.AuthMiddleware(cfg))
	api.POST("/modules/:moduleId/attempts", attemptCtl.Start)
	api.GET("/modules/:moduleId/eligibility", attemptCtl.Eligibility)
	api.GET("/modules/:moduleId/score-bands", moduleCtl.GetScoreBands)
	api.PUT("/modules/:moduleId/score-bands", middleware.RoleMiddleware(model.RoleAdmin), moduleCtl.ReplaceScoreBands)
	api.GET("/attempts/:attemptId", attemptCtl.Get)
	api.PATCH("/attempts/:attemptId", attemptCtl.SaveProgress)
	api.POST("/attempts/:attemptId/submit", attemptCtl.Submit)
	api.GET("/me/attempts", reportCtl.MyAttempts)
	api.GET("/me/assignments", assignmentCtl.ListMine)
	api.POST("/assignments", assignmentCtl.Create)
	api.GET("/therapist/attempts/latest", reportCtl.TherapistLatest)
	s.router = r
	return s
}

func (s *testServer) do(t *testing.T, method, path string, user *model.User, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		roles := make([]string, 0, len(user.Roles))
		for _, r := range user.Roles {
			roles = append(roles, string(r))
		}
		token, err := util.GenerateJWT(user.ID, roles, testSecret, time.Hour)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/api/modules/%d/attempts", s.phq9.ID), s.patient, nil)
	if code != http.StatusCreated {
		t.Fatalf("start: want=%d got=%d (%s)", http.StatusCreated, code, env.Message)
	}
	var started model.ModuleAttempt
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	if started.Status != model.AttemptStarted {
		t.Fatalf("status: want=%s got=%s", model.AttemptStarted, started.Status)
	}

	questions, err := s.modules.FindQuestions(context.Background(), s.phq9.ID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	answers := make([]service.AnswerInput, 0, len(questions))
	for _, q := range questions {
		answers = append(answers, service.AnswerInput{QuestionID: q.ID, ChosenScore: 1})
	}

	path := "/api/attempts/" + started.ID
	code, env = s.do(t, http.MethodPatch, path, s.patient, service.SaveProgressInput{Answers: &answers})
	if code != http.StatusOK {
		t.Fatalf("save: want=%d got=%d (%s)", http.StatusOK, code, env.Message)
	}

	code, env = s.do(t, http.MethodPost, path+"/submit", s.patient, nil)
	if code != http.StatusOK {
		t.Fatalf("submit: want=%d got=%d (%s)", http.StatusOK, code, env.Message)
	}
	var submitted model.ModuleAttempt
	if err := json.Unmarshal(env.Data, &submitted); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	if submitted.TotalScore == nil || *submitted.TotalScore != 9 {
		t.Fatalf("totalScore: want=9 got=%v", submitted.TotalScore)
	}
	if submitted.ScoreBandLabel == nil || *submitted.ScoreBandLabel != "Mild" {
		t.Fatalf("band: want=Mild got=%v", submitted.ScoreBandLabel)
	}

	code, _ = s.do(t, http.MethodPost, path+"/submit", s.patient, nil)
	if code != http.StatusConflict {
		t.Fatalf("resubmit: want=%d got=%d", http.StatusConflict, code)
	}
	code, _ = s.do(t, http.MethodPatch, path, s.patient, service.SaveProgressInput{Answers: &answers})
	if code != http.StatusConflict {
		t.Fatalf("save after submit: want=%d got=%d", http.StatusConflict, code)
	}

	code, _ = s.do(t, http.MethodGet, path, s.therapist, nil)
	if code != http.StatusForbidden {
		t.Fatalf("foreign read: want=%d got=%d", http.StatusForbidden, code)
	}

	code, env = s.do(t, http.MethodGet, "/api/me/attempts", s.patient, nil)
	if code != http.StatusOK {
		t.Fatalf("history: want=%d got=%d", http.StatusOK, code)
	}
	var page struct {
		List       []service.AttemptListItem `json:"list"`
		NextCursor *string                   `json:"nextCursor"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.List) != 1 || page.List[0].ID != started.ID {
		t.Fatalf("history: want=[%s] got=%+v", started.ID, page.List)
	}
	if page.NextCursor != nil {
		t.Fatalf("nextCursor: want=nil got=%s", *page.NextCursor)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		user   *model.User
		want   int
	}{
		{"no token", http.MethodGet, "/api/me/attempts", nil, http.StatusUnauthorized},
		{"bad module id", http.MethodPost, "/api/modules/abc/attempts", s.patient, http.StatusBadRequest},
		{"unknown module", http.MethodPost, "/api/modules/9999/attempts", s.patient, http.StatusNotFound},
		{"assigned module without assignment", http.MethodPost, fmt.Sprintf("/api/modules/%d/attempts", s.diary.ID), s.patient, http.StatusForbidden},
		{"bad cursor", http.MethodGet, "/api/me/attempts?cursor=yesterday", s.patient, http.StatusBadRequest},
		{"bad history status", http.MethodGet, "/api/me/attempts?status=deleted", s.patient, http.StatusBadRequest},
		{"bad assignment status", http.MethodGet, "/api/me/assignments?status=deleted", s.patient, http.StatusBadRequest},
		{"unknown attempt", http.MethodGet, "/api/attempts/does-not-exist", s.patient, http.StatusNotFound},
		{"patient latest report", http.MethodGet, "/api/therapist/attempts/latest", s.patient, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(t, tc.method, tc.path, tc.user, nil)
			if code != tc.want {
				t.Fatalf("want=%d got=%d (%s)", tc.want, code, env.Message)
			}
		})
	}
}

func TestAssignmentUnlocksModule(t *testing.T) {
	s := newTestServer(t)

	eligibility := fmt.Sprintf("/api/modules/%d/eligibility", s.diary.ID)
	_, env := s.do(t, http.MethodGet, eligibility, s.patient, nil)
	var el service.Eligibility
	if err := json.Unmarshal(env.Data, &el); err != nil {
		t.Fatalf("decode eligibility: %v", err)
	}
	if el.CanStart || el.Reason != "requires_assignment" {
		t.Fatalf("before assignment: want=requires_assignment got=%+v", el)
	}

	req := service.CreateAssignmentRequest{UserID: s.patient.ID, ModuleID: s.diary.ID}
	code, env := s.do(t, http.MethodPost, "/api/assignments", s.therapist, req)
	if code != http.StatusCreated {
		t.Fatalf("create: want=%d got=%d (%s)", http.StatusCreated, code, env.Message)
	}
	code, _ = s.do(t, http.MethodPost, "/api/assignments", s.therapist, req)
	if code != http.StatusConflict {
		t.Fatalf("duplicate: want=%d got=%d", http.StatusConflict, code)
	}

	_, env = s.do(t, http.MethodGet, eligibility, s.patient, nil)
	if err := json.Unmarshal(env.Data, &el); err != nil {
		t.Fatalf("decode eligibility: %v", err)
	}
	if !el.CanStart || el.ActiveAssignmentID == nil {
		t.Fatalf("after assignment: want canStart with id got=%+v", el)
	}

	code, env = s.do(t, http.MethodGet, "/api/me/assignments", s.patient, nil)
	if code != http.StatusOK {
		t.Fatalf("my assignments: want=%d got=%d", http.StatusOK, code)
	}
	var mine []service.AssignmentView
	if err := json.Unmarshal(env.Data, &mine); err != nil {
		t.Fatalf("decode assignments: %v", err)
	}
	if len(mine) != 1 || mine[0].ModuleID != s.diary.ID {
		t.Fatalf("my assignments: want one diary assignment got=%+v", mine)
	}

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/modules/%d/attempts", s.diary.ID), s.patient, nil)
	if code != http.StatusCreated {
		t.Fatalf("start diary: want=%d got=%d (%s)", http.StatusCreated, code, env.Message)
	}
}

func TestReplaceScoreBands(t *testing.T) {
	s := newTestServer(t)
	admin := &model.User{Roles: datatypes.JSONSlice[model.UserRole]{model.RoleAdmin}}
	admin.ID = 999
	path := fmt.Sprintf("/api/modules/%d/score-bands", s.phq9.ID)

	overlapping := replaceScoreBandsRequest{Bands: []scoreBandInput{
		{Min: 0, Max: 10, Label: "Low"},
		{Min: 10, Max: 27, Label: "High"},
	}}
	cases := []struct {
		name string
		user *model.User
		body replaceScoreBandsRequest
		want int
	}{
		{"therapist is not admin", s.therapist, overlapping, http.StatusForbidden},
		{"overlap", admin, overlapping, http.StatusBadRequest},
		{"inverted", admin, replaceScoreBandsRequest{Bands: []scoreBandInput{{Min: 5, Max: 1, Label: "Bad"}}}, http.StatusBadRequest},
		{"valid", admin, replaceScoreBandsRequest{Bands: []scoreBandInput{
			{Min: 0, Max: 9, Label: "Low"},
			{Min: 10, Max: 27, Label: "High"},
		}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPut, path, tc.user, tc.body)
			if code != tc.want {
				t.Fatalf("want=%d got=%d (%s)", tc.want, code, env.Message)
			}
		})
	}

	_, env := s.do(t, http.MethodGet, path, s.patient, nil)
	var bands []model.ScoreBand
	if err := json.Unmarshal(env.Data, &bands); err != nil {
		t.Fatalf("decode bands: %v", err)
	}
	if len(bands) != 2 || bands[0].Label != "Low" || bands[1].Label != "High" {
		t.Fatalf("bands: want=[Low High] got=%+v", bands)
	}
}
