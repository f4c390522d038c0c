package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/util"
	"therapy_backend/pkg/logger"
	"therapy_backend/pkg/monitoring"
	"therapy_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 保存进度时乐观并发的重试次数
const saveProgressRetries = 3

type AttemptService struct {
	DB          *gorm.DB
	Attempts    *repository.AttemptRepository
	Assignments *repository.AssignmentRepository
	Jobs        *repository.SyncJobRepository
	Users       UserDirectory
	Catalog     ContentCatalog
	Snapshots   *SnapshotBuilder
	Scoring     *ScoringService
	Week        *WeekClock
	Sync        *AssignmentSynchronizer
	now         func() time.Time
}

func NewAttemptService(
	db *gorm.DB,
	attempts *repository.AttemptRepository,
	assignments *repository.AssignmentRepository,
	jobs *repository.SyncJobRepository,
	users UserDirectory,
	catalog ContentCatalog,
	scoring *ScoringService,
	week *WeekClock,
	sync *AssignmentSynchronizer,
) *AttemptService {
	return &AttemptService{
		DB:          db,
		Attempts:    attempts,
		Assignments: assignments,
		Jobs:        jobs,
		Users:       users,
		Catalog:     catalog,
		Snapshots:   NewSnapshotBuilder(catalog),
		Scoring:     scoring,
		Week:        week,
		Sync:        sync,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AnswerInput 问卷作答输入；ChosenIndex 仅在与 ChosenScore 一致时采用
type AnswerInput struct {
	QuestionID  uint `json:"questionId" binding:"required"`
	ChosenScore int  `json:"chosenScore"`
	ChosenIndex *int `json:"chosenIndex,omitempty"`
}

type DiaryInput struct {
	Entries []DiaryEntryInput `json:"entries"`
	Merge   bool              `json:"merge"`
}

// SaveProgressInput 字段为 nil 表示本次不修改
type SaveProgressInput struct {
	Answers  *[]AnswerInput `json:"answers,omitempty"`
	Diary    *DiaryInput    `json:"diary,omitempty"`
	UserNote *string        `json:"userNote,omitempty"`
}

// Eligibility 模块是否可以开始作答
type Eligibility struct {
	CanStart           bool    `json:"canStart"`
	Reason             string  `json:"reason"`
	ActiveAssignmentID *string `json:"activeAssignmentId,omitempty"`
}

const (
	EligibilityOK                 = "ok"
	EligibilityNotEnrolled        = "not_enrolled"
	EligibilityRequiresAssignment = "requires_assignment"
)

func (s *AttemptService) withPercent(a *model.ModuleAttempt) *model.ModuleAttempt {
	pct := PercentComplete(a, s.now(), s.Week)
	a.PercentComplete = &pct
	return a
}

// resolveAccess 返回本次作答关联的分配（可能为 nil）
func (s *AttemptService) resolveAccess(ctx context.Context, userID uint, module *model.Module, assignmentID string) (*model.ModuleAssignment, error) {
	if assignmentID != "" {
		asg, err := s.Assignments.FindByID(ctx, assignmentID)
		if err != nil {
			if util.IsNotFound(err) {
				return nil, util.ErrInvalidAssignment
			}
			return nil, err
		}
		if asg.UserID != userID || asg.ModuleID != module.ID || !asg.Status.Active() {
			return nil, util.ErrInvalidAssignment
		}
		return asg, nil
	}

	switch module.AccessPolicy {
	case model.AccessAssigned:
		asg, err := s.Assignments.FindActiveForUserModule(ctx, userID, module.ID, nil)
		if err != nil {
			if util.IsNotFound(err) {
				return nil, util.ErrAssignmentRequired
			}
			return nil, err
		}
		return asg, nil
	case model.AccessEnrolled:
		ok, err := s.Catalog.IsEnrolled(ctx, module.ID, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, util.ErrNotEnrolled
		}
	}
	return nil, nil
}

func (s *AttemptService) Eligibility(ctx context.Context, userID, moduleID uint) (*Eligibility, error) {
	module, err := s.Catalog.FindModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	asg, err := s.resolveAccess(ctx, userID, module, "")
	switch {
	case errors.Is(err, util.ErrAssignmentRequired):
		return &Eligibility{Reason: EligibilityRequiresAssignment}, nil
	case errors.Is(err, util.ErrNotEnrolled):
		return &Eligibility{Reason: EligibilityNotEnrolled}, nil
	case err != nil:
		return nil, err
	}
	el := &Eligibility{CanStart: true, Reason: EligibilityOK}
	if asg != nil {
		el.ActiveAssignmentID = &asg.ID
	} else if active, err := s.Assignments.FindActiveForUserModule(ctx, userID, moduleID, nil); err == nil {
		el.ActiveAssignmentID = &active.ID
	}
	return el, nil
}

// Start 创建新的作答。顺序：访问校验 -> 快照 -> 持久化 -> 抢占分配
func (s *AttemptService) Start(ctx context.Context, userID, moduleID uint, assignmentID string) (attempt *model.ModuleAttempt, err error) {
	ctx, span := tracing.StartSpan(ctx, "AttemptService.Start",
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("module.id", int64(moduleID)))
	defer func() { tracing.EndSpan(span, err) }()

	module, err := s.Catalog.FindModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	asg, err := s.resolveAccess(ctx, userID, module, assignmentID)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.Snapshots.Build(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrSnapshotFailed, err)
	}
	prior, err := s.Attempts.CountSubmitted(ctx, userID, moduleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	attempt = &model.ModuleAttempt{
		UUIDBase:          model.UUIDBase{ID: model.GenerateUUID()},
		UserID:            userID,
		TherapistID:       user.TherapistID,
		ProgramID:         module.ProgramID,
		ModuleID:          module.ID,
		ModuleType:        module.Type,
		Status:            model.AttemptStarted,
		StartedAt:         now,
		LastInteractionAt: now,
		Iteration:         int(prior) + 1,
		ModuleSnapshot:    datatypes.NewJSONType(*snapshot),
	}
	if asg != nil {
		attempt.AssignmentID = &asg.ID
		attempt.DueAt = asg.DueAt
	}

	claimed := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Attempts.WithTx(tx).Create(ctx, attempt); err != nil {
			return err
		}
		if asg == nil {
			return nil
		}
		ok, err := s.Sync.ClaimOnStart(ctx, tx, asg, attempt.ID)
		if err != nil {
			return err
		}
		if !ok {
			// 分配已被并发请求抢占：本次作答不携带截止时间
			attempt.AssignmentID = nil
			attempt.DueAt = nil
			return s.Attempts.WithTx(tx).ClearAssignmentLink(ctx, attempt.ID)
		}
		claimed = asg.LatestAttemptID != nil && *asg.LatestAttemptID == attempt.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.AttemptTransitions.WithLabelValues(string(module.Type), string(model.AttemptStarted)).Inc()
	if claimed {
		monitoring.AssignmentTransitions.WithLabelValues(string(model.AssignmentInProgress)).Inc()
	}
	logger.Log.Info("attempt started",
		zap.String("attemptId", attempt.ID),
		zap.Uint("userId", userID),
		zap.Uint("moduleId", moduleID),
		zap.Int("iteration", attempt.Iteration),
		zap.Bool("assignmentClaimed", claimed))

	return s.withPercent(attempt), nil
}

// loadOwned 加载作答并校验归属与状态
func (s *AttemptService) loadOwned(ctx context.Context, attemptID string, userID uint) (*model.ModuleAttempt, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, util.ErrForbidden
	}
	return attempt, checkWritable(attempt)
}

func checkWritable(a *model.ModuleAttempt) error {
	switch a.Status {
	case model.AttemptSubmitted:
		return util.ErrAlreadySubmitted
	case model.AttemptAbandoned:
		return util.ErrAttemptClosed
	}
	return nil
}

// choiceSource 优先使用快照中的选项，旧数据回退到在线题目
type choiceSource struct {
	snapshot *model.ModuleSnapshot
	live     map[uint][]model.Choice
}

func (s *AttemptService) loadChoiceSource(ctx context.Context, a *model.ModuleAttempt) (*choiceSource, error) {
	src := &choiceSource{live: make(map[uint][]model.Choice)}
	if a.HasSnapshot() {
		src.snapshot = a.Snapshot()
	}
	questions, err := s.Catalog.FindQuestions(ctx, a.ModuleID)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		src.live[q.ID] = q.Choices
	}
	return src, nil
}

func (c *choiceSource) choices(questionID uint) ([]model.Choice, bool) {
	if q, ok := c.snapshot.QuestionByID(questionID); ok {
		return q.Choices, true
	}
	choices, ok := c.live[questionID]
	return choices, ok
}

// requiredQuestions 快照中有题目时以快照为准
func (c *choiceSource) requiredQuestions() []uint {
	var ids []uint
	if c.snapshot != nil && len(c.snapshot.Questions) > 0 {
		for _, q := range c.snapshot.Questions {
			ids = append(ids, q.ID)
		}
		return ids
	}
	for id := range c.live {
		ids = append(ids, id)
	}
	return ids
}

// deriveChoice 第一个分值匹配的选项
func deriveChoice(choices []model.Choice, score int) (*int, *string) {
	for i, ch := range choices {
		if ch.Score == score {
			idx, text := i, ch.Text
			return &idx, &text
		}
	}
	return nil, nil
}

func (c *choiceSource) buildAnswers(inputs []AnswerInput) ([]model.AttemptAnswer, error) {
	answers := make([]model.AttemptAnswer, 0, len(inputs))
	seen := make(map[uint]bool, len(inputs))
	for _, in := range inputs {
		choices, ok := c.choices(in.QuestionID)
		if !ok || seen[in.QuestionID] {
			return nil, fmt.Errorf("%w: question %d", util.ErrInvalidAnswer, in.QuestionID)
		}
		seen[in.QuestionID] = true

		ans := model.AttemptAnswer{QuestionID: in.QuestionID, ChosenScore: in.ChosenScore}
		if in.ChosenIndex != nil && *in.ChosenIndex >= 0 && *in.ChosenIndex < len(choices) && choices[*in.ChosenIndex].Score == in.ChosenScore {
			idx, text := *in.ChosenIndex, choices[*in.ChosenIndex].Text
			ans.ChosenIndex, ans.ChosenText = &idx, &text
		} else {
			ans.ChosenIndex, ans.ChosenText = deriveChoice(choices, in.ChosenScore)
		}
		answers = append(answers, ans)
	}
	return answers, nil
}

// rederive 提交时忽略已保存的 index/text，按分值重新推导
func (c *choiceSource) rederive(answers []model.AttemptAnswer) []model.AttemptAnswer {
	out := make([]model.AttemptAnswer, len(answers))
	for i, a := range answers {
		out[i] = model.AttemptAnswer{QuestionID: a.QuestionID, ChosenScore: a.ChosenScore}
		if choices, ok := c.choices(a.QuestionID); ok {
			out[i].ChosenIndex, out[i].ChosenText = deriveChoice(choices, a.ChosenScore)
		}
	}
	return out
}

func (s *AttemptService) progressUpdates(ctx context.Context, attempt *model.ModuleAttempt, in SaveProgressInput) (map[string]interface{}, error) {
	updates := map[string]interface{}{"last_interaction_at": s.now()}
	if in.UserNote != nil {
		updates["user_note"] = *in.UserNote
	}

	switch p := attempt.Payload().(type) {
	case model.QuestionnairePayload:
		if in.Diary != nil {
			return nil, fmt.Errorf("%w: diary entries are not accepted for questionnaires", util.ErrInvalidAnswer)
		}
		if in.Answers != nil {
			src, err := s.loadChoiceSource(ctx, attempt)
			if err != nil {
				return nil, err
			}
			answers, err := src.buildAnswers(*in.Answers)
			if err != nil {
				return nil, err
			}
			updates["answers"] = model.AnswerList(answers)
		}
	case model.DiaryPayload:
		if in.Answers != nil {
			return nil, fmt.Errorf("%w: answers are not accepted for activity diaries", util.ErrInvalidAnswer)
		}
		if in.Diary != nil {
			incoming := SanitizeDiaryEntries(in.Diary.Entries)
			updates["diary_entries"] = model.DiaryList(MergeDiaryEntries(p.Entries, incoming, in.Diary.Merge))
		}
	default:
		if in.Answers != nil || in.Diary != nil {
			return nil, fmt.Errorf("%w: %s modules take no structured content", util.ErrInvalidAnswer, p.Kind())
		}
	}
	return updates, nil
}

// SaveProgress 保存作答进度，不改变状态。并发保存时以版本号检测冲突并重新基于最新数据计算
func (s *AttemptService) SaveProgress(ctx context.Context, attemptID string, userID uint, in SaveProgressInput) (attempt *model.ModuleAttempt, err error) {
	ctx, span := tracing.StartSpan(ctx, "AttemptService.SaveProgress", attribute.String("attempt.id", attemptID))
	defer func() { tracing.EndSpan(span, err) }()

	for i := 0; i < saveProgressRetries; i++ {
		attempt, err = s.loadOwned(ctx, attemptID, userID)
		if err != nil {
			return nil, err
		}
		updates, err := s.progressUpdates(ctx, attempt, in)
		if err != nil {
			return nil, err
		}
		ok, err := s.Attempts.UpdateIfStarted(ctx, attemptID, attempt.Revision, updates)
		if err != nil {
			return nil, err
		}
		if ok {
			saved, err := s.Attempts.FindByID(ctx, attemptID)
			if err != nil {
				return nil, err
			}
			return s.withPercent(saved), nil
		}
	}
	// 最后一次检查状态，区分已提交与并发冲突
	if attempt, err = s.loadOwned(ctx, attemptID, userID); err != nil {
		return nil, err
	}
	return nil, util.ErrConcurrentUpdate
}

// Submit 完成作答。评分、状态与完成时间在一次条件更新中写入，分配同步通过 outbox 在提交后执行
func (s *AttemptService) Submit(ctx context.Context, attemptID string, userID uint, assignmentID string) (attempt *model.ModuleAttempt, err error) {
	ctx, span := tracing.StartSpan(ctx, "AttemptService.Submit", attribute.String("attempt.id", attemptID))
	defer func() { tracing.EndSpan(span, err) }()

	attempt, err = s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if assignmentID != "" {
		asg, err := s.Assignments.FindByID(ctx, assignmentID)
		if err != nil {
			if util.IsNotFound(err) {
				return nil, util.ErrInvalidAssignment
			}
			return nil, err
		}
		if asg.UserID != userID || asg.ModuleID != attempt.ModuleID {
			return nil, util.ErrInvalidAssignment
		}
	}
	user, err := s.Users.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	duration := int(now.Sub(attempt.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	fields := repository.SubmitFields{
		CompletedAt:  now,
		DurationSecs: duration,
		WeekStart:    s.Week.WeekStart(now),
		TherapistID:  user.TherapistID,
	}

	if p, ok := attempt.Payload().(model.QuestionnairePayload); ok {
		src, err := s.loadChoiceSource(ctx, attempt)
		if err != nil {
			return nil, err
		}
		answered := make(map[uint]bool, len(p.Answers))
		for _, a := range p.Answers {
			answered[a.QuestionID] = true
		}
		for _, qid := range src.requiredQuestions() {
			if !answered[qid] {
				return nil, util.ErrIncompleteAnswers
			}
		}
		fields.Answers = src.rederive(p.Answers)
		total := TotalScore(fields.Answers)
		fields.TotalScore = &total
		band, err := s.Scoring.Resolve(ctx, attempt.ModuleID, total)
		if err != nil {
			return nil, err
		}
		if band != nil {
			fields.ScoreBandLabel = &band.Label
		}
	}

	attempt.TherapistID = user.TherapistID
	job := s.Sync.NewJob(attempt, assignmentID)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.Attempts.WithTx(tx).MarkSubmitted(ctx, attemptID, fields)
		if err != nil {
			return err
		}
		if !ok {
			current, err := s.Attempts.WithTx(tx).FindByID(ctx, attemptID)
			if err != nil {
				return err
			}
			if err := checkWritable(current); err != nil {
				return err
			}
			return util.ErrAlreadySubmitted
		}
		return s.Jobs.WithTx(tx).Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	monitoring.AttemptTransitions.WithLabelValues(string(attempt.ModuleType), string(model.AttemptSubmitted)).Inc()
	logger.Log.Info("attempt submitted",
		zap.String("attemptId", attemptID),
		zap.Uint("userId", userID),
		zap.Uint("moduleId", attempt.ModuleID),
		zap.Intp("totalScore", fields.TotalScore))

	// 同步失败不影响提交结果，任务保留在 outbox 中等待重试
	if err := s.Sync.Apply(context.WithoutCancel(ctx), job); err != nil {
		logger.Log.Warn("assignment sync deferred", zap.String("attemptId", attemptID), zap.Error(err))
	}

	submitted, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.withPercent(submitted), nil
}

// Get 作答者本人读取
func (s *AttemptService) Get(ctx context.Context, attemptID string, userID uint) (*model.ModuleAttempt, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, util.ErrForbidden
	}
	return s.withPercent(attempt), nil
}

func (s *AttemptService) loadForViewer(ctx context.Context, attemptID string, viewerID uint) (*model.ModuleAttempt, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	viewer, err := s.Users.FindUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	patient, err := s.Users.FindUser(ctx, attempt.UserID)
	if err != nil {
		return nil, err
	}
	if !canViewPatient(viewer, patient) {
		return nil, util.ErrForbidden
	}
	return attempt, nil
}

// GetForTherapist 患者的治疗师或管理员读取
func (s *AttemptService) GetForTherapist(ctx context.Context, attemptID string, viewerID uint) (*model.ModuleAttempt, error) {
	attempt, err := s.loadForViewer(ctx, attemptID, viewerID)
	if err != nil {
		return nil, err
	}
	return s.withPercent(attempt), nil
}

// SetTherapistNote 已提交作答唯一允许的修改
func (s *AttemptService) SetTherapistNote(ctx context.Context, attemptID string, viewerID uint, note string) (*model.ModuleAttempt, error) {
	attempt, err := s.loadForViewer(ctx, attemptID, viewerID)
	if err != nil {
		return nil, err
	}
	if attempt.Status == model.AttemptAbandoned {
		return nil, util.ErrAttemptClosed
	}
	if err := s.Attempts.UpdateTherapistNote(ctx, attemptID, note); err != nil {
		return nil, err
	}
	attempt.TherapistNote = note
	return s.withPercent(attempt), nil
}
