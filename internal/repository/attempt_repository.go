package repository

import (
	"context"
	"errors"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"

	"gorm.io/gorm"
)

// 列表查询不需要的大字段
var attemptHeavyColumns = []string{"module_snapshot", "answers", "diary_entries"}

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// WithTx 返回绑定到事务的仓库
func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.ModuleAttempt) error {
	return r.DB.WithContext(ctx).Create(attempt).Error
}

func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*model.ModuleAttempt, error) {
	var a model.ModuleAttempt
	if err := r.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*model.ModuleAttempt, error) {
	result := make(map[string]*model.ModuleAttempt, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var attempts []model.ModuleAttempt
	if err := r.DB.WithContext(ctx).Omit(attemptHeavyColumns...).Where("id IN ?", ids).Find(&attempts).Error; err != nil {
		return nil, err
	}
	for i := range attempts {
		result[attempts[i].ID] = &attempts[i]
	}
	return result, nil
}

func (r *AttemptRepository) CountSubmitted(ctx context.Context, userID, moduleID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).
		Where("user_id = ? AND module_id = ? AND status = ?", userID, moduleID, model.AttemptSubmitted).
		Count(&count).Error
	return count, err
}

// UpdateIfStarted 仅当作答仍为 started 且版本号未变化时更新，返回是否命中
func (r *AttemptRepository) UpdateIfStarted(ctx context.Context, id string, revision int, updates map[string]interface{}) (bool, error) {
	updates["revision"] = gorm.Expr("revision + 1")
	res := r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).
		Where("id = ? AND status = ? AND revision = ?", id, model.AttemptStarted, revision).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SubmitFields 提交时一次性写入的字段
type SubmitFields struct {
	CompletedAt    time.Time
	DurationSecs   int
	WeekStart      time.Time
	TherapistID    *uint
	Answers        []model.AttemptAnswer
	TotalScore     *int
	ScoreBandLabel *string
}

// MarkSubmitted 条件更新 started -> submitted；返回 false 表示已被其他请求提交或关闭
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, id string, f SubmitFields) (bool, error) {
	updates := map[string]interface{}{
		"status":              model.AttemptSubmitted,
		"completed_at":        f.CompletedAt,
		"last_interaction_at": f.CompletedAt,
		"duration_secs":       f.DurationSecs,
		"week_start":          f.WeekStart,
		"therapist_id":        f.TherapistID,
		"total_score":         f.TotalScore,
		"score_band_label":    f.ScoreBandLabel,
		"revision":            gorm.Expr("revision + 1"),
	}
	if f.Answers != nil {
		updates["answers"] = model.AnswerList(f.Answers)
	}
	res := r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).
		Where("id = ? AND status = ?", id, model.AttemptStarted).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClearAssignmentLink 开始作答时抢占分配失败，去掉携带的截止时间
func (r *AttemptRepository) ClearAssignmentLink(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"assignment_id": nil, "due_at": nil}).Error
}

func (r *AttemptRepository) UpdateTherapistNote(ctx context.Context, id, note string) error {
	return r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).
		Where("id = ?", id).
		Update("therapist_note", note).Error
}

// HistoryQuery 用户作答历史查询条件
type HistoryQuery struct {
	UserID   uint
	ModuleID *uint
	Active   bool // true: started；false: submitted
	Limit    int
	Cursor   *util.HistoryCursor
}

// ListHistory submitted 按 completed_at 倒序，active 按 last_interaction_at 倒序，多取一条用于判断下一页
func (r *AttemptRepository) ListHistory(ctx context.Context, q HistoryQuery) ([]model.ModuleAttempt, error) {
	db := r.DB.WithContext(ctx).Model(&model.ModuleAttempt{}).Where("user_id = ?", q.UserID)
	if q.ModuleID != nil {
		db = db.Where("module_id = ?", *q.ModuleID)
	}

	orderColumn := "completed_at"
	if q.Active {
		orderColumn = "last_interaction_at"
		db = db.Where("status = ?", model.AttemptStarted)
	} else {
		// 已提交的完成度恒为 100，不需要快照
		db = db.Omit("module_snapshot").Where("status = ?", model.AttemptSubmitted)
	}
	if q.Cursor != nil {
		db = db.Where("("+orderColumn+" < ? OR ("+orderColumn+" = ? AND id < ?))", q.Cursor.At, q.Cursor.At, q.Cursor.ID)
	}

	var attempts []model.ModuleAttempt
	err := db.Order(orderColumn + " DESC").Order("id DESC").Limit(q.Limit + 1).Find(&attempts).Error
	return attempts, err
}

// ListSubmittedForPatients 治疗师名下患者的已提交作答，completed_at 倒序
func (r *AttemptRepository) ListSubmittedForPatients(ctx context.Context, patientIDs []uint) ([]model.ModuleAttempt, error) {
	var attempts []model.ModuleAttempt
	if len(patientIDs) == 0 {
		return attempts, nil
	}
	err := r.DB.WithContext(ctx).
		Omit(attemptHeavyColumns...).
		Where("user_id IN ? AND status = ?", patientIDs, model.AttemptSubmitted).
		Order("completed_at DESC").Order("id DESC").
		Find(&attempts).Error
	return attempts, err
}

// ListTimeline 单个患者单个模块的全部作答，按开始时间升序
func (r *AttemptRepository) ListTimeline(ctx context.Context, userID, moduleID uint) ([]model.ModuleAttempt, error) {
	var attempts []model.ModuleAttempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND module_id = ?", userID, moduleID).
		Order("started_at ASC").Order("id ASC").
		Find(&attempts).Error
	return attempts, err
}
