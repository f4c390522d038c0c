package service

import (
	"math"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/pkg/logger"

	"go.uber.org/zap"
)

func roundPercent(num, den int) int {
	if den <= 0 {
		return 0
	}
	p := int(math.Round(float64(num) * 100 / float64(den)))
	if p > 100 {
		p = 100
	}
	return p
}

// PercentComplete 读取时计算的完成度，任何内部异常都返回 0
func PercentComplete(a *model.ModuleAttempt, now time.Time, week *WeekClock) (pct int) {
	defer func() {
		if r := recover(); r != nil {
			var id string
			if a != nil {
				id = a.ID
			}
			logger.Log.Warn("percent complete failed", zap.String("attemptId", id), zap.Any("panic", r))
			pct = 0
		}
	}()

	if a.Status == model.AttemptSubmitted {
		return 100
	}

	switch p := a.Payload().(type) {
	case model.QuestionnairePayload:
		snapshot := a.Snapshot()
		total := len(snapshot.Questions)
		if total == 0 {
			return 0
		}
		answered := 0
		seen := make(map[uint]bool, len(p.Answers))
		for _, ans := range p.Answers {
			if _, ok := snapshot.QuestionByID(ans.QuestionID); ok && !seen[ans.QuestionID] {
				seen[ans.QuestionID] = true
				answered++
			}
		}
		return roundPercent(answered, total)
	case model.DiaryPayload:
		weekStart := week.WeekStart(now)
		days := make(map[string]bool)
		for _, e := range p.Entries {
			if e.At.Before(weekStart) || e.At.After(now) {
				continue
			}
			days[week.DayKey(e.At)] = true
		}
		return roundPercent(len(days), week.DaysElapsed(now))
	default:
		return 0
	}
}
