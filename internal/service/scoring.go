package service

import (
	"context"
	"fmt"
	"sort"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"
	"therapy_backend/pkg/logger"

	"go.uber.org/zap"
)

// ScoreBandStore 分数段的读取与整体替换
type ScoreBandStore interface {
	FindByModule(ctx context.Context, moduleID uint) ([]model.ScoreBand, error)
	Replace(ctx context.Context, moduleID uint, bands []model.ScoreBand) error
}

type ScoringService struct {
	Bands ScoreBandStore
}

func NewScoringService(bands ScoreBandStore) *ScoringService {
	return &ScoringService{Bands: bands}
}

// TotalScore 问卷总分
func TotalScore(answers []model.AttemptAnswer) int {
	total := 0
	for _, a := range answers {
		total += a.ChosenScore
	}
	return total
}

func sortBands(bands []model.ScoreBand) []model.ScoreBand {
	sorted := make([]model.ScoreBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Min != sorted[j].Min {
			return sorted[i].Min < sorted[j].Min
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// ValidateScoreBands 分数段必须 min <= max 且互不重叠
func ValidateScoreBands(bands []model.ScoreBand) error {
	for _, b := range bands {
		if b.Min > b.Max {
			return fmt.Errorf("%w: %q [%d, %d]", util.ErrInvalidScoreBand, b.Label, b.Min, b.Max)
		}
	}
	sorted := sortBands(bands)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Min <= prev.Max {
			return fmt.Errorf("%w: %q [%d, %d] overlaps %q [%d, %d]",
				util.ErrOverlappingScoreBands, cur.Label, cur.Min, cur.Max, prev.Label, prev.Min, prev.Max)
		}
	}
	return nil
}

// ResolveBand 闭区间查找；返回的 overlapped 表示有多个分段命中（数据未通过校验）
func ResolveBand(bands []model.ScoreBand, score int) (band *model.ScoreBand, overlapped bool) {
	for _, b := range sortBands(bands) {
		if !b.Contains(score) {
			continue
		}
		if band != nil {
			return band, true
		}
		hit := b
		band = &hit
	}
	return band, false
}

// Resolve 落在空隙中的分数没有分段，不视为错误
func (s *ScoringService) Resolve(ctx context.Context, moduleID uint, score int) (*model.ScoreBand, error) {
	bands, err := s.Bands.FindByModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	band, overlapped := ResolveBand(bands, score)
	if overlapped {
		logger.Log.Warn("overlapping score bands, using lowest range",
			zap.Uint("moduleId", moduleID),
			zap.Int("score", score),
			zap.String("label", band.Label))
	}
	return band, nil
}

func (s *ScoringService) ListBands(ctx context.Context, moduleID uint) ([]model.ScoreBand, error) {
	return s.Bands.FindByModule(ctx, moduleID)
}

func (s *ScoringService) ReplaceBands(ctx context.Context, moduleID uint, bands []model.ScoreBand) error {
	if err := ValidateScoreBands(bands); err != nil {
		return err
	}
	return s.Bands.Replace(ctx, moduleID, bands)
}

// bandLookup 报表中按模块缓存分数段，避免逐行查询
type bandLookup struct {
	scoring *ScoringService
	cache   map[uint][]model.ScoreBand
}

func (s *ScoringService) newLookup() *bandLookup {
	return &bandLookup{scoring: s, cache: make(map[uint][]model.ScoreBand)}
}

func (l *bandLookup) resolve(ctx context.Context, moduleID uint, score *int) (*model.ScoreBandSummary, error) {
	if score == nil {
		return nil, nil
	}
	bands, ok := l.cache[moduleID]
	if !ok {
		var err error
		bands, err = l.scoring.Bands.FindByModule(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		l.cache[moduleID] = bands
	}
	band, _ := ResolveBand(bands, *score)
	if band == nil {
		return nil, nil
	}
	return band.Summary(), nil
}
