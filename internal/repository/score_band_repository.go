package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScoreBandRepository 分数段读写；配置了 Redis 时按模块缓存
type ScoreBandRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ttl   time.Duration
}

func NewScoreBandRepository(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *ScoreBandRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ScoreBandRepository{DB: db, Redis: rdb, ttl: ttl}
}

func scoreBandCacheKey(moduleID uint) string {
	return fmt.Sprintf("therapy:score_bands:%d", moduleID)
}

// FindByModule 返回按 (min, id) 升序排列的分数段
func (r *ScoreBandRepository) FindByModule(ctx context.Context, moduleID uint) ([]model.ScoreBand, error) {
	if r.Redis != nil {
		if cached, err := r.Redis.Get(ctx, scoreBandCacheKey(moduleID)).Bytes(); err == nil {
			var bands []model.ScoreBand
			if err := json.Unmarshal(cached, &bands); err == nil {
				return bands, nil
			}
		} else if err != redis.Nil {
			logger.Log.Warn("score band cache read failed", zap.Uint("moduleId", moduleID), zap.Error(err))
		}
	}

	var bands []model.ScoreBand
	if err := r.DB.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Order("min ASC, id ASC").
		Find(&bands).Error; err != nil {
		return nil, err
	}

	if r.Redis != nil {
		if data, err := json.Marshal(bands); err == nil {
			if err := r.Redis.Set(ctx, scoreBandCacheKey(moduleID), data, r.ttl).Err(); err != nil {
				logger.Log.Warn("score band cache write failed", zap.Uint("moduleId", moduleID), zap.Error(err))
			}
		}
	}
	return bands, nil
}

// Replace 在事务中整体替换模块的分数段，调用方负责校验
func (r *ScoreBandRepository) Replace(ctx context.Context, moduleID uint, bands []model.ScoreBand) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("module_id = ?", moduleID).Delete(&model.ScoreBand{}).Error; err != nil {
			return err
		}
		if len(bands) == 0 {
			return nil
		}
		for i := range bands {
			bands[i].ID = 0
			bands[i].ModuleID = moduleID
		}
		return tx.Create(&bands).Error
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, moduleID)
	return nil
}

func (r *ScoreBandRepository) invalidate(ctx context.Context, moduleID uint) {
	if r.Redis == nil {
		return
	}
	if err := r.Redis.Del(ctx, scoreBandCacheKey(moduleID)).Err(); err != nil {
		logger.Log.Warn("score band cache invalidate failed", zap.Uint("moduleId", moduleID), zap.Error(err))
	}
}
