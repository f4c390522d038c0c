package service

import (
	"context"
	"errors"
	"time"

	"therapy_backend/internal/model"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/util"
	"therapy_backend/pkg/logger"
	"therapy_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	syncLockKey    = "therapy:assignment_sync:lock"
	syncLockTTL    = 2 * time.Minute
	syncBatchSize  = 100
	syncBaseDelay  = 5 * time.Second
	syncMaxBackoff = 10 * time.Minute
)

// 仅删除自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// AssignmentSynchronizer 维护作答与分配之间的状态同步。
// 开始作答时在同一事务中抢占分配；提交时写入 outbox，提交成功后立即尝试执行，
// 失败的任务由后台按指数退避重试。
type AssignmentSynchronizer struct {
	Assignments *repository.AssignmentRepository
	Jobs        *repository.SyncJobRepository
	Redis       *redis.Client
	MaxRetries  int
	now         func() time.Time
}

func NewAssignmentSynchronizer(assignments *repository.AssignmentRepository, jobs *repository.SyncJobRepository, rdb *redis.Client, maxRetries int) *AssignmentSynchronizer {
	if maxRetries <= 0 {
		maxRetries = 8
	}
	return &AssignmentSynchronizer{
		Assignments: assignments,
		Jobs:        jobs,
		Redis:       rdb,
		MaxRetries:  maxRetries,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ClaimOnStart assigned -> in_progress。返回 false 表示该分配已被其他作答抢占或不再有效
func (s *AssignmentSynchronizer) ClaimOnStart(ctx context.Context, tx *gorm.DB, asg *model.ModuleAssignment, attemptID string) (bool, error) {
	if asg.Status != model.AssignmentAssigned {
		return asg.Status.Active(), nil
	}
	claimed, err := s.Assignments.WithTx(tx).ClaimForAttempt(ctx, asg.ID, attemptID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// 并发开始作答时另一请求已抢占
		return false, nil
	}
	asg.Status = model.AssignmentInProgress
	asg.LatestAttemptID = &attemptID
	return true, nil
}

// NewJob 构造提交后的同步任务，explicitID 为空时使用作答来源的分配并允许自动查找
func (s *AssignmentSynchronizer) NewJob(attempt *model.ModuleAttempt, explicitID string) *model.AssignmentSyncJob {
	job := &model.AssignmentSyncJob{
		AttemptID:    attempt.ID,
		AssignmentID: attempt.AssignmentID,
		UserID:       attempt.UserID,
		ModuleID:     attempt.ModuleID,
		TherapistID:  attempt.TherapistID,
		Status:       model.SyncJobPending,
		NextRunAt:    s.now(),
	}
	if explicitID != "" {
		job.AssignmentID = &explicitID
		job.Explicit = true
	}
	return job
}

func (s *AssignmentSynchronizer) resolveTarget(ctx context.Context, job *model.AssignmentSyncJob) (*model.ModuleAssignment, error) {
	if job.AssignmentID != nil {
		asg, err := s.Assignments.FindByID(ctx, *job.AssignmentID)
		switch {
		case err == nil:
			if job.Explicit || asg.Status.Active() {
				return asg, nil
			}
		case !util.IsNotFound(err):
			return nil, err
		}
		if job.Explicit {
			return nil, nil
		}
	}

	if job.TherapistID != nil {
		asg, err := s.Assignments.FindActiveForUserModule(ctx, job.UserID, job.ModuleID, job.TherapistID)
		if err == nil {
			return asg, nil
		}
		if !util.IsNotFound(err) {
			return nil, err
		}
	}
	asg, err := s.Assignments.FindActiveForUserModule(ctx, job.UserID, job.ModuleID, nil)
	if err != nil {
		if util.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return asg, nil
}

// Apply 执行一个同步任务；找不到分配时视为成功
func (s *AssignmentSynchronizer) Apply(ctx context.Context, job *model.AssignmentSyncJob) error {
	target, err := s.resolveTarget(ctx, job)
	if err != nil {
		return s.retryLater(ctx, job, err)
	}

	result := "noop"
	if target != nil {
		completed, err := s.Assignments.CompleteWithAttempt(ctx, target.ID, job.AttemptID)
		if err != nil {
			return s.retryLater(ctx, job, err)
		}
		if completed {
			result = "completed"
			monitoring.AssignmentTransitions.WithLabelValues(string(model.AssignmentCompleted)).Inc()
			logger.Log.Info("assignment completed",
				zap.String("assignmentId", target.ID),
				zap.String("attemptId", job.AttemptID))
		}
	}

	if _, err := s.Jobs.MarkDone(ctx, job.ID); err != nil {
		logger.Log.Warn("mark sync job done failed", zap.String("jobId", job.ID), zap.Error(err))
		return err
	}
	job.Status = model.SyncJobDone
	monitoring.AssignmentSyncResults.WithLabelValues(result).Inc()
	return nil
}

func backoff(tries int) time.Duration {
	d := syncBaseDelay
	for i := 1; i < tries; i++ {
		d *= 2
		if d >= syncMaxBackoff {
			return syncMaxBackoff
		}
	}
	return d
}

func (s *AssignmentSynchronizer) retryLater(ctx context.Context, job *model.AssignmentSyncJob, cause error) error {
	job.Tries++
	job.LastError = cause.Error()

	if job.Tries >= s.MaxRetries {
		job.Status = model.SyncJobFailed
		monitoring.AssignmentSyncResults.WithLabelValues("failed").Inc()
		logger.Log.Error("assignment sync gave up",
			zap.String("jobId", job.ID),
			zap.String("attemptId", job.AttemptID),
			zap.Int("tries", job.Tries),
			zap.Error(cause))
		if err := s.Jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, job.Tries, job.LastError); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	job.NextRunAt = s.now().Add(backoff(job.Tries))
	monitoring.AssignmentSyncResults.WithLabelValues("retry").Inc()
	logger.Log.Warn("assignment sync failed, will retry",
		zap.String("jobId", job.ID),
		zap.String("attemptId", job.AttemptID),
		zap.Int("tries", job.Tries),
		zap.Time("nextRunAt", job.NextRunAt),
		zap.Error(cause))
	if err := s.Jobs.MarkRetry(context.WithoutCancel(ctx), job.ID, job.Tries, job.NextRunAt, job.LastError); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// DrainDue 处理到期的任务；配置了 Redis 时只有持有锁的实例执行
func (s *AssignmentSynchronizer) DrainDue(ctx context.Context) (int, error) {
	if s.Redis != nil {
		token := uuid.New().String()
		ok, err := s.Redis.SetNX(ctx, syncLockKey, token, syncLockTTL).Result()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := releaseLockScript.Run(context.WithoutCancel(ctx), s.Redis, []string{syncLockKey}, token).Err(); err != nil && err != redis.Nil {
				logger.Log.Warn("release sync lock failed", zap.Error(err))
			}
		}()
	}

	jobs, err := s.Jobs.ListDue(ctx, s.now(), syncBatchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := s.Apply(ctx, &jobs[i]); err == nil {
			processed++
		}
	}
	s.reportBacklog(ctx)
	return processed, nil
}

func (s *AssignmentSynchronizer) reportBacklog(ctx context.Context) {
	for _, status := range []model.SyncJobStatus{model.SyncJobPending, model.SyncJobFailed} {
		n, err := s.Jobs.CountByStatus(ctx, status)
		if err != nil {
			logger.Log.Warn("count sync jobs failed", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		monitoring.AssignmentSyncBacklog.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Run 按固定间隔处理 outbox，直到 ctx 结束
func (s *AssignmentSynchronizer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DrainDue(ctx)
			if err != nil {
				logger.Log.Error("assignment sync drain error", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Log.Info("assignment sync drained", zap.Int("jobs", n))
			}
		}
	}
}
