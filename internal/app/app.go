package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"therapy_backend/internal/config"
	"therapy_backend/internal/controller"
	"therapy_backend/internal/repository"
	"therapy_backend/internal/service"
	"therapy_backend/pkg/configwatcher"
	"therapy_backend/pkg/database"
	"therapy_backend/pkg/logger"
	"therapy_backend/pkg/monitoring"
	"therapy_backend/pkg/security"
	"therapy_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)

	stopBackground context.CancelFunc
	stopWatch      chan struct{}
}

type repositories struct {
	user       *repository.UserRepository
	module     *repository.ModuleRepository
	scoreBand  *repository.ScoreBandRepository
	attempt    *repository.AttemptRepository
	assignment *repository.AssignmentRepository
	syncJob    *repository.SyncJobRepository
}

type services struct {
	scoring    *service.ScoringService
	sync       *service.AssignmentSynchronizer
	attempt    *service.AttemptService
	assignment *service.AssignmentService
	report     *service.ReportService
}

type controllers struct {
	attempt    *controller.AttemptController
	assignment *controller.AssignmentController
	report     *controller.ReportController
	module     *controller.ModuleController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		module:     repository.NewModuleRepository(db),
		scoreBand:  repository.NewScoreBandRepository(db, rdb, cfg.Engine.ScoreBandTTL()),
		attempt:    repository.NewAttemptRepository(db),
		assignment: repository.NewAssignmentRepository(db),
		syncJob:    repository.NewSyncJobRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	week, err := service.NewWeekClock(cfg.Engine.ReferenceTimezone)
	if err != nil {
		logger.Log.Fatal("Invalid reference timezone", zap.Error(err))
	}

	s := &services{}
	s.scoring = service.NewScoringService(repos.scoreBand)
	s.sync = service.NewAssignmentSynchronizer(repos.assignment, repos.syncJob, rdb, cfg.Engine.SyncMaxRetries)
	s.attempt = service.NewAttemptService(
		db,
		repos.attempt,
		repos.assignment,
		repos.syncJob,
		repos.user,
		repos.module,
		s.scoring,
		week,
		s.sync,
	)
	s.assignment = service.NewAssignmentService(repos.assignment, repos.attempt, repos.user, repos.module)
	s.report = service.NewReportService(repos.attempt, repos.user, repos.module, s.scoring, week, cfg.Engine)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		attempt:    controller.NewAttemptController(s.attempt),
		assignment: controller.NewAssignmentController(s.assignment),
		report:     controller.NewReportController(s.report),
		module:     controller.NewModuleController(s.scoring),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 定时重放未完成的分配同步任务
func (a *App) startBackgroundTasks(s *services) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopBackground = cancel

	interval := a.Config.Engine.SyncInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go s.sync.Run(ctx, interval)
}

func (a *App) watchConfig() {
	a.stopWatch = make(chan struct{})
	err := configwatcher.WatchConfig(filepath.Join("configs", "config.yaml"), func(cfg *config.Config) {
		for _, cb := range a.configCallbacks {
			cb(cfg)
		}
	}, a.stopWatch)
	if err != nil {
		logger.Log.Warn("Config hot reload disabled", zap.Error(err))
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	// release 模式下仅在显式指定时迁移
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Log.Info("Database migrated")
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Server.Mode == "debug" {
		if err := database.SeedDemoContent(db); err != nil {
			logger.Log.Error("Failed to seed demo content", zap.Error(err))
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	app.Redis = rdb

	repos := app.initRepositories(db, rdb, cfg)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("therapy-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.setupMiddlewares(router, cfg)

	app.registerRoutes(router, controllers, cfg)

	app.RegisterConfigCallback(logger.ApplyConfig)
	app.watchConfig()

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.stopWatch != nil {
		close(a.stopWatch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Log.Info("Server exiting")
}
