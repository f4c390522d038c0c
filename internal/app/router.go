package app

import (
	"therapy_backend/internal/config"
	"therapy_backend/internal/middleware"
	"therapy_backend/internal/model"
	"therapy_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		// 患者/通用 授权接口
		a.registerPatientRoutes(authGroup, c)

		// 治疗师相关接口
		a.registerTherapistRoutes(authGroup, c)
	}
}

func (a *App) registerPatientRoutes(group *gin.RouterGroup, c *controllers) {
	modules := group.Group("/modules/:moduleId")
	{
		modules.POST("/attempts", c.attempt.Start)
		modules.GET("/eligibility", c.attempt.Eligibility)
		modules.GET("/score-bands", c.module.GetScoreBands)
		modules.PUT("/score-bands", middleware.RoleMiddleware(model.RoleAdmin), c.module.ReplaceScoreBands)
	}

	attempts := group.Group("/attempts/:attemptId")
	{
		attempts.GET("", c.attempt.Get)
		attempts.PATCH("", c.attempt.SaveProgress)
		attempts.POST("/submit", c.attempt.Submit)
	}

	me := group.Group("/me")
	{
		me.GET("/attempts", c.report.MyAttempts)
		me.GET("/assignments", c.assignment.ListMine)
	}
}

// registerTherapistRoutes 角色在此做粗粒度校验，患者归属与认证状态由服务层判断
func (a *App) registerTherapistRoutes(group *gin.RouterGroup, c *controllers) {
	therapistOnly := middleware.RoleMiddleware(model.RoleTherapist)

	attempts := group.Group("/attempts/:attemptId", therapistOnly)
	{
		attempts.GET("/therapist", c.attempt.GetForTherapist)
		attempts.PUT("/therapist-note", c.attempt.SetTherapistNote)
	}

	therapist := group.Group("/therapist", therapistOnly)
	{
		therapist.GET("/attempts/latest", c.report.TherapistLatest)
		therapist.GET("/patients/:patientId/modules/:moduleId/attempts", c.report.PatientTimeline)
	}

	assignments := group.Group("/assignments", therapistOnly)
	{
		assignments.POST("", c.assignment.Create)
		assignments.GET("/mine", c.assignment.ListForTherapist)
		assignments.PATCH("/:assignmentId/status", c.assignment.UpdateStatus)
		assignments.DELETE("/:assignmentId", c.assignment.Remove)
	}
}
