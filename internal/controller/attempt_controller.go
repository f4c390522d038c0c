package controller

import (
	"therapy_backend/internal/service"
	"therapy_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	AttemptService *service.AttemptService
}

func NewAttemptController(attemptService *service.AttemptService) *AttemptController {
	return &AttemptController{AttemptService: attemptService}
}

type assignmentRef struct {
	AssignmentID string `json:"assignmentId"`
}

type therapistNoteRequest struct {
	Note string `json:"note"`
}

// bindOptionalJSON 请求体可以为空
func bindOptionalJSON(ctx *gin.Context, obj interface{}) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	if err := ctx.ShouldBindJSON(obj); err != nil {
		util.BadRequest(ctx, err.Error())
		return false
	}
	return true
}

func pathUint(ctx *gin.Context, name string) (uint, bool) {
	id := util.MustParseUint(ctx.Param(name))
	if id == 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return id, true
}

// @Summary 开始作答
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param moduleId path int true "模块ID"
// @Success 201 {object} util.Response
// @Router /api/modules/{moduleId}/attempts [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	moduleID, ok := pathUint(ctx, "moduleId")
	if !ok {
		return
	}
	var req assignmentRef
	if !bindOptionalJSON(ctx, &req) {
		return
	}

	attempt, err := c.AttemptService.Start(ctx.Request.Context(), user.UserID, moduleID, req.AssignmentID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, attempt)
}

// @Summary 模块是否可以开始作答
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Router /api/modules/{moduleId}/eligibility [get]
func (c *AttemptController) Eligibility(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	moduleID, ok := pathUint(ctx, "moduleId")
	if !ok {
		return
	}
	el, err := c.AttemptService.Eligibility(ctx.Request.Context(), user.UserID, moduleID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, el)
}

// @Summary 获取作答详情
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Router /api/attempts/{attemptId} [get]
func (c *AttemptController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	attempt, err := c.AttemptService.Get(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 治疗师查看患者作答
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Router /api/attempts/{attemptId}/therapist [get]
func (c *AttemptController) GetForTherapist(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	attempt, err := c.AttemptService.GetForTherapist(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 保存作答进度
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.SaveProgressInput true "答案、日记或备注"
// @Router /api/attempts/{attemptId} [patch]
func (c *AttemptController) SaveProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req service.SaveProgressInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.AttemptService.SaveProgress(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 提交作答
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/attempts/{attemptId}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req assignmentRef
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	attempt, err := c.AttemptService.Submit(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID, req.AssignmentID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 治疗师备注
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/attempts/{attemptId}/therapist-note [put]
func (c *AttemptController) SetTherapistNote(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req therapistNoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.AttemptService.SetTherapistNote(ctx.Request.Context(), ctx.Param("attemptId"), user.UserID, req.Note)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}
