package controller

import (
	"therapy_backend/internal/model"
	"therapy_backend/internal/service"
	"therapy_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AssignmentController struct {
	AssignmentService *service.AssignmentService
}

func NewAssignmentController(assignmentService *service.AssignmentService) *AssignmentController {
	return &AssignmentController{AssignmentService: assignmentService}
}

type updateAssignmentStatusRequest struct {
	Status model.AssignmentStatus `json:"status" binding:"required"`
}

// @Summary 创建分配
// @Tags 分配
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.CreateAssignmentRequest true "分配信息"
// @Success 201 {object} util.Response
// @Router /api/assignments [post]
func (c *AssignmentController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req service.CreateAssignmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	asg, err := c.AssignmentService.Create(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, asg)
}

// @Summary 治疗师的进行中分配
// @Tags 分配
// @Produce json
// @Security BearerAuth
// @Router /api/assignments/mine [get]
func (c *AssignmentController) ListForTherapist(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	list, err := c.AssignmentService.ListForTherapist(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// @Summary 我的分配
// @Tags 分配
// @Produce json
// @Security BearerAuth
// @Param status query string false "active | completed | all"
// @Router /api/me/assignments [get]
func (c *AssignmentController) ListMine(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	list, err := c.AssignmentService.ListMine(ctx.Request.Context(), user.UserID, ctx.Query("status"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// @Summary 修改分配状态
// @Tags 分配
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/assignments/{assignmentId}/status [patch]
func (c *AssignmentController) UpdateStatus(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req updateAssignmentStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	asg, err := c.AssignmentService.UpdateStatus(ctx.Request.Context(), user.UserID, ctx.Param("assignmentId"), req.Status)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, asg)
}

// @Summary 删除分配
// @Tags 分配
// @Security BearerAuth
// @Router /api/assignments/{assignmentId} [delete]
func (c *AssignmentController) Remove(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	if err := c.AssignmentService.Remove(ctx.Request.Context(), user.UserID, ctx.Param("assignmentId")); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": true})
}
