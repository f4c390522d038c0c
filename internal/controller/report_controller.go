package controller

import (
	"strconv"

	"therapy_backend/internal/service"
	"therapy_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ReportController struct {
	ReportService *service.ReportService
}

func NewReportController(reportService *service.ReportService) *ReportController {
	return &ReportController{ReportService: reportService}
}

// limitQuery 非法值按 0 处理，由服务层回落到默认值
func limitQuery(ctx *gin.Context) int {
	n, err := strconv.Atoi(ctx.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

// @Summary 我的作答历史
// @Tags 报表
// @Produce json
// @Security BearerAuth
// @Param moduleId query int false "模块ID"
// @Param status query string false "submitted | active"
// @Param limit query int false "每页数量"
// @Param cursor query string false "上一页返回的 nextCursor"
// @Success 200 {object} util.Response{data=util.CursorResponse}
// @Router /api/me/attempts [get]
func (c *ReportController) MyAttempts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	req := service.HistoryRequest{
		Status: ctx.Query("status"),
		Limit:  limitQuery(ctx),
	}
	if raw := ctx.Query("moduleId"); raw != "" {
		moduleID := util.MustParseUint(raw)
		if moduleID == 0 {
			util.BadRequest(ctx, "invalid moduleId")
			return
		}
		req.ModuleID = &moduleID
	}
	cursor, err := util.ParseCursor(ctx.Query("cursor"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	req.Cursor = cursor

	page, err := c.ReportService.MyAttempts(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, util.CursorResponse{List: page.Items, NextCursor: page.NextCursor})
}

// @Summary 治疗师查看患者最新作答
// @Tags 报表
// @Produce json
// @Security BearerAuth
// @Param limit query int false "返回数量"
// @Router /api/therapist/attempts/latest [get]
func (c *ReportController) TherapistLatest(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	rows, err := c.ReportService.TherapistLatest(ctx.Request.Context(), user.UserID, limitQuery(ctx))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// @Summary 患者某模块的作答时间线
// @Tags 报表
// @Produce json
// @Security BearerAuth
// @Router /api/therapist/patients/{patientId}/modules/{moduleId}/attempts [get]
func (c *ReportController) PatientTimeline(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	patientID, ok := pathUint(ctx, "patientId")
	if !ok {
		return
	}
	moduleID, ok := pathUint(ctx, "moduleId")
	if !ok {
		return
	}
	items, err := c.ReportService.PatientTimeline(ctx.Request.Context(), user.UserID, patientID, moduleID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, items)
}
