package controller

import (
	"therapy_backend/internal/model"
	"therapy_backend/internal/service"
	"therapy_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ModuleController struct {
	ScoringService *service.ScoringService
}

func NewModuleController(scoringService *service.ScoringService) *ModuleController {
	return &ModuleController{ScoringService: scoringService}
}

type scoreBandInput struct {
	Min            int    `json:"min"`
	Max            int    `json:"max"`
	Label          string `json:"label" binding:"required"`
	Interpretation string `json:"interpretation"`
}

type replaceScoreBandsRequest struct {
	Bands []scoreBandInput `json:"bands" binding:"required"`
}

// @Summary 模块分数段
// @Tags 模块
// @Produce json
// @Security BearerAuth
// @Router /api/modules/{moduleId}/score-bands [get]
func (c *ModuleController) GetScoreBands(ctx *gin.Context) {
	moduleID, ok := pathUint(ctx, "moduleId")
	if !ok {
		return
	}
	bands, err := c.ScoringService.ListBands(ctx.Request.Context(), moduleID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, bands)
}

// @Summary 替换模块分数段
// @Description 区间不能重叠，min 不能大于 max
// @Tags 模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/modules/{moduleId}/score-bands [put]
func (c *ModuleController) ReplaceScoreBands(ctx *gin.Context) {
	moduleID, ok := pathUint(ctx, "moduleId")
	if !ok {
		return
	}
	var req replaceScoreBandsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	bands := make([]model.ScoreBand, 0, len(req.Bands))
	for _, b := range req.Bands {
		bands = append(bands, model.ScoreBand{
			ModuleID:       moduleID,
			Min:            b.Min,
			Max:            b.Max,
			Label:          b.Label,
			Interpretation: b.Interpretation,
		})
	}
	if err := c.ScoringService.ReplaceBands(ctx.Request.Context(), moduleID, bands); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, bands)
}
