package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/service"
)

// BranchRequestController 分支调拨申请控制器
type BranchRequestController struct {
	service service.BranchRequestService
}

// NewBranchRequestController 创建分支调拨申请控制器
func NewBranchRequestController(s service.BranchRequestService) *BranchRequestController {
	return &BranchRequestController{service: s}
}

// Create 创建草稿申请
// @Router /branch-requests [post]
func (c *BranchRequestController) Create(ctx *gin.Context) {
	var input service.CreateBranchRequestInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	req, err := c.service.Create(requestContext(ctx), actorFrom(ctx), &input)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, req)
}

// List 分页查询
// @Router /branch-requests [get]
func (c *BranchRequestController) List(ctx *gin.Context) {
	filter, ok := requestFilter(ctx)
	if !ok {
		return
	}
	reqs, total, err := c.service.List(requestContext(ctx), actorFrom(ctx), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, reqs, filter.Page, filter.PageSize, total)
}

// Get 申请详情
// @Router /branch-requests/{id} [get]
func (c *BranchRequestController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	req, err := c.service.Get(requestContext(ctx), actorFrom(ctx), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, req)
}

// UpdateLines 替换草稿明细
// @Router /branch-requests/{id}/lines [put]
func (c *BranchRequestController) UpdateLines(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var lines []service.LineInput
	if err := ctx.ShouldBindJSON(&lines); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	req, err := c.service.UpdateLines(requestContext(ctx), actorFrom(ctx), id, lines)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, req)
}

// Submit 提交
// @Router /branch-requests/{id}/submit [post]
func (c *BranchRequestController) Submit(ctx *gin.Context) {
	runAction(ctx, c.service.Submit)
}

// Approve 审批,生成调拨单
// @Router /branch-requests/{id}/approve [post]
func (c *BranchRequestController) Approve(ctx *gin.Context) {
	runAction(ctx, c.service.Approve)
}

// Reset 驳回或取消后重置为草稿
// @Router /branch-requests/{id}/reset [post]
func (c *BranchRequestController) Reset(ctx *gin.Context) {
	runAction(ctx, c.service.ResetToDraft)
}

// Reject 驳回
// @Router /branch-requests/{id}/reject [post]
func (c *BranchRequestController) Reject(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Reject)
}

// Cancel 取消,同时取消未完成的调拨单
// @Router /branch-requests/{id}/cancel [post]
func (c *BranchRequestController) Cancel(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Cancel)
}

// History 审计记录
// @Router /branch-requests/{id}/history [get]
func (c *BranchRequestController) History(ctx *gin.Context) {
	runAction(ctx, c.service.History)
}
