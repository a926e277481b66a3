package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/service"
)

// TransferRequestController 内部调拨申请控制器
type TransferRequestController struct {
	service service.TransferRequestService
}

// NewTransferRequestController 创建内部调拨申请控制器
func NewTransferRequestController(s service.TransferRequestService) *TransferRequestController {
	return &TransferRequestController{service: s}
}

// Create 创建草稿申请
func (c *TransferRequestController) Create(ctx *gin.Context) {
	var input service.CreateTransferRequestInput
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
func (c *TransferRequestController) List(ctx *gin.Context) {
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
func (c *TransferRequestController) Get(ctx *gin.Context) {
	runAction(ctx, c.service.Get)
}

// UpdateLines 替换草稿明细
func (c *TransferRequestController) UpdateLines(ctx *gin.Context) {
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

func (c *TransferRequestController) Submit(ctx *gin.Context) {
	runAction(ctx, c.service.Submit)
}

func (c *TransferRequestController) Approve(ctx *gin.Context) {
	runAction(ctx, c.service.Approve)
}

func (c *TransferRequestController) Reject(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Reject)
}

func (c *TransferRequestController) Cancel(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Cancel)
}

// PutAway 已收货的申请上架完成
func (c *TransferRequestController) PutAway(ctx *gin.Context) {
	runAction(ctx, c.service.PutAway)
}

func (c *TransferRequestController) Reset(ctx *gin.Context) {
	runAction(ctx, c.service.ResetToDraft)
}

func (c *TransferRequestController) History(ctx *gin.Context) {
	runAction(ctx, c.service.History)
}
