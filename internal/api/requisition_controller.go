package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/service"
)

// RequisitionController 采购申请控制器
type RequisitionController struct {
	service service.RequisitionService
}

// NewRequisitionController 创建采购申请控制器
func NewRequisitionController(s service.RequisitionService) *RequisitionController {
	return &RequisitionController{service: s}
}

// Create 创建草稿采购申请
func (c *RequisitionController) Create(ctx *gin.Context) {
	var input service.CreateRequisitionInput
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
func (c *RequisitionController) List(ctx *gin.Context) {
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

// Get 详情,附带审批阶段
func (c *RequisitionController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	req, err := c.service.Get(requestContext(ctx), actorFrom(ctx), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{
		"requisition":    req,
		"approval_stage": service.ApprovalStage(req.State),
	})
}

func (c *RequisitionController) Submit(ctx *gin.Context) {
	runAction(ctx, c.service.Submit)
}

// OfficerApprove 采购专员审批
func (c *RequisitionController) OfficerApprove(ctx *gin.Context) {
	runAction(ctx, c.service.OfficerApprove)
}

// Approve 部门负责人审批,生成采购单
func (c *RequisitionController) Approve(ctx *gin.Context) {
	runAction(ctx, c.service.Approve)
}

func (c *RequisitionController) Reject(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Reject)
}

func (c *RequisitionController) Cancel(ctx *gin.Context) {
	runReasonAction(ctx, c.service.Cancel)
}

func (c *RequisitionController) Reset(ctx *gin.Context) {
	runAction(ctx, c.service.ResetToDraft)
}

// CreatePurchaseOrder 原采购单取消后重新生成
func (c *RequisitionController) CreatePurchaseOrder(ctx *gin.Context) {
	runAction(ctx, c.service.CreatePurchaseOrder)
}

func (c *RequisitionController) History(ctx *gin.Context) {
	runAction(ctx, c.service.History)
}
