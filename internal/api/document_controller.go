package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
)

// DocumentController 调拨单和采购单控制器
type DocumentController struct {
	documents service.DocumentService
	serials   service.SerialService
}

// NewDocumentController 创建单据控制器
func NewDocumentController(documents service.DocumentService, serials service.SerialService) *DocumentController {
	return &DocumentController{documents: documents, serials: serials}
}

// GetTransfer 调拨单详情
func (c *DocumentController) GetTransfer(ctx *gin.Context) {
	runAction(ctx, c.documents.GetTransfer)
}

// Dispatch 出库,调拨单进入运输中
func (c *DocumentController) Dispatch(ctx *gin.Context) {
	runAction(ctx, c.documents.Dispatch)
}

// Receive 入库,force 为 true 时跳过扫描完整性校验
func (c *DocumentController) Receive(ctx *gin.Context) {
	c.withForce(ctx, c.documents.Receive)
}

// Validate 一步完成调拨单
func (c *DocumentController) Validate(ctx *gin.Context) {
	c.withForce(ctx, c.documents.Validate)
}

func (c *DocumentController) CancelTransfer(ctx *gin.Context) {
	runAction(ctx, c.documents.CancelTransfer)
}

// ScanStatus 调拨单上序列号产品的扫描进度
func (c *DocumentController) ScanStatus(ctx *gin.Context) {
	runAction(ctx, c.serials.ScanCompletion)
}

// Labels 为调拨单生成二维码标签
func (c *DocumentController) Labels(ctx *gin.Context) {
	runAction(ctx, c.serials.GenerateLabels)
}

func (c *DocumentController) GetPurchaseOrder(ctx *gin.Context) {
	runAction(ctx, c.documents.GetPurchaseOrder)
}

// ConfirmPurchaseOrder 确认采购单,关联采购申请完成
func (c *DocumentController) ConfirmPurchaseOrder(ctx *gin.Context) {
	runAction(ctx, c.documents.ConfirmPurchaseOrder)
}

func (c *DocumentController) CancelPurchaseOrder(ctx *gin.Context) {
	runAction(ctx, c.documents.CancelPurchaseOrder)
}

func (c *DocumentController) withForce(ctx *gin.Context, action func(context.Context, service.Actor, string, bool) (*model.TransferDocumentModel, error)) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var body ForceRequest
	if !bindOptionalJSON(ctx, &body) {
		return
	}
	doc, err := action(requestContext(ctx), actorFrom(ctx), id, body.Force)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, doc)
}
