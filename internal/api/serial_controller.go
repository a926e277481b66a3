package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/service"
)

// SerialController 序列号控制器
type SerialController struct {
	serials service.SerialService
}

// NewSerialController 创建序列号控制器
func NewSerialController(serials service.SerialService) *SerialController {
	return &SerialController{serials: serials}
}

// Generate 批量生成序列号
func (c *SerialController) Generate(ctx *gin.Context) {
	var req service.GenerateSerialsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	serials, err := c.serials.Generate(requestContext(ctx), actorFrom(ctx), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, serials)
}

// Preview 预览将要生成的编码范围
func (c *SerialController) Preview(ctx *gin.Context) {
	quantity, err := strconv.Atoi(ctx.Query("quantity"))
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	preview, err := c.serials.Preview(requestContext(ctx), ctx.Query("type"), quantity)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, preview)
}

// List 分页查询
func (c *SerialController) List(ctx *gin.Context) {
	page, pageSize := pagination(ctx)
	filter := &repository.SerialFilter{
		ProductID: queryString(ctx, "product_id"),
		Type:      queryString(ctx, "type"),
		Status:    queryString(ctx, "status"),
		BatchID:   queryString(ctx, "batch_id"),
		Page:      page,
		PageSize:  pageSize,
	}
	serials, total, err := c.serials.List(requestContext(ctx), actorFrom(ctx), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, serials, page, pageSize, total)
}

// Get 按编码查询
func (c *SerialController) Get(ctx *gin.Context) {
	code, ok := pathID(ctx, "code")
	if !ok {
		return
	}
	serial, err := c.serials.Get(requestContext(ctx), actorFrom(ctx), code)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, serial)
}

// QRCode 序列号二维码 PNG
func (c *SerialController) QRCode(ctx *gin.Context) {
	code, ok := pathID(ctx, "code")
	if !ok {
		return
	}
	size, _ := strconv.Atoi(ctx.DefaultQuery("size", "256"))
	png, err := c.serials.QRCode(requestContext(ctx), actorFrom(ctx), code, size)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

// Movements 扫描记录
func (c *SerialController) Movements(ctx *gin.Context) {
	code, ok := pathID(ctx, "code")
	if !ok {
		return
	}
	movements, err := c.serials.Movements(requestContext(ctx), actorFrom(ctx), code)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, movements)
}

// RecordMovement 扫描出入库
func (c *SerialController) RecordMovement(ctx *gin.Context) {
	var req service.MovementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	movement, err := c.serials.RecordMovement(requestContext(ctx), actorFrom(ctx), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, movement)
}
