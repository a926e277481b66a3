package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/xuri/excelize/v2"
)

// ReportController 报表导出
type ReportController struct {
	reports service.ReportService
}

// NewReportController 创建报表控制器
func NewReportController(reports service.ReportService) *ReportController {
	return &ReportController{reports: reports}
}

func serialFilter(ctx *gin.Context) *repository.SerialFilter {
	return &repository.SerialFilter{
		ProductID: queryString(ctx, "product_id"),
		Type:      queryString(ctx, "type"),
		Status:    queryString(ctx, "status"),
		BatchID:   queryString(ctx, "batch_id"),
	}
}

// ExportSerials 下载序列号报表
func (c *ReportController) ExportSerials(ctx *gin.Context) {
	f, err := c.reports.ExportSerials(requestContext(ctx), actorFrom(ctx), serialFilter(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	writeWorkbook(ctx, "serials.xlsx", f)
}

// ExportRequests 下载申请报表,kind 为 branch_request、transfer_request 或 purchase_requisition
func (c *ReportController) ExportRequests(ctx *gin.Context) {
	filter, ok := requestFilter(ctx)
	if !ok {
		return
	}
	kind := workflow.Kind(ctx.Param("kind"))
	f, err := c.reports.ExportRequests(requestContext(ctx), actorFrom(ctx), kind, filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	writeWorkbook(ctx, fmt.Sprintf("%s.xlsx", kind), f)
}

// ArchiveSerials 导出序列号报表并归档到对象存储
func (c *ReportController) ArchiveSerials(ctx *gin.Context) {
	f, err := c.reports.ExportSerials(requestContext(ctx), actorFrom(ctx), serialFilter(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	defer f.Close()
	location, err := c.reports.Archive(requestContext(ctx), "serials", f)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, gin.H{"location": location})
}

func writeWorkbook(ctx *gin.Context, filename string, f *excelize.File) {
	defer f.Close()
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	ctx.Header("Content-Type", service.XLSXContentType)
	ctx.Status(http.StatusOK)
	if err := f.Write(ctx.Writer); err != nil {
		GetLogger().WithError(err).Error("failed to write workbook")
	}
}
