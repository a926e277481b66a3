package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
)

// QueryController 审计日志和统计查询控制器
type QueryController struct {
	queryService      service.QueryService
	statisticsService service.StatisticsService
}

// NewQueryController 创建查询控制器
func NewQueryController(queryService service.QueryService, statisticsService service.StatisticsService) *QueryController {
	return &QueryController{
		queryService:      queryService,
		statisticsService: statisticsService,
	}
}

// ListAuditLogs 分页查询审计日志
// 支持 entity_type、entity_id、actor_id、action、start_time、end_time、sort_by、order
func (c *QueryController) ListAuditLogs(ctx *gin.Context) {
	start, err := queryTime(ctx, "start_time")
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid start_time", err.Error())
		return
	}
	end, err := queryTime(ctx, "end_time")
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid end_time", err.Error())
		return
	}
	page, pageSize := pagination(ctx)
	filter := &service.AuditLogFilter{
		EntityType: queryString(ctx, "entity_type"),
		EntityID:   queryString(ctx, "entity_id"),
		ActorID:    queryString(ctx, "actor_id"),
		Action:     queryString(ctx, "action"),
		StartTime:  start,
		EndTime:    end,
		Page:       page,
		PageSize:   pageSize,
		SortBy:     ctx.Query("sort_by"),
		Order:      ctx.Query("order"),
	}

	logs, total, err := c.queryService.ListAuditLogs(requestContext(ctx), actorFrom(ctx), filter)
	if err != nil {
		// 排序参数非法
		Error(ctx, http.StatusBadRequest, "failed to list audit logs", err.Error())
		return
	}
	Paginated(ctx, logs, page, pageSize, total)
}

// RequestsByState 按类型和状态统计申请
func (c *QueryController) RequestsByState(ctx *gin.Context) {
	stats, err := c.statisticsService.RequestsByState(requestContext(ctx), actorFrom(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// RequestsByDate 按日期统计指定类型的申请
func (c *QueryController) RequestsByDate(ctx *gin.Context) {
	stats, err := c.statisticsService.RequestsByDate(requestContext(ctx), actorFrom(ctx), workflow.Kind(ctx.Param("kind")))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// SerialsByStatus 序列号按类型和状态统计
func (c *QueryController) SerialsByStatus(ctx *gin.Context) {
	stats, err := c.statisticsService.SerialsByStatus(requestContext(ctx), actorFrom(ctx))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}
