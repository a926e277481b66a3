package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/utils"
)

// ReasonRequest 驳回、取消的原因
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ForceRequest 跳过序列号扫描校验
type ForceRequest struct {
	Force bool `json:"force"`
}

// bindOptionalJSON 请求体为空时保持零值
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

// pathID 读取并校验路径中的 ID
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if err := utils.ValidateID(id); err != nil {
		Error(c, http.StatusBadRequest, "invalid "+name, err.Error())
		return "", false
	}
	return id, true
}

// queryString 非空查询参数
func queryString(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

// queryBool 布尔查询参数,无法解析时忽略
func queryBool(c *gin.Context, key string) *bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return nil
	}
	return &v
}

// queryTime RFC3339 或 YYYY-MM-DD 格式的时间参数
func queryTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// pagination 页码和每页数量,带默认值
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize <= 0 {
		pageSize = repository.DefaultPageSize
	}
	if pageSize > repository.MaxPageSize {
		pageSize = repository.MaxPageSize
	}
	return page, pageSize
}

// requestFilter 从查询参数构建申请过滤条件
func requestFilter(c *gin.Context) (*repository.RequestFilter, bool) {
	start, err := queryTime(c, "start_time")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid start_time", err.Error())
		return nil, false
	}
	end, err := queryTime(c, "end_time")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid end_time", err.Error())
		return nil, false
	}
	page, pageSize := pagination(c)
	return &repository.RequestFilter{
		State:       queryString(c, "state"),
		RequesterID: queryString(c, "requester_id"),
		BranchID:    queryString(c, "branch_id"),
		StartTime:   start,
		EndTime:     end,
		Page:        page,
		PageSize:    pageSize,
		SortBy:      c.Query("sort_by"),
		Order:       c.Query("order"),
	}, true
}

// runAction 执行以 ID 为参数的状态操作
func runAction[T any](c *gin.Context, action func(context.Context, service.Actor, string) (T, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := action(requestContext(c), actorFrom(c), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}

// runReasonAction 执行需要原因的状态操作（驳回、取消）
func runReasonAction[T any](c *gin.Context, action func(context.Context, service.Actor, string, string) (T, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body ReasonRequest
	if !bindOptionalJSON(c, &body) {
		return
	}
	result, err := action(requestContext(c), actorFrom(c), id, body.Reason)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}
