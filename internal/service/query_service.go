package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/utils"
	"gorm.io/gorm"
)

// AuditLogFilter 审计日志查询过滤器
type AuditLogFilter struct {
	EntityType *string
	EntityID   *string
	ActorID    *string
	Action     *string
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
	SortBy     string
	Order      string
}

// QueryService 审计查询服务
type QueryService interface {
	ListAuditLogs(ctx context.Context, actor Actor, filter *AuditLogFilter) ([]*model.AuditLogModel, int64, error)
	StateHistory(ctx context.Context, entityType string, entityID string) ([]*model.StateHistoryModel, error)
}

// queryService 查询服务实现
type queryService struct {
	db    *gorm.DB
	audit AuditLog
}

// NewQueryService 创建查询服务
func NewQueryService(db *gorm.DB, audit AuditLog) QueryService {
	return &queryService{db: db, audit: audit}
}

// ListAuditLogs 查询审计日志,限定在操作人所在公司
func (s *queryService) ListAuditLogs(ctx context.Context, actor Actor, filter *AuditLogFilter) ([]*model.AuditLogModel, int64, error) {
	if filter == nil {
		filter = &AuditLogFilter{}
	}
	query := s.db.WithContext(ctx).Model(&model.AuditLogModel{})

	if actor.CompanyID != "" {
		query = query.Where("company_id = ?", actor.CompanyID)
	}
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.ActorID != nil {
		query = query.Where("actor_id = ?", *filter.ActorID)
	}
	if filter.Action != nil {
		query = query.Where("action = ?", *filter.Action)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", *filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	// 排序字段来自请求参数,需要校验
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy); err != nil {
		return nil, 0, fmt.Errorf("invalid sort field: %w", err)
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	if err := utils.ValidateSortOrder(order); err != nil {
		return nil, 0, fmt.Errorf("invalid sort order: %w", err)
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, strings.ToUpper(order))).Order("id " + strings.ToUpper(order))

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var logs []*model.AuditLogModel
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return logs, total, nil
}

// StateHistory 业务对象的状态变更历史
func (s *queryService) StateHistory(ctx context.Context, entityType string, entityID string) ([]*model.StateHistoryModel, error) {
	return s.audit.StateHistory(ctx, entityType, entityID)
}
