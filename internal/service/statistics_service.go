package service

import (
	"context"
	"fmt"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/workflow"
	"gorm.io/gorm"
)

// StatisticsService 统计服务接口
type StatisticsService interface {
	RequestsByState(ctx context.Context, actor Actor) ([]*RequestStatisticsByState, error)
	RequestsByDate(ctx context.Context, actor Actor, kind workflow.Kind) ([]*RequestStatisticsByDate, error)
	SerialsByStatus(ctx context.Context, actor Actor) ([]*SerialStatisticsByStatus, error)
}

// RequestStatisticsByState 按状态统计
type RequestStatisticsByState struct {
	Kind  string `json:"kind"`
	State string `json:"state"`
	Count int64  `json:"count"`
}

// RequestStatisticsByDate 按日期统计
type RequestStatisticsByDate struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// SerialStatisticsByStatus 序列号按类型和状态统计
type SerialStatisticsByStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// requestModels 各类申请对应的模型
var requestModels = []struct {
	kind  workflow.Kind
	model interface{}
}{
	{workflow.KindBranchRequest, &model.BranchRequestModel{}},
	{workflow.KindTransferRequest, &model.TransferRequestModel{}},
	{workflow.KindPurchaseRequisition, &model.PurchaseRequisitionModel{}},
}

func (s *statisticsService) scoped(ctx context.Context, actor Actor, m interface{}) *gorm.DB {
	query := s.db.WithContext(ctx).Model(m)
	if actor.CompanyID != "" {
		query = query.Where("company_id = ?", actor.CompanyID)
	}
	return query
}

// RequestsByState 按类型和状态统计申请
func (s *statisticsService) RequestsByState(ctx context.Context, actor Actor) ([]*RequestStatisticsByState, error) {
	stats := make([]*RequestStatisticsByState, 0)
	for _, rm := range requestModels {
		var results []struct {
			State string
			Count int64
		}
		err := s.scoped(ctx, actor, rm.model).
			Select("state, COUNT(*) as count").
			Group("state").
			Scan(&results).Error
		if err != nil {
			return nil, fmt.Errorf("failed to get %s statistics by state: %w", rm.kind, err)
		}
		for _, r := range results {
			stats = append(stats, &RequestStatisticsByState{Kind: string(rm.kind), State: r.State, Count: r.Count})
		}
	}
	return stats, nil
}

// RequestsByDate 按申请日期统计
func (s *statisticsService) RequestsByDate(ctx context.Context, actor Actor, kind workflow.Kind) ([]*RequestStatisticsByDate, error) {
	var target interface{}
	for _, rm := range requestModels {
		if rm.kind == kind {
			target = rm.model
		}
	}
	if target == nil {
		return nil, workflow.Precondition(workflow.CodeInvalidInput, "unknown request kind %s", kind)
	}

	var results []struct {
		Date  string
		Count int64
	}
	err := s.scoped(ctx, actor, target).
		Select("DATE(request_date) as date, COUNT(*) as count").
		Group("DATE(request_date)").
		Order("date DESC").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get %s statistics by date: %w", kind, err)
	}

	stats := make([]*RequestStatisticsByDate, 0, len(results))
	for _, r := range results {
		stats = append(stats, &RequestStatisticsByDate{Date: r.Date, Count: r.Count})
	}
	return stats, nil
}

// SerialsByStatus 序列号按类型和状态统计
func (s *statisticsService) SerialsByStatus(ctx context.Context, actor Actor) ([]*SerialStatisticsByStatus, error) {
	var results []struct {
		Type   string
		Status string
		Count  int64
	}
	err := s.scoped(ctx, actor, &model.SerialNumberModel{}).
		Select("type, status, COUNT(*) as count").
		Group("type, status").
		Order("type ASC, status ASC").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get serial statistics: %w", err)
	}

	stats := make([]*SerialStatisticsByStatus, 0, len(results))
	for _, r := range results {
		stats = append(stats, &SerialStatisticsByStatus{Type: r.Type, Status: r.Status, Count: r.Count})
	}
	return stats, nil
}
