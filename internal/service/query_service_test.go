package service_test

import (
	"context"
	"testing"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

// TestQuery_ListAuditLogs 测试审计日志过滤和公司隔离
func TestQuery_ListAuditLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	query := service.NewQueryService(f.db, f.audit)
	req, _ := f.approvedBranchRequest(t, line(f.widget.ID, 1))

	logs, total, err := query.ListAuditLogs(ctx, f.admin, &service.AuditLogFilter{
		EntityType: strPtr(string(workflow.KindBranchRequest)),
		EntityID:   strPtr(req.ID),
		Order:      "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []string{"create", "submit", "approve"}, actions)

	logs, _, err = query.ListAuditLogs(ctx, f.admin, &service.AuditLogFilter{ActorID: strPtr(f.manager.ID)})
	require.NoError(t, err)
	for _, l := range logs {
		assert.Equal(t, f.manager.ID, l.ActorID)
	}

	_, total, err = query.ListAuditLogs(ctx, service.Actor{ID: "u-x", CompanyID: "c2"}, nil)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = query.ListAuditLogs(ctx, f.admin, &service.AuditLogFilter{SortBy: "created_at; DROP TABLE audit_logs"})
	assert.Error(t, err)

	history, err := query.StateHistory(ctx, string(workflow.KindBranchRequest), req.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, string(workflow.StateApproved), history[len(history)-1].ToState)
}

// TestStatistics 测试按状态、日期和序列号状态统计
func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stats := service.NewStatisticsService(f.db)

	f.approvedBranchRequest(t, line(f.widget.ID, 1))
	_, err := f.branches.Create(ctx, f.requester, &service.CreateBranchRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		Lines:               []service.LineInput{line(f.widget.ID, 1)},
	})
	require.NoError(t, err)
	f.generateSerials(t, 3)

	byState, err := stats.RequestsByState(ctx, f.admin)
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, s := range byState {
		assert.Equal(t, string(workflow.KindBranchRequest), s.Kind)
		counts[s.State] = s.Count
	}
	assert.Equal(t, map[string]int64{"approved": 1, "draft": 1}, counts)

	byDate, err := stats.RequestsByDate(ctx, f.admin, workflow.KindBranchRequest)
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, int64(2), byDate[0].Count)

	_, err = stats.RequestsByDate(ctx, f.admin, workflow.Kind("unknown"))
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	serials, err := stats.SerialsByStatus(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, []*service.SerialStatisticsByStatus{
		{Type: model.SerialTypeMachine, Status: model.SerialAvailable, Count: 3},
	}, serials)

	byState, err = stats.RequestsByState(ctx, service.Actor{ID: "u-x", CompanyID: "c2"})
	require.NoError(t, err)
	assert.Empty(t, byState)
}

// TestLocalLocker_SerializesSameKey 测试同一 key 串行获取
func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := service.NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "serial:M")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := locker.Lock(ctx, "serial:M")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	other, err := locker.Lock(ctx, "serial:W")
	require.NoError(t, err)
	other()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	default:
	}
	unlock()
	<-acquired
}
