package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestPoller_RunOnce 测试轮询补偿遗漏的单据状态变化
func TestRequestPoller_RunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poller := service.NewRequestPoller(f.db, f.sync, time.Minute)

	req, doc := f.approvedBranchRequest(t, line(f.widget.ID, 2))

	report, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 1}, report)

	// 直接修改单据状态,模拟未发出事件的外部变更
	require.NoError(t, f.db.Model(&model.TransferDocumentModel{}).
		Where("id = ?", doc.ID).Update("state", model.TransferInTransit).Error)

	report, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 1, Advanced: 1}, report)

	got, err := f.branches.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateInTransit), got.State)

	history, err := f.branches.History(ctx, f.requester, req.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "sync", last.Action)
	assert.Equal(t, service.SystemActorID, last.ActorID)

	require.NoError(t, f.db.Model(&model.TransferDocumentModel{}).
		Where("id = ?", doc.ID).Update("state", model.TransferDone).Error)
	report, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Advanced)

	// 已收货的申请不再轮询
	report, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

// TestRequestPoller_PurchaseOrders 测试轮询采购单确认
func TestRequestPoller_PurchaseOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poller := service.NewRequestPoller(f.db, f.sync, time.Minute)

	req := f.officerApprovedRequisition(t)
	req, err := f.reqs.Approve(ctx, f.head, req.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&model.PurchaseOrderModel{}).
		Where("id = ?", req.PurchaseOrderID).Update("state", model.PurchaseOrderPurchase).Error)

	report, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 1, Advanced: 1}, report)

	got, err := f.reqs.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateDone), got.State)
}

// TestRequestPoller_FailuresAreIsolated 测试单条失败不影响其他申请
func TestRequestPoller_FailuresAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poller := service.NewRequestPoller(f.db, f.sync, time.Minute)

	broken, _ := f.approvedBranchRequest(t, line(f.widget.ID, 1))
	require.NoError(t, f.db.Model(&model.BranchRequestModel{}).
		Where("id = ?", broken.ID).Update("transfer_id", "missing").Error)

	f.clock.Advance(time.Second)
	_, doc := f.approvedBranchRequest(t, line(f.widget.ID, 1))
	require.NoError(t, f.db.Model(&model.TransferDocumentModel{}).
		Where("id = ?", doc.ID).Update("state", model.TransferInTransit).Error)

	report, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 2, Advanced: 1, Failed: 1}, report)
}

// TestRequestPoller_Interval 测试间隔热更新
func TestRequestPoller_Interval(t *testing.T) {
	f := newFixture(t)
	poller := service.NewRequestPoller(f.db, f.sync, 0)
	assert.Equal(t, 5*time.Minute, poller.Interval())

	poller.Start()
	poller.Start()
	poller.SetInterval(10 * time.Millisecond)
	poller.SetInterval(-1)
	assert.Equal(t, 10*time.Millisecond, poller.Interval())
	poller.Stop()
	poller.Stop()
}

// TestRequestPoller_PagesThroughAllInFlight 测试超过分页大小时仍检查全部履约中的申请
func TestRequestPoller_PagesThroughAllInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poller := service.NewRequestPoller(f.db, f.sync, time.Minute)
	poller.SetBatchSize(2)

	var docs []*model.TransferDocumentModel
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		_, doc := f.approvedBranchRequest(t, line(f.widget.ID, 1))
		docs = append(docs, doc)
	}

	report, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 5}, report)

	// 最新的申请同样会被检查
	newest := docs[len(docs)-1]
	require.NoError(t, f.db.Model(&model.TransferDocumentModel{}).
		Where("id = ?", newest.ID).Update("state", model.TransferInTransit).Error)

	report, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.PollReport{Checked: 5, Advanced: 1}, report)

	var req model.BranchRequestModel
	require.NoError(t, f.db.Where("transfer_id = ?", newest.ID).First(&req).Error)
	assert.Equal(t, string(workflow.StateInTransit), req.State)
}
