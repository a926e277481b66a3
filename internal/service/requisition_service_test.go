package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// officerApprovedRequisition 创建并完成专员审批的采购申请
func (f *fixture) officerApprovedRequisition(t *testing.T) *model.PurchaseRequisitionModel {
	ctx := context.Background()
	req, err := f.reqs.Create(ctx, f.requester, &service.CreateRequisitionInput{
		DepartmentID: f.dept.ID,
		BranchID:     f.dest.ID,
		Lines: []service.RequisitionLineInput{
			{ProductID: f.widget.ID, Quantity: qty(10), UnitPrice: decimal.RequireFromString("2.50")},
			{ProductID: f.machine.ID, Quantity: qty(1), UnitPrice: decimal.RequireFromString("120"), Description: "Industrial model"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, service.StageNone, service.ApprovalStage(req.State))

	req, err = f.reqs.Submit(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StagePendingOfficer, service.ApprovalStage(req.State))

	req, err = f.reqs.OfficerApprove(ctx, f.officer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StagePendingManager, service.ApprovalStage(req.State))
	assert.Equal(t, f.officer.ID, req.OfficerApprovedBy)
	return req
}

// TestRequisition_FullFlow 测试两级审批、生成采购单、确认采购单后申请完成
func TestRequisition_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.officerApprovedRequisition(t)
	assert.Equal(t, "PR/00001", req.Reference)

	req, err := f.reqs.Approve(ctx, f.head, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), req.State)
	assert.Equal(t, service.StageManagerApproved, service.ApprovalStage(req.State))
	require.NotEmpty(t, req.PurchaseOrderID)

	order, err := f.documents.GetPurchaseOrder(ctx, f.head, req.PurchaseOrderID)
	require.NoError(t, err)
	assert.Equal(t, "PO/00001", order.Reference)
	assert.Equal(t, model.PurchaseOrderDraft, order.State)
	assert.Equal(t, req.Reference, order.Origin)
	assert.True(t, order.AmountTotal.Equal(decimal.RequireFromString("145")), "got %s", order.AmountTotal)
	require.Len(t, order.Lines, 2)
	descriptions := []string{order.Lines[0].Description, order.Lines[1].Description}
	assert.ElementsMatch(t, []string{"Widget", "Industrial model"}, descriptions)

	assert.Contains(t, f.events.Types(), integration.EventPurchaseOrderCreated)

	_, err = f.documents.ConfirmPurchaseOrder(ctx, f.head, order.ID)
	require.NoError(t, err)

	req, err = f.reqs.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateDone), req.State)

	_, err = f.reqs.Cancel(ctx, f.requester, req.ID, "")
	requirePrecondition(t, err, workflow.CodeNotCancellable)
}

// TestRequisition_ApproverChecks 测试专员角色和部门负责人校验
func TestRequisition_ApproverChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.reqs.Create(ctx, f.requester, &service.CreateRequisitionInput{
		DepartmentID: f.dept.ID,
		Lines:        []service.RequisitionLineInput{{ProductID: f.widget.ID, Quantity: qty(1)}},
	})
	require.NoError(t, err)
	_, err = f.reqs.Submit(ctx, f.requester, req.ID)
	require.NoError(t, err)

	var perr *workflow.PermissionError
	_, err = f.reqs.OfficerApprove(ctx, f.head, req.ID)
	require.True(t, errors.As(err, &perr))

	_, err = f.reqs.OfficerApprove(ctx, f.officer, req.ID)
	require.NoError(t, err)

	_, err = f.reqs.Approve(ctx, f.officer, req.ID)
	require.True(t, errors.As(err, &perr), "only the head of department may approve")

	got, err := f.reqs.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateOfficerApproved), got.State)
	assert.Empty(t, got.PurchaseOrderID)

	var count int64
	require.NoError(t, f.db.Model(&model.PurchaseOrderModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

// TestRequisition_RejectByStage 测试不同阶段由不同审批人驳回
func TestRequisition_RejectByStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.officerApprovedRequisition(t)

	_, err := f.reqs.Reject(ctx, f.head, req.ID, "")
	requirePrecondition(t, err, workflow.CodeReasonRequired)

	var perr *workflow.PermissionError
	_, err = f.reqs.Reject(ctx, f.officer, req.ID, "too expensive")
	require.True(t, errors.As(err, &perr), "pending manager approval can only be rejected by the manager")

	got, err := f.reqs.Reject(ctx, f.head, req.ID, "too expensive")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateRejected), got.State)
	assert.Equal(t, f.head.ID, got.RejectedBy)

	got, err = f.reqs.ResetToDraft(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateDraft), got.State)
	assert.Empty(t, got.OfficerApprovedBy)
	assert.Empty(t, got.RejectionReason)
}

// TestRequisition_CreatePurchaseOrderAfterCancel 测试原采购单取消后重新生成
func TestRequisition_CreatePurchaseOrderAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.officerApprovedRequisition(t)
	req, err := f.reqs.Approve(ctx, f.head, req.ID)
	require.NoError(t, err)
	first := req.PurchaseOrderID

	_, err = f.reqs.CreatePurchaseOrder(ctx, f.head, req.ID)
	requirePrecondition(t, err, workflow.CodeDocumentExists)

	cancelled, err := f.documents.CancelPurchaseOrder(ctx, f.head, first)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseOrderCancelled, cancelled.State)

	// 取消采购单不影响申请状态
	req, err = f.reqs.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), req.State)

	order, err := f.reqs.CreatePurchaseOrder(ctx, f.head, req.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, order.ID)
	assert.Equal(t, "PO/00002", order.Reference)

	req, err = f.reqs.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, req.PurchaseOrderID)
}

// TestRequisition_CancelApprovedCancelsDraftOrder 测试取消已审批申请时取消草稿采购单
func TestRequisition_CancelApprovedCancelsDraftOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.officerApprovedRequisition(t)
	req, err := f.reqs.Approve(ctx, f.head, req.ID)
	require.NoError(t, err)

	got, err := f.reqs.Cancel(ctx, f.requester, req.ID, "budget frozen")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateCancelled), got.State)

	order, err := f.documents.GetPurchaseOrder(ctx, f.head, req.PurchaseOrderID)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseOrderCancelled, order.State)
}

// TestRequisition_UnknownDepartment 测试部门不存在
func TestRequisition_UnknownDepartment(t *testing.T) {
	f := newFixture(t)
	_, err := f.reqs.Create(context.Background(), f.requester, &service.CreateRequisitionInput{
		DepartmentID: "missing",
		Lines:        []service.RequisitionLineInput{{ProductID: f.widget.ID, Quantity: qty(1)}},
	})
	requirePrecondition(t, err, workflow.CodeInvalidInput)
}

// TestApprovalStage 测试审批阶段标签
func TestApprovalStage(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"draft", service.StageNone},
		{"submitted", service.StagePendingOfficer},
		{"officer_approved", service.StagePendingManager},
		{"approved", service.StageManagerApproved},
		{"done", service.StageManagerApproved},
		{"rejected", service.StageNone},
		{"cancelled", service.StageNone},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.want, service.ApprovalStage(tt.state))
		})
	}
}
