package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) submittedTransferRequest(t *testing.T, input *service.CreateTransferRequestInput) *model.TransferRequestModel {
	ctx := context.Background()
	req, err := f.transfers.Create(ctx, f.requester, input)
	require.NoError(t, err)
	req, err = f.transfers.Submit(ctx, f.requester, req.ID)
	require.NoError(t, err)
	return req
}

// TestTransferRequest_FullFlow 测试内部调拨申请从提交到上架
func TestTransferRequest_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC)
	req := f.submittedTransferRequest(t, &service.CreateTransferRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		ScheduledDate:       &scheduled,
		Lines:               []service.LineInput{line(f.widget.ID, 4)},
	})
	assert.Equal(t, "ITR/00001", req.Reference)
	assert.Equal(t, model.PriorityNormal, req.Priority)
	assert.Equal(t, string(workflow.StateSubmitted), req.State)

	req, err := f.transfers.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), req.State)

	doc, err := f.documents.GetTransfer(ctx, f.manager, req.TransferID)
	require.NoError(t, err)
	assert.True(t, doc.ScheduledDate.Equal(scheduled))
	assert.Equal(t, string(workflow.KindTransferRequest), doc.RequestType)

	_, err = f.transfers.PutAway(ctx, f.manager, req.ID)
	var terr *workflow.TransitionError
	require.True(t, errors.As(err, &terr), "put away requires a received request")

	_, err = f.documents.Dispatch(ctx, f.manager, doc.ID)
	require.NoError(t, err)
	_, err = f.documents.Receive(ctx, f.manager, doc.ID, false)
	require.NoError(t, err)

	req, err = f.transfers.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateReceived), req.State)

	req, err = f.transfers.PutAway(ctx, f.manager, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateDone), req.State)
	assert.Equal(t, f.manager.ID, req.PutAwayBy)
	require.NotNil(t, req.PutAwayAt)

	_, err = f.transfers.Cancel(ctx, f.requester, req.ID, "")
	requirePrecondition(t, err, workflow.CodeNotCancellable)
}

// TestTransferRequest_LocationOverrides 测试指定库位时使用指定库位,库位必须属于对应分支
func TestTransferRequest_LocationOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shelf, err := f.catalog.AddLocation(ctx, f.admin, f.dest.ID, &service.CreateLocationInput{
		Name:  "Shelf A",
		Usage: model.LocationUsageInternal,
	})
	require.NoError(t, err)

	_, err = f.transfers.Create(ctx, f.requester, &service.CreateTransferRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		SourceLocationID:    shelf.ID,
		Lines:               []service.LineInput{line(f.widget.ID, 1)},
	})
	requirePrecondition(t, err, workflow.CodeInvalidInput)

	req := f.submittedTransferRequest(t, &service.CreateTransferRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		DestLocationID:      shelf.ID,
		Priority:            model.PriorityUrgent,
		Lines:               []service.LineInput{line(f.widget.ID, 1)},
	})
	assert.Equal(t, model.PriorityUrgent, req.Priority)

	req, err = f.transfers.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)
	doc, err := f.documents.GetTransfer(ctx, f.manager, req.TransferID)
	require.NoError(t, err)
	assert.Equal(t, shelf.ID, doc.DestLocationID)
	assert.Equal(t, f.stockLocation(t, f.source.ID).ID, doc.SourceLocationID)

	// 非默认库位同样属于目标分支,完成后申请为已收货
	_, err = f.documents.Validate(ctx, f.manager, doc.ID, false)
	require.NoError(t, err)
	req, err = f.transfers.Get(ctx, f.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateReceived), req.State)
}

// TestTransferRequest_RejectRequiresReason 测试驳回必须填写原因
func TestTransferRequest_RejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.submittedTransferRequest(t, &service.CreateTransferRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		Lines:               []service.LineInput{line(f.widget.ID, 1)},
	})

	_, err := f.transfers.Reject(ctx, f.manager, req.ID, "   ")
	requirePrecondition(t, err, workflow.CodeReasonRequired)

	got, err := f.transfers.Reject(ctx, f.manager, req.ID, "wrong branch")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateRejected), got.State)
	assert.Equal(t, "wrong branch", got.RejectionReason)

	history, err := f.transfers.History(ctx, f.requester, req.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "reject", last.Action)
	assert.Equal(t, "wrong branch", last.Note)
}

// TestTransferRequest_ApproveRequiresStockManager 测试只有库管可以审批
func TestTransferRequest_ApproveRequiresStockManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.submittedTransferRequest(t, &service.CreateTransferRequestInput{
		SourceBranchID:      f.source.ID,
		DestinationBranchID: f.dest.ID,
		Lines:               []service.LineInput{line(f.widget.ID, 1)},
	})
	_, err := f.transfers.Approve(ctx, f.officer, req.ID)
	var perr *workflow.PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, string(service.ActionApproveTransferRequest), perr.Action)
}
