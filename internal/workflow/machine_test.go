package workflow_test

import (
	"errors"
	"testing"

	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBranchRequestMachine_HappyPath 测试分支申请主流程
func TestBranchRequestMachine_HappyPath(t *testing.T) {
	m := workflow.BranchRequestMachine
	steps := []workflow.State{
		workflow.StateDraft,
		workflow.StateRequested,
		workflow.StateApproved,
		workflow.StateInTransit,
		workflow.StateReceived,
	}
	for i := 0; i < len(steps)-1; i++ {
		assert.NoError(t, m.Transition(steps[i], steps[i+1]), "%s -> %s", steps[i], steps[i+1])
		assert.Greater(t, m.Rank(steps[i+1]), m.Rank(steps[i]))
	}
	assert.True(t, m.IsTerminal(workflow.StateReceived))
}

// TestBranchRequestMachine_NoSkipping 测试不允许跳过状态
func TestBranchRequestMachine_NoSkipping(t *testing.T) {
	m := workflow.BranchRequestMachine

	err := m.Transition(workflow.StateDraft, workflow.StateApproved)
	require.Error(t, err)

	var terr *workflow.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, workflow.KindBranchRequest, terr.Kind)
	assert.Equal(t, workflow.StateDraft, terr.From)
	assert.Equal(t, workflow.StateApproved, terr.To)

	assert.False(t, m.CanTransition(workflow.StateApproved, workflow.StateReceived))
	assert.False(t, m.CanTransition(workflow.StateRequested, workflow.StateInTransit))
}

// TestMachines_CancelRules 测试履约中与已完成状态不允许取消
func TestMachines_CancelRules(t *testing.T) {
	cases := []struct {
		name        string
		machine     *workflow.Machine
		cancellable []workflow.State
		locked      []workflow.State
	}{
		{
			name:        "branch request",
			machine:     workflow.BranchRequestMachine,
			cancellable: []workflow.State{workflow.StateDraft, workflow.StateRequested, workflow.StateApproved},
			locked:      []workflow.State{workflow.StateInTransit, workflow.StateReceived, workflow.StateCancelled},
		},
		{
			name:        "transfer request",
			machine:     workflow.TransferRequestMachine,
			cancellable: []workflow.State{workflow.StateDraft, workflow.StateSubmitted, workflow.StateApproved},
			locked:      []workflow.State{workflow.StateInTransit, workflow.StateReceived, workflow.StateDone},
		},
		{
			name:        "purchase requisition",
			machine:     workflow.RequisitionMachine,
			cancellable: []workflow.State{workflow.StateDraft, workflow.StateSubmitted, workflow.StateOfficerApproved, workflow.StateApproved},
			locked:      []workflow.State{workflow.StateDone, workflow.StateRejected},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, s := range tc.cancellable {
				assert.True(t, tc.machine.Cancellable(s), "%s should be cancellable", s)
			}
			for _, s := range tc.locked {
				assert.False(t, tc.machine.Cancellable(s), "%s should not be cancellable", s)
			}
		})
	}
}

// TestMachine_Path 测试逐级推进路径
func TestMachine_Path(t *testing.T) {
	m := workflow.BranchRequestMachine

	path, ok := m.Path(workflow.StateApproved, workflow.StateReceived)
	require.True(t, ok)
	assert.Equal(t, []workflow.State{workflow.StateInTransit, workflow.StateReceived}, path)

	_, ok = m.Path(workflow.StateReceived, workflow.StateInTransit)
	assert.False(t, ok, "backwards path is not allowed")

	_, ok = m.Path(workflow.StateDraft, workflow.StateApproved)
	assert.True(t, ok)

	_, ok = m.Path(workflow.StateCancelled, workflow.StateReceived)
	assert.False(t, ok, "side exits never rejoin the main flow")
}

// TestRequisitionMachine_TwoStepApproval 测试采购申请两级审批
func TestRequisitionMachine_TwoStepApproval(t *testing.T) {
	m := workflow.RequisitionMachine

	assert.False(t, m.CanTransition(workflow.StateSubmitted, workflow.StateApproved))
	assert.True(t, m.CanTransition(workflow.StateSubmitted, workflow.StateOfficerApproved))
	assert.True(t, m.CanTransition(workflow.StateOfficerApproved, workflow.StateApproved))
	assert.True(t, m.CanTransition(workflow.StateRejected, workflow.StateDraft))
}

// TestMachineFor 测试按类型获取状态机
func TestMachineFor(t *testing.T) {
	m, ok := workflow.MachineFor(workflow.KindTransferRequest)
	require.True(t, ok)
	assert.Equal(t, workflow.KindTransferRequest, m.Kind())
	assert.True(t, m.Knows(workflow.StateDone))
	assert.False(t, m.Knows(workflow.StateRequested))

	_, ok = workflow.MachineFor("unknown")
	assert.False(t, ok)
}

// TestErrors 测试错误信息
func TestErrors(t *testing.T) {
	err := workflow.Precondition(workflow.CodeNoLines, "request %s has no lines", "BR/00001")
	var perr *workflow.PreconditionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, workflow.CodeNoLines, perr.Code)
	assert.Equal(t, "request BR/00001 has no lines", err.Error())

	cerr := &workflow.ConfigurationError{Resource: "internal operation type", Owner: "branch WH-A"}
	assert.Equal(t, "no internal operation type found for branch WH-A", cerr.Error())

	conflict := &workflow.ConflictError{Resource: "serial number", Key: "PF25M0000001"}
	assert.Contains(t, conflict.Error(), "PF25M0000001")
}
