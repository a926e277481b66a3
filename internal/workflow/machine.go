package workflow

// State 请求状态
type State string

// Kind 请求类型
type Kind string

const (
	KindBranchRequest       Kind = "branch_request"
	KindTransferRequest     Kind = "transfer_request"
	KindPurchaseRequisition Kind = "purchase_requisition"
)

// 状态定义,三类请求共用同一组名称,各自只使用其中的子集
const (
	StateDraft           State = "draft"
	StateRequested       State = "requested"
	StateSubmitted       State = "submitted"
	StateOfficerApproved State = "officer_approved"
	StateApproved        State = "approved"
	StateInTransit       State = "in_transit"
	StateReceived        State = "received"
	StateDone            State = "done"
	StateRejected        State = "rejected"
	StateCancelled       State = "cancelled"
)

// Machine 单一请求类型的状态机
type Machine struct {
	kind        Kind
	transitions map[State][]State
	rank        map[State]int
	terminal    map[State]bool
	// 履约中或已成功完成的状态,不允许取消
	locked map[State]bool
}

// Kind 返回状态机对应的请求类型
func (m *Machine) Kind() Kind {
	return m.kind
}

// CanTransition 检查是否允许从 from 转换到 to
func (m *Machine) CanTransition(from, to State) bool {
	for _, next := range m.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 校验状态转换,不允许时返回 TransitionError
func (m *Machine) Transition(from, to State) error {
	if !m.CanTransition(from, to) {
		return &TransitionError{Kind: m.kind, From: from, To: to}
	}
	return nil
}

// IsTerminal 是否为终态
func (m *Machine) IsTerminal(s State) bool {
	return m.terminal[s]
}

// Cancellable 当前状态是否允许取消
func (m *Machine) Cancellable(s State) bool {
	if m.locked[s] {
		return false
	}
	return m.CanTransition(s, StateCancelled)
}

// Rank 返回状态在主流程中的顺序,未知状态返回 -1
func (m *Machine) Rank(s State) int {
	if r, ok := m.rank[s]; ok {
		return r
	}
	return -1
}

// Knows 状态是否属于该状态机
func (m *Machine) Knows(s State) bool {
	_, ok := m.rank[s]
	return ok
}

// States 按主流程顺序返回所有状态
func (m *Machine) States() []State {
	states := make([]State, len(m.rank))
	for s, r := range m.rank {
		states[r] = s
	}
	return states
}

// newMachine 按主流程顺序构建状态机,side 为主流程之后的旁路状态
func newMachine(kind Kind, flow []State, side []State, edges map[State][]State, locked ...State) *Machine {
	m := &Machine{
		kind:        kind,
		transitions: edges,
		rank:        make(map[State]int),
		terminal:    make(map[State]bool),
		locked:      make(map[State]bool),
	}
	for i, s := range flow {
		m.rank[s] = i
	}
	for i, s := range side {
		m.rank[s] = len(flow) + i
	}
	for s := range m.rank {
		if len(edges[s]) == 0 {
			m.terminal[s] = true
		}
	}
	for _, s := range locked {
		m.locked[s] = true
	}
	return m
}

// BranchRequestMachine 分支调拨申请状态机
var BranchRequestMachine = newMachine(
	KindBranchRequest,
	[]State{StateDraft, StateRequested, StateApproved, StateInTransit, StateReceived},
	[]State{StateRejected, StateCancelled},
	map[State][]State{
		StateDraft:     {StateRequested, StateCancelled},
		StateRequested: {StateApproved, StateRejected, StateCancelled},
		StateApproved:  {StateInTransit, StateCancelled},
		StateInTransit: {StateReceived},
		StateRejected:  {StateDraft},
		StateCancelled: {StateDraft},
	},
	StateInTransit, StateReceived,
)

// TransferRequestMachine 内部调拨申请状态机
var TransferRequestMachine = newMachine(
	KindTransferRequest,
	[]State{StateDraft, StateSubmitted, StateApproved, StateInTransit, StateReceived, StateDone},
	[]State{StateRejected, StateCancelled},
	map[State][]State{
		StateDraft:     {StateSubmitted, StateCancelled},
		StateSubmitted: {StateApproved, StateRejected, StateCancelled},
		StateApproved:  {StateInTransit, StateCancelled},
		StateInTransit: {StateReceived},
		StateReceived:  {StateDone},
		StateRejected:  {StateDraft},
		StateCancelled: {StateDraft},
	},
	StateInTransit, StateReceived, StateDone,
)

// RequisitionMachine 采购申请状态机
var RequisitionMachine = newMachine(
	KindPurchaseRequisition,
	[]State{StateDraft, StateSubmitted, StateOfficerApproved, StateApproved, StateDone},
	[]State{StateRejected, StateCancelled},
	map[State][]State{
		StateDraft:           {StateSubmitted, StateCancelled},
		StateSubmitted:       {StateOfficerApproved, StateRejected, StateCancelled},
		StateOfficerApproved: {StateApproved, StateRejected, StateCancelled},
		StateApproved:        {StateDone, StateCancelled},
		StateRejected:        {StateDraft},
		StateCancelled:       {StateDraft},
	},
	StateDone,
)

// MachineFor 根据请求类型返回状态机
func MachineFor(kind Kind) (*Machine, bool) {
	switch kind {
	case KindBranchRequest:
		return BranchRequestMachine, true
	case KindTransferRequest:
		return TransferRequestMachine, true
	case KindPurchaseRequisition:
		return RequisitionMachine, true
	}
	return nil, false
}

// Path 返回从 from 沿主流程到 to 需要经过的每一步（不含 from）
// 用于状态同步时逐级推进,不跳过中间状态
func (m *Machine) Path(from, to State) ([]State, bool) {
	fr, ok := m.rank[from]
	if !ok {
		return nil, false
	}
	tr, ok := m.rank[to]
	if !ok || tr <= fr {
		return nil, false
	}
	states := m.States()
	path := make([]State, 0, tr-fr)
	cur := from
	for r := fr + 1; r <= tr; r++ {
		next := states[r]
		if !m.CanTransition(cur, next) {
			return nil, false
		}
		path = append(path, next)
		cur = next
	}
	return path, true
}
