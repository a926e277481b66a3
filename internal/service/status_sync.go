package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SyncResult 一次同步推进的结果,Steps 为空表示没有变化
type SyncResult struct {
	Kind      workflow.Kind
	RequestID string
	Reference string
	CompanyID string
	From      workflow.State
	Steps     []workflow.State
}

// Changed 是否推进了状态
func (r *SyncResult) Changed() bool {
	return r != nil && len(r.Steps) > 0
}

// State 同步后的状态
func (r *SyncResult) State() workflow.State {
	if !r.Changed() {
		return r.From
	}
	return r.Steps[len(r.Steps)-1]
}

// Events 返回状态变更事件（每一步一个）
func (r *SyncResult) Events(actor Actor, at time.Time) []*integration.Event {
	if !r.Changed() {
		return nil
	}
	events := make([]*integration.Event, 0, len(r.Steps))
	from := r.From
	for _, to := range r.Steps {
		events = append(events, &integration.Event{
			Type:       integration.EventRequestStatusChanged,
			EntityType: string(r.Kind),
			EntityID:   r.RequestID,
			Reference:  r.Reference,
			CompanyID:  r.CompanyID,
			ActorID:    actor.ID,
			State:      string(to),
			Payload:    map[string]interface{}{"from": string(from), "source": "sync"},
			OccurredAt: at,
		})
		from = to
	}
	return events
}

// StatusSynchronizer 根据生成单据的状态推进申请状态
type StatusSynchronizer interface {
	// OnTransferEvent 在调用方事务中根据调拨单状态推进申请
	OnTransferEvent(ctx context.Context, tx *gorm.DB, actor Actor, doc *model.TransferDocumentModel) (*SyncResult, error)
	// OnPurchaseOrderEvent 在调用方事务中根据采购单状态推进采购申请
	OnPurchaseOrderEvent(ctx context.Context, tx *gorm.DB, actor Actor, order *model.PurchaseOrderModel) (*SyncResult, error)
	// SyncTransfer 使用独立事务重新检查调拨单（轮询使用）
	SyncTransfer(ctx context.Context, actor Actor, transferID string) (*SyncResult, error)
	// SyncPurchaseOrder 使用独立事务重新检查采购单（轮询使用）
	SyncPurchaseOrder(ctx context.Context, actor Actor, orderID string) (*SyncResult, error)
}

// syncTarget 被同步的申请
type syncTarget struct {
	kind         workflow.Kind
	id           string
	reference    string
	companyID    string
	state        workflow.State
	destBranchID string
	save         func(state workflow.State) error
}

type statusSynchronizer struct {
	db        *gorm.DB
	audit     AuditLog
	clock     Clock
	publisher EventPublisher
}

// NewStatusSynchronizer 创建状态同步器
func NewStatusSynchronizer(db *gorm.DB, audit AuditLog, clock Clock, publisher EventPublisher) StatusSynchronizer {
	if clock == nil {
		clock = SystemClock
	}
	return &statusSynchronizer{db: db, audit: audit, clock: clock, publisher: publisher}
}

// OnTransferEvent 调拨单状态变化
// in_transit 为出库段,done 且目标库位属于申请目标分支为入库段,done 到其他库位视为出库完成
func (s *statusSynchronizer) OnTransferEvent(ctx context.Context, tx *gorm.DB, actor Actor, doc *model.TransferDocumentModel) (*SyncResult, error) {
	target, err := s.loadTransferTarget(tx, doc)
	if err != nil || target == nil {
		return nil, err
	}

	var want workflow.State
	switch doc.State {
	case model.TransferInTransit:
		want = workflow.StateInTransit
	case model.TransferDone:
		loc, err := repository.NewBranchRepository(tx).FindLocationByID(doc.DestLocationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get destination location: %w", err)
		}
		if loc != nil && loc.BranchID == target.destBranchID {
			want = workflow.StateReceived
		} else {
			want = workflow.StateInTransit
		}
	default:
		return &SyncResult{Kind: target.kind, RequestID: target.id, Reference: target.reference, CompanyID: target.companyID, From: target.state}, nil
	}

	return s.advance(ctx, tx, actor, target, want, doc.Reference)
}

// OnPurchaseOrderEvent 采购单确认后采购申请完成
func (s *statusSynchronizer) OnPurchaseOrderEvent(ctx context.Context, tx *gorm.DB, actor Actor, order *model.PurchaseOrderModel) (*SyncResult, error) {
	repo := repository.NewRequisitionRepository(tx)
	req, err := repo.FindByIDForUpdate(order.RequisitionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithField("purchase_order", order.Reference).Warn("purchase order references a missing requisition")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requisition: %w", err)
	}

	target := &syncTarget{
		kind:      workflow.KindPurchaseRequisition,
		id:        req.ID,
		reference: req.Reference,
		companyID: req.CompanyID,
		state:     workflow.State(req.State),
		save: func(state workflow.State) error {
			req.State = string(state)
			req.UpdatedAt = s.clock.Now()
			return repo.Update(req)
		},
	}
	if order.State != model.PurchaseOrderPurchase {
		return &SyncResult{Kind: target.kind, RequestID: req.ID, Reference: req.Reference, CompanyID: req.CompanyID, From: target.state}, nil
	}
	return s.advance(ctx, tx, actor, target, workflow.StateDone, order.Reference)
}

// SyncTransfer 重新检查调拨单并推进申请
func (s *statusSynchronizer) SyncTransfer(ctx context.Context, actor Actor, transferID string) (*SyncResult, error) {
	var result *SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := repository.NewDocumentRepository(tx).FindTransferByID(transferID)
		if err != nil {
			return notFound(err, "transfer", transferID)
		}
		result, err = s.OnTransferEvent(ctx, tx, actor, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, result.Events(actor, s.clock.Now())...)
	return result, nil
}

// SyncPurchaseOrder 重新检查采购单并推进采购申请
func (s *statusSynchronizer) SyncPurchaseOrder(ctx context.Context, actor Actor, orderID string) (*SyncResult, error) {
	var result *SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := repository.NewDocumentRepository(tx).FindPurchaseOrderByID(orderID)
		if err != nil {
			return notFound(err, "purchase order", orderID)
		}
		result, err = s.OnPurchaseOrderEvent(ctx, tx, actor, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, result.Events(actor, s.clock.Now())...)
	return result, nil
}

// loadTransferTarget 加载调拨单对应的申请,申请不存在时返回 nil
func (s *statusSynchronizer) loadTransferTarget(tx *gorm.DB, doc *model.TransferDocumentModel) (*syncTarget, error) {
	switch workflow.Kind(doc.RequestType) {
	case workflow.KindBranchRequest:
		repo := repository.NewBranchRequestRepository(tx)
		req, err := repo.FindByIDForUpdate(doc.RequestID)
		if err != nil {
			return s.missingTarget(err, doc)
		}
		return &syncTarget{
			kind:         workflow.KindBranchRequest,
			id:           req.ID,
			reference:    req.Reference,
			companyID:    req.CompanyID,
			state:        workflow.State(req.State),
			destBranchID: req.DestinationBranchID,
			save: func(state workflow.State) error {
				req.State = string(state)
				req.UpdatedAt = s.clock.Now()
				return repo.Update(req)
			},
		}, nil
	case workflow.KindTransferRequest:
		repo := repository.NewTransferRequestRepository(tx)
		req, err := repo.FindByIDForUpdate(doc.RequestID)
		if err != nil {
			return s.missingTarget(err, doc)
		}
		return &syncTarget{
			kind:         workflow.KindTransferRequest,
			id:           req.ID,
			reference:    req.Reference,
			companyID:    req.CompanyID,
			state:        workflow.State(req.State),
			destBranchID: req.DestinationBranchID,
			save: func(state workflow.State) error {
				req.State = string(state)
				req.UpdatedAt = s.clock.Now()
				return repo.Update(req)
			},
		}, nil
	}
	logrus.WithFields(logrus.Fields{
		"transfer":     doc.Reference,
		"request_type": doc.RequestType,
	}).Debug("transfer is not linked to a synchronised request")
	return nil, nil
}

func (s *statusSynchronizer) missingTarget(err error, doc *model.TransferDocumentModel) (*syncTarget, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithField("transfer", doc.Reference).Warn("transfer references a missing request")
		return nil, nil
	}
	return nil, fmt.Errorf("failed to get request: %w", err)
}

// advance 沿主流程逐级推进到 want,每一步都经过状态机校验并写入审计日志
// 申请未到 approved、已越过 want 或已进入旁路状态时不做任何变更
func (s *statusSynchronizer) advance(ctx context.Context, tx *gorm.DB, actor Actor, target *syncTarget, want workflow.State, docRef string) (*SyncResult, error) {
	result := &SyncResult{
		Kind:      target.kind,
		RequestID: target.id,
		Reference: target.reference,
		CompanyID: target.companyID,
		From:      target.state,
	}

	machine, ok := workflow.MachineFor(target.kind)
	if !ok {
		return result, nil
	}
	if machine.Rank(target.state) < machine.Rank(workflow.StateApproved) {
		return result, nil
	}
	path, ok := machine.Path(target.state, want)
	if !ok {
		return result, nil
	}

	audit := s.audit.WithTx(tx)
	cur := target.state
	for _, next := range path {
		if err := machine.Transition(cur, next); err != nil {
			return nil, err
		}
		if err := target.save(next); err != nil {
			return nil, fmt.Errorf("failed to update %s state: %w", target.kind, err)
		}
		if err := audit.Append(ctx, AuditEntry{
			EntityType: string(target.kind),
			EntityID:   target.id,
			Action:     "sync",
			ActorID:    actor.ID,
			CompanyID:  target.companyID,
			FromState:  string(cur),
			ToState:    string(next),
			Note:       "document " + docRef,
			At:         s.clock.Now(),
		}); err != nil {
			return nil, err
		}
		metrics.RecordTransition(string(target.kind), string(next), "sync")
		result.Steps = append(result.Steps, next)
		cur = next
	}
	return result, nil
}
