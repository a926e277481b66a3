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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 单据类型
const (
	DocumentTransfer      = "transfer"
	DocumentPurchaseOrder = "purchase_order"
)

// transferTransitions 调拨单允许的状态转换
var transferTransitions = map[string][]string{
	model.TransferDraft:     {model.TransferConfirmed, model.TransferCancelled},
	model.TransferConfirmed: {model.TransferInTransit, model.TransferDone, model.TransferCancelled},
	model.TransferInTransit: {model.TransferDone},
}

// purchaseOrderTransitions 采购单允许的状态转换
var purchaseOrderTransitions = map[string][]string{
	model.PurchaseOrderDraft: {model.PurchaseOrderPurchase, model.PurchaseOrderCancelled},
}

func checkDocumentTransition(kind string, table map[string][]string, from, to string) error {
	for _, next := range table[from] {
		if next == to {
			return nil
		}
	}
	return &workflow.TransitionError{Kind: workflow.Kind(kind), From: workflow.State(from), To: workflow.State(to)}
}

// TransferSpec 生成调拨单的参数
// 未指定库位时,来源取作业类型默认来源库位或来源分支默认内部库位,目标取目标分支默认内部库位
type TransferSpec struct {
	CompanyID           string
	RequestType         workflow.Kind
	RequestID           string
	Origin              string
	SourceBranchID      string
	DestinationBranchID string
	SourceLocationID    string
	DestLocationID      string
	ScheduledDate       time.Time
	Lines               []model.RequestLine
}

// PurchaseOrderLineSpec 采购单明细参数
type PurchaseOrderLineSpec struct {
	ProductID   string
	Description string
	Quantity    decimal.Decimal
	Uom         string
	UnitPrice   decimal.Decimal
}

// PurchaseOrderSpec 生成采购单的参数
type PurchaseOrderSpec struct {
	CompanyID     string
	RequisitionID string
	Origin        string
	VendorID      string
	OrderDate     time.Time
	Lines         []PurchaseOrderLineSpec
}

// ScanChecker 校验单据的序列号扫描是否完整（SerialService 实现）
type ScanChecker interface {
	CheckScanComplete(ctx context.Context, tx *gorm.DB, doc *model.TransferDocumentModel) error
}

// DocumentService 单据生成与生命周期
type DocumentService interface {
	GenerateTransfer(ctx context.Context, tx *gorm.DB, in TransferSpec) (*model.TransferDocumentModel, error)
	GeneratePurchaseOrder(ctx context.Context, tx *gorm.DB, in PurchaseOrderSpec) (*model.PurchaseOrderModel, error)
	// CancelLinkedTransfer 在调用方事务中取消申请生成的调拨单,已完成或已取消时不处理
	CancelLinkedTransfer(ctx context.Context, tx *gorm.DB, actor Actor, transferID string) error
	// CancelLinkedPurchaseOrder 在调用方事务中取消申请生成的采购单,已取消时不处理
	CancelLinkedPurchaseOrder(ctx context.Context, tx *gorm.DB, actor Actor, orderID string) error

	GetTransfer(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error)
	Dispatch(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error)
	Receive(ctx context.Context, actor Actor, id string, force bool) (*model.TransferDocumentModel, error)
	Validate(ctx context.Context, actor Actor, id string, force bool) (*model.TransferDocumentModel, error)
	CancelTransfer(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error)

	GetPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error)
	ConfirmPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error)
	CancelPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error)
}

type documentService struct {
	db          *gorm.DB
	docRepo     repository.DocumentRepository
	branchRepo  repository.BranchRepository
	productRepo repository.ProductRepository
	sequences   SequenceGenerator
	sync        StatusSynchronizer
	audit       AuditLog
	clock       Clock
	publisher   EventPublisher
	scans       ScanChecker
}

// NewDocumentService 创建单据服务,scans 为空时不做扫描完整性校验
func NewDocumentService(db *gorm.DB, sequences SequenceGenerator, sync StatusSynchronizer, audit AuditLog, clock Clock, publisher EventPublisher, scans ScanChecker) DocumentService {
	if clock == nil {
		clock = SystemClock
	}
	return &documentService{
		db:          db,
		docRepo:     repository.NewDocumentRepository(db),
		branchRepo:  repository.NewBranchRepository(db),
		productRepo: repository.NewProductRepository(db),
		sequences:   sequences,
		sync:        sync,
		audit:       audit,
		clock:       clock,
		publisher:   publisher,
		scans:       scans,
	}
}

// GenerateTransfer 生成并确认内部调拨单
// 缺少作业类型或库位时返回 ConfigurationError,调用方事务回滚后不会留下部分单据
func (s *documentService) GenerateTransfer(ctx context.Context, tx *gorm.DB, in TransferSpec) (*model.TransferDocumentModel, error) {
	if len(in.Lines) == 0 {
		return nil, workflow.Precondition(workflow.CodeNoLines, "cannot generate a transfer without lines")
	}
	branches := s.branchRepo.WithTx(tx)

	source, err := branches.FindBranchByID(in.SourceBranchID)
	if err != nil {
		return nil, s.configError(err, "branch", in.SourceBranchID)
	}
	dest, err := branches.FindBranchByID(in.DestinationBranchID)
	if err != nil {
		return nil, s.configError(err, "branch", in.DestinationBranchID)
	}

	opType, err := branches.FindOperationType(source.ID, model.OperationInternal)
	if err != nil {
		return nil, s.configError(err, "internal operation type", source.Code)
	}

	srcLocationID := in.SourceLocationID
	if srcLocationID == "" {
		srcLocationID = opType.DefaultSrcLocationID
	}
	if srcLocationID == "" {
		loc, err := branches.FindDefaultLocation(source.ID, model.LocationUsageInternal)
		if err != nil {
			return nil, s.configError(err, "source location", source.Code)
		}
		srcLocationID = loc.ID
	}

	destLocationID := in.DestLocationID
	if destLocationID == "" {
		loc, err := branches.FindDefaultLocation(dest.ID, model.LocationUsageInternal)
		if err != nil {
			return nil, s.configError(err, "destination location", dest.Code)
		}
		destLocationID = loc.ID
	}

	reference, err := s.sequences.Next(ctx, tx, opType.SequenceCode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	scheduled := in.ScheduledDate
	if scheduled.IsZero() {
		scheduled = now
	}
	doc := &model.TransferDocumentModel{
		ID:               newID(),
		Reference:        reference,
		CompanyID:        in.CompanyID,
		OperationTypeID:  opType.ID,
		SourceLocationID: srcLocationID,
		DestLocationID:   destLocationID,
		RequestType:      string(in.RequestType),
		RequestID:        in.RequestID,
		State:            model.TransferConfirmed,
		ScheduledDate:    scheduled,
		Origin:           in.Origin,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, line := range in.Lines {
		doc.Moves = append(doc.Moves, model.TransferMoveModel{
			ID:           newID(),
			TransferID:   doc.ID,
			ProductID:    line.ProductID,
			Quantity:     line.Quantity,
			QuantityDone: decimal.Zero,
			Uom:          line.Uom,
		})
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer: %w", err)
	}
	if err := s.docRepo.WithTx(tx).CreateTransfer(doc); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	metrics.RecordDocumentGenerated(DocumentTransfer)
	return doc, nil
}

// GeneratePurchaseOrder 生成草稿采购单,明细描述为空时使用产品名称
func (s *documentService) GeneratePurchaseOrder(ctx context.Context, tx *gorm.DB, in PurchaseOrderSpec) (*model.PurchaseOrderModel, error) {
	if len(in.Lines) == 0 {
		return nil, workflow.Precondition(workflow.CodeNoLines, "no requisition lines are available for purchase order creation")
	}

	productIDs := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	products, err := s.productRepo.WithTx(tx).FindByIDs(productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	reference, err := s.sequences.Next(ctx, tx, SeqPurchaseOrder)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	order := &model.PurchaseOrderModel{
		ID:            newID(),
		Reference:     reference,
		CompanyID:     in.CompanyID,
		VendorID:      in.VendorID,
		RequisitionID: in.RequisitionID,
		State:         model.PurchaseOrderDraft,
		OrderDate:     orderDate,
		Origin:        in.Origin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	total := decimal.Zero
	for _, line := range in.Lines {
		desc := line.Description
		if desc == "" {
			desc = names[line.ProductID]
		}
		subtotal := line.Quantity.Mul(line.UnitPrice).Round(2)
		total = total.Add(subtotal)
		order.Lines = append(order.Lines, model.PurchaseOrderLineModel{
			ID:          newID(),
			OrderID:     order.ID,
			ProductID:   line.ProductID,
			Description: desc,
			Quantity:    line.Quantity,
			Uom:         line.Uom,
			UnitPrice:   line.UnitPrice,
			Subtotal:    subtotal,
		})
	}
	order.AmountTotal = total
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("invalid purchase order: %w", err)
	}
	if err := s.docRepo.WithTx(tx).CreatePurchaseOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create purchase order: %w", err)
	}

	metrics.RecordDocumentGenerated(DocumentPurchaseOrder)
	return order, nil
}

// configError 记录不存在时转换为 ConfigurationError
func (s *documentService) configError(err error, resource string, owner string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &workflow.ConfigurationError{Resource: resource, Owner: owner}
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}

// CancelLinkedTransfer 取消申请生成的调拨单
func (s *documentService) CancelLinkedTransfer(ctx context.Context, tx *gorm.DB, actor Actor, transferID string) error {
	if transferID == "" {
		return nil
	}
	repo := s.docRepo.WithTx(tx)
	doc, err := repo.FindTransferByID(transferID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get transfer: %w", err)
	}
	switch doc.State {
	case model.TransferDone, model.TransferCancelled:
		return nil
	}
	return s.setTransferState(ctx, tx, actor, doc, model.TransferCancelled, "cancel")
}

// CancelLinkedPurchaseOrder 取消申请生成的采购单
func (s *documentService) CancelLinkedPurchaseOrder(ctx context.Context, tx *gorm.DB, actor Actor, orderID string) error {
	if orderID == "" {
		return nil
	}
	repo := s.docRepo.WithTx(tx)
	order, err := repo.FindPurchaseOrderByID(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get purchase order: %w", err)
	}
	if order.State == model.PurchaseOrderCancelled {
		return nil
	}
	if order.State != model.PurchaseOrderDraft {
		return workflow.Precondition(workflow.CodeNotCancellable, "purchase order %s is already confirmed", order.Reference)
	}
	return s.setOrderState(ctx, tx, actor, order, model.PurchaseOrderCancelled, "cancel")
}

// GetTransfer 获取调拨单
func (s *documentService) GetTransfer(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error) {
	doc, err := s.docRepo.WithTx(s.db.WithContext(ctx)).FindTransferByID(id)
	if err != nil {
		return nil, notFound(err, "transfer", id)
	}
	if !actor.ownsCompany(doc.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "transfer", id)
	}
	return doc, nil
}

// Dispatch 出库,调拨单进入在途
func (s *documentService) Dispatch(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error) {
	return s.changeTransfer(ctx, actor, id, func(tx *gorm.DB, doc *model.TransferDocumentModel) error {
		return s.setTransferState(ctx, tx, actor, doc, model.TransferInTransit, "dispatch")
	})
}

// Receive 入库,在途调拨单完成
func (s *documentService) Receive(ctx context.Context, actor Actor, id string, force bool) (*model.TransferDocumentModel, error) {
	return s.changeTransfer(ctx, actor, id, func(tx *gorm.DB, doc *model.TransferDocumentModel) error {
		if doc.State != model.TransferInTransit {
			return &workflow.TransitionError{Kind: DocumentTransfer, From: workflow.State(doc.State), To: model.TransferDone}
		}
		return s.complete(ctx, tx, actor, doc, force, "receive")
	})
}

// Validate 直接完成已确认的调拨单（出库与入库一次完成）
func (s *documentService) Validate(ctx context.Context, actor Actor, id string, force bool) (*model.TransferDocumentModel, error) {
	return s.changeTransfer(ctx, actor, id, func(tx *gorm.DB, doc *model.TransferDocumentModel) error {
		if doc.State != model.TransferConfirmed {
			return &workflow.TransitionError{Kind: DocumentTransfer, From: workflow.State(doc.State), To: model.TransferDone}
		}
		return s.complete(ctx, tx, actor, doc, force, "validate")
	})
}

// CancelTransfer 取消调拨单
func (s *documentService) CancelTransfer(ctx context.Context, actor Actor, id string) (*model.TransferDocumentModel, error) {
	return s.changeTransfer(ctx, actor, id, func(tx *gorm.DB, doc *model.TransferDocumentModel) error {
		return s.setTransferState(ctx, tx, actor, doc, model.TransferCancelled, "cancel")
	})
}

// complete 完成调拨单,含序列号产品时先校验扫描完整性
func (s *documentService) complete(ctx context.Context, tx *gorm.DB, actor Actor, doc *model.TransferDocumentModel, force bool, action string) error {
	if !force && s.scans != nil {
		if err := s.scans.CheckScanComplete(ctx, tx, doc); err != nil {
			return err
		}
	}
	repo := s.docRepo.WithTx(tx)
	for i := range doc.Moves {
		doc.Moves[i].QuantityDone = doc.Moves[i].Quantity
		if err := repo.UpdateMove(&doc.Moves[i]); err != nil {
			return fmt.Errorf("failed to update move: %w", err)
		}
	}
	return s.setTransferState(ctx, tx, actor, doc, model.TransferDone, action)
}

// changeTransfer 在事务中修改调拨单并同步申请状态,提交后发布事件
func (s *documentService) changeTransfer(ctx context.Context, actor Actor, id string, change func(tx *gorm.DB, doc *model.TransferDocumentModel) error) (*model.TransferDocumentModel, error) {
	var doc *model.TransferDocumentModel
	var result *SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = s.docRepo.WithTx(tx).FindTransferByID(id)
		if err != nil {
			return notFound(err, "transfer", id)
		}
		if !actor.ownsCompany(doc.CompanyID) {
			return notFound(gorm.ErrRecordNotFound, "transfer", id)
		}
		if err := change(tx, doc); err != nil {
			return err
		}
		if s.sync != nil {
			result, err = s.sync.OnTransferEvent(ctx, tx, actor, doc)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, result.Events(actor, s.clock.Now())...)
	return doc, nil
}

// setTransferState 校验并写入调拨单状态,记录审计日志
func (s *documentService) setTransferState(ctx context.Context, tx *gorm.DB, actor Actor, doc *model.TransferDocumentModel, to string, action string) error {
	from := doc.State
	if err := checkDocumentTransition(DocumentTransfer, transferTransitions, from, to); err != nil {
		return err
	}
	now := s.clock.Now()
	doc.State = to
	doc.UpdatedAt = now
	switch to {
	case model.TransferInTransit:
		doc.DispatchedAt = &now
	case model.TransferDone:
		doc.DoneAt = &now
	}
	if err := s.docRepo.WithTx(tx).UpdateTransfer(doc); err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	return s.audit.WithTx(tx).Append(ctx, AuditEntry{
		EntityType: DocumentTransfer,
		EntityID:   doc.ID,
		Action:     action,
		ActorID:    actor.ID,
		CompanyID:  doc.CompanyID,
		FromState:  from,
		ToState:    to,
		At:         now,
	})
}

// GetPurchaseOrder 获取采购单
func (s *documentService) GetPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error) {
	order, err := s.docRepo.WithTx(s.db.WithContext(ctx)).FindPurchaseOrderByID(id)
	if err != nil {
		return nil, notFound(err, "purchase order", id)
	}
	if !actor.ownsCompany(order.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "purchase order", id)
	}
	return order, nil
}

// ConfirmPurchaseOrder 确认采购单,采购申请随之完成
func (s *documentService) ConfirmPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error) {
	return s.changeOrder(ctx, actor, id, func(tx *gorm.DB, order *model.PurchaseOrderModel) error {
		return s.setOrderState(ctx, tx, actor, order, model.PurchaseOrderPurchase, "confirm")
	})
}

// CancelPurchaseOrder 取消草稿采购单,采购申请保持已审批,可重新生成采购单
func (s *documentService) CancelPurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error) {
	return s.changeOrder(ctx, actor, id, func(tx *gorm.DB, order *model.PurchaseOrderModel) error {
		return s.setOrderState(ctx, tx, actor, order, model.PurchaseOrderCancelled, "cancel")
	})
}

func (s *documentService) changeOrder(ctx context.Context, actor Actor, id string, change func(tx *gorm.DB, order *model.PurchaseOrderModel) error) (*model.PurchaseOrderModel, error) {
	var order *model.PurchaseOrderModel
	var result *SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.docRepo.WithTx(tx).FindPurchaseOrderByID(id)
		if err != nil {
			return notFound(err, "purchase order", id)
		}
		if !actor.ownsCompany(order.CompanyID) {
			return notFound(gorm.ErrRecordNotFound, "purchase order", id)
		}
		if err := change(tx, order); err != nil {
			return err
		}
		if s.sync != nil {
			result, err = s.sync.OnPurchaseOrderEvent(ctx, tx, actor, order)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, result.Events(actor, s.clock.Now())...)
	return order, nil
}

func (s *documentService) setOrderState(ctx context.Context, tx *gorm.DB, actor Actor, order *model.PurchaseOrderModel, to string, action string) error {
	from := order.State
	if err := checkDocumentTransition(DocumentPurchaseOrder, purchaseOrderTransitions, from, to); err != nil {
		return err
	}
	now := s.clock.Now()
	order.State = to
	order.UpdatedAt = now
	if to == model.PurchaseOrderPurchase {
		order.ConfirmedAt = &now
	}
	if err := s.docRepo.WithTx(tx).UpdatePurchaseOrder(order); err != nil {
		return fmt.Errorf("failed to update purchase order: %w", err)
	}
	return s.audit.WithTx(tx).Append(ctx, AuditEntry{
		EntityType: DocumentPurchaseOrder,
		EntityID:   order.ID,
		Action:     action,
		ActorID:    actor.ID,
		CompanyID:  order.CompanyID,
		FromState:  from,
		ToState:    to,
		At:         now,
	})
}

// documentEvent 构造单据事件
func documentEvent(eventType, entityType, id, reference, companyID, state string, actor Actor, at time.Time) *integration.Event {
	return &integration.Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   id,
		Reference:  reference,
		CompanyID:  companyID,
		ActorID:    actor.ID,
		State:      state,
		OccurredAt: at,
	}
}
