package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 审批阶段
const (
	StagePendingOfficer  = "Approve Pending Procurement Officer"
	StagePendingManager  = "Approve Pending Head of Department"
	StageManagerApproved = "Head of Department Approved"
	StageNone            = "None"
)

// RequisitionLineInput 采购申请明细输入
type RequisitionLineInput struct {
	ProductID   string          `json:"product_id" validate:"required,max=64"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gte=0"`
	Uom         string          `json:"uom" validate:"max=32"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Description string          `json:"description" validate:"max=1000"`
	Note        string          `json:"note" validate:"max=1000"`
}

// CreateRequisitionInput 创建采购申请
type CreateRequisitionInput struct {
	DepartmentID string                 `json:"department_id" validate:"required,max=64"`
	BranchID     string                 `json:"branch_id" validate:"max=64"`
	VendorID     string                 `json:"vendor_id" validate:"max=64"`
	RequiredDate *time.Time             `json:"required_date"`
	Note         string                 `json:"note" validate:"max=2000"`
	Lines        []RequisitionLineInput `json:"lines" validate:"dive"`
}

// RequisitionService 内部采购申请服务
type RequisitionService interface {
	Create(ctx context.Context, actor Actor, input *CreateRequisitionInput) (*model.PurchaseRequisitionModel, error)
	Get(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error)
	List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.PurchaseRequisitionModel, int64, error)
	Submit(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error)
	OfficerApprove(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error)
	Approve(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error)
	Reject(ctx context.Context, actor Actor, id string, reason string) (*model.PurchaseRequisitionModel, error)
	Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.PurchaseRequisitionModel, error)
	ResetToDraft(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error)
	// CreatePurchaseOrder 已审批的申请在原采购单取消后重新生成采购单
	CreatePurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error)
	History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error)
}

type requisitionService struct {
	db         *gorm.DB
	repo       repository.RequisitionRepository
	branchRepo repository.BranchRepository
	docRepo    repository.DocumentRepository
	sequences  SequenceGenerator
	documents  DocumentService
	policy     ApproverPolicy
	audit      AuditLog
	clock      Clock
	publisher  EventPublisher
}

// NewRequisitionService 创建采购申请服务
func NewRequisitionService(db *gorm.DB, sequences SequenceGenerator, documents DocumentService, policy ApproverPolicy, audit AuditLog, clock Clock, publisher EventPublisher) RequisitionService {
	if clock == nil {
		clock = SystemClock
	}
	return &requisitionService{
		db:         db,
		repo:       repository.NewRequisitionRepository(db),
		branchRepo: repository.NewBranchRepository(db),
		docRepo:    repository.NewDocumentRepository(db),
		sequences:  sequences,
		documents:  documents,
		policy:     policy,
		audit:      audit,
		clock:      clock,
		publisher:  publisher,
	}
}

// ApprovalStage 根据状态返回审批阶段标签
func ApprovalStage(state string) string {
	switch workflow.State(state) {
	case workflow.StateSubmitted:
		return StagePendingOfficer
	case workflow.StateOfficerApproved:
		return StagePendingManager
	case workflow.StateApproved, workflow.StateDone:
		return StageManagerApproved
	default:
		return StageNone
	}
}

// Create 创建草稿采购申请
func (s *requisitionService) Create(ctx context.Context, actor Actor, input *CreateRequisitionInput) (*model.PurchaseRequisitionModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var req *model.PurchaseRequisitionModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		branches := s.branchRepo.WithTx(tx)
		dept, err := branches.FindDepartmentByID(input.DepartmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return workflow.Precondition(workflow.CodeInvalidInput, "unknown department %s", input.DepartmentID)
			}
			return fmt.Errorf("failed to get department: %w", err)
		}
		if !actor.ownsCompany(dept.CompanyID) {
			return workflow.Precondition(workflow.CodeInvalidInput, "department %s belongs to another company", dept.Name)
		}
		if input.BranchID != "" {
			branch, err := branches.FindBranchByID(input.BranchID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return workflow.Precondition(workflow.CodeInvalidInput, "unknown branch %s", input.BranchID)
				}
				return fmt.Errorf("failed to get branch: %w", err)
			}
			if branch.CompanyID != dept.CompanyID {
				return workflow.Precondition(workflow.CodeInvalidInput, "branch %s belongs to another company", branch.Code)
			}
		}

		lines, err := s.buildLines(tx, input.Lines)
		if err != nil {
			return err
		}
		reference, err := s.sequences.Next(ctx, tx, SeqPurchaseRequisition)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		req = &model.PurchaseRequisitionModel{
			ID:           newID(),
			Reference:    reference,
			CompanyID:    dept.CompanyID,
			RequesterID:  actor.ID,
			DepartmentID: dept.ID,
			BranchID:     input.BranchID,
			VendorID:     input.VendorID,
			State:        string(workflow.StateDraft),
			RequestDate:  now,
			RequiredDate: input.RequiredDate,
			Note:         strings.TrimSpace(input.Note),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		for i := range lines {
			lines[i].ID = newID()
			lines[i].RequisitionID = req.ID
		}
		req.Lines = lines
		if err := req.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := s.repo.WithTx(tx).Create(req); err != nil {
			return fmt.Errorf("failed to create requisition: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindPurchaseRequisition),
			EntityID:   req.ID,
			Action:     "create",
			ActorID:    actor.ID,
			CompanyID:  req.CompanyID,
			ToState:    req.State,
			At:         now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRequestCreated(string(workflow.KindPurchaseRequisition))
	return req, nil
}

func (s *requisitionService) buildLines(tx *gorm.DB, inputs []RequisitionLineInput) ([]model.PurchaseRequisitionLineModel, error) {
	base := make([]LineInput, 0, len(inputs))
	for _, in := range inputs {
		base = append(base, LineInput{ProductID: in.ProductID, Quantity: in.Quantity, Uom: in.Uom, Note: in.Note})
	}
	lines, err := buildLines(tx, base)
	if err != nil {
		return nil, err
	}
	result := make([]model.PurchaseRequisitionLineModel, 0, len(lines))
	for i, line := range lines {
		result = append(result, model.PurchaseRequisitionLineModel{
			RequestLine: line,
			UnitPrice:   inputs[i].UnitPrice,
			Description: strings.TrimSpace(inputs[i].Description),
		})
	}
	return result, nil
}

// Get 获取采购申请
func (s *requisitionService) Get(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	req, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByID(id)
	if err != nil {
		return nil, notFound(err, "requisition", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "requisition", id)
	}
	return req, nil
}

// List 查询采购申请
func (s *requisitionService) List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.PurchaseRequisitionModel, int64, error) {
	reqs, total, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByFilter(scopeFilter(actor, filter))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requisitions: %w", err)
	}
	return reqs, total, nil
}

// Submit 提交申请,等待采购专员审批
func (s *requisitionService) Submit(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	return s.transition(ctx, actor, id, "submit", workflow.StateSubmitted, "", nil,
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			return checkSubmittable(requisitionLines(req))
		})
}

// OfficerApprove 采购专员审批:submitted → officer_approved
func (s *requisitionService) OfficerApprove(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	return s.transition(ctx, actor, id, "officer_approve", workflow.StateOfficerApproved, "", nil,
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			if err := s.checkOfficer(ctx, actor, req); err != nil {
				return err
			}
			now := s.clock.Now()
			req.OfficerApprovedBy = actor.ID
			req.OfficerApprovedAt = &now
			return nil
		})
}

// Approve 部门负责人审批并生成草稿采购单:officer_approved → approved
func (s *requisitionService) Approve(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	var order *model.PurchaseOrderModel
	req, err := s.transition(ctx, actor, id, "approve", workflow.StateApproved, "", nil,
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			if err := s.checkManager(tx, actor, req); err != nil {
				return err
			}
			if req.PurchaseOrderID != "" {
				return workflow.Precondition(workflow.CodeDocumentExists, "requisition %s already has a purchase order", req.Reference)
			}
			var err error
			order, err = s.generateOrder(ctx, tx, req)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			req.ApprovedBy = actor.ID
			req.ApprovedAt = &now
			req.PurchaseOrderID = order.ID
			return nil
		})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, documentEvent(integration.EventPurchaseOrderCreated, DocumentPurchaseOrder, order.ID, order.Reference, order.CompanyID, order.State, actor, order.CreatedAt))
	return req, nil
}

// Reject 驳回申请,必须填写原因
// 待专员审批时由专员驳回,待负责人审批时由部门负责人驳回
func (s *requisitionService) Reject(ctx context.Context, actor Actor, id string, reason string) (*model.PurchaseRequisitionModel, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, id, "reject", workflow.StateRejected, reason, nil,
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			switch workflow.State(req.State) {
			case workflow.StateSubmitted:
				if err := s.checkOfficer(ctx, actor, req); err != nil {
					return err
				}
			case workflow.StateOfficerApproved:
				if err := s.checkManager(tx, actor, req); err != nil {
					return err
				}
			}
			req.RejectedBy = actor.ID
			req.RejectionReason = reason
			return nil
		})
}

// Cancel 取消申请并取消草稿采购单,已完成的申请不能取消
func (s *requisitionService) Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.PurchaseRequisitionModel, error) {
	return s.transition(ctx, actor, id, "cancel", workflow.StateCancelled, strings.TrimSpace(reason),
		func(req *model.PurchaseRequisitionModel) error {
			if !workflow.RequisitionMachine.Cancellable(workflow.State(req.State)) {
				return workflow.Precondition(workflow.CodeNotCancellable, "requisition %s cannot be cancelled in state %s", req.Reference, req.State)
			}
			return nil
		},
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			return s.documents.CancelLinkedPurchaseOrder(ctx, tx, actor, req.PurchaseOrderID)
		})
}

// ResetToDraft 驳回或取消的申请重置为草稿
func (s *requisitionService) ResetToDraft(ctx context.Context, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	return s.transition(ctx, actor, id, "reset", workflow.StateDraft, "", nil,
		func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error {
			req.OfficerApprovedBy = ""
			req.OfficerApprovedAt = nil
			req.ApprovedBy = ""
			req.ApprovedAt = nil
			req.RejectedBy = ""
			req.RejectionReason = ""
			req.PurchaseOrderID = ""
			return nil
		})
}

// CreatePurchaseOrder 重新生成采购单,要求申请已审批且已有采购单全部取消
func (s *requisitionService) CreatePurchaseOrder(ctx context.Context, actor Actor, id string) (*model.PurchaseOrderModel, error) {
	var order *model.PurchaseOrderModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.load(tx, actor, id)
		if err != nil {
			return err
		}
		if req.State != string(workflow.StateApproved) {
			return workflow.Precondition(workflow.CodeInvalidInput, "requisition %s must be approved before creating a purchase order", req.Reference)
		}
		existing, err := s.docRepo.WithTx(tx).FindPurchaseOrdersByRequisition(req.ID)
		if err != nil {
			return fmt.Errorf("failed to get purchase orders: %w", err)
		}
		for _, po := range existing {
			if po.State != model.PurchaseOrderCancelled {
				return workflow.Precondition(workflow.CodeDocumentExists, "requisition %s already has purchase order %s", req.Reference, po.Reference)
			}
		}

		order, err = s.generateOrder(ctx, tx, req)
		if err != nil {
			return err
		}
		req.PurchaseOrderID = order.ID
		req.UpdatedAt = s.clock.Now()
		if err := s.repo.WithTx(tx).Update(req); err != nil {
			return fmt.Errorf("failed to update requisition: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindPurchaseRequisition),
			EntityID:   req.ID,
			Action:     "create_purchase_order",
			ActorID:    actor.ID,
			CompanyID:  req.CompanyID,
			Details:    map[string]interface{}{"purchase_order": order.Reference},
			At:         req.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, documentEvent(integration.EventPurchaseOrderCreated, DocumentPurchaseOrder, order.ID, order.Reference, order.CompanyID, order.State, actor, order.CreatedAt))
	return order, nil
}

// History 审计历史
func (s *requisitionService) History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, string(workflow.KindPurchaseRequisition), id)
}

func (s *requisitionService) checkOfficer(ctx context.Context, actor Actor, req *model.PurchaseRequisitionModel) error {
	allowed, err := s.policy.CanApprove(ctx, actor, ActionOfficerApproveRequisition, req.DepartmentID)
	if err != nil {
		return err
	}
	if !allowed {
		return &workflow.PermissionError{Actor: actor.ID, Action: string(ActionOfficerApproveRequisition)}
	}
	return nil
}

// checkManager 只有申请部门的负责人可以审批
func (s *requisitionService) checkManager(tx *gorm.DB, actor Actor, req *model.PurchaseRequisitionModel) error {
	dept, err := s.branchRepo.WithTx(tx).FindDepartmentByID(req.DepartmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &workflow.ConfigurationError{Resource: "department", Owner: req.DepartmentID}
		}
		return fmt.Errorf("failed to get department: %w", err)
	}
	if dept.ManagerID == "" || dept.ManagerID != actor.ID {
		return &workflow.PermissionError{Actor: actor.ID, Action: "approve requisitions of department " + dept.Name}
	}
	return nil
}

func (s *requisitionService) generateOrder(ctx context.Context, tx *gorm.DB, req *model.PurchaseRequisitionModel) (*model.PurchaseOrderModel, error) {
	if err := checkSubmittable(requisitionLines(req)); err != nil {
		return nil, err
	}
	lines := make([]PurchaseOrderLineSpec, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, PurchaseOrderLineSpec{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			Uom:         l.Uom,
			UnitPrice:   l.UnitPrice,
		})
	}
	return s.documents.GeneratePurchaseOrder(ctx, tx, PurchaseOrderSpec{
		CompanyID:     req.CompanyID,
		RequisitionID: req.ID,
		Origin:        req.Reference,
		VendorID:      req.VendorID,
		OrderDate:     s.clock.Now(),
		Lines:         lines,
	})
}

func (s *requisitionService) load(tx *gorm.DB, actor Actor, id string) (*model.PurchaseRequisitionModel, error) {
	req, err := s.repo.WithTx(tx).FindByIDForUpdate(id)
	if err != nil {
		return nil, notFound(err, "requisition", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "requisition", id)
	}
	return req, nil
}

// transition 执行一次状态转换
func (s *requisitionService) transition(
	ctx context.Context,
	actor Actor,
	id string,
	action string,
	to workflow.State,
	note string,
	guard func(req *model.PurchaseRequisitionModel) error,
	apply func(tx *gorm.DB, req *model.PurchaseRequisitionModel) error,
) (*model.PurchaseRequisitionModel, error) {
	var req *model.PurchaseRequisitionModel
	var from workflow.State
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.load(tx, actor, id)
		if err != nil {
			return err
		}
		from = workflow.State(req.State)
		if guard != nil {
			if err := guard(req); err != nil {
				return err
			}
		}
		if err := workflow.RequisitionMachine.Transition(from, to); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx, req); err != nil {
				return err
			}
		}

		req.State = string(to)
		req.UpdatedAt = s.clock.Now()
		if err := s.repo.WithTx(tx).Update(req); err != nil {
			return fmt.Errorf("failed to update requisition: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindPurchaseRequisition),
			EntityID:   req.ID,
			Action:     action,
			ActorID:    actor.ID,
			CompanyID:  req.CompanyID,
			FromState:  string(from),
			ToState:    string(to),
			Note:       note,
			At:         req.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(workflow.KindPurchaseRequisition), string(to), "user")
	publish(ctx, s.publisher, requestEvent(workflow.KindPurchaseRequisition, action, req.ID, req.Reference, req.CompanyID, from, to, actor, req.UpdatedAt))
	return req, nil
}

func requisitionLines(req *model.PurchaseRequisitionModel) []model.RequestLine {
	lines := make([]model.RequestLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.RequestLine)
	}
	return lines
}
