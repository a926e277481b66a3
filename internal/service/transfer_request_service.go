package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/mautops/branch-ops/internal/workflow"
	"gorm.io/gorm"
)

// CreateTransferRequestInput 创建内部调拨申请
type CreateTransferRequestInput struct {
	SourceBranchID      string      `json:"source_branch_id" validate:"required,max=64"`
	DestinationBranchID string      `json:"destination_branch_id" validate:"required,max=64,nefield=SourceBranchID"`
	SourceLocationID    string      `json:"source_location_id" validate:"max=64"`
	DestLocationID      string      `json:"dest_location_id" validate:"max=64"`
	Priority            string      `json:"priority" validate:"omitempty,oneof=normal urgent"`
	ScheduledDate       *time.Time  `json:"scheduled_date"`
	Note                string      `json:"note" validate:"max=2000"`
	Lines               []LineInput `json:"lines" validate:"dive"`
}

// TransferRequestService 内部调拨申请服务
type TransferRequestService interface {
	Create(ctx context.Context, actor Actor, input *CreateTransferRequestInput) (*model.TransferRequestModel, error)
	Get(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error)
	List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.TransferRequestModel, int64, error)
	UpdateLines(ctx context.Context, actor Actor, id string, lines []LineInput) (*model.TransferRequestModel, error)
	Submit(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error)
	Approve(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error)
	Reject(ctx context.Context, actor Actor, id string, reason string) (*model.TransferRequestModel, error)
	Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.TransferRequestModel, error)
	PutAway(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error)
	ResetToDraft(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error)
	History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error)
}

type transferRequestService struct {
	db         *gorm.DB
	repo       repository.TransferRequestRepository
	branchRepo repository.BranchRepository
	sequences  SequenceGenerator
	documents  DocumentService
	policy     ApproverPolicy
	audit      AuditLog
	clock      Clock
	publisher  EventPublisher
}

// NewTransferRequestService 创建内部调拨申请服务
func NewTransferRequestService(db *gorm.DB, sequences SequenceGenerator, documents DocumentService, policy ApproverPolicy, audit AuditLog, clock Clock, publisher EventPublisher) TransferRequestService {
	if clock == nil {
		clock = SystemClock
	}
	return &transferRequestService{
		db:         db,
		repo:       repository.NewTransferRequestRepository(db),
		branchRepo: repository.NewBranchRepository(db),
		sequences:  sequences,
		documents:  documents,
		policy:     policy,
		audit:      audit,
		clock:      clock,
		publisher:  publisher,
	}
}

// Create 创建草稿申请,指定的库位必须属于对应分支
func (s *transferRequestService) Create(ctx context.Context, actor Actor, input *CreateTransferRequestInput) (*model.TransferRequestModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var req *model.TransferRequestModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		branches := s.branchRepo.WithTx(tx)
		source, err := branches.FindBranchByID(input.SourceBranchID)
		if err != nil {
			return s.unknown(err, "branch", input.SourceBranchID)
		}
		dest, err := branches.FindBranchByID(input.DestinationBranchID)
		if err != nil {
			return s.unknown(err, "branch", input.DestinationBranchID)
		}
		if !actor.ownsCompany(dest.CompanyID) || source.CompanyID != dest.CompanyID {
			return workflow.Precondition(workflow.CodeInvalidInput, "branches must belong to the same company as the requester")
		}
		if err := s.checkLocation(branches, input.SourceLocationID, source.ID); err != nil {
			return err
		}
		if err := s.checkLocation(branches, input.DestLocationID, dest.ID); err != nil {
			return err
		}

		lines, err := buildLines(tx, input.Lines)
		if err != nil {
			return err
		}
		reference, err := s.sequences.Next(ctx, tx, SeqTransferRequest)
		if err != nil {
			return err
		}

		priority := input.Priority
		if priority == "" {
			priority = model.PriorityNormal
		}
		now := s.clock.Now()
		req = &model.TransferRequestModel{
			ID:                  newID(),
			Reference:           reference,
			CompanyID:           dest.CompanyID,
			RequesterID:         actor.ID,
			SourceBranchID:      source.ID,
			DestinationBranchID: dest.ID,
			SourceLocationID:    input.SourceLocationID,
			DestLocationID:      input.DestLocationID,
			Priority:            priority,
			State:               string(workflow.StateDraft),
			RequestDate:         now,
			ScheduledDate:       input.ScheduledDate,
			Note:                strings.TrimSpace(input.Note),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		for _, line := range lines {
			req.Lines = append(req.Lines, model.TransferRequestLineModel{ID: newID(), RequestID: req.ID, RequestLine: line})
		}
		if err := req.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := s.repo.WithTx(tx).Create(req); err != nil {
			return fmt.Errorf("failed to create transfer request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindTransferRequest),
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

	metrics.RecordRequestCreated(string(workflow.KindTransferRequest))
	return req, nil
}

func (s *transferRequestService) unknown(err error, resource string, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.Precondition(workflow.CodeInvalidInput, "unknown %s %s", resource, id)
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}

func (s *transferRequestService) checkLocation(branches repository.BranchRepository, locationID string, branchID string) error {
	if locationID == "" {
		return nil
	}
	loc, err := branches.FindLocationByID(locationID)
	if err != nil {
		return s.unknown(err, "location", locationID)
	}
	if loc.BranchID != branchID {
		return workflow.Precondition(workflow.CodeInvalidInput, "location %s does not belong to branch %s", loc.Name, branchID)
	}
	return nil
}

// Get 获取申请
func (s *transferRequestService) Get(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error) {
	req, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByID(id)
	if err != nil {
		return nil, notFound(err, "transfer request", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "transfer request", id)
	}
	return req, nil
}

// List 查询申请列表
func (s *transferRequestService) List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.TransferRequestModel, int64, error) {
	reqs, total, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByFilter(scopeFilter(actor, filter))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transfer requests: %w", err)
	}
	return reqs, total, nil
}

// UpdateLines 替换草稿申请的明细
func (s *transferRequestService) UpdateLines(ctx context.Context, actor Actor, id string, inputs []LineInput) (*model.TransferRequestModel, error) {
	for i := range inputs {
		if err := validateInput(&inputs[i]); err != nil {
			return nil, err
		}
	}
	var req *model.TransferRequestModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.load(tx, actor, id)
		if err != nil {
			return err
		}
		if req.State != string(workflow.StateDraft) {
			return workflow.Precondition(workflow.CodeNotEditable, "transfer request %s can only be edited in draft", req.Reference)
		}
		lines, err := buildLines(tx, inputs)
		if err != nil {
			return err
		}
		models := make([]model.TransferRequestLineModel, 0, len(lines))
		for _, line := range lines {
			models = append(models, model.TransferRequestLineModel{ID: newID(), RequestID: req.ID, RequestLine: line})
		}
		repo := s.repo.WithTx(tx)
		if err := repo.ReplaceLines(req.ID, models); err != nil {
			return fmt.Errorf("failed to replace lines: %w", err)
		}
		req.Lines = models
		req.UpdatedAt = s.clock.Now()
		if err := repo.Update(req); err != nil {
			return fmt.Errorf("failed to update transfer request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindTransferRequest),
			EntityID:   req.ID,
			Action:     "update_lines",
			ActorID:    actor.ID,
			CompanyID:  req.CompanyID,
			Details:    map[string]interface{}{"lines": len(models)},
			At:         req.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Submit 提交申请:draft → submitted,通知库管审批
func (s *transferRequestService) Submit(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error) {
	return s.transition(ctx, actor, id, "submit", workflow.StateSubmitted, "", nil,
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			return checkSubmittable(transferRequestLines(req))
		})
}

// Approve 库管审批并生成调拨单:submitted → approved
func (s *transferRequestService) Approve(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error) {
	return s.transition(ctx, actor, id, "approve", workflow.StateApproved, "", nil,
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			allowed, err := s.policy.CanApprove(ctx, actor, ActionApproveTransferRequest, req.SourceBranchID)
			if err != nil {
				return err
			}
			if !allowed {
				return &workflow.PermissionError{Actor: actor.ID, Action: string(ActionApproveTransferRequest)}
			}
			if err := checkSubmittable(transferRequestLines(req)); err != nil {
				return err
			}
			if req.TransferID != "" {
				return workflow.Precondition(workflow.CodeDocumentExists, "transfer request %s already has a transfer", req.Reference)
			}

			scheduled := s.clock.Now()
			if req.ScheduledDate != nil {
				scheduled = *req.ScheduledDate
			}
			doc, err := s.documents.GenerateTransfer(ctx, tx, TransferSpec{
				CompanyID:           req.CompanyID,
				RequestType:         workflow.KindTransferRequest,
				RequestID:           req.ID,
				Origin:              req.Reference,
				SourceBranchID:      req.SourceBranchID,
				DestinationBranchID: req.DestinationBranchID,
				SourceLocationID:    req.SourceLocationID,
				DestLocationID:      req.DestLocationID,
				ScheduledDate:       scheduled,
				Lines:               transferRequestLines(req),
			})
			if err != nil {
				return err
			}

			now := s.clock.Now()
			req.TransferID = doc.ID
			req.ApprovedBy = actor.ID
			req.ApprovedAt = &now
			return nil
		})
}

// Reject 驳回申请,必须填写原因
func (s *transferRequestService) Reject(ctx context.Context, actor Actor, id string, reason string) (*model.TransferRequestModel, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, id, "reject", workflow.StateRejected, reason, nil,
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			req.RejectionReason = reason
			return nil
		})
}

// Cancel 取消申请,在途、已收货、已上架的申请不能取消
func (s *transferRequestService) Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.TransferRequestModel, error) {
	return s.transition(ctx, actor, id, "cancel", workflow.StateCancelled, strings.TrimSpace(reason),
		func(req *model.TransferRequestModel) error {
			if !workflow.TransferRequestMachine.Cancellable(workflow.State(req.State)) {
				return workflow.Precondition(workflow.CodeNotCancellable, "transfer request %s cannot be cancelled in state %s", req.Reference, req.State)
			}
			return nil
		},
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			return s.documents.CancelLinkedTransfer(ctx, tx, actor, req.TransferID)
		})
}

// PutAway 收货后上架完成:received → done
func (s *transferRequestService) PutAway(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error) {
	return s.transition(ctx, actor, id, "put_away", workflow.StateDone, "", nil,
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			now := s.clock.Now()
			req.PutAwayBy = actor.ID
			req.PutAwayAt = &now
			return nil
		})
}

// ResetToDraft 驳回或取消的申请重置为草稿
func (s *transferRequestService) ResetToDraft(ctx context.Context, actor Actor, id string) (*model.TransferRequestModel, error) {
	return s.transition(ctx, actor, id, "reset", workflow.StateDraft, "", nil,
		func(tx *gorm.DB, req *model.TransferRequestModel) error {
			req.TransferID = ""
			req.ApprovedBy = ""
			req.ApprovedAt = nil
			req.RejectionReason = ""
			return nil
		})
}

// History 审计历史
func (s *transferRequestService) History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, string(workflow.KindTransferRequest), id)
}

func (s *transferRequestService) load(tx *gorm.DB, actor Actor, id string) (*model.TransferRequestModel, error) {
	req, err := s.repo.WithTx(tx).FindByIDForUpdate(id)
	if err != nil {
		return nil, notFound(err, "transfer request", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "transfer request", id)
	}
	return req, nil
}

// transition 执行一次状态转换,guard 在状态机校验前执行,apply 在校验通过后执行
func (s *transferRequestService) transition(
	ctx context.Context,
	actor Actor,
	id string,
	action string,
	to workflow.State,
	note string,
	guard func(req *model.TransferRequestModel) error,
	apply func(tx *gorm.DB, req *model.TransferRequestModel) error,
) (*model.TransferRequestModel, error) {
	var req *model.TransferRequestModel
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
		if err := workflow.TransferRequestMachine.Transition(from, to); err != nil {
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
			return fmt.Errorf("failed to update transfer request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindTransferRequest),
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

	metrics.RecordTransition(string(workflow.KindTransferRequest), string(to), "user")
	publish(ctx, s.publisher, requestEvent(workflow.KindTransferRequest, action, req.ID, req.Reference, req.CompanyID, from, to, actor, req.UpdatedAt))
	return req, nil
}

func transferRequestLines(req *model.TransferRequestModel) []model.RequestLine {
	lines := make([]model.RequestLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.RequestLine)
	}
	return lines
}
