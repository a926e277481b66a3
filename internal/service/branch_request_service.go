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

// CreateBranchRequestInput 创建分支调拨申请
// SourceBranchID 为供货分支,DestinationBranchID 为申请分支
type CreateBranchRequestInput struct {
	SourceBranchID      string      `json:"source_branch_id" validate:"required,max=64"`
	DestinationBranchID string      `json:"destination_branch_id" validate:"required,max=64,nefield=SourceBranchID"`
	ExpectedDate        *time.Time  `json:"expected_date"`
	Note                string      `json:"note" validate:"max=2000"`
	Lines               []LineInput `json:"lines" validate:"dive"`
}

// BranchRequestService 分支调拨申请服务
type BranchRequestService interface {
	Create(ctx context.Context, actor Actor, input *CreateBranchRequestInput) (*model.BranchRequestModel, error)
	Get(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error)
	List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.BranchRequestModel, int64, error)
	UpdateLines(ctx context.Context, actor Actor, id string, lines []LineInput) (*model.BranchRequestModel, error)
	Submit(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error)
	Approve(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error)
	Reject(ctx context.Context, actor Actor, id string, reason string) (*model.BranchRequestModel, error)
	Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.BranchRequestModel, error)
	ResetToDraft(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error)
	History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error)
}

type branchRequestService struct {
	db         *gorm.DB
	repo       repository.BranchRequestRepository
	branchRepo repository.BranchRepository
	sequences  SequenceGenerator
	documents  DocumentService
	policy     ApproverPolicy
	audit      AuditLog
	clock      Clock
	publisher  EventPublisher
}

// NewBranchRequestService 创建分支调拨申请服务
func NewBranchRequestService(db *gorm.DB, sequences SequenceGenerator, documents DocumentService, policy ApproverPolicy, audit AuditLog, clock Clock, publisher EventPublisher) BranchRequestService {
	if clock == nil {
		clock = SystemClock
	}
	return &branchRequestService{
		db:         db,
		repo:       repository.NewBranchRequestRepository(db),
		branchRepo: repository.NewBranchRepository(db),
		sequences:  sequences,
		documents:  documents,
		policy:     policy,
		audit:      audit,
		clock:      clock,
		publisher:  publisher,
	}
}

// Create 创建草稿申请
func (s *branchRequestService) Create(ctx context.Context, actor Actor, input *CreateBranchRequestInput) (*model.BranchRequestModel, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var req *model.BranchRequestModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		branches := s.branchRepo.WithTx(tx)
		source, err := branches.FindBranchByID(input.SourceBranchID)
		if err != nil {
			return s.unknownBranch(err, input.SourceBranchID)
		}
		dest, err := branches.FindBranchByID(input.DestinationBranchID)
		if err != nil {
			return s.unknownBranch(err, input.DestinationBranchID)
		}
		if !actor.ownsCompany(dest.CompanyID) || source.CompanyID != dest.CompanyID {
			return workflow.Precondition(workflow.CodeInvalidInput, "branches must belong to the same company as the requester")
		}

		lines, err := buildLines(tx, input.Lines)
		if err != nil {
			return err
		}
		reference, err := s.sequences.Next(ctx, tx, SeqBranchRequest)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		req = &model.BranchRequestModel{
			ID:                  newID(),
			Reference:           reference,
			CompanyID:           dest.CompanyID,
			RequesterID:         actor.ID,
			SourceBranchID:      source.ID,
			DestinationBranchID: dest.ID,
			State:               string(workflow.StateDraft),
			RequestDate:         now,
			ExpectedDate:        input.ExpectedDate,
			Note:                strings.TrimSpace(input.Note),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		for _, line := range lines {
			req.Lines = append(req.Lines, model.BranchRequestLineModel{ID: newID(), RequestID: req.ID, RequestLine: line})
		}
		if err := req.Validate(); err != nil {
			return workflow.Precondition(workflow.CodeInvalidInput, "%s", err.Error())
		}
		if err := s.repo.WithTx(tx).Create(req); err != nil {
			return fmt.Errorf("failed to create branch request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindBranchRequest),
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

	metrics.RecordRequestCreated(string(workflow.KindBranchRequest))
	return req, nil
}

func (s *branchRequestService) unknownBranch(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.Precondition(workflow.CodeInvalidInput, "unknown branch %s", id)
	}
	return fmt.Errorf("failed to get branch: %w", err)
}

// Get 获取申请,其他公司的申请视为不存在
func (s *branchRequestService) Get(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error) {
	req, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByID(id)
	if err != nil {
		return nil, notFound(err, "branch request", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "branch request", id)
	}
	return req, nil
}

// List 查询申请列表
func (s *branchRequestService) List(ctx context.Context, actor Actor, filter *repository.RequestFilter) ([]*model.BranchRequestModel, int64, error) {
	reqs, total, err := s.repo.WithTx(s.db.WithContext(ctx)).FindByFilter(scopeFilter(actor, filter))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list branch requests: %w", err)
	}
	return reqs, total, nil
}

// UpdateLines 替换草稿申请的明细
func (s *branchRequestService) UpdateLines(ctx context.Context, actor Actor, id string, inputs []LineInput) (*model.BranchRequestModel, error) {
	for i := range inputs {
		if err := validateInput(&inputs[i]); err != nil {
			return nil, err
		}
	}
	var req *model.BranchRequestModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.load(tx, actor, id)
		if err != nil {
			return err
		}
		if req.State != string(workflow.StateDraft) {
			return workflow.Precondition(workflow.CodeNotEditable, "branch request %s can only be edited in draft", req.Reference)
		}
		lines, err := buildLines(tx, inputs)
		if err != nil {
			return err
		}
		models := make([]model.BranchRequestLineModel, 0, len(lines))
		for _, line := range lines {
			models = append(models, model.BranchRequestLineModel{ID: newID(), RequestID: req.ID, RequestLine: line})
		}
		repo := s.repo.WithTx(tx)
		if err := repo.ReplaceLines(req.ID, models); err != nil {
			return fmt.Errorf("failed to replace lines: %w", err)
		}
		req.Lines = models
		req.UpdatedAt = s.clock.Now()
		if err := repo.Update(req); err != nil {
			return fmt.Errorf("failed to update branch request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindBranchRequest),
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

// Submit 提交申请:draft → requested
func (s *branchRequestService) Submit(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error) {
	return s.transition(ctx, actor, id, "submit", workflow.StateRequested, "", nil,
		func(tx *gorm.DB, req *model.BranchRequestModel) error {
			return checkSubmittable(branchRequestLines(req))
		})
}

// Approve 审批通过并生成调拨单:requested → approved
// 状态、审批权限、单据生成都在同一事务中完成,任一失败则整体回滚
func (s *branchRequestService) Approve(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error) {
	return s.transition(ctx, actor, id, "approve", workflow.StateApproved, "", nil,
		func(tx *gorm.DB, req *model.BranchRequestModel) error {
			allowed, err := s.policy.CanApprove(ctx, actor, ActionApproveBranchRequest, req.SourceBranchID)
			if err != nil {
				return err
			}
			if !allowed {
				return &workflow.PermissionError{Actor: actor.ID, Action: string(ActionApproveBranchRequest)}
			}
			if err := checkSubmittable(branchRequestLines(req)); err != nil {
				return err
			}
			if req.TransferID != "" {
				return workflow.Precondition(workflow.CodeDocumentExists, "branch request %s already has a transfer", req.Reference)
			}

			scheduled := s.clock.Now()
			if req.ExpectedDate != nil {
				scheduled = *req.ExpectedDate
			}
			doc, err := s.documents.GenerateTransfer(ctx, tx, TransferSpec{
				CompanyID:           req.CompanyID,
				RequestType:         workflow.KindBranchRequest,
				RequestID:           req.ID,
				Origin:              req.Reference,
				SourceBranchID:      req.SourceBranchID,
				DestinationBranchID: req.DestinationBranchID,
				ScheduledDate:       scheduled,
				Lines:               branchRequestLines(req),
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

// Reject 驳回申请:requested → rejected,原因可为空
func (s *branchRequestService) Reject(ctx context.Context, actor Actor, id string, reason string) (*model.BranchRequestModel, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, actor, id, "reject", workflow.StateRejected, reason, nil,
		func(tx *gorm.DB, req *model.BranchRequestModel) error {
			req.RejectionReason = reason
			return nil
		})
}

// Cancel 取消申请并取消未完成的调拨单,在途和已收货的申请不能取消
func (s *branchRequestService) Cancel(ctx context.Context, actor Actor, id string, reason string) (*model.BranchRequestModel, error) {
	return s.transition(ctx, actor, id, "cancel", workflow.StateCancelled, strings.TrimSpace(reason),
		func(req *model.BranchRequestModel) error {
			if !workflow.BranchRequestMachine.Cancellable(workflow.State(req.State)) {
				return workflow.Precondition(workflow.CodeNotCancellable, "branch request %s cannot be cancelled in state %s", req.Reference, req.State)
			}
			return nil
		},
		func(tx *gorm.DB, req *model.BranchRequestModel) error {
			return s.documents.CancelLinkedTransfer(ctx, tx, actor, req.TransferID)
		})
}

// ResetToDraft 驳回或取消的申请重置为草稿
func (s *branchRequestService) ResetToDraft(ctx context.Context, actor Actor, id string) (*model.BranchRequestModel, error) {
	return s.transition(ctx, actor, id, "reset", workflow.StateDraft, "", nil,
		func(tx *gorm.DB, req *model.BranchRequestModel) error {
			req.TransferID = ""
			req.ApprovedBy = ""
			req.ApprovedAt = nil
			req.RejectionReason = ""
			return nil
		})
}

// History 审计历史
func (s *branchRequestService) History(ctx context.Context, actor Actor, id string) ([]*model.AuditLogModel, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, string(workflow.KindBranchRequest), id)
}

// load 加锁读取申请并校验公司
func (s *branchRequestService) load(tx *gorm.DB, actor Actor, id string) (*model.BranchRequestModel, error) {
	req, err := s.repo.WithTx(tx).FindByIDForUpdate(id)
	if err != nil {
		return nil, notFound(err, "branch request", id)
	}
	if !actor.ownsCompany(req.CompanyID) {
		return nil, notFound(gorm.ErrRecordNotFound, "branch request", id)
	}
	return req, nil
}

// transition 执行一次状态转换
// guard 在状态机校验前执行,apply 在校验通过后执行,二者失败时事务回滚
func (s *branchRequestService) transition(
	ctx context.Context,
	actor Actor,
	id string,
	action string,
	to workflow.State,
	note string,
	guard func(req *model.BranchRequestModel) error,
	apply func(tx *gorm.DB, req *model.BranchRequestModel) error,
) (*model.BranchRequestModel, error) {
	var req *model.BranchRequestModel
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
		if err := workflow.BranchRequestMachine.Transition(from, to); err != nil {
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
			return fmt.Errorf("failed to update branch request: %w", err)
		}
		return s.audit.WithTx(tx).Append(ctx, AuditEntry{
			EntityType: string(workflow.KindBranchRequest),
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

	metrics.RecordTransition(string(workflow.KindBranchRequest), string(to), "user")
	publish(ctx, s.publisher, requestEvent(workflow.KindBranchRequest, action, req.ID, req.Reference, req.CompanyID, from, to, actor, req.UpdatedAt))
	return req, nil
}

func branchRequestLines(req *model.BranchRequestModel) []model.RequestLine {
	lines := make([]model.RequestLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.RequestLine)
	}
	return lines
}
