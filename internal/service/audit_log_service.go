package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"gorm.io/gorm"
)

// AuditEntry 审计记录
// FromState/ToState 非空时同时写入状态历史
type AuditEntry struct {
	EntityType string
	EntityID   string
	Action     string
	ActorID    string
	CompanyID  string
	FromState  string
	ToState    string
	Note       string
	Details    interface{}
	At         time.Time
}

// AuditLog 审计日志
type AuditLog interface {
	WithTx(tx *gorm.DB) AuditLog
	Append(ctx context.Context, entry AuditEntry) error
	History(ctx context.Context, entityType string, entityID string) ([]*model.AuditLogModel, error)
	StateHistory(ctx context.Context, entityType string, entityID string) ([]*model.StateHistoryModel, error)
}

// auditLogService 审计日志实现
type auditLogService struct {
	auditRepo   repository.AuditLogRepository
	historyRepo repository.StateHistoryRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(db *gorm.DB) AuditLog {
	return &auditLogService{
		auditRepo:   repository.NewAuditLogRepository(db),
		historyRepo: repository.NewStateHistoryRepository(db),
	}
}

// WithTx 返回写入指定事务的审计日志
func (s *auditLogService) WithTx(tx *gorm.DB) AuditLog {
	return &auditLogService{
		auditRepo:   s.auditRepo.WithTx(tx),
		historyRepo: s.historyRepo.WithTx(tx),
	}
}

// Append 追加审计记录,记录只增不改
// ID 使用 UUIDv7,同一时刻写入的记录按 ID 保持追加顺序
func (s *auditLogService) Append(ctx context.Context, entry AuditEntry) error {
	var details []byte
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = b
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}

	log := &model.AuditLogModel{
		ID:         newID(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		CompanyID:  entry.CompanyID,
		FromState:  entry.FromState,
		ToState:    entry.ToState,
		Note:       entry.Note,
		RequestID:  GetRequestID(ctx),
		IP:         GetClientIP(ctx),
		Details:    details,
		CreatedAt:  at,
	}
	if err := log.Validate(); err != nil {
		return fmt.Errorf("invalid audit entry: %w", err)
	}
	if err := s.auditRepo.Save(log); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	if entry.ToState != "" && entry.ToState != entry.FromState {
		history := &model.StateHistoryModel{
			ID:         newID(),
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			FromState:  entry.FromState,
			ToState:    entry.ToState,
			Reason:     entry.Note,
			Operator:   entry.ActorID,
			CreatedAt:  at,
		}
		if err := s.historyRepo.Save(history); err != nil {
			return fmt.Errorf("failed to save state history: %w", err)
		}
	}
	return nil
}

// History 返回业务对象的审计记录（按时间顺序）
func (s *auditLogService) History(ctx context.Context, entityType string, entityID string) ([]*model.AuditLogModel, error) {
	logs, err := s.auditRepo.FindByEntity(entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit history: %w", err)
	}
	return logs, nil
}

// StateHistory 返回业务对象的状态变更历史
func (s *auditLogService) StateHistory(ctx context.Context, entityType string, entityID string) ([]*model.StateHistoryModel, error) {
	histories, err := s.historyRepo.FindByEntity(entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get state history: %w", err)
	}
	return histories, nil
}
