package model

import (
	"errors"
	"time"
)

// AuditLogModel 审计日志数据模型
type AuditLogModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EntityType string    `gorm:"type:varchar(32);not null;index:idx_audit_entity" json:"entity_type"` // branch_request/transfer_request/...
	EntityID   string    `gorm:"type:varchar(64);not null;index:idx_audit_entity" json:"entity_id"`
	Action     string    `gorm:"type:varchar(64);not null;index" json:"action"`                       // submit/approve/reject/cancel/sync
	ActorID    string    `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	CompanyID  string    `gorm:"type:varchar(64);index" json:"company_id"`
	FromState  string    `gorm:"type:varchar(32)" json:"from_state"`
	ToState    string    `gorm:"type:varchar(32)" json:"to_state"`
	Note       string    `gorm:"type:text" json:"note"`
	RequestID  string    `gorm:"type:varchar(64);index" json:"request_id"`
	IP         string    `gorm:"type:varchar(45)" json:"ip"`
	Details    []byte    `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// Validate 验证审计日志模型
func (alm *AuditLogModel) Validate() error {
	if alm.ID == "" {
		return errors.New("audit log ID is required")
	}
	if alm.EntityType == "" {
		return errors.New("entity type is required")
	}
	if alm.EntityID == "" {
		return errors.New("entity ID is required")
	}
	if alm.Action == "" {
		return errors.New("action is required")
	}
	if alm.ActorID == "" {
		return errors.New("actor ID is required")
	}
	return nil
}
