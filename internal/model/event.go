package model

import (
	"errors"
	"time"
)

// 事件推送状态
const (
	EventPending = "pending"
	EventSuccess = "success"
	EventFailed  = "failed"
)

// EventModel 业务事件数据模型
type EventModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EntityType string    `gorm:"type:varchar(32);not null;index" json:"entity_type"`
	EntityID   string    `gorm:"type:varchar(64);not null;index" json:"entity_id"`
	Type       string    `gorm:"type:varchar(64);not null;index" json:"type"`
	Data       []byte    `gorm:"type:jsonb;not null" json:"data"`
	Status     string    `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	RetryCount int       `gorm:"type:int;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "events"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.EntityID == "" {
		return errors.New("entity ID is required")
	}
	if em.Type == "" {
		return errors.New("event type is required")
	}
	if len(em.Data) == 0 {
		return errors.New("event data is required")
	}
	if em.Status == "" {
		em.Status = EventPending
	}
	return nil
}
