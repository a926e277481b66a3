package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventPublisher 事件发布（integration.Notifier 实现）
type EventPublisher interface {
	Publish(ctx context.Context, evt *integration.Event) error
}

// publish 在事务提交后发布事件,发布失败只记录日志
func publish(ctx context.Context, publisher EventPublisher, events ...*integration.Event) {
	if publisher == nil {
		return
	}
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if err := publisher.Publish(ctx, evt); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"event_type": evt.Type,
				"entity_id":  evt.EntityID,
			}).Warn("failed to publish event")
		}
	}
}

// notFound 把 gorm 的记录不存在转换为 workflow.ErrNotFound
func notFound(err error, resource string, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", resource, id, workflow.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}

// duplicateAsConflict 唯一约束冲突转为 ConflictError,其他错误按 format 包装
// 需要 gorm.Config.TranslateError 开启
func duplicateAsConflict(err error, resource, key, format string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &workflow.ConflictError{Resource: resource, Key: key}
	}
	return fmt.Errorf(format+": %w", err)
}

// newID 生成 UUIDv7,同一进程内单调递增
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
