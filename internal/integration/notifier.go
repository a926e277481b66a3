package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 事件类型
const (
	EventRequestSubmitted     = "request.submitted"
	EventRequestApproved      = "request.approved"
	EventRequestRejected      = "request.rejected"
	EventRequestCancelled     = "request.cancelled"
	EventRequestStatusChanged = "request.status_changed"
	EventSerialGenerated      = "serial.generated"
	EventPurchaseOrderCreated = "purchase_order.created"
)

// Event 业务事件
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Reference  string                 `json:"reference,omitempty"`
	CompanyID  string                 `json:"company_id,omitempty"`
	ActorID    string                 `json:"actor_id"`
	State      string                 `json:"state,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Broadcaster 实时推送（WebSocket Hub 实现）
type Broadcaster interface {
	BroadcastToCompany(companyID string, message []byte)
}

// queuedEvent 待推送的事件
type queuedEvent struct {
	modelID string
	data    []byte
	evt     *Event
}

// Notifier 事件通知器
// 事件先持久化,再推送到 WebSocket,并由 worker 异步推送到 Webhook
type Notifier struct {
	eventRepo    repository.EventRepository
	webhooks     []config.WebhookConfig
	hub          Broadcaster
	httpClient   *http.Client
	queue        chan *queuedEvent
	maxRetries   int
	retryBackoff time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// NotifierOption Notifier 选项
type NotifierOption func(*Notifier)

// WithRetryBackoff 设置首次重试等待时间
func WithRetryBackoff(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.retryBackoff = d
	}
}

// WithHTTPClient 设置 Webhook 使用的 HTTP 客户端
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.httpClient = c
	}
}

// NewNotifier 创建事件通知器并启动 worker
func NewNotifier(db *gorm.DB, cfg config.NotificationConfig, hub Broadcaster, opts ...NotifierOption) *Notifier {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	n := &Notifier{
		eventRepo:    repository.NewEventRepository(db),
		webhooks:     cfg.Webhooks,
		hub:          hub,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		queue:        make(chan *queuedEvent, 1000),
		maxRetries:   3,
		retryBackoff: time.Second,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	return n
}

// Publish 发布事件
func (n *Notifier) Publish(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	// 1. 持久化事件
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	eventModel := &model.EventModel{
		ID:         evt.ID,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Type:       evt.Type,
		Data:       data,
		Status:     model.EventPending,
		CreatedAt:  evt.OccurredAt,
		UpdatedAt:  evt.OccurredAt,
	}
	if err := eventModel.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if err := n.eventRepo.Save(eventModel); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	// 2. 推送到同公司的 WebSocket 客户端
	if n.hub != nil {
		n.hub.BroadcastToCompany(evt.CompanyID, data)
	}

	// 3. 异步推送到 Webhook
	n.enqueue(&queuedEvent{modelID: eventModel.ID, data: data, evt: evt})
	return nil
}

// RetryPending 重新投递未完成推送的事件（服务重启后调用）
func (n *Notifier) RetryPending(ctx context.Context, limit int) (int, error) {
	events, err := n.eventRepo.FindPending(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find pending events: %w", err)
	}
	for _, em := range events {
		var evt Event
		if err := json.Unmarshal(em.Data, &evt); err != nil {
			logrus.WithError(err).WithField("event_id", em.ID).Warn("skipping undecodable event")
			continue
		}
		n.enqueue(&queuedEvent{modelID: em.ID, data: em.Data, evt: &evt})
	}
	return len(events), nil
}

func (n *Notifier) enqueue(q *queuedEvent) {
	select {
	case n.queue <- q:
	default:
		// 队列已满时保持 pending,由 RetryPending 补发
		logrus.WithFields(logrus.Fields{
			"event_type": q.evt.Type,
			"entity_id":  q.evt.EntityID,
		}).Warn("event queue full, webhook delivery deferred")
	}
}

// worker 事件推送 worker
func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case q := <-n.queue:
			n.deliver(q)
		case <-n.stop:
			return
		}
	}
}

// deliver 推送到所有订阅了该事件的 Webhook,失败时指数退避重试
func (n *Notifier) deliver(q *queuedEvent) {
	targets := n.targets(q.evt.Type)
	if len(targets) == 0 {
		n.updateStatus(q.modelID, model.EventSuccess, 0)
		return
	}

	backoff := n.retryBackoff
	pending := targets
	for attempt := 0; attempt < n.maxRetries; attempt++ {
		var failed []config.WebhookConfig
		for _, webhook := range pending {
			if err := n.send(webhook, q.data); err != nil {
				failed = append(failed, webhook)
				metrics.RecordWebhookDelivery(false)
				logrus.WithError(err).WithFields(logrus.Fields{
					"event_id": q.modelID,
					"url":      webhook.URL,
					"attempt":  attempt + 1,
				}).Warn("webhook delivery failed")
				continue
			}
			metrics.RecordWebhookDelivery(true)
		}

		if len(failed) == 0 {
			n.updateStatus(q.modelID, model.EventSuccess, attempt)
			return
		}
		pending = failed

		if attempt < n.maxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-n.stop:
				n.updateStatus(q.modelID, model.EventPending, attempt+1)
				return
			}
			backoff *= 2
		}
	}

	n.updateStatus(q.modelID, model.EventFailed, n.maxRetries)
}

// targets 返回订阅了事件类型的 Webhook
func (n *Notifier) targets(eventType string) []config.WebhookConfig {
	var out []config.WebhookConfig
	for _, w := range n.webhooks {
		if len(w.Events) == 0 {
			out = append(out, w)
			continue
		}
		for _, t := range w.Events {
			if t == eventType {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

func (n *Notifier) updateStatus(id string, status string, retries int) {
	if err := n.eventRepo.UpdateStatus(id, status, retries); err != nil {
		logrus.WithError(err).WithField("event_id", id).Error("failed to update event status")
	}
}

// send 发送 Webhook 请求
func (n *Notifier) send(webhook config.WebhookConfig, data []byte) error {
	method := webhook.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, webhook.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}

	switch webhook.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+webhook.Token)
	case "basic":
		req.SetBasicAuth(webhook.AuthKey, webhook.Token)
	case "header":
		req.Header.Set(webhook.AuthKey, webhook.Token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// Stop 停止 worker 并等待正在推送的事件结束
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	n.wg.Wait()
}
