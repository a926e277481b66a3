package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/database"
	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDBForNotifier(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

type recordingHub struct {
	companies []string
}

func (h *recordingHub) BroadcastToCompany(companyID string, message []byte) {
	h.companies = append(h.companies, companyID)
}

func eventStatus(t *testing.T, db *gorm.DB, id string) string {
	var m model.EventModel
	require.NoError(t, db.First(&m, "id = ?", id).Error)
	return m.Status
}

// TestNotifier_PublishDeliversWebhook 测试事件持久化并推送到 Webhook
func TestNotifier_PublishDeliversWebhook(t *testing.T) {
	db := setupTestDBForNotifier(t)

	var hits int32
	var authHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hub := &recordingHub{}
	n := integration.NewNotifier(db, config.NotificationConfig{
		Workers: 1,
		Webhooks: []config.WebhookConfig{
			{URL: server.URL, AuthType: "bearer", Token: "secret"},
		},
	}, hub, integration.WithRetryBackoff(time.Millisecond))
	defer n.Stop()

	evt := &integration.Event{
		Type:       integration.EventRequestSubmitted,
		EntityType: "branch_request",
		EntityID:   "br-1",
		CompanyID:  "c1",
		ActorID:    "u1",
		State:      "requested",
	}
	require.NoError(t, n.Publish(context.Background(), evt))
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, []string{"c1"}, hub.companies)

	require.Eventually(t, func() bool {
		return eventStatus(t, db, evt.ID) == model.EventSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, "Bearer secret", authHeader.Load())
}

// TestNotifier_RetryThenFail 测试 Webhook 持续失败时重试三次后标记失败
func TestNotifier_RetryThenFail(t *testing.T) {
	db := setupTestDBForNotifier(t)

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := integration.NewNotifier(db, config.NotificationConfig{
		Workers:  1,
		Webhooks: []config.WebhookConfig{{URL: server.URL}},
	}, nil, integration.WithRetryBackoff(time.Millisecond))
	defer n.Stop()

	evt := &integration.Event{Type: integration.EventRequestApproved, EntityType: "branch_request", EntityID: "br-2", ActorID: "u1"}
	require.NoError(t, n.Publish(context.Background(), evt))

	require.Eventually(t, func() bool {
		return eventStatus(t, db, evt.ID) == model.EventFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

// TestNotifier_EventFilter 测试 Webhook 只接收订阅的事件类型
func TestNotifier_EventFilter(t *testing.T) {
	db := setupTestDBForNotifier(t)

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	n := integration.NewNotifier(db, config.NotificationConfig{
		Webhooks: []config.WebhookConfig{{URL: server.URL, Events: []string{integration.EventSerialGenerated}}},
	}, nil)
	defer n.Stop()

	evt := &integration.Event{Type: integration.EventRequestRejected, EntityType: "branch_request", EntityID: "br-3", ActorID: "u1"}
	require.NoError(t, n.Publish(context.Background(), evt))

	require.Eventually(t, func() bool {
		return eventStatus(t, db, evt.ID) == model.EventSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
