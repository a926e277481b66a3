package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuditLog_HistoryKeepsAppendOrder 测试历史按追加顺序返回,与记录时间无关
func TestAuditLog_HistoryKeepsAppendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	steps := []struct {
		action   string
		from, to string
		at       time.Time
	}{
		{"create", "", "draft", at},
		{"submit", "draft", "requested", at},
		{"approve", "requested", "approved", at},
		{"sync", "approved", "in_transit", at},
		// 时钟回拨时仍保持追加顺序
		{"sync", "in_transit", "received", at.Add(-time.Hour)},
	}
	for _, s := range steps {
		require.NoError(t, f.audit.Append(ctx, service.AuditEntry{
			EntityType: "branch_request",
			EntityID:   "req-1",
			Action:     s.action,
			ActorID:    "u-1",
			FromState:  s.from,
			ToState:    s.to,
			At:         s.at,
		}))
	}

	logs, err := f.audit.History(ctx, "branch_request", "req-1")
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []string{"create", "submit", "approve", "sync", "sync"}, actions)

	histories, err := f.audit.StateHistory(ctx, "branch_request", "req-1")
	require.NoError(t, err)
	var hops [][2]string
	for _, h := range histories {
		hops = append(hops, [2]string{h.FromState, h.ToState})
	}
	assert.Equal(t, [][2]string{
		{"", "draft"},
		{"draft", "requested"},
		{"requested", "approved"},
		{"approved", "in_transit"},
		{"in_transit", "received"},
	}, hops)
}
