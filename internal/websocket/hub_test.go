package websocket_test

import (
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHub_BroadcastToCompany 测试只推送给同公司的客户端
func TestHub_BroadcastToCompany(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	a := websocket.NewClient("a", "u1", "c1", hub, nil)
	b := websocket.NewClient("b", "u2", "c2", hub, nil)
	hub.Register <- a
	hub.Register <- b
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToCompany("c1", []byte("hello"))

	select {
	case msg := <-a.Send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("client a did not receive message")
	}
	assert.Len(t, b.Send, 0)
	assert.True(t, hub.HasClient("b"))
}

// TestHub_Unregister 测试注销后关闭发送通道
func TestHub_Unregister(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	c := websocket.NewClient("c", "u1", "c1", hub, nil)
	hub.Register <- c
	require.Eventually(t, func() bool { return hub.HasClient("c") }, time.Second, 5*time.Millisecond)

	hub.Unregister <- c
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-c.Send
	assert.False(t, ok)
}
