package service_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalLocker 测试进程内锁的互斥和 ctx 超时
func TestLocalLocker(t *testing.T) {
	locker := service.NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "serial:M:25")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "serial:M:25")
	assert.ErrorIs(t, err, service.ErrLockNotObtained)

	other, err := locker.Lock(context.Background(), "serial:W:25")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), "serial:M:25")
	require.NoError(t, err)
	again()
}

// TestRedisLocker_RefreshesWhileHeld 测试持有期间锁被续期,超过 ttl 后其他实例仍无法获取
// 需要 Redis,通过 TEST_REDIS_ADDR 指定
func TestRedisLocker_RefreshesWhileHeld(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	holder := service.NewRedisLocker(rdb, 200*time.Millisecond, 50*time.Millisecond)
	contender := service.NewRedisLocker(rdb, 200*time.Millisecond, 50*time.Millisecond)
	key := "test:" + time.Now().Format("150405.000000")

	unlock, err := holder.Lock(context.Background(), key)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	_, err = contender.Lock(context.Background(), key)
	assert.ErrorIs(t, err, service.ErrLockNotObtained)

	unlock()
	release, err := contender.Lock(context.Background(), key)
	require.NoError(t, err)
	release()
}
