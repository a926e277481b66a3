package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLockNotObtained 在等待时间内未获取到锁
var ErrLockNotObtained = errors.New("could not obtain lock")

// Locker 按 key 串行化的互斥锁
type Locker interface {
	// Lock 获取锁,返回的 unlock 必须调用
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// redisLocker 基于 Redis 的分布式锁,多实例部署时使用
// 持有期间每 ttl/2 续期一次,长时间的批量生成不会因过期被其他实例抢占
type redisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker 创建 Redis 分布式锁,ttl 为锁过期时间,wait 为最长等待时间
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &redisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// Lock 获取锁,在 wait 内按固定间隔重试
func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, "lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = lock.Release(context.Background())
		})
	}, nil
}

// keepAlive 定期续期,续期失败时停止
func (l *redisLocker) keepAlive(lock *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
				logrus.WithError(err).WithField("key", key).Warn("failed to refresh lock")
				return
			}
		}
	}
}

// localLocker 进程内锁,未配置 Redis 时使用
type localLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]chan struct{})}
}

// Lock 获取 key 对应的锁,ctx 结束前未获取到时返回 ErrLockNotObtained
func (l *localLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
}
