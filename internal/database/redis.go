package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis 连接 Redis,未配置地址时返回 nil
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryInterval time.Duration) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	var err error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		logrus.WithError(err).WithField("attempt", i+1).Warn("redis connection failed")

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
			retryInterval *= 2
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("failed to connect redis after %d retries: %w", maxRetries, err)
}

// CheckRedisHealth 检查 Redis 连接健康状态
func CheckRedisHealth(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err() == nil
}
