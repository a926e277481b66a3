package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PermissionCache 权限缓存
type PermissionCache struct {
	cache *sync.Map
	ttl   time.Duration
}

// cacheEntry 缓存条目
type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// NewPermissionCache 创建权限缓存
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		cache: &sync.Map{},
		ttl:   ttl,
	}
}

// Get 获取缓存
func (c *PermissionCache) Get(key string) (bool, bool) {
	val, found := c.cache.Load(key)
	if !found {
		return false, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		// 已过期，删除
		c.cache.Delete(key)
		return false, false
	}

	return entry.value, true
}

// Set 设置缓存
func (c *PermissionCache) Set(key string, value bool) {
	entry := &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.cache.Store(key, entry)
}

// Clear 清空缓存
func (c *PermissionCache) Clear() {
	c.cache.Range(func(key, value interface{}) bool {
		c.cache.Delete(key)
		return true
	})
}

// RelationClient 关系读写（OpenFGAClient 实现）
type RelationClient interface {
	PermissionChecker
	SetRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error
	DeleteRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error
}

// CachedOpenFGAClient 带缓存的 OpenFGA 客户端
// 模型中 approver、stock_manager 由 manager 推导,写入任何关系后清空整个缓存
type CachedOpenFGAClient struct {
	client RelationClient
	cache  *PermissionCache
}

// NewCachedOpenFGAClient 创建带缓存的 OpenFGA 客户端
func NewCachedOpenFGAClient(client RelationClient, cache *PermissionCache) *CachedOpenFGAClient {
	return &CachedOpenFGAClient{
		client: client,
		cache:  cache,
	}
}

func cacheKey(userID, relation, objectType, objectID string) string {
	return fmt.Sprintf("user:%s:%s:%s:%s", userID, relation, objectType, objectID)
}

// CheckPermission 检查权限,命中缓存时不访问 OpenFGA
func (c *CachedOpenFGAClient) CheckPermission(ctx context.Context, userID string, relation string, objectType string, objectID string) (bool, error) {
	key := cacheKey(userID, relation, objectType, objectID)
	if value, found := c.cache.Get(key); found {
		return value, nil
	}

	allowed, err := c.client.CheckPermission(ctx, userID, relation, objectType, objectID)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

// SetRelation 写入关系并清空缓存
func (c *CachedOpenFGAClient) SetRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error {
	if err := c.client.SetRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}

// DeleteRelation 删除关系并清空缓存
func (c *CachedOpenFGAClient) DeleteRelation(ctx context.Context, userID string, relation string, objectType string, objectID string) error {
	if err := c.client.DeleteRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}
