package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mautops/moderation-gin/internal/moderation"
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
		c.cache.Delete(key)
		return false, false
	}

	return entry.value, true
}

// Set 设置缓存
func (c *PermissionCache) Set(key string, value bool) {
	c.cache.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Clear 清空缓存
func (c *PermissionCache) Clear() {
	c.cache.Range(func(key, value interface{}) bool {
		c.cache.Delete(key)
		return true
	})
}

// CachedPolicy 带缓存的权限策略
type CachedPolicy struct {
	policy moderation.PermissionPolicy
	cache  *PermissionCache
}

// NewCachedPolicy 创建带缓存的权限策略
func NewCachedPolicy(policy moderation.PermissionPolicy, cache *PermissionCache) *CachedPolicy {
	return &CachedPolicy{
		policy: policy,
		cache:  cache,
	}
}

// HasCapability 实现 moderation.PermissionPolicy,只缓存成功的判定
func (c *CachedPolicy) HasCapability(ctx context.Context, actor moderation.Actor, resource moderation.Resource, capability moderation.Capability) (bool, error) {
	key := cacheKey(actor, resource, capability)
	if value, found := c.cache.Get(key); found {
		return value, nil
	}

	allowed, err := c.policy.HasCapability(ctx, actor, resource, capability)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

// Invalidate 授权变更后清空缓存
func (c *CachedPolicy) Invalidate() {
	c.cache.Clear()
}

// cacheKey 组成员关系来自令牌,需要参与缓存键
func cacheKey(actor moderation.Actor, resource moderation.Resource, capability moderation.Capability) string {
	groups := append([]string(nil), actor.Groups...)
	sort.Strings(groups)
	return fmt.Sprintf("user:%s:%s:%s:%s", actor.ID, strings.Join(groups, ","), resource, capability)
}
