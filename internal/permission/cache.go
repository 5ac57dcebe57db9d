package permission

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// grantCacheTTL keeps cached grant sets short-lived so explicit user
// changes land within a minute even without invalidation.
const grantCacheTTL = 60 * time.Second

// GrantCache caches per-tenant grant sets in redis so every permission
// check does not hit the database. All failures degrade to a cache miss.
type GrantCache struct {
	client *redis.Client
}

// NewGrantCache wraps a redis client. Returns nil for a nil client so
// callers can pass the result straight to NewModel.
func NewGrantCache(client *redis.Client) *GrantCache {
	if client == nil {
		return nil
	}
	return &GrantCache{client: client}
}

func grantKey(tenantID string) string {
	return "aegis:grants:" + tenantID
}

// Get returns the cached grant set and whether it was present.
func (c *GrantCache) Get(ctx context.Context, tenantID string) ([]models.PermissionGrant, bool) {
	data, err := c.client.Get(ctx, grantKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Permission] grant cache get failed: %v", err)
		}
		return nil, false
	}
	var grants []models.PermissionGrant
	if err := json.Unmarshal(data, &grants); err != nil {
		log.Printf("[Permission] grant cache decode failed: %v", err)
		return nil, false
	}
	return grants, true
}

// Set stores the grant set with the cache TTL.
func (c *GrantCache) Set(ctx context.Context, tenantID string, grants []models.PermissionGrant) {
	data, err := json.Marshal(grants)
	if err != nil {
		log.Printf("[Permission] grant cache encode failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, grantKey(tenantID), data, grantCacheTTL).Err(); err != nil {
		log.Printf("[Permission] grant cache set failed: %v", err)
	}
}

// Invalidate drops the tenant's cached grants after a mutation.
func (c *GrantCache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.client.Del(ctx, grantKey(tenantID)).Err(); err != nil {
		log.Printf("[Permission] grant cache invalidate failed: %v", err)
	}
}
