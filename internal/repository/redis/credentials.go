package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitenotify/dispatch/internal/domain"
)

const credentialCacheKeyPrefix = "credcache:"

// CredentialCache wraps a domain.TenantChannelConfigRepository with a
// short-TTL Redis cache, per spec: credentials are resolved lazily at
// send time rather than embedded in the bus payload, and a worker
// sending hundreds of messages a second for one tenant should not hit
// Postgres for every single one.
type CredentialCache struct {
	client *Client
	source domain.TenantChannelConfigRepository
	ttl    time.Duration
}

// NewCredentialCache creates a new CredentialCache in front of source.
func NewCredentialCache(client *Client, source domain.TenantChannelConfigRepository, ttl time.Duration) *CredentialCache {
	return &CredentialCache{client: client, source: source, ttl: ttl}
}

func credentialCacheKey(site domain.SiteID, channel domain.Channel) string {
	return fmt.Sprintf("%s%s:%s", credentialCacheKeyPrefix, site, channel)
}

// Get implements domain.TenantChannelConfigRepository. domain.ErrNotFound
// is cached too (as a tombstone), so a tenant that never configures a
// channel doesn't cause a Postgres lookup on every send of that channel.
func (c *CredentialCache) Get(ctx context.Context, site domain.SiteID, channel domain.Channel) (*domain.TenantChannelConfig, error) {
	key := credentialCacheKey(site, channel)

	raw, err := c.client.client.Get(ctx, key).Result()
	if err == nil {
		if raw == "" {
			return nil, domain.ErrNotFound
		}
		cfg := &domain.TenantChannelConfig{}
		if unmarshalErr := json.Unmarshal([]byte(raw), cfg); unmarshalErr == nil {
			return cfg, nil
		}
		// Corrupt cache entry: fall through and reload from source.
	}

	cfg, srcErr := c.source.Get(ctx, site, channel)
	if srcErr != nil {
		if errors.Is(srcErr, domain.ErrNotFound) {
			c.client.client.Set(ctx, key, "", c.ttl)
		}
		return nil, srcErr
	}

	if encoded, marshalErr := json.Marshal(cfg); marshalErr == nil {
		c.client.client.Set(ctx, key, encoded, c.ttl)
	}

	return cfg, nil
}

// Invalidate drops a cached entry immediately, so a credential rotation
// takes effect before the TTL would otherwise expire it. No handler in
// internal/handler calls it.
func (c *CredentialCache) Invalidate(ctx context.Context, site domain.SiteID, channel domain.Channel) error {
	return c.client.client.Del(ctx, credentialCacheKey(site, channel)).Err()
}
