package matching

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/musubi/internal/model"
)

type configResolver interface {
	ResolveConfiguration(ctx context.Context, orgID uuid.UUID, branchID uuid.UUID) (model.MatchingConfiguration, error)
}

type cachedConfig struct {
	cfg       model.MatchingConfiguration
	expiresAt time.Time
}

// configCache memoizes (org, branch) -> default configuration resolutions.
// Every match attempt resolves a configuration, but configurations change
// rarely; a short TTL keeps the hot path off the database while bounding
// staleness. Concurrent misses for the same key collapse to one query.
type configCache struct {
	resolver configResolver
	clock    clock.Clock
	ttl      time.Duration
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedConfig
}

func newConfigCache(resolver configResolver, clk clock.Clock, ttl time.Duration) *configCache {
	return &configCache{
		resolver: resolver,
		clock:    clk,
		ttl:      ttl,
		entries:  make(map[string]cachedConfig),
	}
}

func (c *configCache) resolve(ctx context.Context, orgID, branchID uuid.UUID) (model.MatchingConfiguration, error) {
	if c.ttl <= 0 {
		return c.resolver.ResolveConfiguration(ctx, orgID, branchID)
	}
	key := orgID.String() + ":" + branchID.String()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		cfg, err := c.resolver.ResolveConfiguration(ctx, orgID, branchID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cachedConfig{cfg: cfg, expiresAt: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return model.MatchingConfiguration{}, err
	}
	return v.(model.MatchingConfiguration), nil
}

// invalidate drops all cached resolutions for an organization. Called on
// configuration writes so the next attempt sees the new policy.
func (c *configCache) invalidate(orgID uuid.UUID) {
	prefix := orgID.String() + ":"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
