package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const goneKeyPrefix = "shortlink:gone:"

type goneEntry struct {
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxClicks *int       `json:"max_clicks,omitempty"`
}

// GoneCache caches terminal links in Redis. The active flag is a one-way
// latch, so a cached tombstone can never serve a stale allow: once a code is
// here, every future resolve is a denial and needs no store round-trip.
type GoneCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGoneCache wraps a redis client. ttl = 0 keeps tombstones forever; an
// evicted tombstone only costs one extra store read.
func NewGoneCache(client *redis.Client, ttl time.Duration) *GoneCache {
	return &GoneCache{client: client, ttl: ttl}
}

// Set tombstones a code with the denial that latched it off.
func (c *GoneCache) Set(ctx context.Context, code string, d Denial) error {
	data, err := json.Marshal(goneEntry{
		Reason:    string(d.Reason),
		ExpiresAt: d.ExpiresAt,
		MaxClicks: d.MaxClicks,
	})
	if err != nil {
		return fmt.Errorf("gone-cache: marshal entry: %w", err)
	}
	if err := c.client.Set(ctx, goneKeyPrefix+code, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("gone-cache: set %q: %w", code, err)
	}
	return nil
}

// Get returns the denial for a tombstoned code, or nil on a miss. The
// reported reason is always ReasonInactive: by the time a tombstone is read
// the link is simply "already deactivated", whatever latched it originally.
func (c *GoneCache) Get(ctx context.Context, code string) (*Denial, error) {
	data, err := c.client.Get(ctx, goneKeyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("gone-cache: get %q: %w", code, err)
	}

	var entry goneEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("gone-cache: unmarshal entry for %q: %w", code, err)
	}

	return &Denial{
		Reason:    ReasonInactive,
		ExpiresAt: entry.ExpiresAt,
		MaxClicks: entry.MaxClicks,
	}, nil
}
