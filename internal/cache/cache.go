// Package cache provides the TTL-tiered store that keeps work-item data close
// to the dashboard. Entries are invalidated by webhook events or expire
// naturally; the cache is never the store of record.
package cache

import (
	"context"
	"strings"
	"time"
)

// Tier names a cache bucket family with its own default TTL.
type Tier string

const (
	TierWorkItems  Tier = "workitems"
	TierIterations Tier = "iterations"
	TierAreas      Tier = "areas"
	TierTeams      Tier = "teams"
)

// TTLs holds per-tier entry lifetimes. Work items churn fastest; iterations
// and areas are near-static within a sprint.
type TTLs struct {
	WorkItems  time.Duration
	Iterations time.Duration
	Areas      time.Duration
	Teams      time.Duration
}

// DefaultTTLs returns the shipped tier lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		WorkItems:  5 * time.Minute,
		Iterations: time.Hour,
		Areas:      time.Hour,
		Teams:      30 * time.Minute,
	}
}

// For resolves the TTL for a tier.
func (t TTLs) For(tier Tier) time.Duration {
	switch tier {
	case TierWorkItems:
		return t.WorkItems
	case TierIterations:
		return t.Iterations
	case TierAreas:
		return t.Areas
	case TierTeams:
		return t.Teams
	}
	return t.WorkItems
}

// Key builds a tier-prefixed cache key scoped to a project.
func Key(tier Tier, project string, parts ...string) string {
	segments := append([]string{string(tier), project}, parts...)
	return strings.Join(segments, ":")
}

// BucketPattern matches every key in a project's tier bucket. Patterns use a
// single trailing wildcard; invalidation is targeted, never a full flush.
func BucketPattern(tier Tier, project string) string {
	return string(tier) + ":" + project + ":*"
}

// Store is the cache contract. Implementations degrade rather than block:
// with fail-open enabled a broken backing store yields misses, not errors.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keyOrPattern string) (int, error)
	Close()
}

// matchesPattern reports whether key matches a trailing-wildcard pattern.
func matchesPattern(key, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}
