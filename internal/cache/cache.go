// Package cache implements Hearth's three-tier response cache: an in-process
// LRU map, Redis, and a Badger on-disk spill, probed in that order. A hit in
// a lower tier is promoted upward. Writes go to the in-process and Redis
// tiers with the category's TTL; the disk tier receives entries evicted from
// memory so a restart of Redis does not cold-start long-TTL categories.
//
// On Redis outage the cache degrades to the in-process (and disk) tiers;
// correctness is unaffected, hit rate drops.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/observe"
	"github.com/openhearth/hearth/internal/types"
)

// Entry is one cached response.
type Entry struct {
	Key        string         `json:"key"`
	Answer     string         `json:"answer"`
	Category   types.Category `json:"category"`
	InsertedAt time.Time      `json:"inserted_at"`
	TTL        time.Duration  `json:"ttl"`
}

// expired reports whether the entry is past its TTL at time now.
func (e Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// CategoryStats holds hit accounting for one category.
type CategoryStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), or 0 when the category is untouched.
func (s CategoryStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Tiered is the three-tier cache. All methods are safe for concurrent use.
type Tiered struct {
	mem  *memoryTier
	kv   *redisTier // nil when Redis is not configured
	disk *diskTier  // nil when no disk path is configured

	metrics *observe.Metrics // nil disables instrument recording

	statsMu sync.Mutex
	stats   map[types.Category]*CategoryStats
}

// Option configures a [Tiered] cache.
type Option func(*Tiered)

// WithRedis adds the Redis tier.
func WithRedis(t *redisTier) Option {
	return func(c *Tiered) { c.kv = t }
}

// WithDisk adds the Badger spill tier.
func WithDisk(t *diskTier) Option {
	return func(c *Tiered) { c.disk = t }
}

// WithMetrics records hits and misses to the given instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Tiered) { c.metrics = m }
}

// New creates a Tiered cache with an in-process tier capped at memEntries
// (0 means 1024). Redis and disk tiers are attached via options.
func New(memEntries int, opts ...Option) *Tiered {
	c := &Tiered{
		mem:   newMemoryTier(memEntries),
		stats: make(map[types.Category]*CategoryStats),
	}
	// Spill memory evictions to disk when a disk tier is attached.
	c.mem.onEvict = func(e Entry) {
		if c.disk != nil {
			c.disk.set(e)
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key builds the canonical cache key for an intent:
// "{category}:{kind}:{normalized}" where normalized lowercases the query,
// strips punctuation and leading question prefixes, collapses whitespace to
// single hyphens, and appends sorted k=v entity pairs.
func Key(in types.Intent) string {
	var b strings.Builder
	b.WriteString(string(in.Category))
	b.WriteByte(':')
	if in.Kind != "" {
		b.WriteString(in.Kind)
	} else {
		b.WriteString("any")
	}
	b.WriteByte(':')
	b.WriteString(Normalize(in.Query, in.Entities))
	return b.String()
}

// stopPrefixes are dropped from the front of a query before keying, so
// phrasing variants share an entry.
var stopPrefixes = []string{
	"what is ", "what's ", "whats ", "tell me ", "what are ", "how is ", "how's ",
}

// Normalize canonicalises query text plus entities into the key suffix.
func Normalize(query string, entities map[string]string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range stopPrefixes {
		if strings.HasPrefix(q, p) {
			q = q[len(p):]
			break
		}
	}

	var b strings.Builder
	lastHyphen := true
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	key := strings.TrimRight(b.String(), "-")

	if len(entities) > 0 {
		names := make([]string, 0, len(entities))
		for k := range entities {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			key += "|" + k + "=" + strings.ToLower(entities[k])
		}
	}
	return key
}

// Get probes the tiers in order and promotes lower-tier hits upward.
// Expired entries are treated as absent.
func (c *Tiered) Get(ctx context.Context, key string, category types.Category) (Entry, bool) {
	now := time.Now()

	if e, ok := c.mem.get(key, now); ok {
		c.recordHit(ctx, category, "memory")
		return e, true
	}

	if c.kv != nil {
		if e, ok := c.kv.get(ctx, key); ok && !e.expired(now) {
			c.mem.set(e)
			c.recordHit(ctx, category, "redis")
			return e, true
		}
	}

	if c.disk != nil {
		if e, ok := c.disk.get(key); ok && !e.expired(now) {
			c.mem.set(e)
			if c.kv != nil {
				c.kv.set(ctx, e)
			}
			c.recordHit(ctx, category, "disk")
			return e, true
		}
	}

	c.recordMiss(ctx, category)
	return Entry{}, false
}

// Set writes the answer to the in-process and Redis tiers with the
// category's TTL.
func (c *Tiered) Set(ctx context.Context, key, answer string, category types.Category) {
	e := Entry{
		Key:        key,
		Answer:     answer,
		Category:   category,
		InsertedAt: time.Now(),
		TTL:        config.CategoryTTL(category),
	}
	c.mem.set(e)
	if c.kv != nil {
		c.kv.set(ctx, e)
	}
}

// InvalidateCategory drops every entry of the category from all tiers.
// Called when configuration affecting that category changes.
func (c *Tiered) InvalidateCategory(ctx context.Context, category types.Category) {
	c.mem.invalidatePrefix(string(category) + ":")
	if c.kv != nil {
		if err := c.kv.invalidatePrefix(ctx, string(category)+":"); err != nil {
			slog.Warn("cache: redis invalidate failed", "category", category, "err", err)
		}
	}
	if c.disk != nil {
		if err := c.disk.invalidatePrefix(string(category) + ":"); err != nil {
			slog.Warn("cache: disk invalidate failed", "category", category, "err", err)
		}
	}
}

// Stats returns a snapshot of per-category hit accounting.
func (c *Tiered) Stats() map[types.Category]CategoryStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[types.Category]CategoryStats, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

// Close releases the disk tier, if any.
func (c *Tiered) Close() error {
	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}

func (c *Tiered) recordHit(ctx context.Context, category types.Category, tier string) {
	c.statsMu.Lock()
	c.categoryStats(category).Hits++
	c.statsMu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(category)),
			attribute.String("tier", tier),
		))
	}
}

func (c *Tiered) recordMiss(ctx context.Context, category types.Category) {
	c.statsMu.Lock()
	c.categoryStats(category).Misses++
	c.statsMu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(category)),
		))
	}
}

// categoryStats returns the mutable stats row. Must be called with statsMu
// held.
func (c *Tiered) categoryStats(category types.Category) *CategoryStats {
	s, ok := c.stats[category]
	if !ok {
		s = &CategoryStats{}
		c.stats[category] = s
	}
	return s
}
