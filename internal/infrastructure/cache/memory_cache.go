// Package cache implements the in-memory cache used across the backend:
// LRU eviction bounded by tracked memory, per-entry TTL with lazy expiry
// plus a background sweep, tag-based invalidation, and transparent
// serialization with s2 compression for large payloads.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"deckforge-backend/internal/di"
	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/observability"
)

// TTLNotFound is returned by TTL for keys that are absent or expired,
// following the Redis convention.
const TTLNotFound int64 = -2

// MemoryCache is a thread-safe in-memory cache with LRU eviction and TTL
// support. Eviction order is strict least-recently-used: Get and Set touch
// recency, Exists and TTL do not.
type MemoryCache struct {
	mu      sync.Mutex
	config  Config
	entries map[string]*entry
	lru     *list.List
	tags    map[string]map[string]struct{}

	memoryUsage int64

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	logger  *zap.Logger
	metrics *observability.Collector

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	running     bool
}

// entry is a single cached value. size counts the key plus the stored
// payload so the sum over all entries equals memoryUsage exactly.
type entry struct {
	key          string
	payload      []byte
	size         int64
	tags         []string
	serialized   bool
	compressed   bool
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	lruElement   *list.Element
}

// NewMemoryCache creates a cache with the given configuration. The metrics
// collector is optional; pass nil to disable gauge publishing.
func NewMemoryCache(config Config, logger *zap.Logger, metrics *observability.Collector) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.MaxMemoryBytes <= 0 {
		config.MaxMemoryBytes = defaults.MaxMemoryBytes
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CompressionThreshold <= 0 {
		config.CompressionThreshold = defaults.CompressionThreshold
	}
	if config.MaxKeyLength <= 0 {
		config.MaxKeyLength = defaults.MaxKeyLength
	}

	return &MemoryCache{
		config:      config,
		entries:     make(map[string]*entry),
		lru:         list.New(),
		tags:        make(map[string]map[string]struct{}),
		logger:      logger,
		metrics:     metrics,
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Get retrieves a value. Expired entries are removed on access and count
// as misses. The second return reports whether the key was found.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.countAccess("miss")
		return nil, false
	}

	now := time.Now()
	if now.After(e.expiresAt) {
		c.removeEntry(e)
		c.expirations++
		c.misses++
		c.mu.Unlock()
		c.countAccess("expired")
		return nil, false
	}

	e.lastAccessed = now
	c.lru.MoveToFront(e.lruElement)
	c.hits++

	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	serialized, compressed := e.serialized, e.compressed
	c.mu.Unlock()
	c.countAccess("hit")

	if compressed {
		decompressed, err := decompressPayload(payload)
		if err != nil {
			c.logger.Error("failed to decompress cache entry",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Delete(ctx, key)
			return nil, false
		}
		payload = decompressed
	}

	value, err := decodeValue(payload, serialized)
	if err != nil {
		c.logger.Error("failed to decode cache entry",
			zap.String("key", key),
			zap.Error(err),
		)
		c.Delete(ctx, key)
		return nil, false
	}
	return value, true
}

// Set stores a value. Storing over an existing key replaces the entry and
// its tag associations. Entries larger than the memory bound are rejected.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	if err := c.validateKey(key); err != nil {
		return err
	}

	o := setOptions{
		ttl:       c.config.DefaultTTL,
		compress:  c.config.CompressionEnabled,
		serialize: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.config.DefaultTTL
	}

	payload, err := encodeValue(value, o.serialize)
	if err != nil {
		return err
	}

	compressed := false
	if o.compress && len(payload) > c.config.CompressionThreshold {
		payload, compressed = compressPayload(payload)
	}

	size := int64(len(key) + len(payload))
	if size > c.config.MaxMemoryBytes {
		c.logger.Warn("rejecting cache entry larger than memory bound",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_memory", c.config.MaxMemoryBytes),
		)
		return errors.CacheFailure(errors.CodeCacheEntryTooLarge,
			"cache entry exceeds maximum memory").
			WithDetails(fmt.Sprintf("entry size %d bytes, cache capacity %d bytes", size, c.config.MaxMemoryBytes)).
			Build()
	}

	now := time.Now()
	e := &entry{
		key:          key,
		payload:      payload,
		size:         size,
		tags:         uniqueTags(o.tags),
		serialized:   o.serialize,
		compressed:   compressed,
		createdAt:    now,
		expiresAt:    now.Add(o.ttl),
		lastAccessed: now,
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.removeEntry(existing)
	}

	evicted := 0
	for (c.memoryUsage+size > c.config.MaxMemoryBytes ||
		(c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries)) && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		victim := oldest.Value.(*entry)
		c.removeEntry(victim)
		c.evictions++
		evicted++
	}

	e.lruElement = c.lru.PushFront(e)
	c.entries[key] = e
	c.memoryUsage += size
	for _, tag := range e.tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Debug("evicted cache entries to make room",
			zap.String("key", key),
			zap.Int("evicted", evicted),
		)
	}
	c.publishGauges(entries, bytes)
	return nil
}

// Delete removes a key and reports whether it was present.
func (c *MemoryCache) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeEntry(e)
	}
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	if ok {
		c.publishGauges(entries, bytes)
	}
	return ok
}

// Clear removes all entries whose keys match the glob pattern, where '*'
// matches any run of characters and '?' matches one. An empty pattern or
// "*" clears everything. It returns the number of entries removed.
func (c *MemoryCache) Clear(ctx context.Context, pattern string) (int, error) {
	matcher, err := compileGlob(pattern)
	if err != nil {
		return 0, errors.Validation(errors.CodeInvalidFormat,
			"invalid cache clear pattern").WithDetails(pattern).WithCause(err).Build()
	}

	c.mu.Lock()
	toRemove := make([]*entry, 0)
	for key, e := range c.entries {
		if matcher.MatchString(key) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeEntry(e)
	}
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	c.logger.Info("cleared cache entries",
		zap.String("pattern", pattern),
		zap.Int("count", len(toRemove)),
	)
	c.publishGauges(entries, bytes)
	return len(toRemove), nil
}

// GetMulti retrieves several keys at once. The result contains only the
// keys that were found.
func (c *MemoryCache) GetMulti(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := c.Get(ctx, key); ok {
			result[key] = value
		}
	}
	return result
}

// SetMulti stores several values with shared options. Failures do not stop
// the remaining writes; all errors are combined into the return value.
func (c *MemoryCache) SetMulti(ctx context.Context, values map[string]any, opts ...SetOption) error {
	var errs error
	for key, value := range values {
		if err := c.Set(ctx, key, value, opts...); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Exists reports whether a key is present and unexpired. Unlike Get it does
// not refresh the entry's recency.
func (c *MemoryCache) Exists(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		c.expirations++
		return false
	}
	return true
}

// TTL returns the remaining time-to-live in whole seconds, rounded up, or
// TTLNotFound when the key is absent or expired.
func (c *MemoryCache) TTL(ctx context.Context, key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return TTLNotFound
	}
	remaining := time.Until(e.expiresAt)
	if remaining <= 0 {
		c.removeEntry(e)
		c.expirations++
		return TTLNotFound
	}
	return int64((remaining + time.Second - 1) / time.Second)
}

// InvalidateTag removes every entry associated with the tag and returns
// the number of entries removed.
func (c *MemoryCache) InvalidateTag(ctx context.Context, tag string) int {
	c.mu.Lock()
	keys, ok := c.tags[tag]
	if !ok {
		c.mu.Unlock()
		return 0
	}
	toRemove := make([]*entry, 0, len(keys))
	for key := range keys {
		if e, exists := c.entries[key]; exists {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeEntry(e)
	}
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	c.logger.Info("invalidated cache entries by tag",
		zap.String("tag", tag),
		zap.Int("count", len(toRemove)),
	)
	c.publishGauges(entries, bytes)
	return len(toRemove)
}

// Reconfigure applies new limits at runtime. If the new limits are below
// current usage, least recently used entries are evicted until the cache
// fits. The sweep interval cannot change after Initialize.
func (c *MemoryCache) Reconfigure(cfg Config) {
	c.mu.Lock()
	if cfg.MaxMemoryBytes > 0 {
		c.config.MaxMemoryBytes = cfg.MaxMemoryBytes
	}
	if cfg.MaxEntries > 0 {
		c.config.MaxEntries = cfg.MaxEntries
	}
	if cfg.DefaultTTL > 0 {
		c.config.DefaultTTL = cfg.DefaultTTL
	}
	if cfg.CompressionThreshold > 0 {
		c.config.CompressionThreshold = cfg.CompressionThreshold
	}
	if cfg.MaxKeyLength > 0 {
		c.config.MaxKeyLength = cfg.MaxKeyLength
	}
	c.config.CompressionEnabled = cfg.CompressionEnabled

	evicted := 0
	for (c.memoryUsage > c.config.MaxMemoryBytes ||
		(c.config.MaxEntries > 0 && len(c.entries) > c.config.MaxEntries)) && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		victim := oldest.Value.(*entry)
		c.removeEntry(victim)
		c.evictions++
		evicted++
	}
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	c.logger.Info("cache limits reconfigured",
		zap.Int64("max_memory_bytes", cfg.MaxMemoryBytes),
		zap.Int("max_entries", cfg.MaxEntries),
		zap.Int("evicted", evicted),
	)
	c.publishGauges(entries, bytes)
}

// Stats holds cache statistics.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	KeyCount    int     `json:"key_count"`
	MemoryUsage int64   `json:"memory_usage"`
	MaxMemory   int64   `json:"max_memory"`
	HitRate     float64 `json:"hit_rate"`
}

// Stats returns a snapshot of cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		KeyCount:    len(c.entries),
		MemoryUsage: c.memoryUsage,
		MaxMemory:   c.config.MaxMemoryBytes,
		HitRate:     hitRate,
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Initialize starts the background sweep that removes expired entries.
func (c *MemoryCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	go c.runCleanup()
	c.logger.Info("cache cleanup started",
		zap.Duration("interval", c.config.CleanupInterval),
	)
	return nil
}

// Shutdown stops the background sweep. Cached entries stay readable until
// the process exits.
func (c *MemoryCache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.cleanupStop)
	select {
	case <-c.cleanupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck reports cache occupancy, degrading above 90% of the memory
// bound where eviction pressure starts hurting hit rates.
func (c *MemoryCache) HealthCheck(ctx context.Context) di.HealthStatus {
	stats := c.Stats()
	utilization := float64(0)
	if stats.MaxMemory > 0 {
		utilization = float64(stats.MemoryUsage) / float64(stats.MaxMemory)
	}

	var status di.HealthStatus
	if utilization > 0.9 {
		status = di.Degraded(fmt.Sprintf("memory utilization at %.0f%%", utilization*100))
	} else {
		status = di.Healthy(fmt.Sprintf("%d entries, %d/%d bytes", stats.KeyCount, stats.MemoryUsage, stats.MaxMemory))
	}
	status.Metrics = map[string]float64{
		"key_count":    float64(stats.KeyCount),
		"memory_usage": float64(stats.MemoryUsage),
		"utilization":  utilization,
		"hit_rate":     stats.HitRate,
	}
	return status
}

func (c *MemoryCache) runCleanup() {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.cleanupStop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	toRemove := make([]*entry, 0)
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeEntry(e)
	}
	c.expirations += int64(len(toRemove))
	entries, bytes := len(c.entries), c.memoryUsage
	c.mu.Unlock()

	if len(toRemove) > 0 {
		c.logger.Debug("removed expired cache entries",
			zap.Int("count", len(toRemove)),
		)
		c.publishGauges(entries, bytes)
	}
}

// ============================================================================
// INTERNALS
// ============================================================================

// removeEntry unlinks an entry from the map, the LRU list, and the tag
// index. Callers must hold the lock.
func (c *MemoryCache) removeEntry(e *entry) {
	if e.lruElement != nil {
		c.lru.Remove(e.lruElement)
	}
	delete(c.entries, e.key)
	c.memoryUsage -= e.size
	for _, tag := range e.tags {
		if set, ok := c.tags[tag]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

func (c *MemoryCache) validateKey(key string) error {
	if key == "" {
		return errors.Validation(errors.CodeCacheKeyInvalid,
			"cache key must not be empty").Build()
	}
	if len(key) > c.config.MaxKeyLength {
		return errors.Validation(errors.CodeCacheKeyInvalid,
			fmt.Sprintf("cache key exceeds maximum length of %d", c.config.MaxKeyLength)).
			WithDetails(key).Build()
	}
	return nil
}

func (c *MemoryCache) countAccess(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrementCounter("cache_accesses_total", map[string]string{"outcome": outcome})
}

func (c *MemoryCache) publishGauges(entries int, bytes int64) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetGauge("cache_entries", float64(entries), nil)
	c.metrics.SetGauge("cache_memory_bytes", float64(bytes), nil)
}

func uniqueTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// compileGlob translates a glob pattern ('*' any run, '?' one character)
// into an anchored regular expression.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = "*"
	}
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile("^" + quoted + "$")
}
