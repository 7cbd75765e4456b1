package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deckforge-backend/internal/di"
	"deckforge-backend/internal/errors"
)

// newTestCache builds a cache with compression off and a sweep interval
// long enough that only explicit calls mutate state.
func newTestCache(t *testing.T, cfg Config) *MemoryCache {
	t.Helper()

	if cfg.MaxMemoryBytes == 0 {
		cfg.MaxMemoryBytes = 1 << 20
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	return NewMemoryCache(cfg, zap.NewNop(), nil)
}

// incompressible produces bytes the s2 codec cannot shrink.
func incompressible(n int) []byte {
	out := make([]byte, n)
	state := uint32(2463534242)
	for i := range out {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		out[i] = byte(state)
	}
	return out
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	t.Run("serialized values come back as generic JSON shapes", func(t *testing.T) {
		type deck struct {
			Name  string `json:"name"`
			Cards int    `json:"cards"`
		}
		require.NoError(t, c.Set(ctx, "deck:1", deck{Name: "aggro", Cards: 60}))

		value, ok := c.Get(ctx, "deck:1")
		require.True(t, ok)
		assert.Equal(t, map[string]any{"name": "aggro", "cards": float64(60)}, value)
	})

	t.Run("raw bytes round-trip unchanged", func(t *testing.T) {
		raw := []byte("4 Ember Drake\n2 Tidecaller Adept\n")
		require.NoError(t, c.Set(ctx, "export:1", raw, WithoutSerialization()))

		value, ok := c.Get(ctx, "export:1")
		require.True(t, ok)
		assert.Equal(t, raw, value)
	})

	t.Run("missing keys report absence", func(t *testing.T) {
		_, ok := c.Get(ctx, "never-set")
		assert.False(t, ok)
	})
}

func TestWithoutSerializationRequiresBytes(t *testing.T) {
	c := newTestCache(t, Config{})

	err := c.Set(context.Background(), "bad", "not bytes", WithoutSerialization())
	require.Error(t, err)
	assert.True(t, errors.IsCacheFailure(err))
	assert.Contains(t, err.Error(), "[]byte")
}

func TestKeyValidation(t *testing.T) {
	c := newTestCache(t, Config{MaxKeyLength: 16})
	ctx := context.Background()

	assert.Error(t, c.Set(ctx, "", "value"))
	assert.Error(t, c.Set(ctx, strings.Repeat("k", 17), "value"))
	assert.NoError(t, c.Set(ctx, strings.Repeat("k", 16), "value"))
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fleeting", "value", WithTTL(300*time.Millisecond)))

	value, ok := c.Get(ctx, "fleeting")
	require.True(t, ok)
	assert.Equal(t, "value", value)

	time.Sleep(350 * time.Millisecond)

	// The expired entry is removed on access, not just hidden.
	_, ok = c.Get(ctx, "fleeting")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Zero(t, stats.KeyCount)
	assert.EqualValues(t, 1, stats.Expirations)
}

func TestTTLQuery(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	assert.Equal(t, TTLNotFound, c.TTL(ctx, "absent"))

	require.NoError(t, c.Set(ctx, "short", "v", WithTTL(1500*time.Millisecond)))
	assert.EqualValues(t, 2, c.TTL(ctx, "short"), "remaining time rounds up to whole seconds")

	require.NoError(t, c.Set(ctx, "long", "v", WithTTL(10*time.Second)))
	assert.EqualValues(t, 10, c.TTL(ctx, "long"))

	require.NoError(t, c.Set(ctx, "gone", "v", WithTTL(50*time.Millisecond)))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, TTLNotFound, c.TTL(ctx, "gone"))
	assert.False(t, c.Exists(ctx, "gone"), "TTL on an expired key removes it")
}

func TestLRUEviction(t *testing.T) {
	// Keys are 1 byte and values stored raw, so sizes are exact: each
	// entry is 1 + 400 bytes and the bound fits two entries.
	cfg := Config{MaxMemoryBytes: 900}
	c := newTestCache(t, cfg)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{'x'}, 400)

	require.NoError(t, c.Set(ctx, "a", payload, WithoutSerialization()))
	require.NoError(t, c.Set(ctx, "b", payload, WithoutSerialization()))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "c", payload, WithoutSerialization()))

	assert.False(t, c.Exists(ctx, "b"), "least recently used entry should be evicted")
	assert.True(t, c.Exists(ctx, "a"))
	assert.True(t, c.Exists(ctx, "c"))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.MemoryUsage, cfg.MaxMemoryBytes)
	assert.EqualValues(t, 1, stats.Evictions)
}

func TestExistsDoesNotRefreshRecency(t *testing.T) {
	cfg := Config{MaxMemoryBytes: 900}
	c := newTestCache(t, cfg)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{'x'}, 400)

	require.NoError(t, c.Set(ctx, "a", payload, WithoutSerialization()))
	require.NoError(t, c.Set(ctx, "b", payload, WithoutSerialization()))

	// Exists must not promote "a"; it stays the oldest entry.
	require.True(t, c.Exists(ctx, "a"))

	require.NoError(t, c.Set(ctx, "c", payload, WithoutSerialization()))

	assert.False(t, c.Exists(ctx, "a"), "Exists should not have protected the oldest entry")
	assert.True(t, c.Exists(ctx, "b"))
}

func TestMaxEntriesBound(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "one", "1"))
	require.NoError(t, c.Set(ctx, "two", "2"))
	require.NoError(t, c.Set(ctx, "three", "3"))

	stats := c.Stats()
	assert.Equal(t, 2, stats.KeyCount)
	assert.False(t, c.Exists(ctx, "one"), "entry-count pressure evicts the oldest entry")
}

func TestOversizeEntryRejected(t *testing.T) {
	c := newTestCache(t, Config{MaxMemoryBytes: 256})
	ctx := context.Background()

	err := c.Set(ctx, "huge", bytes.Repeat([]byte{'x'}, 512), WithoutSerialization())
	require.Error(t, err)
	assert.True(t, errors.IsCacheFailure(err))
	assert.Contains(t, err.Error(), "exceeds maximum memory")

	// The rejection left the cache untouched.
	assert.Zero(t, c.Stats().KeyCount)
	assert.Zero(t, c.Stats().Evictions, "an oversize entry must not evict anything")
}

func TestInvalidateTag(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "deck:1", "v", WithTags("decks")))
	require.NoError(t, c.Set(ctx, "deck:2", "v", WithTags("decks", "cards")))
	require.NoError(t, c.Set(ctx, "card:bolt", "v", WithTags("cards")))
	require.NoError(t, c.Set(ctx, "untagged", "v"))

	removed := c.InvalidateTag(ctx, "decks")
	assert.Equal(t, 2, removed)
	assert.False(t, c.Exists(ctx, "deck:1"))
	assert.False(t, c.Exists(ctx, "deck:2"))
	assert.True(t, c.Exists(ctx, "card:bolt"))
	assert.True(t, c.Exists(ctx, "untagged"))

	// The tag index tracks removals exactly: deck:2 is already gone, so
	// only card:bolt remains under "cards".
	assert.Zero(t, c.InvalidateTag(ctx, "decks"))
	assert.Equal(t, 1, c.InvalidateTag(ctx, "cards"))
	assert.Zero(t, c.InvalidateTag(ctx, "no-such-tag"))
}

func TestClearGlob(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	for _, key := range []string{"deck:1", "deck:2", "deck:10", "card:bolt"} {
		require.NoError(t, c.Set(ctx, key, "v"))
	}

	t.Run("star matches any run", func(t *testing.T) {
		removed, err := c.Clear(ctx, "deck:*")
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		assert.True(t, c.Exists(ctx, "card:bolt"))
	})

	t.Run("question mark matches one character", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "card:ray", "v"))

		removed, err := c.Clear(ctx, "card:?o??")
		require.NoError(t, err)
		assert.Equal(t, 1, removed, "only card:bolt matches")
		assert.True(t, c.Exists(ctx, "card:ray"))
	})

	t.Run("empty pattern clears everything", func(t *testing.T) {
		removed, err := c.Clear(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Zero(t, c.Stats().KeyCount)
	})
}

func TestCompression(t *testing.T) {
	cfg := Config{CompressionEnabled: true, CompressionThreshold: 64}
	ctx := context.Background()

	t.Run("compressible payloads shrink and round-trip", func(t *testing.T) {
		c := newTestCache(t, cfg)
		raw := bytes.Repeat([]byte("deckforge "), 200)

		require.NoError(t, c.Set(ctx, "big", raw, WithoutSerialization()))
		assert.Less(t, c.Stats().MemoryUsage, int64(len(raw)),
			"stored size should reflect compression")

		value, ok := c.Get(ctx, "big")
		require.True(t, ok)
		assert.Equal(t, raw, value)
	})

	t.Run("incompressible payloads are stored as-is", func(t *testing.T) {
		c := newTestCache(t, cfg)
		raw := incompressible(2048)

		require.NoError(t, c.Set(ctx, "noise", raw, WithoutSerialization()))
		assert.EqualValues(t, len("noise")+len(raw), c.Stats().MemoryUsage,
			"compression that does not shrink is discarded")

		value, ok := c.Get(ctx, "noise")
		require.True(t, ok)
		assert.Equal(t, raw, value)
	})

	t.Run("WithoutCompression skips the codec", func(t *testing.T) {
		c := newTestCache(t, cfg)
		raw := bytes.Repeat([]byte("deckforge "), 200)

		require.NoError(t, c.Set(ctx, "plain", raw, WithoutSerialization(), WithoutCompression()))
		assert.EqualValues(t, len("plain")+len(raw), c.Stats().MemoryUsage)
	})
}

func TestReplaceEntry(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "deck:1", bytes.Repeat([]byte{'x'}, 500),
		WithoutSerialization(), WithTags("old-tag")))
	require.NoError(t, c.Set(ctx, "deck:1", []byte("small"),
		WithoutSerialization(), WithTags("new-tag")))

	stats := c.Stats()
	assert.Equal(t, 1, stats.KeyCount)
	assert.EqualValues(t, len("deck:1")+len("small"), stats.MemoryUsage,
		"replacing an entry releases the old entry's memory")

	assert.Zero(t, c.InvalidateTag(ctx, "old-tag"), "replaced entries leave the old tag")
	assert.Equal(t, 1, c.InvalidateTag(ctx, "new-tag"))
}

func TestMultiOperations(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	err := c.SetMulti(ctx, map[string]any{
		"card:a": "alpha",
		"card:b": "beta",
	}, WithTags("cards"))
	require.NoError(t, err)

	found := c.GetMulti(ctx, []string{"card:a", "card:b", "card:missing"})
	assert.Len(t, found, 2)
	assert.Equal(t, "alpha", found["card:a"])
	assert.Equal(t, "beta", found["card:b"])

	// One bad key does not stop the other writes.
	err = c.SetMulti(ctx, map[string]any{
		"":       "rejected",
		"card:c": "gamma",
	})
	require.Error(t, err)
	assert.True(t, c.Exists(ctx, "card:c"))
}

func TestStatsMath(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("0123456789"), WithoutSerialization()))

	c.Get(ctx, "k")
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.KeyCount)
	assert.EqualValues(t, len("k")+10, stats.MemoryUsage)
	assert.Equal(t, c.config.MaxMemoryBytes, stats.MaxMemory)
}

func TestBackgroundSweep(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Initialize(ctx), "repeated Initialize is a no-op")
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	require.NoError(t, c.Set(ctx, "sweep-me", "v", WithTTL(50*time.Millisecond)))

	// The sweep removes the entry without any read touching it.
	require.Eventually(t, func() bool {
		stats := c.Stats()
		return stats.KeyCount == 0 && stats.Expirations == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx), "repeated Shutdown is a no-op")
}

func TestReconfigure(t *testing.T) {
	c := newTestCache(t, Config{MaxMemoryBytes: 4096})
	ctx := context.Background()
	payload := bytes.Repeat([]byte{'x'}, 999)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, key, payload, WithoutSerialization()))
	}

	// Shrinking the bound evicts from the cold end until the cache fits.
	c.Reconfigure(Config{MaxMemoryBytes: 1200})

	stats := c.Stats()
	assert.LessOrEqual(t, stats.MemoryUsage, int64(1200))
	assert.True(t, c.Exists(ctx, "c"), "the most recent entry survives the shrink")
	assert.False(t, c.Exists(ctx, "a"))
	assert.False(t, c.Exists(ctx, "b"))
}

func TestHealthCheck(t *testing.T) {
	c := newTestCache(t, Config{MaxMemoryBytes: 1000})
	ctx := context.Background()

	assert.True(t, c.HealthCheck(ctx).IsHealthy())

	require.NoError(t, c.Set(ctx, "fat", bytes.Repeat([]byte{'x'}, 947), WithoutSerialization()))

	status := c.HealthCheck(ctx)
	assert.Equal(t, di.StateDegraded, status.Status, "past 90%% utilization the cache degrades")
	assert.Greater(t, status.Metrics["utilization"], 0.9)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "deck:1", "v"))

	assert.True(t, c.Delete(ctx, "deck:1"))
	assert.False(t, c.Delete(ctx, "deck:1"), "second delete finds nothing")
	assert.False(t, c.Exists(ctx, "deck:1"))
}

func TestCompileGlob(t *testing.T) {
	matcher, err := compileGlob("deck:*:v?")
	require.NoError(t, err)

	assert.True(t, matcher.MatchString("deck:123:v1"))
	assert.True(t, matcher.MatchString("deck::v2"))
	assert.False(t, matcher.MatchString("deck:123:v12"), "? matches exactly one character")
	assert.False(t, matcher.MatchString("card:123:v1"))

	// Regex metacharacters in keys are literals, not operators.
	dotted, err := compileGlob("a.b")
	require.NoError(t, err)
	assert.True(t, dotted.MatchString("a.b"))
	assert.False(t, dotted.MatchString("aXb"))
}
