package cache

import "time"

// Config holds cache sizing and behavior settings.
type Config struct {
	// MaxMemoryBytes bounds the total tracked size of all entries.
	MaxMemoryBytes int64
	// MaxEntries bounds the entry count. Zero means unlimited.
	MaxEntries int
	// DefaultTTL applies when a Set call does not specify one.
	DefaultTTL time.Duration
	// CleanupInterval is the background sweep period for expired entries.
	CleanupInterval time.Duration
	// CompressionThreshold is the payload size in bytes above which values
	// are compressed. Ignored when CompressionEnabled is false.
	CompressionThreshold int
	// CompressionEnabled toggles compression for the whole cache.
	CompressionEnabled bool
	// MaxKeyLength bounds accepted key lengths.
	MaxKeyLength int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:       100 * 1024 * 1024,
		MaxEntries:           10000,
		DefaultTTL:           time.Hour,
		CleanupInterval:      60 * time.Second,
		CompressionThreshold: 1024,
		CompressionEnabled:   true,
		MaxKeyLength:         250,
	}
}

// setOptions carries per-entry settings resolved from SetOption values.
type setOptions struct {
	ttl       time.Duration
	tags      []string
	compress  bool
	serialize bool
}

// SetOption customizes a single Set or SetMulti call.
type SetOption func(*setOptions)

// WithTTL overrides the default time-to-live for the entry. Values of zero
// or less fall back to the configured default.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithTags associates the entry with tags for group invalidation.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithoutCompression stores the entry uncompressed regardless of size.
func WithoutCompression() SetOption {
	return func(o *setOptions) {
		o.compress = false
	}
}

// WithoutSerialization stores the value bytes as-is. The value must be a
// []byte; Set rejects anything else.
func WithoutSerialization() SetOption {
	return func(o *setOptions) {
		o.serialize = false
	}
}
