package chunkuploader

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const megabyte = 1024 * 1024

// Config holds configuration for the chunk uploader.
type Config struct {
	// Concurrency is the number of worker loops claiming and sending chunks.
	// Default: 3
	Concurrency int

	// MaxRetries is the number of retries after the first attempt of a chunk.
	// Default: 4
	MaxRetries int

	// BaseDelay is the backoff before the first retry, doubled for every further retry.
	// Default: 500ms
	BaseDelay time.Duration

	// MaxJitter is the upper bound of the random delay added to every backoff.
	// Default: 200ms
	MaxJitter time.Duration

	// RequestTimeout bounds a single chunk request. Zero disables the per-request timeout.
	// Default: 60 seconds
	RequestTimeout time.Duration

	// Sizing configures the adaptive chunk size controller.
	Sizing SizingConfig

	// Hash computes the checksum sent along with every chunk.
	// If nil, hex encoded SHA-256 is used.
	Hash func([]byte) string
}

// SizingConfig configures how the chunk size follows the observed throughput.
type SizingConfig struct {
	// Enabled turns adaptive sizing on. When disabled the session chunk size is kept.
	Enabled bool

	// Target is the desired transfer time of a single chunk.
	// Default: 4 seconds
	Target time.Duration

	// MinChunkSize and MaxChunkSize clamp every adapted chunk size.
	// Default: 2 MB and 32 MB
	MinChunkSize int64
	MaxChunkSize int64

	// Window is the number of samples the moving average is computed from.
	// Default: 6
	Window int

	// Threshold is the relative change required before a new size is applied.
	// Default: 0.25
	Threshold float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    3,
		MaxRetries:     4,
		BaseDelay:      500 * time.Millisecond,
		MaxJitter:      200 * time.Millisecond,
		RequestTimeout: 60 * time.Second,
		Sizing:         DefaultSizingConfig(),
		Hash:           SHA256Hex,
	}
}

// DefaultSizingConfig returns the default adaptive sizing configuration.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		Enabled:      true,
		Target:       4 * time.Second,
		MinChunkSize: 2 * megabyte,
		MaxChunkSize: 32 * megabyte,
		Window:       6,
		Threshold:    0.25,
	}
}

// SHA256Hex returns the hex encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.Hash == nil {
		c.Hash = def.Hash
	}
	if c.Sizing.Window < 1 {
		c.Sizing.Window = def.Sizing.Window
	}
	if c.Sizing.Target <= 0 {
		c.Sizing.Target = def.Sizing.Target
	}
	if c.Sizing.MinChunkSize <= 0 {
		c.Sizing.MinChunkSize = def.Sizing.MinChunkSize
	}
	if c.Sizing.MaxChunkSize < c.Sizing.MinChunkSize {
		c.Sizing.MaxChunkSize = c.Sizing.MinChunkSize
	}
	if c.Sizing.Threshold < 0 {
		c.Sizing.Threshold = 0
	}
	return c
}
