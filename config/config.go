// Package config reads the upload client settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
)

// Environment variables
const (
	APIURLKey              = "SVL_API_URL"
	AccessTokenKey         = "SVL_ACCESS_TOKEN"
	EventsURLKey           = "SVL_EVENTS_URL"
	ChunkedThresholdKey    = "SVL_CHUNKED_THRESHOLD"
	MaxFileSizeKey         = "SVL_MAX_FILE_SIZE"
	ChunkSizeKey           = "SVL_CHUNK_SIZE"
	MinChunkSizeKey        = "SVL_MIN_CHUNK_SIZE"
	MaxChunkSizeKey        = "SVL_MAX_CHUNK_SIZE"
	TargetChunkDurationKey = "SVL_TARGET_CHUNK_DURATION"
	AdaptiveChunksKey      = "SVL_ADAPTIVE_CHUNKS"
	ParallelChunksKey      = "SVL_PARALLEL_CHUNKS"
	MaxRetriesKey          = "SVL_MAX_RETRIES"
	RetryBaseDelayKey      = "SVL_RETRY_BASE_DELAY"
	RequestTimeoutKey      = "SVL_REQUEST_TIMEOUT"
	SessionStoreKey        = "SVL_SESSION_STORE"
	SessionStorePathKey    = "SVL_SESSION_STORE_PATH"
	VerboseKey             = "SVL_VERBOSE"
)

const defaultSessionStorePath = "~/.svl-upload/sessions.db"

// Secret is a value that is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config ...
type Config struct {
	APIURL      string
	AccessToken Secret
	EventsURL   string

	ChunkedThreshold int64
	MaxFileSize      int64

	ChunkSize           int64
	MinChunkSize        int64
	MaxChunkSize        int64
	TargetChunkDuration time.Duration
	AdaptiveChunks      bool

	ParallelChunks int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration

	SessionStore     string
	SessionStorePath string

	Verbose bool
}

// Default returns the settings used for every unset variable.
func Default() Config {
	return Config{
		ChunkedThreshold:    200 * units.MiB,
		MaxFileSize:         5000 * units.MiB,
		ChunkSize:           8 * units.MiB,
		MinChunkSize:        2 * units.MiB,
		MaxChunkSize:        32 * units.MiB,
		TargetChunkDuration: 4 * time.Second,
		AdaptiveChunks:      true,
		ParallelChunks:      3,
		MaxRetries:          4,
		RetryBaseDelay:      500 * time.Millisecond,
		RequestTimeout:      60 * time.Second,
		SessionStore:        "bolt",
		SessionStorePath:    defaultSessionStorePath,
	}
}

type loader struct {
	envRepo env.Repository
	errs    []string
}

// Load reads the configuration from envRepo and validates it.
func Load(envRepo env.Repository) (Config, error) {
	return load(envRepo, pathutil.NewPathModifier())
}

func load(envRepo env.Repository, pathModifier pathutil.PathModifier) (Config, error) {
	cfg := Default()
	l := loader{envRepo: envRepo}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(envRepo.Get(APIURLKey)), "/")
	cfg.AccessToken = Secret(strings.TrimSpace(envRepo.Get(AccessTokenKey)))
	cfg.EventsURL = strings.TrimSpace(envRepo.Get(EventsURLKey))

	l.size(ChunkedThresholdKey, &cfg.ChunkedThreshold)
	l.size(MaxFileSizeKey, &cfg.MaxFileSize)
	l.size(ChunkSizeKey, &cfg.ChunkSize)
	l.size(MinChunkSizeKey, &cfg.MinChunkSize)
	l.size(MaxChunkSizeKey, &cfg.MaxChunkSize)
	l.duration(TargetChunkDurationKey, &cfg.TargetChunkDuration)
	l.boolean(AdaptiveChunksKey, &cfg.AdaptiveChunks)
	l.integer(ParallelChunksKey, &cfg.ParallelChunks)
	l.integer(MaxRetriesKey, &cfg.MaxRetries)
	l.duration(RetryBaseDelayKey, &cfg.RetryBaseDelay)
	l.duration(RequestTimeoutKey, &cfg.RequestTimeout)
	l.boolean(VerboseKey, &cfg.Verbose)

	if v := strings.TrimSpace(envRepo.Get(SessionStoreKey)); v != "" {
		cfg.SessionStore = strings.ToLower(v)
	}
	if v := strings.TrimSpace(envRepo.Get(SessionStorePathKey)); v != "" {
		cfg.SessionStorePath = v
	}

	if len(l.errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(l.errs, "; "))
	}

	absPath, err := pathModifier.AbsPath(cfg.SessionStorePath)
	if err != nil {
		return Config{}, fmt.Errorf("resolve %s: %w", SessionStorePathKey, err)
	}
	cfg.SessionStorePath = absPath

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross field constraints of the configuration.
func (c Config) Validate() error {
	var errs []string
	if c.APIURL == "" {
		errs = append(errs, fmt.Sprintf("%s is required", APIURLKey))
	} else if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("%s is not an absolute URL: %s", APIURLKey, c.APIURL))
	}
	if c.EventsURL != "" {
		if u, err := url.Parse(c.EventsURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s is not an absolute URL: %s", EventsURLKey, c.EventsURL))
		}
	}
	if c.MinChunkSize <= 0 || c.MinChunkSize > c.MaxChunkSize {
		errs = append(errs, fmt.Sprintf("chunk size bounds must satisfy 0 < %s <= %s", MinChunkSizeKey, MaxChunkSizeKey))
	}
	if c.ChunkSize < c.MinChunkSize || c.ChunkSize > c.MaxChunkSize {
		errs = append(errs, fmt.Sprintf("%s must be between %s and %s", ChunkSizeKey,
			units.BytesSize(float64(c.MinChunkSize)), units.BytesSize(float64(c.MaxChunkSize))))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Sprintf("%s must be positive", MaxFileSizeKey))
	}
	if c.ParallelChunks < 1 {
		errs = append(errs, fmt.Sprintf("%s must be at least 1", ParallelChunksKey))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("%s must not be negative", MaxRetriesKey))
	}
	if c.TargetChunkDuration <= 0 || c.RequestTimeout <= 0 || c.RetryBaseDelay < 0 {
		errs = append(errs, "durations must be positive")
	}
	switch c.SessionStore {
	case "bolt", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("%s must be one of bolt, sqlite, memory: %s", SessionStoreKey, c.SessionStore))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Print logs the effective configuration with secrets masked.
func (c Config) Print(logger log.Logger) {
	logger.Infof("Configuration:")
	logger.Printf("- %s: %s", APIURLKey, c.APIURL)
	logger.Printf("- %s: %s", AccessTokenKey, valueOrUnset(c.AccessToken.String()))
	logger.Printf("- %s: %s", EventsURLKey, valueOrUnset(c.EventsURL))
	logger.Printf("- %s: %s", ChunkedThresholdKey, units.BytesSize(float64(c.ChunkedThreshold)))
	logger.Printf("- %s: %s", MaxFileSizeKey, units.BytesSize(float64(c.MaxFileSize)))
	logger.Printf("- %s: %s (%s - %s)", ChunkSizeKey, units.BytesSize(float64(c.ChunkSize)),
		units.BytesSize(float64(c.MinChunkSize)), units.BytesSize(float64(c.MaxChunkSize)))
	logger.Printf("- %s: %t, target %s", AdaptiveChunksKey, c.AdaptiveChunks, c.TargetChunkDuration)
	logger.Printf("- %s: %d", ParallelChunksKey, c.ParallelChunks)
	logger.Printf("- %s: %d, base delay %s", MaxRetriesKey, c.MaxRetries, c.RetryBaseDelay)
	logger.Printf("- %s: %s", RequestTimeoutKey, c.RequestTimeout)
	logger.Printf("- %s: %s (%s)", SessionStoreKey, c.SessionStore, c.SessionStorePath)
}

func valueOrUnset(v string) string {
	if v == "" {
		return "<unset>"
	}
	return v
}

func (l *loader) size(key string, target *int64) {
	v := strings.TrimSpace(l.envRepo.Get(key))
	if v == "" {
		return
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %s", key, err))
		return
	}
	*target = n
}

func (l *loader) duration(key string, target *time.Duration) {
	v := strings.TrimSpace(l.envRepo.Get(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %s", key, err))
		return
	}
	*target = d
}

func (l *loader) integer(key string, target *int) {
	v := strings.TrimSpace(l.envRepo.Get(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %s is not an integer", key, v))
		return
	}
	*target = n
}

func (l *loader) boolean(key string, target *bool) {
	v := strings.TrimSpace(l.envRepo.Get(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %s is not a boolean", key, v))
		return
	}
	*target = b
}
