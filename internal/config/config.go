package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime configuration for the routeforge service.
// Every field maps to an environment variable; FromEnv applies defaults
// for anything unset.
type Config struct {
	// Addr is the HTTP listen address, e.g. "127.0.0.1:8080".
	Addr string

	// OSRMURL is the base URL of the routing daemon, without trailing slash.
	OSRMURL string

	// OSRMRequestTimeout bounds a single route request.
	OSRMRequestTimeout time.Duration

	// OSRMMaxConcurrent is the K-window size: the number of route requests
	// in flight against the daemon at once, per job.
	OSRMMaxConcurrent int

	// OSRMRequestDelay is an optional pre-request delay applied inside each
	// K-window worker. Default 0 (disabled).
	OSRMRequestDelay time.Duration

	// BatchSize is the B-window size: rows decoded and processed as a unit.
	BatchSize int

	// JobTimeout, when positive, bounds a whole job run. 0 disables the bound
	// and leaves supervision to the process manager.
	JobTimeout time.Duration

	UploadDir  string
	ResultsDir string
	LogDir     string

	// MaxUploadBytes caps the accepted multipart upload size.
	MaxUploadBytes int64

	// MaxJobsKept caps retained job records; oldest terminal records are
	// evicted beyond this.
	MaxJobsKept int

	// MaxResultsKept caps retained result/metadata file pairs on disk.
	MaxResultsKept int

	// FileCleanupInterval is the housekeeping loop period.
	FileCleanupInterval time.Duration

	// ImmediateCleanup deletes a job's files as soon as its record is evicted.
	ImmediateCleanup bool
}

// Defaults mirror the deployment the service was tuned for.
const (
	DefaultOSRMURL             = "http://localhost:5000"
	DefaultOSRMRequestTimeout  = 30 * time.Second
	DefaultOSRMMaxConcurrent   = 50
	DefaultBatchSize           = 100
	DefaultMaxUploadBytes      = 50 << 20
	DefaultMaxJobsKept         = 100
	DefaultMaxResultsKept      = 100
	DefaultFileCleanupInterval = 10 * time.Minute
)

// FromEnv builds a Config from the process environment.
// Unset variables fall back to defaults; malformed values are an error, not a
// silent fallback.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                envString("ADDR", "127.0.0.1:8080"),
		OSRMURL:             strings.TrimRight(envString("OSRM_URL", DefaultOSRMURL), "/"),
		OSRMRequestTimeout:  DefaultOSRMRequestTimeout,
		OSRMMaxConcurrent:   DefaultOSRMMaxConcurrent,
		BatchSize:           DefaultBatchSize,
		UploadDir:           envString("UPLOAD_DIR", "uploads"),
		ResultsDir:          envString("RESULTS_DIR", "results"),
		LogDir:              envString("LOG_DIR", "logs"),
		MaxUploadBytes:      DefaultMaxUploadBytes,
		MaxJobsKept:         DefaultMaxJobsKept,
		MaxResultsKept:      DefaultMaxResultsKept,
		FileCleanupInterval: DefaultFileCleanupInterval,
	}

	var err error
	if cfg.OSRMMaxConcurrent, err = envInt("OSRM_MAX_CONCURRENT", cfg.OSRMMaxConcurrent); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = envInt("BATCH_SIZE", cfg.BatchSize); err != nil {
		return cfg, err
	}
	if cfg.MaxJobsKept, err = envInt("MAX_JOBS_KEPT", cfg.MaxJobsKept); err != nil {
		return cfg, err
	}
	if cfg.MaxResultsKept, err = envInt("MAX_RESULTS_KEPT", cfg.MaxResultsKept); err != nil {
		return cfg, err
	}
	if cfg.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes); err != nil {
		return cfg, err
	}
	if cfg.OSRMRequestDelay, err = envDurationMS("OSRM_REQUEST_DELAY", 0); err != nil {
		return cfg, err
	}
	if cfg.OSRMRequestTimeout, err = envDurationMS("OSRM_REQUEST_TIMEOUT", cfg.OSRMRequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.JobTimeout, err = envDurationMS("JOB_TIMEOUT", 0); err != nil {
		return cfg, err
	}
	if cfg.FileCleanupInterval, err = envDurationMS("FILE_CLEANUP_INTERVAL", cfg.FileCleanupInterval); err != nil {
		return cfg, err
	}
	cfg.ImmediateCleanup = envBool("IMMEDIATE_CLEANUP", false)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the dispatcher cannot honour.
func (c Config) Validate() error {
	if c.OSRMURL == "" {
		return fmt.Errorf("config: OSRM_URL must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.OSRMMaxConcurrent <= 0 {
		return fmt.Errorf("config: OSRM_MAX_CONCURRENT must be positive, got %d", c.OSRMMaxConcurrent)
	}
	// K must not exceed B: the K-window draws from a decoded B-window.
	if c.OSRMMaxConcurrent > c.BatchSize {
		return fmt.Errorf("config: OSRM_MAX_CONCURRENT (%d) must not exceed BATCH_SIZE (%d)",
			c.OSRMMaxConcurrent, c.BatchSize)
	}
	if c.MaxJobsKept <= 0 {
		return fmt.Errorf("config: MAX_JOBS_KEPT must be positive, got %d", c.MaxJobsKept)
	}
	return nil
}

// EnsureDirs creates the upload, results, and log directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.ResultsDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// envDurationMS accepts either a bare integer (milliseconds) or a Go duration
// string ("30s"). Bare integers match what the upstream deployment used.
func envDurationMS(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
