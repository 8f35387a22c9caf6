package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the deployment-provided tunables for the admission and
// execution pipeline. None of these are owned by the core: they arrive
// from the environment or a YAML file and are treated as read-only.
type Pipeline struct {
	// Rate limiting / quota, per subject.
	RateLimit   int           `yaml:"rateLimit"`
	RateWindow  time.Duration `yaml:"rateWindow"`
	QuotaLimit  int           `yaml:"quotaLimit"`
	QuotaPeriod time.Duration `yaml:"quotaPeriod"`

	// Result cache.
	CacheTTL        time.Duration `yaml:"cacheTTL"`
	CacheMaxEntries int           `yaml:"cacheMaxEntries"`

	// Queue / workers.
	MaxQueueDepth int           `yaml:"maxQueueDepth"`
	WorkerCount   int           `yaml:"workerCount"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	Retention     time.Duration `yaml:"retention"`

	// Moderation.
	ModerationTimeout  time.Duration `yaml:"moderationTimeout"`
	ModerationFailOpen bool          `yaml:"moderationFailOpen"`

	// Completion notification.
	NotifyMaxAttempts int     `yaml:"notifyMaxAttempts"`
	NotifyRatePerSec  float64 `yaml:"notifyRatePerSec"`
}

// DefaultPipeline returns conservative defaults that make local/dev/test
// behavior predictable.
func DefaultPipeline() Pipeline {
	return Pipeline{
		RateLimit:   10,
		RateWindow:  time.Minute,
		QuotaLimit:  200,
		QuotaPeriod: 24 * time.Hour,

		CacheTTL:        time.Hour,
		CacheMaxEntries: 10000,

		MaxQueueDepth: 1000,
		WorkerCount:   4,
		MaxAttempts:   3,
		PollInterval:  250 * time.Millisecond,
		Retention:     24 * time.Hour,

		ModerationTimeout:  2 * time.Second,
		ModerationFailOpen: false, // fail-closed unless explicitly opted out

		NotifyMaxAttempts: 5,
		NotifyRatePerSec:  20,
	}
}

// LoadPipeline resolves the pipeline configuration: defaults, then the
// YAML file named by PIPELINE_CONFIG (if set), then env overrides.
func LoadPipeline() (Pipeline, error) {
	cfg := DefaultPipeline()

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Pipeline{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Pipeline{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Pipeline{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}
	return cfg, nil
}

func (c Pipeline) Validate() error {
	if c.RateLimit < 1 || c.QuotaLimit < 1 {
		return fmt.Errorf("rateLimit and quotaLimit must be >= 1")
	}
	if c.RateWindow <= 0 || c.QuotaPeriod <= 0 {
		return fmt.Errorf("rateWindow and quotaPeriod must be positive")
	}
	if c.MaxQueueDepth < 1 {
		return fmt.Errorf("maxQueueDepth must be >= 1")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("workerCount must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1")
	}
	return nil
}

func applyEnv(cfg *Pipeline) error {
	ints := map[string]*int{
		"RATE_LIMIT":        &cfg.RateLimit,
		"QUOTA_LIMIT":       &cfg.QuotaLimit,
		"CACHE_MAX_ENTRIES": &cfg.CacheMaxEntries,
		"MAX_QUEUE_DEPTH":   &cfg.MaxQueueDepth,
		"WORKER_COUNT":      &cfg.WorkerCount,
		"MAX_ATTEMPTS":      &cfg.MaxAttempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
				return fmt.Errorf("%s must be an integer: %w", key, err)
			}
			*dst = n
		}
	}

	durs := map[string]*time.Duration{
		"RATE_WINDOW":        &cfg.RateWindow,
		"QUOTA_PERIOD":       &cfg.QuotaPeriod,
		"CACHE_TTL":          &cfg.CacheTTL,
		"POLL_INTERVAL":      &cfg.PollInterval,
		"RETENTION":          &cfg.Retention,
		"MODERATION_TIMEOUT": &cfg.ModerationTimeout,
	}
	for key, dst := range durs {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s must be a duration (e.g. 30s): %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("MODERATION_FAIL_OPEN"); v != "" {
		cfg.ModerationFailOpen = v == "1" || v == "true"
	}
	return nil
}
