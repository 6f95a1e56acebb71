package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds are the debt qualification limits.
type Thresholds struct {
	MinPeriods int     `yaml:"min_periods" json:"min_periods"`
	MinDue     float64 `yaml:"min_due" json:"min_due"`
}

// ThresholdOverride replaces the default thresholds for one route batch.
// Nil fields keep the default; an explicit 0 disables that limit.
type ThresholdOverride struct {
	MinPeriods *int     `yaml:"min_periods"`
	MinDue     *float64 `yaml:"min_due"`
}

// VerifierConfig tunes settlement verification.
type VerifierConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// Config holds report defaults.
type Config struct {
	Defaults         Thresholds            `yaml:"defaults"`
	RouteBatches     map[string]ThresholdOverride `yaml:"route_batches"`
	Verifier         VerifierConfig               `yaml:"verifier"`
	DuplicatePolicy  DuplicatePolicy              `yaml:"duplicate_policy"`
	PeriodCountCap   int                          `yaml:"period_count_cap"`
	DirectoryTTL     time.Duration                `yaml:"directory_ttl"`
	StrictSchema     bool                         `yaml:"strict_schema"`
	CollectionMonths int                          `yaml:"collection_lookback_months"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Defaults: Thresholds{MinPeriods: 1, MinDue: 0},
		Verifier: VerifierConfig{
			ChunkSize:   defaultChunkSize,
			MaxAttempts: defaultMaxAttempts,
			Backoff:     defaultBackoff,
		},
		DuplicatePolicy:  DuplicateFirst,
		PeriodCountCap:   12,
		DirectoryTTL:     10 * time.Minute,
		CollectionMonths: 12,
	}
}

// LoadConfig loads defaults, then BILLING_CONFIG yaml, then env overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("billing config: %w", err)
		}
	}

	if v := getenvIntDefault("BILLING_VERIFY_CHUNK_SIZE", 0); v > 0 {
		cfg.Verifier.ChunkSize = v
	}
	if v := getenvIntDefault("BILLING_VERIFY_MAX_ATTEMPTS", 0); v > 0 {
		cfg.Verifier.MaxAttempts = v
	}
	if value := os.Getenv("BILLING_DUPLICATE_POLICY"); value != "" {
		cfg.DuplicatePolicy = DuplicatePolicy(strings.ToLower(strings.TrimSpace(value)))
	}
	return cfg, cfg.Validate()
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.Defaults.MinPeriods < 0 || c.Defaults.MinDue < 0 {
		return errors.New("billing config: negative default thresholds")
	}
	for route, override := range c.RouteBatches {
		merged := mergeThresholds(c.Defaults, override)
		if merged.MinPeriods < 0 || merged.MinDue < 0 {
			return fmt.Errorf("billing config: negative thresholds for route batch %q", route)
		}
	}
	if c.Verifier.ChunkSize <= 0 {
		return errors.New("billing config: verifier chunk_size must be positive")
	}
	if c.Verifier.MaxAttempts <= 0 {
		return errors.New("billing config: verifier max_attempts must be positive")
	}
	if c.PeriodCountCap < 2 {
		return errors.New("billing config: period_count_cap must be at least 2")
	}
	switch c.DuplicatePolicy {
	case DuplicateFirst, DuplicateLast, DuplicateWorst:
	default:
		return fmt.Errorf("billing config: unknown duplicate_policy %q", c.DuplicatePolicy)
	}
	return nil
}

// ThresholdsFor returns thresholds for a route batch, falling back to defaults.
func (c Config) ThresholdsFor(routeBatch string) Thresholds {
	if c.RouteBatches != nil {
		if override, ok := c.RouteBatches[routeBatch]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

// RetryPolicy builds the verifier retry policy from config.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: c.Verifier.MaxAttempts, Backoff: FixedBackoff(c.Verifier.Backoff)}
}

func mergeThresholds(base Thresholds, override ThresholdOverride) Thresholds {
	if override.MinPeriods != nil {
		base.MinPeriods = *override.MinPeriods
	}
	if override.MinDue != nil {
		base.MinDue = *override.MinDue
	}
	return base
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
