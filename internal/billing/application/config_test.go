package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	yamlDoc := `
defaults:
  min_periods: 2
  min_due: 100
route_batches:
  "07":
    min_due: 500
  "09":
    min_periods: 0
    min_due: 0
verifier:
  chunk_size: 50
  max_attempts: 5
  backoff: 250ms
duplicate_policy: worst
period_count_cap: 6
directory_ttl: 5m
strict_schema: true
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BILLING_CONFIG", path)
	t.Setenv("BILLING_VERIFY_CHUNK_SIZE", "25")
	t.Setenv("BILLING_DUPLICATE_POLICY", " LAST ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Verifier.ChunkSize != 25 || cfg.Verifier.MaxAttempts != 5 || cfg.Verifier.Backoff != 250*time.Millisecond {
		t.Fatalf("unexpected verifier config %+v", cfg.Verifier)
	}
	if cfg.DuplicatePolicy != DuplicateLast {
		t.Fatalf("expected env duplicate policy, got %q", cfg.DuplicatePolicy)
	}
	if cfg.PeriodCountCap != 6 || cfg.DirectoryTTL != 5*time.Minute || !cfg.StrictSchema {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CollectionMonths != 12 {
		t.Fatalf("expected default collection lookback, got %d", cfg.CollectionMonths)
	}

	if got := cfg.ThresholdsFor("07"); got != (Thresholds{MinPeriods: 2, MinDue: 500}) {
		t.Fatalf("route override = %+v", got)
	}
	if got := cfg.ThresholdsFor("09"); got != (Thresholds{}) {
		t.Fatalf("explicit zero override = %+v", got)
	}
	if got := cfg.ThresholdsFor("01"); got != (Thresholds{MinPeriods: 2, MinDue: 100}) {
		t.Fatalf("defaults = %+v", got)
	}
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 5 || policy.Backoff(2) != 250*time.Millisecond {
		t.Fatalf("unexpected retry policy")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("BILLING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected missing file error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("duplicate_policy: newest\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BILLING_CONFIG", path)
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected unknown duplicate policy error")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"negative defaults": func(c *Config) { c.Defaults.MinDue = -1 },
		"zero chunk":        func(c *Config) { c.Verifier.ChunkSize = 0 },
		"zero attempts":     func(c *Config) { c.Verifier.MaxAttempts = 0 },
		"cap too small":     func(c *Config) { c.PeriodCountCap = 1 },
		"unknown policy":    func(c *Config) { c.DuplicatePolicy = "random" },
		"negative override": func(c *Config) {
			due := -5.0
			c.RouteBatches = map[string]ThresholdOverride{"03": {MinDue: &due}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
