package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "abc")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidMaxConcurrentDownloads(t *testing.T) {
	t.Setenv("SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS")
	}
	if got := err.Error(); !contains(got, "SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS") || !contains(got, "abc") {
		t.Fatalf("error should mention SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS", "abc")
	t.Setenv("SHADOWATLAS_SCRAPER_MAX_PARALLEL", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS") {
		t.Fatalf("error should mention SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS, got: %s", got)
	}
	if !contains(got, "SHADOWATLAS_SCRAPER_MAX_PARALLEL") {
		t.Fatalf("error should mention SHADOWATLAS_SCRAPER_MAX_PARALLEL, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 10 {
		t.Fatalf("expected default MaxConcurrentDownloads 10, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.UserAgent != "Shadow-Atlas-Acquisition/1.0" {
		t.Fatalf("expected default user agent, got %q", cfg.UserAgent)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_ValidatorThresholdOrdering(t *testing.T) {
	t.Setenv("SHADOWATLAS_VALIDATOR_ACCEPT_THRESHOLD", "30")
	t.Setenv("SHADOWATLAS_VALIDATOR_REVIEW_THRESHOLD", "40")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when accept threshold is not above review threshold")
	}
	if !contains(err.Error(), "must be greater than") {
		t.Fatalf("error should mention threshold ordering, got: %s", err.Error())
	}
}

func TestLoad_BackoffMultiplierMustExceedOne(t *testing.T) {
	t.Setenv("SHADOWATLAS_SCRAPER_BACKOFF_MULTIPLIER", "1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when backoff multiplier is not greater than 1")
	}
}

func TestLoad_ConflictThresholdMustBeAFraction(t *testing.T) {
	t.Setenv("SHADOWATLAS_CONFLICT_SIGNIFICANCE_THRESHOLD", "1.5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when conflict significance threshold is out of [0,1]")
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("NOTIFY_URL", "postgres://test:test@db:5432/testdb_notify")
	t.Setenv("SHADOWATLAS_MAX_CONCURRENT_DOWNLOADS", "25")
	t.Setenv("SHADOWATLAS_RUN_TIMEOUT", "45m")
	t.Setenv("SHADOWATLAS_INCREMENTAL_INTERVAL", "2h")
	t.Setenv("SHADOWATLAS_SCRAPER_MAX_PARALLEL", "20")
	t.Setenv("SHADOWATLAS_SCRAPER_TIMEOUT", "15s")
	t.Setenv("SHADOWATLAS_SCRAPER_MAX_RETRIES", "5")
	t.Setenv("SHADOWATLAS_SCRAPER_BACKOFF_MULTIPLIER", "3")
	t.Setenv("SHADOWATLAS_USER_AGENT", "Shadow-Atlas-Acquisition/9.9")
	t.Setenv("SHADOWATLAS_PROVENANCE_DIR", "/tmp/shadowatlas-test-provenance")
	t.Setenv("SHADOWATLAS_PROVENANCE_MERGE_INTERVAL", "90s")
	t.Setenv("SHADOWATLAS_FINALIZATION_FILE", "/tmp/finalization.yaml")
	t.Setenv("OTEL_SERVICE_NAME", "shadowatlas-test")
	t.Setenv("SHADOWATLAS_LOG_LEVEL", "debug")
	t.Setenv("SHADOWATLAS_VALIDATOR_ACCEPT_THRESHOLD", "80")
	t.Setenv("SHADOWATLAS_VALIDATOR_REVIEW_THRESHOLD", "50")
	t.Setenv("SHADOWATLAS_CONFLICT_SIGNIFICANCE_THRESHOLD", "0.6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != "postgres://test:test@db:5432/testdb_notify" {
		t.Fatalf("expected NotifyURL %q, got %q", "postgres://test:test@db:5432/testdb_notify", cfg.NotifyURL)
	}
	if cfg.MaxConcurrentDownloads != 25 {
		t.Fatalf("expected MaxConcurrentDownloads 25, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.RunTimeout != 45*time.Minute {
		t.Fatalf("expected RunTimeout 45m, got %s", cfg.RunTimeout)
	}
	if cfg.IncrementalInterval != 2*time.Hour {
		t.Fatalf("expected IncrementalInterval 2h, got %s", cfg.IncrementalInterval)
	}
	if cfg.ScraperMaxParallel != 20 {
		t.Fatalf("expected ScraperMaxParallel 20, got %d", cfg.ScraperMaxParallel)
	}
	if cfg.ScraperTimeout != 15*time.Second {
		t.Fatalf("expected ScraperTimeout 15s, got %s", cfg.ScraperTimeout)
	}
	if cfg.ScraperMaxRetries != 5 {
		t.Fatalf("expected ScraperMaxRetries 5, got %d", cfg.ScraperMaxRetries)
	}
	if cfg.ScraperBackoffMultiplier != 3 {
		t.Fatalf("expected ScraperBackoffMultiplier 3, got %f", cfg.ScraperBackoffMultiplier)
	}
	if cfg.UserAgent != "Shadow-Atlas-Acquisition/9.9" {
		t.Fatalf("expected UserAgent override, got %q", cfg.UserAgent)
	}
	if cfg.ProvenanceDir != "/tmp/shadowatlas-test-provenance" {
		t.Fatalf("expected ProvenanceDir override, got %q", cfg.ProvenanceDir)
	}
	if cfg.ProvenanceMergeInterval != 90*time.Second {
		t.Fatalf("expected ProvenanceMergeInterval 90s, got %s", cfg.ProvenanceMergeInterval)
	}
	if cfg.FinalizationFile != "/tmp/finalization.yaml" {
		t.Fatalf("expected FinalizationFile override, got %q", cfg.FinalizationFile)
	}
	if cfg.ServiceName != "shadowatlas-test" {
		t.Fatalf("expected ServiceName %q, got %q", "shadowatlas-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if cfg.ValidatorAcceptThreshold != 80 {
		t.Fatalf("expected ValidatorAcceptThreshold 80, got %d", cfg.ValidatorAcceptThreshold)
	}
	if cfg.ValidatorReviewThreshold != 50 {
		t.Fatalf("expected ValidatorReviewThreshold 50, got %d", cfg.ValidatorReviewThreshold)
	}
	if cfg.ConflictSignificanceThreshold != 0.6 {
		t.Fatalf("expected ConflictSignificanceThreshold 0.6, got %f", cfg.ConflictSignificanceThreshold)
	}
}
