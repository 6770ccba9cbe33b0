package config

import (
	"testing"
	"time"
)

func TestEnvStrFallback(t *testing.T) {
	// TEST_STR_MISSING is not set.
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
}

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7, got %d", v)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.35")
	if v := envFloat("TEST_FLOAT", 0); v != 0.35 {
		t.Fatalf("expected 0.35, got %v", v)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DefaultRatingsWeight != 0.4 {
		t.Fatalf("expected default ratings weight 0.4, got %v", cfg.DefaultRatingsWeight)
	}
	if cfg.MetricsBucketWidth != "hour" {
		t.Fatalf("expected default bucket width hour, got %q", cfg.MetricsBucketWidth)
	}
}

func TestValidateRejectsBadBucketWidth(t *testing.T) {
	t.Setenv("HOSHU_METRICS_BUCKET_WIDTH", "minute")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with invalid bucket width")
	}
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	t.Setenv("HOSHU_SCORE_WORKERS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with zero workers")
	}
}
