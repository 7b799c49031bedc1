package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ScopeThreshold != 0.3 {
		t.Fatalf("expected default scope threshold 0.3, got %v", cfg.ScopeThreshold)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected default dimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if !cfg.RateLimitEnabled {
		t.Fatal("expected rate limiting enabled by default")
	}
	if cfg.ScopeDescription != DefaultScopeDescription {
		t.Fatal("expected the default scope description")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PIAZZA_PORT", "9090")
	t.Setenv("PIAZZA_SCOPE_THRESHOLD", "0.55")
	t.Setenv("PIAZZA_JWT_EXPIRATION", "2h")
	t.Setenv("PIAZZA_RATE_LIMIT_ENABLED", "false")
	t.Setenv("QDRANT_COLLECTION", "test_insights")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.ScopeThreshold != 0.55 {
		t.Fatalf("expected scope threshold 0.55, got %v", cfg.ScopeThreshold)
	}
	if cfg.JWTExpiration != 2*time.Hour {
		t.Fatalf("expected JWT expiration 2h, got %s", cfg.JWTExpiration)
	}
	if cfg.RateLimitEnabled {
		t.Fatal("expected rate limiting disabled")
	}
	if cfg.QdrantCollection != "test_insights" {
		t.Fatalf("expected collection test_insights, got %s", cfg.QdrantCollection)
	}
}

func TestLoadRejectsThresholdOutOfRange(t *testing.T) {
	t.Setenv("PIAZZA_SCOPE_THRESHOLD", "1.5")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with a threshold above 1")
	}
	if !strings.Contains(err.Error(), "PIAZZA_SCOPE_THRESHOLD") {
		t.Fatalf("error should mention PIAZZA_SCOPE_THRESHOLD, got: %s", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:                8080,
			DatabaseURL:         "postgres://localhost/piazza",
			EmbeddingDimensions: 768,
			ScopeDescription:    "agentic web research",
			ScopeThreshold:      0.3,
			MaxRequestBodyBytes: 1 << 20,
			RateLimitEnabled:    true,
			RateLimitRPS:        10,
			RateLimitBurst:      30,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"threshold at lower bound", func(c *Config) { c.ScopeThreshold = -1 }, false},
		{"threshold at upper bound", func(c *Config) { c.ScopeThreshold = 1 }, false},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, true},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }, true},
		{"threshold below -1", func(c *Config) { c.ScopeThreshold = -1.01 }, true},
		{"threshold above 1", func(c *Config) { c.ScopeThreshold = 1.01 }, true},
		{"empty scope description", func(c *Config) { c.ScopeDescription = "" }, true},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }, true},
		{"rate limit enabled with zero rps", func(c *Config) { c.RateLimitRPS = 0 }, true},
		{"rate limit enabled with zero burst", func(c *Config) { c.RateLimitBurst = 0 }, true},
		{"rate limit disabled ignores rps", func(c *Config) { c.RateLimitEnabled = false; c.RateLimitRPS = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnvHelpersFallBackOnInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7, got %d", v)
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if v := envBool("TEST_BOOL_BAD", true); !v {
		t.Fatal("expected fallback true")
	}
	t.Setenv("TEST_FLOAT_BAD", "half")
	if v := envFloat("TEST_FLOAT_BAD", 0.5); v != 0.5 {
		t.Fatalf("expected fallback 0.5, got %v", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Second); v != time.Second {
		t.Fatalf("expected fallback 1s, got %s", v)
	}
}
