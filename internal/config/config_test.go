package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Port != "8080" || cfg.GinMode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("server defaults: port=%q mode=%q level=%q", cfg.Port, cfg.GinMode, cfg.LogLevel)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.Queue.Driver != "amqp" || cfg.Queue.Prefetch != 10 {
		t.Fatalf("queue defaults: %+v", cfg.Queue)
	}
	if cfg.AI.Model != "gpt-4o-mini" || cfg.AI.CallTimeout != 20*time.Second {
		t.Fatalf("ai defaults: %+v", cfg.AI)
	}
	if cfg.Worker.MaxAttempts != 3 || cfg.Worker.BackoffBase != 2*time.Second || cfg.Worker.BackoffCap != 60*time.Second {
		t.Fatalf("worker defaults: %+v", cfg.Worker)
	}
	if cfg.Webhook.ReplayTTL != 5*time.Minute || cfg.Webhook.MaxEventAge != 5*time.Minute {
		t.Fatalf("webhook defaults: %+v", cfg.Webhook)
	}
	if cfg.Breaker.VolumeThreshold != 10 || cfg.Breaker.FailureRatio != 0.5 {
		t.Fatalf("breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.StatsTTL != 5*time.Minute {
		t.Fatalf("StatsTTL = %v", cfg.StatsTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GIN_MODE", "DEBUG")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("AI_BASE_URL", "http://localhost:1234/v1/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WEBHOOK_TRUST_PROXY", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.GinMode != "debug" || cfg.LogLevel != "warn" {
		t.Fatalf("overrides: port=%q mode=%q level=%q", cfg.Port, cfg.GinMode, cfg.LogLevel)
	}
	if cfg.Queue.Driver != "memory" || cfg.Worker.Concurrency != 8 {
		t.Fatalf("queue/worker overrides: %+v %+v", cfg.Queue, cfg.Worker)
	}
	if cfg.AI.BaseURL != "http://localhost:1234/v1" {
		t.Fatalf("base url trailing slash kept: %q", cfg.AI.BaseURL)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Webhook.TrustProxyHeaders {
		t.Fatalf("WEBHOOK_TRUST_PROXY=off not honored")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad queue driver", "QUEUE_DRIVER", "kafka", "QUEUE_DRIVER"},
		{"zero rate burst", "RATE_BURST", "0", "RATE_BURST"},
		{"negative rps", "RATE_RPS", "-1", "RATE_RPS"},
		{"breaker ratio too big", "BREAKER_FAILURE_RATIO", "1.5", "BREAKER_FAILURE_RATIO"},
		{"breaker volume zero", "BREAKER_VOLUME", "0", "BREAKER_VOLUME"},
		{"worker attempts zero", "WORKER_MAX_ATTEMPTS", "0", "WORKER_MAX_ATTEMPTS"},
		{"backoff cap below base", "WORKER_BACKOFF_CAP", "1s", "WORKER_BACKOFF_BASE"},
		{"bad log level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"zero body cap", "WEBHOOK_MAX_BODY_BYTES", "0", "WEBHOOK_MAX_BODY_BYTES"},
		{"sampler out of range", "OTEL_TRACES_SAMPLER_ARG", "2", "OTEL_TRACES_SAMPLER_ARG"},
		{"zero prefetch", "AMQP_PREFETCH", "0", "AMQP_PREFETCH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_UnparsableValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "lots")
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Concurrency != 5 || cfg.ReadTimeout != 15*time.Second || cfg.LogPretty {
		t.Fatalf("garbage values must fall back to defaults: %+v", cfg)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		"api":      "/api",
		"/api/":    "/api",
		"/api/v2/": "/api/v2",
		"/":        "/",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
