package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (in-memory store)", cfg.RedisAddr)
	}
	if cfg.Abuse.Window != 60*time.Second || cfg.Abuse.PerIP != 120 {
		t.Errorf("Abuse = %+v", cfg.Abuse)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Errorf("IdempotencyTTL = %v", cfg.IdempotencyTTL)
	}
	if got := cfg.Quotas.Limit("free", ClassMessages, PeriodHourly); got != 100 {
		t.Errorf("free hourly messages = %d", got)
	}
	if got := cfg.Quotas.Limit("enterprise", ClassMessages, PeriodMonthly); got != 2000000 {
		t.Errorf("enterprise monthly messages = %d", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("ABUSE_WINDOW", "30s")
	t.Setenv("QUOTA_FREE_MESSAGES_HOURLY", "7")
	t.Setenv("API_BASE_PATH", "v2/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty not set")
	}
	if cfg.Abuse.Window != 30*time.Second {
		t.Errorf("Abuse.Window = %v", cfg.Abuse.Window)
	}
	if got := cfg.Quotas.Limit("free", ClassMessages, PeriodHourly); got != 7 {
		t.Errorf("overridden free hourly = %d", got)
	}
	// Daily stays at the built-in value.
	if got := cfg.Quotas.Limit("free", ClassMessages, PeriodDaily); got != 1000 {
		t.Errorf("free daily = %d", got)
	}
	if cfg.APIBasePath != "/v2" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
}

func TestLoad_Rejections(t *testing.T) {
	t.Run("log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("body bytes", func(t *testing.T) {
		t.Setenv("MAX_BODY_BYTES", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("abuse threshold", func(t *testing.T) {
		t.Setenv("ABUSE_MAX_PER_IP", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("sample ratio", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoad_UnknownGinModeNormalized(t *testing.T) {
	t.Setenv("GIN_MODE", "production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q, want release", cfg.GinMode)
	}
}

func TestPlanLimits_UnknownPlanFallsBackToFree(t *testing.T) {
	pl := defaultPlanLimits()
	if got := pl.Limit("trial", ClassMessages, PeriodHourly); got != pl.Limit("free", ClassMessages, PeriodHourly) {
		t.Errorf("unknown plan limit = %d", got)
	}
}

func TestPeriodLimits_ByPeriod(t *testing.T) {
	p := PeriodLimits{Hourly: 1, Daily: 2, Monthly: 3}
	if p.ByPeriod(PeriodHourly) != 1 || p.ByPeriod(PeriodDaily) != 2 || p.ByPeriod(PeriodMonthly) != 3 {
		t.Errorf("ByPeriod mismatch: %+v", p)
	}
	if p.ByPeriod("weekly") != 0 {
		t.Error("unknown period must be 0")
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api":     "/api",
		"/api/":   "/api",
		"/api/v1": "/api/v1",
		" /x/ ":   "/x",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
