package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SLOT_WINDOWS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("EMAIL_PROVIDER", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SlotGranularity != 10*time.Minute {
		t.Fatalf("expected 10m slots, got %s", cfg.SlotGranularity)
	}
	if cfg.SlotWindows != "09:00-10:30,17:00-18:30" {
		t.Fatalf("unexpected default windows %q", cfg.SlotWindows)
	}
	if cfg.MeetingPersistAttempts != 3 {
		t.Fatalf("expected 3 persist attempts, got %d", cfg.MeetingPersistAttempts)
	}
	if cfg.LifecycleAllowReopen {
		t.Fatalf("expected reopen disabled by default")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected default origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("SLOT_GRANULARITY", "15m")
	t.Setenv("SLOT_ENFORCE_WINDOWS", "true")
	t.Setenv("RECONCILE_GRACE", "1h")
	t.Setenv("LIFECYCLE_ALLOW_REOPEN", "true")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	t.Setenv("VIDEOSDK_MAX_RETRIES", "not-a-number")
	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("expected overrides, got port=%s env=%s", cfg.Port, cfg.Env)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.RateLimitRPS)
	}
	if cfg.SlotGranularity != 15*time.Minute || !cfg.SlotEnforceWindows {
		t.Fatalf("expected slot overrides, got %s %v", cfg.SlotGranularity, cfg.SlotEnforceWindows)
	}
	if cfg.ReconcileGrace != time.Hour {
		t.Fatalf("expected grace override, got %s", cfg.ReconcileGrace)
	}
	if !cfg.LifecycleAllowReopen {
		t.Fatalf("expected reopen enabled")
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalised provider, got %q", cfg.EmailProvider)
	}
	if cfg.VideoSDKMaxRetries != 2 {
		t.Fatalf("expected default on bad int, got %d", cfg.VideoSDKMaxRetries)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("DATABASE_URL", "postgres://localhost/telehealth")
	t.Setenv("EMAIL_PROVIDER", "stub")
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid development config, got %v", err)
	}
	if cfg.VideoSDKConfigured() {
		t.Fatalf("expected provider unconfigured without keys")
	}

	cfg.Env = "production"
	cfg.SlotGranularity = 7 * time.Minute
	cfg.SlotTimezone = "Mars/Olympus"
	cfg.EmailProvider = "sendgrid"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"AUTH_JWT_SECRET", "VIDEOSDK_API_KEY", "SLOT_GRANULARITY", "SLOT_TIMEZONE", "SENDGRID_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %v", want, err)
		}
	}
}
