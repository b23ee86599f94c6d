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
	t.Setenv("TOKEN_REFRESH_BUFFER", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.TokenRefreshBuffer != 5*time.Minute {
		t.Fatalf("expected default refresh buffer, got %s", cfg.TokenRefreshBuffer)
	}
	if cfg.OAuthStateTTL != 15*time.Minute {
		t.Fatalf("expected default state ttl, got %s", cfg.OAuthStateTTL)
	}
	if cfg.WebhookWorkerCount != 4 {
		t.Fatalf("expected default worker count, got %d", cfg.WebhookWorkerCount)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "passphrase")
	t.Setenv("TOKEN_REFRESH_BUFFER", "3m")
	t.Setenv("WEBHOOK_WORKER_COUNT", "8")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.CredentialEncryptionKey != "passphrase" {
		t.Fatalf("expected encryption key override")
	}
	if cfg.TokenRefreshBuffer != 3*time.Minute {
		t.Fatalf("expected refresh buffer override, got %s", cfg.TokenRefreshBuffer)
	}
	if cfg.WebhookWorkerCount != 8 {
		t.Fatalf("expected worker count override, got %d", cfg.WebhookWorkerCount)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://staging.example.com" {
		t.Fatalf("expected parsed origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	cfg := Load()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"DATABASE_URL", "CREDENTIAL_ENCRYPTION_KEY", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestProviderConfigured(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("ACUITY_CLIENT_ID", "id")
	t.Setenv("ACUITY_CLIENT_SECRET", "")
	cfg := Load()
	if !cfg.ProviderConfigured("google") {
		t.Fatal("expected google configured")
	}
	if cfg.ProviderConfigured("acuity") {
		t.Fatal("expected acuity not configured without secret")
	}
	if cfg.ProviderConfigured("unknown") {
		t.Fatal("expected unknown provider not configured")
	}
}
