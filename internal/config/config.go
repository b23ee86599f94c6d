package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	DashboardURL  string
	LogLevel      string
	DatabaseURL   string

	// Shared passphrase for encrypting provider credentials at rest.
	CredentialEncryptionKey string

	// Provider OAuth apps
	GoogleClientID       string
	GoogleClientSecret   string
	AcuityClientID       string
	AcuityClientSecret   string
	CalendlyClientID     string
	CalendlyClientSecret string
	SquareClientID       string
	SquareClientSecret   string
	SquareSandbox        bool

	// Webhook signing secrets (verification skipped when empty)
	AcuityWebhookSecret   string
	CalendlySigningKey    string
	SquareWebhookKey      string
	GoogleChannelToken    string
	WebhookWorkerCount    int
	TokenRefreshBuffer    time.Duration
	OAuthStateTTL         time.Duration

	// Voice platform tool calls
	VoiceToolSecret string

	TinyURLAPIKey string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	CallQueueSQSURL     string

	// Operator alerts on integrations needing reconnection
	EmailProvider      string
	SendGridAPIKey     string
	AlertFromEmail     string
	AlertFromName      string
	AlertToEmail       string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		PublicBaseURL:           getEnv("PUBLIC_BASE_URL", ""),
		DashboardURL:            getEnv("DASHBOARD_URL", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		CredentialEncryptionKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
		GoogleClientID:          getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:      getEnv("GOOGLE_CLIENT_SECRET", ""),
		AcuityClientID:          getEnv("ACUITY_CLIENT_ID", ""),
		AcuityClientSecret:      getEnv("ACUITY_CLIENT_SECRET", ""),
		CalendlyClientID:        getEnv("CALENDLY_CLIENT_ID", ""),
		CalendlyClientSecret:    getEnv("CALENDLY_CLIENT_SECRET", ""),
		SquareClientID:          getEnv("SQUARE_CLIENT_ID", ""),
		SquareClientSecret:      getEnv("SQUARE_CLIENT_SECRET", ""),
		SquareSandbox:           getEnvAsBool("SQUARE_SANDBOX", false),
		AcuityWebhookSecret:     getEnv("ACUITY_WEBHOOK_SECRET", ""),
		CalendlySigningKey:      getEnv("CALENDLY_WEBHOOK_SIGNING_KEY", ""),
		SquareWebhookKey:        getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
		GoogleChannelToken:      getEnv("GOOGLE_CHANNEL_TOKEN", ""),
		WebhookWorkerCount:      getEnvAsInt("WEBHOOK_WORKER_COUNT", 4),
		TokenRefreshBuffer:      getEnvAsDuration("TOKEN_REFRESH_BUFFER", 5*time.Minute),
		OAuthStateTTL:           getEnvAsDuration("OAUTH_STATE_TTL", 15*time.Minute),
		VoiceToolSecret:         getEnv("VOICE_TOOL_SECRET", ""),
		TinyURLAPIKey:           getEnv("TINYURL_API_KEY", ""),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisTLS:                getEnvAsBool("REDIS_TLS", false),
		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		CallQueueSQSURL:         getEnv("CALL_QUEUE_SQS_URL", ""),
		EmailProvider:           strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:          getEnv("SENDGRID_API_KEY", ""),
		AlertFromEmail:          getEnv("ALERT_FROM_EMAIL", ""),
		AlertFromName:           getEnv("ALERT_FROM_NAME", "Calendar AI"),
		AlertToEmail:            getEnv("ALERT_TO_EMAIL", ""),
		CORSAllowedOrigins:      getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate fails fast on missing required fields so misconfiguration is
// caught at process start instead of mid-request.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.CredentialEncryptionKey == "" {
		missing = append(missing, "CREDENTIAL_ENCRYPTION_KEY")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ProviderConfigured reports whether the OAuth app for a provider has both
// a client id and secret. Used by the health endpoint and connect flow.
func (c *Config) ProviderConfigured(provider string) bool {
	switch provider {
	case "google":
		return c.GoogleClientID != "" && c.GoogleClientSecret != ""
	case "acuity":
		return c.AcuityClientID != "" && c.AcuityClientSecret != ""
	case "calendly":
		return c.CalendlyClientID != "" && c.CalendlyClientSecret != ""
	case "square":
		return c.SquareClientID != "" && c.SquareClientSecret != ""
	}
	return false
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
