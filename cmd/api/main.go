package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/calendar-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/calendar-ai-platform/internal/api/router"
	"github.com/wolfman30/calendar-ai-platform/internal/callqueue"
	appconfig "github.com/wolfman30/calendar-ai-platform/internal/config"
	"github.com/wolfman30/calendar-ai-platform/internal/gsync"
	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/notify"
	"github.com/wolfman30/calendar-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/internal/voicetools"
	"github.com/wolfman30/calendar-ai-platform/internal/webhooks"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting calendar-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	credVault, err := vault.New(cfg.CredentialEncryptionKey)
	if err != nil {
		logger.Error("failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	// Provider OAuth apps and API adapters.
	redirectURI := cfg.PublicBaseURL + "/calendar/callback"
	oauthApps := map[providers.Provider]*providers.OAuthApp{
		providers.Google:   providers.NewOAuthApp(providers.Google, cfg.GoogleClientID, cfg.GoogleClientSecret, redirectURI, logger),
		providers.Acuity:   providers.NewOAuthApp(providers.Acuity, cfg.AcuityClientID, cfg.AcuityClientSecret, redirectURI, logger),
		providers.Calendly: providers.NewOAuthApp(providers.Calendly, cfg.CalendlyClientID, cfg.CalendlyClientSecret, redirectURI, logger),
		providers.Square:   providers.NewOAuthApp(providers.Square, cfg.SquareClientID, cfg.SquareClientSecret, redirectURI, logger),
	}
	oauthApps[providers.Square].SquareSandbox = cfg.SquareSandbox

	shortener := providers.NewTinyURLShortener(cfg.TinyURLAPIKey, logger)
	googleAdapter := providers.NewGoogleAdapter(oauthApps[providers.Google], logger)
	acuityAdapter := providers.NewAcuityAdapter(oauthApps[providers.Acuity], logger)
	calendlyAdapter := providers.NewCalendlyAdapter(oauthApps[providers.Calendly], shortener, logger)
	squareAdapter := providers.NewSquareAdapter(oauthApps[providers.Square], cfg.SquareSandbox, logger)
	adapters := map[providers.Provider]providers.Adapter{
		providers.Google:   googleAdapter,
		providers.Acuity:   acuityAdapter,
		providers.Calendly: calendlyAdapter,
		providers.Square:   squareAdapter,
	}

	// Optional AWS clients for call-queue mirroring and SES alerts.
	var sqsClient *sqs.Client
	var sesClient *sesv2.Client
	if cfg.CallQueueSQSURL != "" || cfg.EmailProvider == "ses" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.CallQueueSQSURL != "" {
			sqsClient = sqs.NewFromConfig(awsCfg)
		}
		if cfg.EmailProvider == "ses" {
			sesClient = sesv2.NewFromConfig(awsCfg)
		}
	}

	alerter := buildAlerter(cfg, sesClient, logger)

	promRegistry := prometheus.NewRegistry()
	calendarMetrics := metrics.NewCalendarMetrics(promRegistry)

	integrationRepo := integrations.NewRepository(pool)
	integrationSvc := integrations.NewService(integrationRepo, credVault, adapters, alerter, cfg.TokenRefreshBuffer, logger)
	registrar := integrations.NewWatchRegistrar(integrationRepo, googleAdapter, acuityAdapter, calendlyAdapter, cfg.PublicBaseURL, cfg.GoogleChannelToken, logger)
	calendarHandler := integrations.NewHandler(integrationRepo, integrationSvc, registrar, oauthApps,
		func(p providers.Provider) bool { return cfg.ProviderConfigured(string(p)) },
		cfg.DashboardURL, cfg.OAuthStateTTL, logger)

	taskRepo := callqueue.NewRepository(pool)
	settingsStore := callqueue.NewSettingsStore(pool)
	taskPublisher := callqueue.NewSQSPublisher(sqsClient, cfg.CallQueueSQSURL, logger)

	processor := webhooks.NewProcessor(taskRepo, settingsStore, taskPublisher, calendarMetrics, logger)
	syncEngine := gsync.NewEngine(integrationRepo, integrationSvc, googleAdapter, processor, logger)
	runner := webhooks.NewRunner(cfg.WebhookWorkerCount, 30*time.Second, logger)
	webhookHandler := webhooks.NewHandler(webhooks.HandlerConfig{
		Integrations: integrationRepo,
		Service:      integrationSvc,
		Acuity:       acuityAdapter,
		Calendly:     calendlyAdapter,
		Square:       squareAdapter,
		Syncer:       syncEngine,
		Processor:    processor,
		Processed:    webhooks.NewProcessedStore(pool),
		Runner:       runner,
		Secrets: webhooks.Secrets{
			Acuity:   cfg.AcuityWebhookSecret,
			Calendly: cfg.CalendlySigningKey,
			Square:   cfg.SquareWebhookKey,
		},
		ChannelToken:  cfg.GoogleChannelToken,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       calendarMetrics,
		Logger:        logger,
	})

	availabilityCache := voicetools.NewAvailabilityCache(buildRedis(cfg, logger), logger)
	voiceHandler := voicetools.NewHandler(settingsStore, integrationSvc, availabilityCache, cfg.VoiceToolSecret, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Calendar:           calendarHandler,
		Webhooks:           webhookHandler,
		Voice:              voiceHandler,
		MetricsHandler:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   20,
		WebhookRateBurst:   60,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	// Let in-flight webhook work finish before the pool closes.
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("webhook runner forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildAlerter selects the reconnect-alert email transport, or disables
// alerts when none is configured.
func buildAlerter(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) *notify.Service {
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger)
		if s != nil {
			sender = s
		}
	case "ses":
		s := notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger)
		if s != nil {
			sender = s
		}
	}
	if sender == nil {
		logger.Info("reconnect alerts disabled, no email provider configured")
	}
	return notify.NewService(sender, cfg.DashboardURL, logger)
}

func buildRedis(cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Info("availability cache disabled, no redis address configured")
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}
