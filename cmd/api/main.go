package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagateway/internal/accounts"
	"mediagateway/internal/failover"
	"mediagateway/internal/gateway"
	"mediagateway/internal/http/handlers"
	httpapi "mediagateway/internal/http/httpapi"
	"mediagateway/internal/infra"
	"mediagateway/internal/infra/geoip"
	"mediagateway/internal/metrics"
	"mediagateway/internal/middleware"
	"mediagateway/internal/payments"
	"mediagateway/internal/providers/flow"
	"mediagateway/internal/providers/gemini"
	"mediagateway/internal/providers/relay"
	"mediagateway/internal/tasks"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	store := accounts.NewStore(runner)
	m := metrics.New()

	selector := accounts.NewSelector(store, accounts.SelectorOptions{
		DefaultLimit: cfg.DefaultUsageLimit,
		Logger:       &logger,
	})
	executor := failover.New(failover.Options{Usage: store, Logger: &logger, Metrics: m})

	upstreamHTTP := &http.Client{Timeout: cfg.UpstreamTimeout}
	flowClient := flow.NewClient(flow.Options{
		BaseURL:    cfg.FlowBaseURL,
		SessionURL: cfg.FlowSessionURL,
		HTTPClient: upstreamHTTP,
		Timeout:    cfg.UpstreamTimeout,
		Logger:     &logger,
		Metrics:    m,
	})
	relayClient := relay.NewClient(relay.Options{
		BaseURL:    cfg.RelayBaseURL,
		Secret:     cfg.RelaySecret,
		HTTPClient: upstreamHTTP,
		Timeout:    cfg.UpstreamTimeout,
		Uploader:   flowClient,
		Logger:     &logger,
		Metrics:    m,
	})
	if !relayClient.Configured() {
		logger.Warn().Msg("relay not configured; relay-backed actions will fail")
	}
	geminiClient := gemini.NewClient(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: upstreamHTTP,
		Timeout:    cfg.UpstreamTimeout,
		Logger:     &logger,
		Metrics:    m,
	})

	resolver := tasks.NewResolver(tasks.Options{
		Relay:    relayClient,
		Checker:  flowClient,
		Accounts: selector,
		Executor: executor,
		Logger:   &logger,
	})
	svc := gateway.NewService(gateway.Options{
		Accounts: selector,
		Store:    store,
		Executor: executor,
		Flow:     flowClient,
		Relay:    relayClient,
		Resolver: resolver,
		Gemini:   geminiClient,
		Logger:   &logger,
	})

	var countryLookup middleware.CountryLookup
	countries, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if countries != nil {
		countryLookup = countries.CountryCode
		defer countries.Close()
	}

	app := handlers.NewApp(handlers.Options{
		Gateway:              svc,
		Payments:             payments.NewConfirmer(runner, &logger),
		Metrics:              m,
		Logger:               &logger,
		DownloadAllowedHosts: cfg.DownloadAllowedHosts,
	})
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:         &logger,
		Metrics:        m,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.RateLimitPerMin,
		WebhookAPIKey:  cfg.WebhookAPIKey,
		CountryLookup:  countryLookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("gateway listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// usage writes run detached from request contexts
	done := make(chan struct{})
	go func() {
		executor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("pending usage writes abandoned")
	}
	logger.Info().Msg("server stopped")
}
