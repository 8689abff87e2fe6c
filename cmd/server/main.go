package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	authzgin "github.com/pilab-dev/shadow-authz/api/gin"
	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/pilab-dev/shadow-authz/internal/metrics"
	"github.com/pilab-dev/shadow-authz/internal/server"
	"github.com/pilab-dev/shadow-authz/log"
	"github.com/pilab-dev/shadow-authz/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info(ctx, "Starting shadow-authz server", log.Fields{
		"http_port":      cfg.HTTPPort,
		"storage_driver": cfg.StorageDriver,
		"rate_limiter":   limiterKind(cfg),
		"log_level":      logLevel.String(),
		"otel_service":   cfg.OtelServiceName,
	})

	var tp *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		tp, err = tracing.Init(tracing.Options{
			ServiceName: cfg.OtelServiceName,
			SampleRatio: cfg.TraceSampleRatio,
			Pretty:      cfg.LogPretty,
		})
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(registry)

	hasher := app.NewHasher(cfg)
	store, err := app.OpenStore(ctx, cfg, hasher)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to open storage backend", err)
	}
	if store.Pool != nil {
		if err := metrics.RegisterPgxPoolMetrics(registry, store.Pool); err != nil {
			appLogger.Warn(ctx, "Failed to register pool metrics", log.Fields{"error": err.Error()})
		}
	}

	rdb := app.NewRedisClient(cfg)
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err)
		}
	}

	svc, err := app.NewServices(cfg, store, hasher, rdb)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize services", err)
	}
	svc.SeedRoles(ctx)
	if cfg.AdminClientID == "" {
		appLogger.Warn(ctx, "ADMIN_CLIENT_ID is not set; admin routes will reject every caller")
	}

	router := authzgin.NewRouter(authzgin.RouterOptions{
		OAuth:         svc.OAuth,
		Clients:       svc.Clients,
		Roles:         svc.Roles,
		Tokens:        svc.Tokens,
		TwoFactor:     svc.TwoFactor,
		Sessions:      svc.Issuer,
		AdminClientID: cfg.AdminClientID,
		Ping:          store.Repos.Ping,
		Gatherer:      registry,
		Logger:        appLogger,
		ServiceName:   tracingServiceName(cfg),
	})

	go app.NewJanitor(svc.Codes, svc.Tokens, cfg.JanitorInterval).Run(ctx)

	srv := server.NewHTTPServer(cfg, router)
	if err := server.Run(ctx, srv, appLogger, shutdownTimeout); err != nil {
		appLogger.Error(context.Background(), "HTTP server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	svc.Stop()
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Failed to close Redis client", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Failed to close storage backend", err)
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "Error shutting down TracerProvider", err)
		}
	}

	appLogger.Info(shutdownCtx, "Server exited gracefully.")
}

func limiterKind(cfg *config.ServerConfig) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

func tracingServiceName(cfg *config.ServerConfig) string {
	if !cfg.TracingEnabled {
		return ""
	}
	return cfg.OtelServiceName
}
