package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	sessionapi "go.pilab.hu/radsync/api/echo"
	"go.pilab.hu/radsync/config"
	"go.pilab.hu/radsync/internal/reaper"
	applog "go.pilab.hu/radsync/log"
	"go.pilab.hu/radsync/middleware"
	"go.pilab.hu/radsync/mongodb"
	"go.pilab.hu/radsync/redisstream"
	"go.pilab.hu/radsync/registry"
	"go.pilab.hu/radsync/services"
	"go.pilab.hu/radsync/tracing"
	"go.pilab.hu/radsync/ws"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	appLogger := applog.NewZerologAdapter(logLevel, cfg.LogPretty)
	if parseErr != nil {
		appLogger.Warn(context.Background(), "Invalid LOG_LEVEL configured, defaulting to 'info'", map[string]interface{}{
			"configured_log_level": cfg.LogLevel,
		})
	}

	ctx := context.Background()
	appLogger.Info(ctx, "Starting radsync server...", map[string]interface{}{
		"http_port":      cfg.HTTPPort,
		"mongo_db_name":  cfg.MongoDBName,
		"stream":         cfg.StreamName,
		"consumer_group": cfg.ConsumerGroup,
		"log_level":      logLevel.String(),
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err, nil)
	}

	// --- Storage and transport ---

	store, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to MongoDB", err, nil)
	}

	sessionRepo, err := mongodb.NewSessionRepositoryMongo(ctx, store)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize SessionRepository", err, nil)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		appLogger.Fatal(ctx, "Invalid REDIS_URL", err, nil)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err, nil)
	}

	// --- Services ---

	connRegistry := registry.New(rdb, cfg.ConnectionTTL)
	publisher := redisstream.NewPublisher(rdb, cfg.StreamName, cfg.StreamMaxLen)
	hub := ws.NewHub()
	notifier := services.NewNotifier(connRegistry, hub)
	coordinator := services.NewSessionCoordinator(
		sessionRepo,
		publisher,
		notifier,
		connRegistry,
		func(ctx context.Context) error { return redisstream.Ping(ctx, rdb) },
	)

	// --- Stream consumer ---

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "radsync"
	}
	consumerName := hostname + "-" + uuid.NewString()[:8]

	consumer := redisstream.NewConsumer(rdb, redisstream.ConsumerConfig{
		Stream:     cfg.StreamName,
		Group:      cfg.ConsumerGroup,
		Consumer:   consumerName,
		Block:      cfg.ReadBlock,
		Count:      cfg.ReadCount,
		MaxErrors:  cfg.MaxConsumerErrors,
		Backoff:    cfg.ConsumerBackoff,
		BackoffCap: cfg.ConsumerBackoffCap,
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		appLogger.Fatal(ctx, "Failed to create consumer group", err, nil)
	}

	dedup := redisstream.NewDeduplicator(cfg.DedupWindow)
	dispatcher := services.NewDispatcher(dedup, hub)

	reclaimer := redisstream.NewReclaimer(rdb, cfg.StreamName, cfg.ConsumerGroup, cfg.ReclaimMinIdle)
	maintenance := reaper.New(connRegistry, reclaimer, reaper.Config{
		Consumer:     consumerName,
		SweepEvery:   cfg.StaleSweepEvery,
		StaleMaxAge:  cfg.StaleMaxAge,
		ReclaimEvery: cfg.ReclaimInterval,
	})

	// --- HTTP surface ---

	auth := middleware.NewAuthenticator(cfg.JWTSigningKey)
	api := sessionapi.NewSessionAPI(coordinator, connRegistry, hub, auth)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	api.RegisterRoutes(e)

	// --- Run ---

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := hub.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error(runCtx, "Websocket hub stopped unexpectedly", err, nil)
		}
	}()
	go func() {
		if err := consumer.Run(runCtx, dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error(runCtx, "Stream consumer stopped", err, nil)
		}
	}()
	go func() {
		if err := maintenance.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error(runCtx, "Maintenance loops stopped unexpectedly", err, nil)
		}
	}()
	go func() {
		appLogger.Info(runCtx, "HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(runCtx, "Failed to start HTTP server", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info(ctx, "Shutting down", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
	}

	// Stop the consumer and hub after the HTTP surface so in-flight
	// requests can still publish and notify.
	cancel()
	dedup.Stop()

	store.Close(shutdownCtx)
	if err := rdb.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Redis close error", err, nil)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err, nil)
	}

	appLogger.Info(context.Background(), "Server shut down gracefully")
}
