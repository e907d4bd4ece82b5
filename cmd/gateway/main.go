// Command gateway runs the multi-tenant event gateway: the provider-facing
// webhook ingress, the tenant management API, and the background retention
// sweeper, all in one process.
//
// Startup order: env/config → logging → tracing → SQLite → counter store
// (Redis when configured, in-memory otherwise) → subsystem wiring → HTTP
// server. Shutdown reverses it, draining in-flight webhook deliveries
// before the process exits.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/delivery"
	"github.com/tbourn/go-event-gateway/internal/dispatch"
	"github.com/tbourn/go-event-gateway/internal/fanout"
	httpapi "github.com/tbourn/go-event-gateway/internal/http"
	"github.com/tbourn/go-event-gateway/internal/ingest"
	"github.com/tbourn/go-event-gateway/internal/observability"
	"github.com/tbourn/go-event-gateway/internal/quota"
	"github.com/tbourn/go-event-gateway/internal/ratelimit"
	"github.com/tbourn/go-event-gateway/internal/repo"
	"github.com/tbourn/go-event-gateway/internal/store"
	"github.com/tbourn/go-event-gateway/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Counter store: Redis keeps quotas, abuse windows, and idempotency
	// markers consistent across replicas; the in-memory store covers
	// single-process deployments and local development.
	var counterStore store.CounterStore
	var publisher fanout.Publisher
	if cfg.RedisAddr != "" {
		client, err := store.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis client setup failed")
		}
		rs := store.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		cancel()
		counterStore = rs
		publisher = fanout.NewRedisPublisher(client)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis counter store and fan-out")
	} else {
		counterStore = store.NewMemoryStore()
		publisher = fanout.LogPublisher{}
		log.Warn().Msg("no REDIS_ADDR configured; using in-process counter store (single replica only)")
	}

	deliverySvc := delivery.New(db, cfg.Delivery)
	ingestSvc := &ingest.Service{
		DB:             db,
		Store:          counterStore,
		Quota:          quota.NewEngine(counterStore, cfg.Quotas),
		Dispatcher:     dispatch.New(db),
		Fanout:         publisher,
		Delivery:       deliverySvc,
		ProviderSecret: cfg.ProviderSecret,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	limiter := ratelimit.New(counterStore, cfg.Abuse)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, ingestSvc, limiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go runRetentionSweeper(ctx, db, cfg.Retention)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown incomplete")
	}

	// In-flight webhook deliveries run on detached contexts; give them
	// their grace period before the process exits.
	if !deliverySvc.Drain(cfg.Delivery.DrainTimeout) {
		log.Warn().Dur("timeout", cfg.Delivery.DrainTimeout).Msg("delivery drain timed out")
	}

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("gateway stopped")
}

// runRetentionSweeper periodically hard-deletes audit and delivery log rows
// older than the retention window. One missed cycle is harmless; the next
// pass removes the backlog.
func runRetentionSweeper(ctx context.Context, db *gorm.DB, cfg config.RetentionConfig) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-cfg.Window)
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)

			events, err := repo.SweepEventRecords(sweepCtx, db, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("retention: event record sweep failed")
			}
			attempts, err := repo.SweepDeliveryAttempts(sweepCtx, db, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("retention: delivery attempt sweep failed")
			}
			cancel()

			if events > 0 || attempts > 0 {
				log.Info().
					Int64("event_records", events).
					Int64("delivery_attempts", attempts).
					Time("cutoff", cutoff).
					Msg("retention sweep completed")
			}
		}
	}
}
