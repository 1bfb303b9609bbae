// Command server runs the inquiry backend: the webhook gateway, the analysis
// worker pool, the reconciliation sweep, and the reporting API, all in one
// process. The queue driver decides whether analysis runs against RabbitMQ
// (production) or an in-process queue (development).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-inquiry-backend/internal/ai"
	"github.com/tbourn/go-inquiry-backend/internal/breaker"
	"github.com/tbourn/go-inquiry-backend/internal/cache"
	"github.com/tbourn/go-inquiry-backend/internal/config"
	httpapi "github.com/tbourn/go-inquiry-backend/internal/http"
	"github.com/tbourn/go-inquiry-backend/internal/observability"
	"github.com/tbourn/go-inquiry-backend/internal/queue"
	"github.com/tbourn/go-inquiry-backend/internal/replay"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
	"github.com/tbourn/go-inquiry-backend/internal/sender"
	"github.com/tbourn/go-inquiry-backend/internal/services"
	"github.com/tbourn/go-inquiry-backend/internal/worker"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(rootCtx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Queue
	var q queue.Queue
	switch cfg.Queue.Driver {
	case "amqp":
		q, err = queue.DialAMQP(cfg.Queue.URL, cfg.Queue.Prefetch, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connect failed")
		}
	default:
		log.Warn().Msg("using in-process queue; jobs do not survive restarts")
		q = queue.NewMemory(1024)
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Warn().Err(err).Msg("queue close failed")
		}
	}()

	// Shared infrastructure
	guard := replay.NewGuard(db, cfg.Webhook.ReplayTTL, log.Logger)
	statsCache := cache.New(db, cfg.StatsLockTTL, cfg.StatsLockWait)
	br := breaker.New(breaker.Settings{
		Name:            "ai-provider",
		VolumeThreshold: cfg.Breaker.VolumeThreshold,
		FailureRatio:    cfg.Breaker.FailureRatio,
		OpenTimeout:     cfg.Breaker.OpenTimeout,
		CallTimeout:     cfg.AI.CallTimeout,
	})

	// Services
	ingestSvc := services.NewIngestService(db, guard, q, cfg.Webhook, log.Logger)
	statsSvc := services.NewStatsService(db, statsCache, cfg.StatsTTL)
	analysisSvc := &services.AnalysisService{
		DB:      db,
		AI:      ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model),
		Breaker: br,
		Cache:   statsCache,
		Sender:  sender.New(log.Logger),
		Log:     log.Logger,
	}

	// Background workers
	pool := worker.NewPool(q, analysisSvc, db, cfg.Worker, log.Logger)
	go func() {
		if err := pool.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Error().Err(err).Msg("worker pool stopped")
			stop()
		}
	}()
	go worker.NewReconciler(db, q, cfg.Worker, log.Logger).Run(rootCtx)

	// HTTP server
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, ingestSvc, statsSvc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
