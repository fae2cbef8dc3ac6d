package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vantahire/signal/internal/adapter/groq"
	sighttp "github.com/vantahire/signal/internal/adapter/http"
	signats "github.com/vantahire/signal/internal/adapter/nats"
	sigotel "github.com/vantahire/signal/internal/adapter/otel"
	"github.com/vantahire/signal/internal/adapter/postgres"
	sigredis "github.com/vantahire/signal/internal/adapter/redis"
	"github.com/vantahire/signal/internal/adapter/redisq"
	"github.com/vantahire/signal/internal/adapter/ristretto"
	"github.com/vantahire/signal/internal/adapter/serper"
	"github.com/vantahire/signal/internal/adapter/tiered"
	"github.com/vantahire/signal/internal/budget"
	"github.com/vantahire/signal/internal/callback"
	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/discovery"
	"github.com/vantahire/signal/internal/logger"
	"github.com/vantahire/signal/internal/port/jobqueue"
	"github.com/vantahire/signal/internal/port/messagequeue"
	"github.com/vantahire/signal/internal/resilience"
	"github.com/vantahire/signal/internal/service"
	"github.com/vantahire/signal/internal/track"
)

const classifierCacheBytes = 64 << 20

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"target_count", cfg.Sourcing.TargetCount,
		"worker_concurrency", cfg.Worker.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownMeter, err := sigotel.InitMeter(ctx, cfg.Logging.Service)
	if err != nil {
		log.Warn("otel meter unavailable, continuing without metrics export", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMeter(shutdownCtx)
		}()
	}
	shutdownTracer := sigotel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(context.Background()) }()

	metrics, err := sigotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("postgres ready")

	rdb, err := sigredis.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	nq, err := signats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = nq.Close() }()

	// --- Outbound providers ---
	groqClient := groq.New(cfg.Groq)
	groqClient.SetBreaker(resilience.NewBreaker(5, 30*time.Second))

	serpClient := serper.New(cfg.Serp)
	serpClient.SetBreaker(resilience.NewBreaker(5, 30*time.Second))

	// --- Track classification ---
	l1, err := ristretto.New(classifierCacheBytes)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()
	trackCache := tiered.New(l1, sigredis.NewCache(rdb), 10*time.Minute)
	trackBreaker := track.NewBreaker(rdb,
		cfg.Track.CbThreshold,
		time.Duration(cfg.Track.CbWindowSec)*time.Second,
		time.Duration(cfg.Track.CbCooldownSec)*time.Second,
		log,
	)
	classifier := track.NewClassifier(cfg.Track, groqClient, trackCache, trackBreaker, log)

	// --- Pipeline ---
	store := postgres.NewStore(pool)
	sessions := postgres.NewSessions(pool)
	guard := budget.NewGuard(rdb, cfg.Sourcing.DailySerpCapPerTenant, log)
	planner := discovery.NewPlanner(cfg.Sourcing, groqClient, log)
	runner := discovery.NewRunner(store, serpClient, cfg.Sourcing, log)
	orchestrator := service.NewOrchestrator(store, planner, runner, guard, sessions, cfg.Sourcing, log)

	signer := callback.NewSigner(cfg.Callback.JWTPrivateKey, cfg.Callback.JWTActiveKID)
	deliverer := callback.NewDeliverer(store, signer, log)
	sweeper := callback.NewSweeper(store, deliverer, cfg.Callback, log)
	go sweeper.Run(ctx, "")

	worker := service.NewSourcingWorker(store, classifier, orchestrator, deliverer, cfg.Sourcing, log)

	// --- Queues ---
	sourcingQ := redisq.New(rdb, service.SourcingQueue)
	defer func() { _ = sourcingQ.Close() }()
	rerankQ := redisq.New(rdb, service.RerankQueue)
	defer func() { _ = rerankQ.Close() }()

	reranker := service.NewReranker(store, rerankQ, cfg.Sourcing, log)

	sourcingWorker := redisq.NewWorker(sourcingQ, cfg.Worker.Concurrency, log)
	if err := sourcingWorker.Start(ctx, instrument(metrics, worker.Handle)); err != nil {
		return fmt.Errorf("sourcing worker: %w", err)
	}
	defer func() { _ = sourcingWorker.Close() }()

	rerankWorker := redisq.NewWorker(rerankQ, cfg.Worker.Concurrency, log)
	if err := rerankWorker.Start(ctx, reranker.Handle); err != nil {
		return fmt.Errorf("rerank worker: %w", err)
	}
	defer func() { _ = rerankWorker.Close() }()

	unsubscribe, err := nq.Subscribe(ctx, messagequeue.SubjectEnrichmentCompleted, reranker.HandleEvent)
	if err != nil {
		return fmt.Errorf("enrichment subscriber: %w", err)
	}
	defer unsubscribe()

	// --- HTTP ---
	handlers := sighttp.NewHandlers(store, sourcingQ, rerankQ, reranker, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           sighttp.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// instrument wraps the sourcing handler with job metrics and a trace span.
func instrument(m *sigotel.Metrics, next jobqueue.Handler) jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) error {
		var payload service.SourcingJobPayload
		_ = json.Unmarshal(job.Data(), &payload)

		ctx, span := sigotel.StartJobSpan(ctx, payload.RequestID, payload.TenantID)
		defer span.End()

		m.JobsStarted.Add(ctx, 1)
		start := time.Now()
		err := next(ctx, job)
		m.JobDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			m.JobsFailed.Add(ctx, 1)
			return err
		}
		m.JobsCompleted.Add(ctx, 1)
		return nil
	}
}
