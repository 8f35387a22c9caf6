package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glyphic-ai/render-api/internal/adapters/httpapi"
	memjobstore "github.com/glyphic-ai/render-api/internal/adapters/memory/jobstore"
	memmoderation "github.com/glyphic-ai/render-api/internal/adapters/memory/moderation"
	memquotastore "github.com/glyphic-ai/render-api/internal/adapters/memory/quotastore"
	memresultcache "github.com/glyphic-ai/render-api/internal/adapters/memory/resultcache"
	"github.com/glyphic-ai/render-api/internal/adapters/moderationapi"
	"github.com/glyphic-ai/render-api/internal/adapters/postgres"
	pgjobstore "github.com/glyphic-ai/render-api/internal/adapters/postgres/jobstore"
	"github.com/glyphic-ai/render-api/internal/adapters/providerapi"
	redisevents "github.com/glyphic-ai/render-api/internal/adapters/redis/events"
	redisquotastore "github.com/glyphic-ai/render-api/internal/adapters/redis/quotastore"
	redisresultcache "github.com/glyphic-ai/render-api/internal/adapters/redis/resultcache"
	"github.com/glyphic-ai/render-api/internal/app/admission"
	"github.com/glyphic-ai/render-api/internal/app/generations"
	"github.com/glyphic-ai/render-api/internal/app/notify"
	"github.com/glyphic-ai/render-api/internal/app/worker"
	platformclock "github.com/glyphic-ai/render-api/internal/platform/clock"
	"github.com/glyphic-ai/render-api/internal/platform/config"
	jobstoreport "github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
	moderationport "github.com/glyphic-ai/render-api/internal/ports/out/moderation"
	quotastoreport "github.com/glyphic-ai/render-api/internal/ports/out/quotastore"
	resultcacheport "github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

func main() {
	port := getenv("PORT", "8080")

	cfg, err := config.LoadPipeline()
	if err != nil {
		log.Fatalf("invalid pipeline config: %v", err)
	}

	clk := platformclock.NewSystemClock()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage backends:
	// - memory (default): everything in-process, single-binary dev mode
	// - redis: cache + counters in Redis, jobs in memory
	// - postgres: jobs in Postgres; cache + counters follow REDIS_URL
	storageBackend := getenv("STORAGE_BACKEND", "memory")
	var (
		cache   resultcacheport.Cache
		quotas  quotastoreport.Store
		jobs    jobstoreport.Store
		rdb     *redis.Client
		cleanup []func()
	)

	switch storageBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, os.Getenv("DATABASE_URL"), postgres.PoolOptions{})
		if err != nil {
			log.Fatalf("invalid postgres config: %v", err)
		}
		cleanup = append(cleanup, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		jobs = pgjobstore.NewStore(pool, cfg.MaxQueueDepth)

		if url := os.Getenv("REDIS_URL"); url != "" {
			rdb = mustRedis(url)
			cache = redisresultcache.NewCache(rdb)
			quotas = redisquotastore.NewStore(rdb)
		} else {
			cache = memresultcache.NewCache(clk, cfg.CacheMaxEntries)
			quotas = memquotastore.NewStore(clk)
		}
	case "redis":
		rdb = mustRedis(getenv("REDIS_URL", "redis://localhost:6379/0"))
		cache = redisresultcache.NewCache(rdb)
		quotas = redisquotastore.NewStore(rdb)
		jobs = memjobstore.NewStore(clk, cfg.MaxQueueDepth)
	default:
		memCache := memresultcache.NewCache(clk, cfg.CacheMaxEntries)
		memCache.StartSweeper(ctx, time.Minute)
		cache = memCache
		quotas = memquotastore.NewStore(clk)
		jobs = memjobstore.NewStore(clk, cfg.MaxQueueDepth)
	}
	if rdb != nil {
		cleanup = append(cleanup, func() { _ = rdb.Close() })
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	var mod moderationport.Checker
	if url := os.Getenv("MODERATION_URL"); url != "" {
		mod = moderationapi.NewClient(url, cfg.ModerationTimeout)
	} else {
		mod = memmoderation.NewChecker(nil)
	}

	gate := admission.NewGate(cache, quotas, mod, admission.Config{
		RateLimit:          cfg.RateLimit,
		RateWindow:         cfg.RateWindow,
		QuotaLimit:         cfg.QuotaLimit,
		QuotaPeriod:        cfg.QuotaPeriod,
		ModerationTimeout:  cfg.ModerationTimeout,
		ModerationFailOpen: cfg.ModerationFailOpen,
	})
	svc := generations.NewService(gate, jobs, clk)

	// Single-binary dev mode: run the worker pool in-process so memory
	// jobs actually execute without a separate worker deployment.
	if getenv("INLINE_WORKERS", "") == "1" {
		providerURL := os.Getenv("PROVIDER_URL")
		if providerURL == "" {
			log.Fatalf("INLINE_WORKERS=1 requires PROVIDER_URL")
		}
		provider := providerapi.NewClient(providerURL, 60*time.Second)

		sinks := []notify.Sink{notify.NewWebhookSink(10 * time.Second)}
		if rdb != nil {
			sinks = append(sinks, notify.NewEventSink(redisevents.NewPublisher(rdb)))
		}
		notifier := notify.NewNotifier(logger, notify.Config{
			MaxAttempts: cfg.NotifyMaxAttempts,
			RatePerSec:  cfg.NotifyRatePerSec,
		}, sinks...)
		notifier.Start(ctx)

		pool := worker.NewPool(jobs, provider, cache, notifier, clk, logger, worker.Config{
			Concurrency:  cfg.WorkerCount,
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxAttempts,
			CacheTTL:     cfg.CacheTTL,
			Retention:    cfg.Retention,
		})
		pool.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = pool.Stop(stopCtx)
		}()
	}

	api := httpapi.NewServer(svc, logger)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{
		AuthMiddleware: httpapi.NewAuthMiddleware(httpapi.KeyIsSubjectResolver{}),
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("api listening on :%s (storage=%s)", port, storageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func mustRedis(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	return redis.NewClient(opts)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
