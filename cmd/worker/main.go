package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	memjobstore "github.com/glyphic-ai/render-api/internal/adapters/memory/jobstore"
	memresultcache "github.com/glyphic-ai/render-api/internal/adapters/memory/resultcache"
	"github.com/glyphic-ai/render-api/internal/adapters/postgres"
	pgjobstore "github.com/glyphic-ai/render-api/internal/adapters/postgres/jobstore"
	"github.com/glyphic-ai/render-api/internal/adapters/providerapi"
	redisevents "github.com/glyphic-ai/render-api/internal/adapters/redis/events"
	redisresultcache "github.com/glyphic-ai/render-api/internal/adapters/redis/resultcache"
	"github.com/glyphic-ai/render-api/internal/app/notify"
	"github.com/glyphic-ai/render-api/internal/app/worker"
	platformclock "github.com/glyphic-ai/render-api/internal/platform/clock"
	"github.com/glyphic-ai/render-api/internal/platform/config"
	jobstoreport "github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
	resultcacheport "github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

// The worker binary drains the shared job store. It only makes sense
// against shared storage (postgres jobs, optionally redis cache); with
// the in-memory backend jobs are process-local, so prefer the api
// binary with INLINE_WORKERS=1 for local runs.
func main() {
	cfg, err := config.LoadPipeline()
	if err != nil {
		log.Fatalf("invalid pipeline config: %v", err)
	}

	providerURL := os.Getenv("PROVIDER_URL")
	if providerURL == "" {
		log.Fatalf("PROVIDER_URL is required")
	}

	clk := platformclock.NewSystemClock()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobs    jobstoreport.Store
		cache   resultcacheport.Cache
		rdb     *redis.Client
		cleanup []func()
	)

	switch getenv("STORAGE_BACKEND", "postgres") {
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
	default:
		jobs = memjobstore.NewStore(clk, cfg.MaxQueueDepth)
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		cleanup = append(cleanup, func() { _ = rdb.Close() })
		cache = redisresultcache.NewCache(rdb)
	} else {
		cache = memresultcache.NewCache(clk, cfg.CacheMaxEntries)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

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
	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerCount))

	<-ctx.Done()
	log.Printf("draining...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		log.Printf("drain incomplete: %v", err)
	}
	<-notifier.Done()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
