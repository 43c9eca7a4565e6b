package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/pulseboard/internal/cache"
	httpx "github.com/pulseboard/pulseboard/internal/http"
	"github.com/pulseboard/pulseboard/internal/repository"
	"github.com/pulseboard/pulseboard/internal/repository/postgres"
	"github.com/pulseboard/pulseboard/internal/service/devops"
	metricsvc "github.com/pulseboard/pulseboard/internal/service/metrics"
	"github.com/pulseboard/pulseboard/internal/service/webhook"
	"github.com/pulseboard/pulseboard/internal/ws"
	"github.com/pulseboard/pulseboard/pkg/config"
	"github.com/pulseboard/pulseboard/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("pulseboard", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Warn("webhook secret not configured, signature validation disabled")
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		log.Warn("admin token not configured, operator endpoints disabled")
	}

	// Cache, dedup and rate limiting all prefer Redis and fall back to
	// in-process stores when it is absent or unreachable.
	var (
		store       cache.Store
		dedup       webhook.DedupStore
		limiter     httpx.RateLimiter
		cacheHealth func(context.Context) error
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisStore, err := cache.NewRedisStore(addr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheFailOpen, log)
		if err != nil {
			log.Warn("redis cache unavailable, using in-memory cache", "error", err)
		} else {
			store = redisStore
			if pinger, ok := redisStore.(interface{ Ping(context.Context) error }); ok {
				cacheHealth = pinger.Ping
			}
		}

		redisDedup, err := webhook.NewRedisDedupStore(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis dedup store unavailable, using in-memory store", "error", err)
		} else {
			dedup = redisDedup
		}

		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimitFailOpen, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory limiter", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if dedup == nil {
		dedup = webhook.NewMemoryDedupStore()
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}
	defer store.Close()
	defer dedup.Close()

	// Financial and satisfaction KPIs come from the reporting database; the
	// dashboard serves delivery metrics without it.
	var (
		business repository.BusinessMetricsRepository
		dbHealth func(context.Context) error
	)
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Warn("invalid database url, financial KPIs disabled", "error", err)
		} else if err := pool.Ping(ctx); err != nil {
			log.Warn("postgres unreachable, financial KPIs disabled", "error", err)
			pool.Close()
		} else {
			defer pool.Close()
			business = postgres.New(pool)
			dbHealth = pool.Ping
		}
	}

	source, err := devops.New(cfg.AzureOrgURL, cfg.AzureTeam, cfg.AzurePAT, cfg.UpstreamTimeout, log,
		devops.WithRateLimit(cfg.UpstreamRatePerSec, cfg.UpstreamRateBurst))
	if err != nil {
		log.Error("failed to configure azure devops client", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	defer hub.Close()

	processor := webhook.NewProcessor(
		webhook.NewSignatureVerifier(cfg.WebhookSecret),
		dedup, store, hub, log,
		cfg.DedupTTL, cfg.StatsRetention, cfg.AzureProject,
	)

	ttls := cache.TTLs{
		WorkItems:  cfg.WorkItemsTTL,
		Iterations: cfg.IterationsTTL,
		Areas:      cfg.AreasTTL,
		Teams:      cfg.TeamsTTL,
	}
	metricsSvc := metricsvc.NewService(source, store, business, log, ttls, cfg.AzureProject, cfg.VelocitySprints)

	router := httpx.NewRouter(log, processor, metricsSvc, hub, limiter, cfg.AdminToken, cfg.Environment, cfg.SSEHeartbeat, dbHealth, cacheHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("pulseboard server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("pulseboard server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
