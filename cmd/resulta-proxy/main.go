package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/resulta/resulta-proxy/internal/config"
	"github.com/resulta/resulta-proxy/internal/server"
	"github.com/resulta/resulta-proxy/pkg/bgtask"
	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/logging"
	"github.com/resulta/resulta-proxy/pkg/orchestrator"
	"github.com/resulta/resulta-proxy/pkg/upstream"
)

const (
	redisConnectTimeout = 5 * time.Second
	memorySweepInterval = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeStore()

	tasks := bgtask.New(cfg.BackgroundTaskTimeout)
	handler, err := buildHandler(cfg, store, tasks)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("user_agent", cfg.UserAgent).
			Int("batch_step", cfg.BatchStep).
			Int("fetch_concurrency", cfg.FetchConcurrency).
			Msg("Starting resulta proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := tasks.Drain(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background tasks abandoned")
	}

	log.Info().Msg("Proxy stopped")
	return nil
}

// buildHandler wires the upstream client, orchestrator and routes.
func buildHandler(cfg *config.Config, store cache.Store, tasks *bgtask.Group) (http.Handler, error) {
	upCfg := upstream.DefaultConfig(cfg.UserAgent)
	upCfg.Timeout = cfg.UpstreamTimeout
	upCfg.BatchStep = cfg.BatchStep

	client, err := upstream.New(upCfg)
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	orch := orchestrator.New(store, client, tasks, cfg.BatchCacheTTL)

	srv, err := server.New(server.Config{
		RegularBackendURL: cfg.RegularBackendURL,
		LEBackendURL:      cfg.LEBackendURL,
		BatchStep:         cfg.BatchStep,
		FetchConcurrency:  cfg.FetchConcurrency,
		ExamListURL:       cfg.ExamListURL,
		ExamListTTL:       cfg.ExamListCacheTTL,
		PurgeSecret:       cfg.PurgeSecret,
	}, orch, store, client, tasks)
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

// newStore connects to Redis when redisURL is set and falls back to an
// in-memory store otherwise. The returned func releases the store.
func newStore(ctx context.Context, redisURL string) (cache.Store, func(), error) {
	if redisURL == "" {
		mem := cache.NewMemoryStore()
		sweepCtx, cancel := context.WithCancel(ctx)
		go sweep(sweepCtx, mem)
		log.Warn().Msg("REDIS_URL not set, using in-memory cache")
		return mem, cancel, nil
	}

	opts, err := redisOptions(redisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")

	return cache.NewRedisStore(redisClient), func() { _ = redisClient.Close() }, nil
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}

func sweep(ctx context.Context, mem *cache.MemoryStore) {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Swept expired cache entries")
			}
		}
	}
}
