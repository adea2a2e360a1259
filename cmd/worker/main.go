package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/halvard/relay/internal/config"
	"github.com/halvard/relay/internal/core"
	"github.com/halvard/relay/internal/db"
	"github.com/halvard/relay/internal/endpoint"
	"github.com/halvard/relay/internal/logging"
	"github.com/halvard/relay/internal/metrics"
	"github.com/halvard/relay/internal/ratelimit"
	"github.com/halvard/relay/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	enqueuer := worker.NewEnqueuer(redisOpt)
	defer enqueuer.Close()

	limiter := ratelimit.NewSlidingWindow(rdb, cfg.EventRateLimit,
		time.Duration(cfg.EventRateLimitWindow)*time.Second)

	services := core.NewServices(pool, enqueuer, endpoint.NewClient(), limiter, logger)

	srv := worker.NewServer(redisOpt, cfg.WorkerConcurrency, services, logger)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr)
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("starting worker")
		return srv.Run()
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	cancel()

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}
