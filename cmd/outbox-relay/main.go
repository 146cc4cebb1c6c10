// Package main provides the outbox relay entry point. It drains pending
// outbox entries written alongside collection updates and publishes them
// to the event broker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/events"
	"github.com/homewell/rxreview/internal/observability/metrics"
	"github.com/homewell/rxreview/internal/store"
)

func main() {
	godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	if err := events.EnsureTopics(ctx, brokers, logger); err != nil {
		logger.Warn("topic setup failed", zap.Error(err))
	}

	pubCfg := events.DefaultPublisherConfig()
	pubCfg.Brokers = brokers
	publisher, err := events.NewPublisher(pubCfg, logger)
	if err != nil {
		logger.Fatal("publisher creation failed", zap.Error(err))
	}
	defer publisher.Close()

	relayCfg := store.DefaultOutboxConfig()
	if v := os.Getenv("RELAY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			relayCfg.BatchSize = n
		}
	}
	if v := os.Getenv("RELAY_POLL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			relayCfg.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}

	relay := store.NewOutboxRelay(pool, publisher, relayCfg, logger)
	relay.Start()
	logger.Info("outbox relay started",
		zap.Strings("brokers", brokers),
		zap.Int("batch_size", relayCfg.BatchSize))

	m := metrics.New()

	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if pending, err := relay.PendingCount(loopCtx); err == nil {
					m.OutboxPending.Set(float64(pending))
				}
				moved, err := relay.DeadLetterExhausted(loopCtx, events.TopicDeadLetter)
				if err != nil {
					logger.Error("dead-letter sweep failed", zap.Error(err))
				} else if moved > 0 {
					logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
				}
			}
		}
	}()

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9091"
	}
	metricsServer := &http.Server{Addr: ":" + metricsPort, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down outbox relay")
	loopCancel()
	relay.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publisher.Flush(flushCtx)

	logger.Info("outbox relay stopped")
}
