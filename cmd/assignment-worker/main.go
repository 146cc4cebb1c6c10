// Package main provides the assignment worker entry point. It consumes
// reviewed-prescription events and fans approvals out into bookings and
// nurse assignments through a bounded worker pool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/homewell/rxreview/internal/observability/tracing"
	"github.com/homewell/rxreview/internal/rxqueue"
	"github.com/homewell/rxreview/internal/store"
	"github.com/homewell/rxreview/pkg/workerpool"
)

func main() {
	godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
		traceCfg := tracing.DefaultConfig("assignment-worker")
		traceCfg.OTLPEndpoint = endpoint
		provider, err := tracing.Init(ctx, traceCfg)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer provider.Shutdown(context.Background())
		}
	}

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

	bookings := rxqueue.NewBookings(store.NewPostgresStore(pool, logger), logger)
	m := metrics.New()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	pubCfg := events.DefaultPublisherConfig()
	pubCfg.Brokers = brokers
	publisher, err := events.NewPublisher(pubCfg, logger)
	if err != nil {
		logger.Fatal("publisher creation failed", zap.Error(err))
	}
	defer publisher.Close()

	poolCfg := workerpool.DefaultConfig()
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			poolCfg.Workers = n
		}
	}

	wp, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		event := task.Payload.(*events.ReviewedEvent)

		booking, err := bookings.CreateFromApproval(ctx, event.Record, event.Record.PreselectedNurse())
		if err != nil {
			return &workerpool.Result{TaskID: task.ID, Error: fmt.Errorf("create booking: %w", err)}
		}

		m.BookingsCreated.Inc()
		if err := publisher.PublishBookingCreated(ctx, booking); err != nil {
			logger.Warn("booking event publish failed",
				zap.String("booking_id", booking.ID),
				zap.Error(err))
		} else {
			m.EventsPublished.Inc()
		}

		logger.Info("booking created from approval",
			zap.String("prescription_id", event.RecordID),
			zap.String("booking_id", booking.ID))
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	wp.Start()

	go func() {
		for result := range wp.Results() {
			if !result.Success {
				logger.Error("booking fan-out failed",
					zap.String("task_id", result.TaskID),
					zap.Error(result.Error))
			}
		}
	}()

	consumerCfg := events.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.GroupID = "assignment-worker"
	consumerCfg.Topics = []string{events.TopicPrescriptionReviewed}

	consumer, err := events.NewConsumer(consumerCfg, func(ctx context.Context, msg *events.Message) error {
		m.EventsConsumed.Inc()

		var event events.ReviewedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Warn("skipping undecodable event",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}

		if event.Status != rxqueue.StatusApproved || event.Record == nil {
			return nil
		}

		return wp.Submit(&workerpool.Task{
			ID:      event.RecordID,
			Payload: &event,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9092"
	}
	metricsServer := &http.Server{Addr: ":" + metricsPort, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("assignment worker started",
		zap.Strings("brokers", brokers),
		zap.Int("workers", poolCfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down assignment worker")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := wp.Stop(); err != nil {
		logger.Error("worker pool stop error", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publisher.Flush(flushCtx)
	metricsServer.Shutdown(flushCtx)

	logger.Info("assignment worker stopped")
}
