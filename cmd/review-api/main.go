// Package main provides the review API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/api/handlers"
	"github.com/homewell/rxreview/internal/api/middleware"
	"github.com/homewell/rxreview/internal/events"
	"github.com/homewell/rxreview/internal/observability/metrics"
	"github.com/homewell/rxreview/internal/observability/tracing"
	"github.com/homewell/rxreview/internal/rxqueue"
	"github.com/homewell/rxreview/internal/store"
	"github.com/homewell/rxreview/pkg/idempotency"
)

// Config holds application configuration.
type Config struct {
	Port          string
	DatabaseURL   string
	KafkaBrokers  []string
	OTLPEndpoint  string
	APIKeys       map[string]string
	WatchInterval time.Duration
	OutboxEnabled bool
}

func main() {
	godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		traceCfg := tracing.DefaultConfig("review-api")
		traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
		provider, err := tracing.Init(ctx, traceCfg)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer provider.Shutdown(context.Background())
		}
	}

	m := metrics.New()

	// Storage: postgres when configured, otherwise the in-process store.
	var recordStore store.RecordStore
	var pool *pgxpool.Pool
	var inbox *idempotency.Inbox
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		recordStore = store.NewPostgresStore(pool, logger)

		inbox = idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
		inbox.StartCleanup()
		defer inbox.Stop()
	} else {
		logger.Info("no DATABASE_URL set, using in-process store")
		recordStore = store.NewMemoryStore(logger)
	}

	queue := rxqueue.NewQueue(recordStore, logger)
	bookings := rxqueue.NewBookings(recordStore, logger)

	opts := handlers.Options{
		Inbox:         inbox,
		Metrics:       m,
		WatchInterval: cfg.WatchInterval,
	}

	// Events: with OUTBOX_ENABLED the queue writes events transactionally
	// and the relay publishes them; otherwise publish directly when brokers
	// are configured. Without either, fan bookings out inline since no
	// assignment worker will see the reviewed events.
	switch {
	case cfg.OutboxEnabled && pool != nil:
		queue.EnableOutbox(events.TopicPrescriptionSubmitted, events.TopicPrescriptionReviewed)
		logger.Info("transactional outbox enabled")
	case len(cfg.KafkaBrokers) > 0:
		if err := events.EnsureTopics(ctx, cfg.KafkaBrokers, logger); err != nil {
			logger.Warn("topic setup failed", zap.Error(err))
		}

		pubCfg := events.DefaultPublisherConfig()
		pubCfg.Brokers = cfg.KafkaBrokers
		publisher, err := events.NewPublisher(pubCfg, logger)
		if err != nil {
			logger.Fatal("publisher creation failed", zap.Error(err))
		}
		defer publisher.Close()
		opts.Publisher = publisher
		logger.Info("connected to brokers", zap.Strings("brokers", cfg.KafkaBrokers))
	default:
		opts.Bookings = bookings
	}

	prescriptionHandler := handlers.NewPrescriptionHandler(queue, opts, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("review-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/prescriptions", prescriptionHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting review API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	apiKeys := map[string]string{
		"demo-api-key-12345": "demo-client",
	}
	if key := os.Getenv("API_KEY"); key != "" {
		apiKeys[key] = "env-client"
	}

	watchInterval := 2 * time.Second
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			watchInterval = time.Duration(secs) * time.Second
		}
	}

	return Config{
		Port:          port,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		KafkaBrokers:  brokers,
		OTLPEndpoint:  os.Getenv("OTLP_ENDPOINT"),
		APIKeys:       apiKeys,
		WatchInterval: watchInterval,
		OutboxEnabled: os.Getenv("OUTBOX_ENABLED") == "true",
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"review-api","version":"1.0.0"}`)
}
