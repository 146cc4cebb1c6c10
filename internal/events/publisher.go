package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/rxqueue"
	"github.com/homewell/rxreview/pkg/circuitbreaker"
)

// SubmittedEvent is published when a prescription enters the queue.
type SubmittedEvent struct {
	RecordID    string    `json:"record_id"`
	PatientName string    `json:"patient_name"`
	ServiceType string    `json:"service_type"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewedEvent is published when a prescription leaves pending. Record
// carries the full post-transition state so consumers need no second read.
type ReviewedEvent struct {
	RecordID   string                      `json:"record_id"`
	Status     rxqueue.Status              `json:"status"`
	Reviewer   string                      `json:"reviewer"`
	ReviewedAt time.Time                   `json:"reviewed_at"`
	Record     *rxqueue.PrescriptionRecord `json:"record"`
}

// BookingCreatedEvent is published when an approval fans out into a booking.
type BookingCreatedEvent struct {
	BookingID      string    `json:"booking_id"`
	PrescriptionID string    `json:"prescription_id"`
	NurseID        string    `json:"nurse_id,omitempty"`
	NurseName      string    `json:"nurse_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PublisherConfig holds producer configuration.
type PublisherConfig struct {
	Brokers []string
	// LingerMS is the batching delay before a send.
	LingerMS int64
	// MaxRetries is the per-record retry budget.
	MaxRetries int
}

// DefaultPublisherConfig returns defaults for the workflow's modest volume.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Brokers:    []string{"localhost:9092"},
		LingerMS:   25,
		MaxRetries: 3,
	}
}

// Publisher produces workflow events. Publishing is best-effort: the record
// store stays the source of truth and polling observes transitions with or
// without the event stream, so a failed publish is logged and counted, never
// propagated into the review path.
type Publisher struct {
	client  *kgo.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	breaker *circuitbreaker.CircuitBreaker

	mu       sync.RWMutex
	produced int64
	failed   int64
}

// NewPublisher creates a publisher connected to the given brokers.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS)*time.Millisecond),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("event-publisher"), logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Publisher{
		client:  client,
		logger:  logger,
		tracer:  otel.Tracer("event-publisher"),
		breaker: breaker,
	}, nil
}

// PublishSubmitted emits a SubmittedEvent keyed by record id.
func (p *Publisher) PublishSubmitted(ctx context.Context, rec *rxqueue.PrescriptionRecord) error {
	event := SubmittedEvent{
		RecordID:    rec.ID,
		PatientName: rec.PatientName,
		ServiceType: rec.ServiceType,
		SubmittedAt: rec.CreatedAt,
	}
	return p.publishJSON(ctx, TopicPrescriptionSubmitted, rec.ID, event)
}

// PublishReviewed emits a ReviewedEvent keyed by record id.
func (p *Publisher) PublishReviewed(ctx context.Context, rec *rxqueue.PrescriptionRecord) error {
	var reviewedAt time.Time
	if rec.ReviewedAt != nil {
		reviewedAt = *rec.ReviewedAt
	}
	event := ReviewedEvent{
		RecordID:   rec.ID,
		Status:     rec.Status,
		Reviewer:   rec.ReviewedBy,
		ReviewedAt: reviewedAt,
		Record:     rec,
	}
	return p.publishJSON(ctx, TopicPrescriptionReviewed, rec.ID, event)
}

// PublishBookingCreated emits a BookingCreatedEvent keyed by prescription id.
func (p *Publisher) PublishBookingCreated(ctx context.Context, booking *rxqueue.BookingRecord) error {
	event := BookingCreatedEvent{
		BookingID:      booking.ID,
		PrescriptionID: booking.PrescriptionID,
		CreatedAt:      booking.CreatedAt,
	}
	if booking.Nurse != nil {
		event.NurseID = booking.Nurse.ID
		event.NurseName = booking.Nurse.Name
	}
	return p.publishJSON(ctx, TopicBookingCreated, booking.PrescriptionID, event)
}

func (p *Publisher) publishJSON(ctx context.Context, topic, key string, event interface{}) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.Publish(ctx, topic, key, value)
}

// Publish produces one message and waits for the broker ack, guarded by the
// circuit breaker. Also satisfies store.OutboxPublisher.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "publish_event",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("key", key),
		))
	defer span.End()

	_, err := p.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.produce(ctx, topic, key, value)
	})
	if err != nil {
		p.countFailure()
		span.RecordError(err)
		return err
	}

	p.countSuccess()
	return nil
}

func (p *Publisher) produce(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	var produceErr error
	var wg sync.WaitGroup
	wg.Add(1)

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer wg.Done()
		if err != nil {
			produceErr = err
			p.logger.Error("failed to produce event",
				zap.String("topic", topic),
				zap.String("key", key),
				zap.Error(err))
		} else {
			p.logger.Debug("event produced",
				zap.String("topic", r.Topic),
				zap.Int32("partition", r.Partition),
				zap.Int64("offset", r.Offset))
		}
	})

	wg.Wait()
	return produceErr
}

// Flush blocks until buffered records are sent.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// Close flushes and closes the underlying client.
func (p *Publisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// Stats returns produced/failed counts.
func (p *Publisher) Stats() (produced, failed int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.produced, p.failed
}

func (p *Publisher) countSuccess() {
	p.mu.Lock()
	p.produced++
	p.mu.Unlock()
}

func (p *Publisher) countFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}
