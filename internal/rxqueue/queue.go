package rxqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/store"
)

// Queue is the prescription review queue over a record store. Reads and
// writes move the whole prescriptionQueue collection; within one process a
// read-modify-write runs to completion unpreempted, across processes the
// store's last-write-wins model applies.
type Queue struct {
	store  store.RecordStore
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	submittedTopic string
	reviewedTopic  string
}

// NewQueue creates a queue over the given store.
func NewQueue(st store.RecordStore, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:  st,
		logger: logger,
		tracer: otel.Tracer("rx-queue"),
		now:    time.Now,
	}
}

// EnableOutbox makes Submit and Review write their events to the store's
// outbox in the same transaction as the queue update, for deployments that
// publish through the relay instead of directly. No-op unless the store
// supports transactional event writes.
func (q *Queue) EnableOutbox(submittedTopic, reviewedTopic string) {
	q.submittedTopic = submittedTopic
	q.reviewedTopic = reviewedTopic
}

// Submit appends rec to the queue with status pending. The id must be set by
// the caller and unique; a colliding id fails with ErrDuplicateID rather than
// silently appending a twin.
func (q *Queue) Submit(ctx context.Context, rec *PrescriptionRecord) (string, error) {
	ctx, span := q.tracer.Start(ctx, "queue_submit")
	defer span.End()

	if rec.ID == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.PatientName) == "" {
		return "", fmt.Errorf("%w: patient name is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.ServiceType) == "" {
		return "", fmt.Errorf("%w: service type is required", ErrInvalidRecord)
	}
	span.SetAttributes(attribute.String("prescription_id", rec.ID))

	records, err := q.load(ctx)
	if err != nil {
		return "", err
	}
	for _, existing := range records {
		if existing.ID == rec.ID {
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
	}

	rec.Status = StatusPending
	rec.CreatedAt = q.now().UTC()
	rec.ReviewedBy = ""
	rec.ReviewedAt = nil
	rec.RejectionReason = ""

	records = append(records, rec)
	if err := q.saveWith(ctx, records, q.submittedEntry(rec)); err != nil {
		return "", err
	}

	q.logger.Info("prescription submitted",
		zap.String("id", rec.ID),
		zap.String("service_type", rec.ServiceType))
	return rec.ID, nil
}

// Get returns the record with the given id, or ErrNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*PrescriptionRecord, error) {
	records, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListByStatus returns records matching the status filter (StatusAll or ""
// match everything) and a case-insensitive substring search against patient
// name or service type. Insertion order is preserved; consumers must not rely
// on it for correctness.
func (q *Queue) ListByStatus(ctx context.Context, filter string, search string) ([]*PrescriptionRecord, error) {
	ctx, span := q.tracer.Start(ctx, "queue_list",
		trace.WithAttributes(attribute.String("filter", filter)))
	defer span.End()

	records, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	search = strings.ToLower(strings.TrimSpace(search))
	matched := make([]*PrescriptionRecord, 0, len(records))
	for _, rec := range records {
		if filter != "" && filter != StatusAll && string(rec.Status) != filter {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.PatientName), search) &&
			!strings.Contains(strings.ToLower(rec.ServiceType), search) {
			continue
		}
		matched = append(matched, rec)
	}

	span.SetAttributes(attribute.Int("matched", len(matched)))
	return matched, nil
}

// Review applies a decision to the record with the given id and persists the
// queue. A missing id fails with ErrNotFound rather than silently ignoring
// the review. Returns the record after the transition.
func (q *Queue) Review(ctx context.Context, id string, decision Decision) (*PrescriptionRecord, error) {
	ctx, span := q.tracer.Start(ctx, "queue_review",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()

	records, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	var target *PrescriptionRecord
	for _, rec := range records {
		if rec.ID == id {
			target = rec
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := decision.apply(target, q.now().UTC()); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := q.saveWith(ctx, records, q.reviewedEntry(target)); err != nil {
		return nil, err
	}

	q.logger.Info("prescription reviewed",
		zap.String("id", target.ID),
		zap.String("status", string(target.Status)),
		zap.String("reviewer", target.ReviewedBy))
	return target, nil
}

// load reads and decodes the queue collection. Entries that fail to decode
// are dropped with a warning; the rest of the queue stays readable.
func (q *Queue) load(ctx context.Context) ([]*PrescriptionRecord, error) {
	raw, err := q.store.ReadCollection(ctx, store.KeyPrescriptionQueue)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	records := make([]*PrescriptionRecord, 0, len(raw))
	for _, entry := range raw {
		rec := &PrescriptionRecord{}
		if err := json.Unmarshal(entry, rec); err != nil {
			q.logger.Warn("skipping unreadable queue entry", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// saveWith persists the queue, routing through the store's transactional
// outbox when one is configured and the entry applies.
func (q *Queue) saveWith(ctx context.Context, records []*PrescriptionRecord, entry *store.OutboxEntry) error {
	raw := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		raw = append(raw, encoded)
	}

	if entry != nil {
		if ew, ok := q.store.(store.EventCollectionWriter); ok {
			if err := ew.WriteCollectionWithEvents(ctx, store.KeyPrescriptionQueue, raw, []*store.OutboxEntry{entry}); err != nil {
				return fmt.Errorf("save queue: %w", err)
			}
			return nil
		}
	}

	if err := q.store.WriteCollection(ctx, store.KeyPrescriptionQueue, raw); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// submittedEntry builds the outbox entry for a submission, or nil when the
// outbox is not enabled.
func (q *Queue) submittedEntry(rec *PrescriptionRecord) *store.OutboxEntry {
	if q.submittedTopic == "" {
		return nil
	}
	payload, err := json.Marshal(struct {
		RecordID    string    `json:"record_id"`
		PatientName string    `json:"patient_name"`
		ServiceType string    `json:"service_type"`
		SubmittedAt time.Time `json:"submitted_at"`
	}{rec.ID, rec.PatientName, rec.ServiceType, rec.CreatedAt})
	if err != nil {
		return nil
	}
	return &store.OutboxEntry{
		RecordID:  rec.ID,
		EventType: "prescription.submitted",
		Payload:   payload,
		Topic:     q.submittedTopic,
		Key:       rec.ID,
	}
}

// reviewedEntry builds the outbox entry for a review transition, or nil when
// the outbox is not enabled.
func (q *Queue) reviewedEntry(rec *PrescriptionRecord) *store.OutboxEntry {
	if q.reviewedTopic == "" {
		return nil
	}
	var reviewedAt time.Time
	if rec.ReviewedAt != nil {
		reviewedAt = *rec.ReviewedAt
	}
	payload, err := json.Marshal(struct {
		RecordID   string              `json:"record_id"`
		Status     Status              `json:"status"`
		Reviewer   string              `json:"reviewer"`
		ReviewedAt time.Time           `json:"reviewed_at"`
		Record     *PrescriptionRecord `json:"record"`
	}{rec.ID, rec.Status, rec.ReviewedBy, reviewedAt, rec})
	if err != nil {
		return nil
	}
	return &store.OutboxEntry{
		RecordID:  rec.ID,
		EventType: "prescription.reviewed",
		Payload:   payload,
		Topic:     q.reviewedTopic,
		Key:       rec.ID,
	}
}
