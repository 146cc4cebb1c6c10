package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PostgresStore persists collections as one JSONB row per key. Semantics match
// MemoryStore: a write replaces the whole collection, racing writers resolve
// last-write-wins, and corrupt payloads read as empty.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPostgresStore creates a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("record-store"),
	}
}

// ReadCollection returns the collection under key, or empty when the key is
// absent or its payload does not parse.
func (s *PostgresStore) ReadCollection(ctx context.Context, key string) ([]json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "store_read_collection",
		trace.WithAttributes(attribute.String("collection", key)))
	defer span.End()

	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM collections WHERE key = $1`, key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("read collection %s: %w", key, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		s.logger.Warn("collection unreadable, treating as empty",
			zap.String("key", key),
			zap.Error(err))
		return nil, nil
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

// WriteCollection replaces the collection under key.
func (s *PostgresStore) WriteCollection(ctx context.Context, key string, records []json.RawMessage) error {
	ctx, span := s.tracer.Start(ctx, "store_write_collection",
		trace.WithAttributes(
			attribute.String("collection", key),
			attribute.Int("records", len(records)),
		))
	defer span.End()

	if records == nil {
		records = []json.RawMessage{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", key, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO collections (key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = NOW()
	`, key, payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("write collection %s: %w", key, err)
	}
	return nil
}

// WriteCollectionWithEvents replaces the collection and writes the given
// outbox entries in the same transaction, so an observed collection change
// and its published event cannot diverge.
func (s *PostgresStore) WriteCollectionWithEvents(ctx context.Context, key string, records []json.RawMessage, entries []*OutboxEntry) error {
	ctx, span := s.tracer.Start(ctx, "store_write_collection_with_events",
		trace.WithAttributes(
			attribute.String("collection", key),
			attribute.Int("events", len(entries)),
		))
	defer span.End()

	if records == nil {
		records = []json.RawMessage{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", key, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO collections (key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = NOW()
	`, key, payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("write collection %s: %w", key, err)
	}

	for _, entry := range entries {
		if err := WriteEntry(ctx, tx, entry); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
