package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore keeps collections in a process-local map. It models the single
// shared key-value namespace the workflow originally ran against: every actor
// in the process sees the same collections, and a write is immediately visible
// to every reader. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		data:   make(map[string][]byte),
		logger: logger,
	}
}

// ReadCollection returns the collection under key. A missing key or content
// that does not parse as a JSON array reads as empty.
func (s *MemoryStore) ReadCollection(ctx context.Context, key string) ([]json.RawMessage, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.Warn("collection unreadable, treating as empty",
			zap.String("key", key),
			zap.Error(err))
		return nil, nil
	}
	return records, nil
}

// WriteCollection replaces the collection under key.
func (s *MemoryStore) WriteCollection(ctx context.Context, key string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

// SetRaw stores arbitrary bytes under key, bypassing serialization. Used to
// simulate hand-edited or version-skewed stored state.
func (s *MemoryStore) SetRaw(key string, raw []byte) {
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
}
