// Package store provides the record store: durable key-to-JSON-collection
// persistence shared by every actor in the workflow.
package store

import (
	"context"
	"encoding/json"
)

// Well-known collection keys. These names are the persisted contract shared
// with the booking, checkout, and dashboard surfaces.
const (
	KeyPrescriptionQueue = "prescriptionQueue"
	KeyUserBookings      = "userBookings"
	KeyNurseAssignments  = "nurseAssignments"
)

// RecordStore is durable storage for named JSON collections.
//
// A write replaces the whole collection under its key; there is no per-record
// append and no conflict detection, so two writers racing on the same key
// resolve last-write-wins. Callers that need a read-modify-write cycle to be
// atomic must not interleave it with other writers of the same key.
//
// Reads are defensive: a missing key or unparseable stored content yields an
// empty collection, never an error. Stored state may have been hand-edited or
// written by an older version; a corrupt collection must not take the reader
// down with it.
type RecordStore interface {
	ReadCollection(ctx context.Context, key string) ([]json.RawMessage, error)
	WriteCollection(ctx context.Context, key string, records []json.RawMessage) error
}

// EventCollectionWriter is implemented by stores that can replace a collection
// and enqueue outbox entries in one transaction, so the stored state and its
// pending events cannot diverge.
type EventCollectionWriter interface {
	WriteCollectionWithEvents(ctx context.Context, key string, records []json.RawMessage, entries []*OutboxEntry) error
}
