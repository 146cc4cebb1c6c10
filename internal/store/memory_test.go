package store

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	records := []json.RawMessage{
		json.RawMessage(`{"id":"RX-1","patientName":"Sarah Johnson"}`),
		json.RawMessage(`{"id":"RX-2","patientName":"Michael Chen"}`),
	}

	if err := s.WriteCollection(ctx, KeyPrescriptionQueue, records); err != nil {
		t.Fatalf("WriteCollection failed: %v", err)
	}

	got, err := s.ReadCollection(ctx, KeyPrescriptionQueue)
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	var first struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(got[0], &first); err != nil {
		t.Fatalf("unmarshal first record: %v", err)
	}
	if first.ID != "RX-1" {
		t.Errorf("expected RX-1, got %s", first.ID)
	}
}

func TestMemoryStoreAbsentKey(t *testing.T) {
	s := NewMemoryStore(nil)

	got, err := s.ReadCollection(context.Background(), "neverWritten")
	if err != nil {
		t.Fatalf("expected no error for absent key, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty collection, got %d records", len(got))
	}
}

func TestMemoryStoreCorruptPayloadReadsEmpty(t *testing.T) {
	s := NewMemoryStore(nil)
	s.SetRaw(KeyPrescriptionQueue, []byte(`{not valid json`))

	got, err := s.ReadCollection(context.Background(), KeyPrescriptionQueue)
	if err != nil {
		t.Fatalf("corrupt payload must not raise, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty collection for corrupt payload, got %d records", len(got))
	}
}

func TestMemoryStoreWholeCollectionReplace(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.WriteCollection(ctx, KeyUserBookings, []json.RawMessage{
		json.RawMessage(`{"id":"a"}`),
		json.RawMessage(`{"id":"b"}`),
	}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	if err := s.WriteCollection(ctx, KeyUserBookings, []json.RawMessage{
		json.RawMessage(`{"id":"c"}`),
	}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, err := s.ReadCollection(ctx, KeyUserBookings)
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("second write must replace the collection, got %d records", len(got))
	}
}
