package rxqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homewell/rxreview/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	return NewQueue(st, nil), st
}

func pendingRecord(id, patient, service string) *PrescriptionRecord {
	return &PrescriptionRecord{
		ID:          id,
		PatientName: patient,
		ServiceType: service,
		Attachment:  &Attachment{FileName: "rx.pdf", Size: 2048, MIMEType: "application/pdf"},
	}
}

func TestSubmitThenGetRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, pendingRecord("RX-1", "Sarah Johnson", "Wound Care"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "RX-1" {
		t.Fatalf("expected RX-1, got %s", id)
	}

	rec, err := q.Get(ctx, "RX-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("expected pending, got %s", rec.Status)
	}
	if rec.PatientName != "Sarah Johnson" {
		t.Errorf("expected Sarah Johnson, got %s", rec.PatientName)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if rec.Reviewed() {
		t.Error("fresh submission must not be reviewed")
	}
}

func TestSubmitForcesPendingAndClearsReviewFields(t *testing.T) {
	q, _ := newTestQueue(t)

	rec := pendingRecord("RX-1", "Sarah Johnson", "Wound Care")
	now := time.Now()
	rec.Status = StatusApproved
	rec.ReviewedBy = "mallory"
	rec.ReviewedAt = &now
	rec.RejectionReason = "stale"

	if _, err := q.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := q.Get(context.Background(), "RX-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("submit must force pending, got %s", got.Status)
	}
	if got.ReviewedBy != "" || got.ReviewedAt != nil || got.RejectionReason != "" {
		t.Error("submit must clear review fields")
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, pendingRecord("RX-1", "Sarah Johnson", "Wound Care")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	_, err := q.Submit(ctx, pendingRecord("RX-1", "Michael Chen", "Physiotherapy"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	records, err := q.ListByStatus(ctx, StatusAll, "")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("duplicate submit must not append, got %d records", len(records))
	}
}

func TestSubmitValidation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rec  *PrescriptionRecord
	}{
		{"missing id", pendingRecord("", "Sarah Johnson", "Wound Care")},
		{"missing patient", pendingRecord("RX-1", "  ", "Wound Care")},
		{"missing service", pendingRecord("RX-1", "Sarah Johnson", "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := q.Submit(ctx, tc.rec); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Get(context.Background(), "RX-404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByStatusFilterAndSearch(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	seed := []*PrescriptionRecord{
		pendingRecord("RX-1", "Sarah Johnson", "Wound Care"),
		pendingRecord("RX-2", "Michael Chen", "Physiotherapy"),
		pendingRecord("RX-3", "Emily Davis", "Elderly Care"),
	}
	for _, rec := range seed {
		if _, err := q.Submit(ctx, rec); err != nil {
			t.Fatalf("Submit %s failed: %v", rec.ID, err)
		}
	}
	if _, err := q.Review(ctx, "RX-2", Approve{Reviewer: "dr.patel"}); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	pending, err := q.ListByStatus(ctx, string(StatusPending), "")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}

	all, err := q.ListByStatus(ctx, StatusAll, "")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	// Insertion order preserved.
	for i, want := range []string{"RX-1", "RX-2", "RX-3"} {
		if all[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, all[i].ID)
		}
	}

	// Search is case-insensitive across patient name and service type.
	byName, err := q.ListByStatus(ctx, "", "sarah")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != "RX-1" {
		t.Errorf("expected RX-1 for search sarah, got %v", byName)
	}

	byService, err := q.ListByStatus(ctx, "", "CARE")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(byService) != 2 {
		t.Errorf("expected 2 records for search CARE, got %d", len(byService))
	}
}

func TestReadIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, pendingRecord("RX-1", "Sarah Johnson", "Wound Care")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	first, err := q.Get(ctx, "RX-1")
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	second, err := q.Get(ctx, "RX-1")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if first.Status != second.Status || first.PatientName != second.PatientName {
		t.Error("repeated reads must observe the same state")
	}
}

func TestReviewNotFound(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Review(context.Background(), "RX-404", Approve{Reviewer: "dr.patel"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApprovalScenario(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, pendingRecord("RX-1", "Sarah Johnson", "Wound Care")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	nurse := &Nurse{ID: "NR-1042", Name: "Anita Verma", Rating: 4.9, Specialization: "Wound Care"}
	rec, err := q.Review(ctx, "RX-1", Approve{
		Reviewer:    "dr.patel",
		Nurse:       nurse,
		ServiceType: "Advanced Wound Care",
		Price:       149.0,
	})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if rec.Status != StatusApproved {
		t.Errorf("expected approved, got %s", rec.Status)
	}
	if rec.ReviewedBy != "dr.patel" {
		t.Errorf("expected reviewer dr.patel, got %s", rec.ReviewedBy)
	}
	if rec.ReviewedAt == nil {
		t.Error("expected ReviewedAt to be set")
	}
	if rec.ServiceType != "Advanced Wound Care" {
		t.Errorf("expected service override, got %s", rec.ServiceType)
	}
	if rec.Price != 149.0 {
		t.Errorf("expected price override, got %f", rec.Price)
	}
	if rec.AssignedNurse == nil || rec.AssignedNurse.ID != "NR-1042" {
		t.Error("expected reviewer-assigned nurse")
	}
	if rec.RejectionReason != "" {
		t.Error("approved record must carry no rejection reason")
	}

	// The transition is persisted, not just returned.
	stored, err := q.Get(ctx, "RX-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != StatusApproved {
		t.Errorf("expected persisted approved, got %s", stored.Status)
	}
}

func TestRejectionScenario(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, pendingRecord("RX-2", "Michael Chen", "Physiotherapy")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rec, err := q.Review(ctx, "RX-2", Reject{Reviewer: "dr.patel", Reason: "prescription image unreadable"})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if rec.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", rec.Status)
	}
	if rec.RejectionReason != "prescription image unreadable" {
		t.Errorf("unexpected reason: %s", rec.RejectionReason)
	}
	if rec.AssignedNurse != nil {
		t.Error("rejected record must not keep a nurse assignment")
	}

	// Terminal: a second decision on either branch fails.
	if _, err := q.Review(ctx, "RX-2", Approve{Reviewer: "dr.patel"}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("expected ErrAlreadyReviewed, got %v", err)
	}
}

func TestCorruptStorageReadsAsEmptyQueue(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	st.SetRaw(store.KeyPrescriptionQueue, []byte(`}{garbage`))

	records, err := q.ListByStatus(ctx, StatusAll, "")
	if err != nil {
		t.Fatalf("corrupt storage must not raise, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue, got %d records", len(records))
	}

	// The queue stays writable after corruption.
	if _, err := q.Submit(ctx, pendingRecord("RX-1", "Sarah Johnson", "Wound Care")); err != nil {
		t.Fatalf("Submit after corruption failed: %v", err)
	}
	records, err = q.ListByStatus(ctx, StatusAll, "")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record after resubmit, got %d", len(records))
	}
}
