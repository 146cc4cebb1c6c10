package rxqueue

import (
	"errors"
	"testing"
	"time"
)

func TestApproveRequiresPending(t *testing.T) {
	at := time.Now().UTC()

	for _, status := range []Status{StatusApproved, StatusRejected} {
		rec := &PrescriptionRecord{ID: "RX-1", Status: status}
		err := Approve{Reviewer: "dr.patel"}.apply(rec, at)
		if !errors.Is(err, ErrAlreadyReviewed) {
			t.Errorf("status %s: expected ErrAlreadyReviewed, got %v", status, err)
		}
		if rec.Status != status {
			t.Errorf("status %s: failed decision must not mutate the record", status)
		}
	}
}

func TestRejectRequiresPendingAndReason(t *testing.T) {
	at := time.Now().UTC()

	rec := &PrescriptionRecord{ID: "RX-1", Status: StatusPending}
	if err := (Reject{Reviewer: "dr.patel"}).apply(rec, at); !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
	if rec.Status != StatusPending {
		t.Error("failed rejection must leave the record pending")
	}

	rec.Status = StatusApproved
	err := Reject{Reviewer: "dr.patel", Reason: "illegible"}.apply(rec, at)
	if !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
}

func TestRejectionReasonOnlyOnRejected(t *testing.T) {
	at := time.Now().UTC()

	rec := &PrescriptionRecord{ID: "RX-1", Status: StatusPending}
	if err := (Reject{Reviewer: "dr.patel", Reason: "expired prescription"}).apply(rec, at); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rec.RejectionReason != "expired prescription" {
		t.Errorf("unexpected reason: %s", rec.RejectionReason)
	}

	rec = &PrescriptionRecord{ID: "RX-2", Status: StatusPending, RejectionReason: "stale"}
	if err := (Approve{Reviewer: "dr.patel"}).apply(rec, at); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if rec.RejectionReason != "" {
		t.Error("approval must clear any rejection reason")
	}
}

func TestApproveOverridesAreOptional(t *testing.T) {
	at := time.Now().UTC()

	rec := &PrescriptionRecord{
		ID:          "RX-1",
		Status:      StatusPending,
		ServiceType: "Wound Care",
		Price:       99.0,
	}
	if err := (Approve{Reviewer: "dr.patel"}).apply(rec, at); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if rec.ServiceType != "Wound Care" || rec.Price != 99.0 {
		t.Error("empty overrides must leave the requested values intact")
	}
	if rec.AssignedNurse != nil {
		t.Error("no nurse was assigned")
	}
}

func TestResolveNursePriority(t *testing.T) {
	assigned := &Nurse{ID: "NR-A", Name: "Assigned"}
	preselected := &Nurse{ID: "NR-B", Name: "Preselected"}
	fallback := &Nurse{ID: "NR-C", Name: "Fallback"}

	rec := &PrescriptionRecord{AssignedNurse: assigned}
	if got := ResolveNurse(rec, preselected, fallback); got.ID != "NR-A" {
		t.Errorf("reviewer-assigned nurse must win, got %s", got.ID)
	}

	rec = &PrescriptionRecord{}
	if got := ResolveNurse(rec, preselected, fallback); got.ID != "NR-B" {
		t.Errorf("preselected nurse must beat the fallback, got %s", got.ID)
	}

	if got := ResolveNurse(rec, nil, fallback); got.ID != "NR-C" {
		t.Errorf("expected fallback, got %s", got.ID)
	}
}

func TestNextStep(t *testing.T) {
	fallback := &Nurse{ID: "NR-C"}
	assigned := &Nurse{ID: "NR-A"}

	cases := []struct {
		name string
		rec  *PrescriptionRecord
		want Step
	}{
		{"pending waits", &PrescriptionRecord{Status: StatusPending}, StepWait},
		{"approved with nurse checks out", &PrescriptionRecord{Status: StatusApproved, AssignedNurse: assigned}, StepCheckout},
		{"approved without nurse selects", &PrescriptionRecord{Status: StatusApproved}, StepSelectNurse},
		{"rejected resubmits", &PrescriptionRecord{Status: StatusRejected}, StepResubmit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextStep(tc.rec, nil, fallback)
			if got.Step != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got.Step)
			}
		})
	}

	cont := NextStep(&PrescriptionRecord{Status: StatusApproved, AssignedNurse: assigned}, nil, fallback)
	if cont.Nurse == nil || cont.Nurse.ID != "NR-A" {
		t.Error("checkout continuation must carry the assigned nurse")
	}
}

// Status only ever moves forward: pending to a terminal state, never back,
// never terminal to terminal.
func TestStatusMonotonicity(t *testing.T) {
	at := time.Now().UTC()
	decisions := []Decision{
		Approve{Reviewer: "dr.patel"},
		Reject{Reviewer: "dr.patel", Reason: "illegible"},
	}

	for _, first := range decisions {
		rec := &PrescriptionRecord{ID: "RX-1", Status: StatusPending}
		if err := first.apply(rec, at); err != nil {
			t.Fatalf("first decision failed: %v", err)
		}
		terminal := rec.Status

		for _, second := range decisions {
			if err := second.apply(rec, at); !errors.Is(err, ErrAlreadyReviewed) {
				t.Errorf("expected ErrAlreadyReviewed after %s, got %v", terminal, err)
			}
			if rec.Status != terminal {
				t.Errorf("terminal status %s must not change", terminal)
			}
		}
	}
}
