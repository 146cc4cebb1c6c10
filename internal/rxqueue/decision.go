package rxqueue

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the record id is not present in the queue.
	ErrNotFound = errors.New("prescription not found")
	// ErrDuplicateID indicates a submit with an id already in the queue.
	ErrDuplicateID = errors.New("prescription id already exists")
	// ErrAlreadyReviewed indicates a review of a record that has left pending.
	ErrAlreadyReviewed = errors.New("prescription already reviewed")
	// ErrMissingReason indicates a rejection without a reason.
	ErrMissingReason = errors.New("rejection requires a reason")
	// ErrInvalidRecord indicates a submission failing validation.
	ErrInvalidRecord = errors.New("invalid prescription record")
)

// Decision is a review outcome applied to a pending record. The two variants,
// Approve and Reject, are the only implementations; applying either is the
// single place the review invariants are enforced.
type Decision interface {
	apply(rec *PrescriptionRecord, at time.Time) error
}

// Approve transitions a pending record to approved. The reviewer may override
// the requested service type and price and attach a nurse.
type Approve struct {
	Reviewer    string
	Nurse       *Nurse
	ServiceType string
	Price       float64
}

func (d Approve) apply(rec *PrescriptionRecord, at time.Time) error {
	if rec.Status != StatusPending {
		return ErrAlreadyReviewed
	}

	rec.Status = StatusApproved
	rec.ReviewedBy = d.Reviewer
	rec.ReviewedAt = &at
	rec.RejectionReason = ""
	if d.ServiceType != "" {
		rec.ServiceType = d.ServiceType
	}
	if d.Price > 0 {
		rec.Price = d.Price
	}
	if d.Nurse != nil {
		rec.AssignedNurse = d.Nurse
	}
	return nil
}

// Reject transitions a pending record to rejected with a mandatory reason.
// The only recovery path is a brand-new submission under a new id.
type Reject struct {
	Reviewer string
	Reason   string
}

func (d Reject) apply(rec *PrescriptionRecord, at time.Time) error {
	if rec.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	if d.Reason == "" {
		return ErrMissingReason
	}

	rec.Status = StatusRejected
	rec.ReviewedBy = d.Reviewer
	rec.ReviewedAt = &at
	rec.RejectionReason = d.Reason
	rec.AssignedNurse = nil
	return nil
}

// ResolveNurse picks the nurse the continuation proceeds with:
// reviewer-assigned first, then the nurse selected before submission, then
// the fallback default. Exactly three levels, in that order.
func ResolveNurse(rec *PrescriptionRecord, preselected, fallback *Nurse) *Nurse {
	if rec.AssignedNurse != nil {
		return rec.AssignedNurse
	}
	if preselected != nil {
		return preselected
	}
	return fallback
}

// Step is the submitter's next action after a poll.
type Step string

const (
	// StepWait: still pending, keep polling.
	StepWait Step = "wait"
	// StepSelectNurse: approved without a reviewer-assigned nurse.
	StepSelectNurse Step = "select-nurse"
	// StepCheckout: approved with a nurse already attached.
	StepCheckout Step = "checkout"
	// StepResubmit: rejected; forward progress requires a new submission.
	StepResubmit Step = "resubmit"
)

// Continuation is the unlocked next step plus the nurse it proceeds with.
type Continuation struct {
	Step  Step
	Nurse *Nurse
}

// NextStep computes the submitter-side continuation for a record's current
// state. preselected is the nurse chosen before submission, fallback the
// default used when nobody chose one.
func NextStep(rec *PrescriptionRecord, preselected, fallback *Nurse) Continuation {
	switch rec.Status {
	case StatusApproved:
		nurse := ResolveNurse(rec, preselected, fallback)
		if rec.AssignedNurse != nil {
			return Continuation{Step: StepCheckout, Nurse: nurse}
		}
		return Continuation{Step: StepSelectNurse, Nurse: nurse}
	case StatusRejected:
		return Continuation{Step: StepResubmit}
	default:
		return Continuation{Step: StepWait}
	}
}
