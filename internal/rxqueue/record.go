// Package rxqueue implements the prescription review queue: submission,
// listing, and the pending/approved/rejected review lifecycle.
package rxqueue

import (
	"encoding/json"
	"time"
)

// Status is the review state of a prescription record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// StatusAll is the list filter wildcard matching every status.
const StatusAll = "all"

// Attachment describes an uploaded prescription file. Only metadata is kept;
// the binary content never enters the store.
type Attachment struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mimeType"`
}

// Nurse is the nurse shape shared with the booking and checkout surfaces.
// Carried through the workflow unchanged.
type Nurse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating,omitempty"`
	Specialization string  `json:"specialization,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	Image          string  `json:"image,omitempty"`
}

// PrescriptionRecord is the unit of work flowing through the review workflow.
//
// ID is caller-assigned, unique within the queue, and never changes; it is the
// sole lookup key. Context is an open bag of whatever the next step needs
// (scheduling date, cart contents, order-type flags); the workflow passes it
// through untouched.
type PrescriptionRecord struct {
	ID          string      `json:"id"`
	PatientName string      `json:"patientName"`
	ServiceType string      `json:"serviceType"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`

	Status          Status     `json:"status"`
	ReviewedBy      string     `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	Price           float64    `json:"price,omitempty"`
	AssignedNurse   *Nurse     `json:"assignedNurse,omitempty"`

	Context map[string]json.RawMessage `json:"context,omitempty"`
}

// Reviewed reports whether the record has left pending.
func (r *PrescriptionRecord) Reviewed() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// PreselectedNurse returns the nurse the patient chose before submission,
// carried in the context bag under "selectedNurse", or nil when absent or
// malformed. This is the middle level of the nurse resolution order.
func (r *PrescriptionRecord) PreselectedNurse() *Nurse {
	raw, ok := r.Context["selectedNurse"]
	if !ok {
		return nil
	}
	nurse := &Nurse{}
	if err := json.Unmarshal(raw, nurse); err != nil || nurse.ID == "" {
		return nil
	}
	return nurse
}

// ContextString returns the named carry-forward field when it holds a JSON
// string, or "" otherwise.
func (r *PrescriptionRecord) ContextString(name string) string {
	raw, ok := r.Context[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
