package rxqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/store"
)

// BookingStatus is the lifecycle of a downstream booking record. Bookings are
// created confirmed; completion and cancellation belong to flows outside this
// service.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingEmergency BookingStatus = "emergency"
)

// ErrNotApproved indicates booking creation from a record that is not approved.
var ErrNotApproved = errors.New("prescription is not approved")

// BookingRecord is the userBookings entry created once a prescription is
// approved, carrying price, nurse, and scheduling fields forward.
type BookingRecord struct {
	ID             string        `json:"id"`
	PrescriptionID string        `json:"prescriptionId"`
	PatientName    string        `json:"patientName"`
	ServiceType    string        `json:"serviceType"`
	Price          float64       `json:"price,omitempty"`
	Nurse          *Nurse        `json:"nurse,omitempty"`
	Date           string        `json:"date,omitempty"`
	Time           string        `json:"time,omitempty"`
	Status         BookingStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// NurseAssignment mirrors a booking for the nurse-facing dashboard.
type NurseAssignment struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"bookingId"`
	PatientName string    `json:"patientName"`
	ServiceType string    `json:"serviceType"`
	Nurse       *Nurse    `json:"nurse,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Notes       string    `json:"notes,omitempty"`
	Symptoms    string    `json:"symptoms,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FallbackNurse is the default used when neither the reviewer nor the patient
// attached one.
var FallbackNurse = &Nurse{
	ID:             "NR-0000",
	Name:           "On-Call Nurse",
	Rating:         4.5,
	Specialization: "General Home Care",
	Phone:          "+1-800-555-0199",
}

// Bookings writes the downstream booking and nurse-assignment collections.
type Bookings struct {
	store  store.RecordStore
	logger *zap.Logger
	now    func() time.Time
}

// NewBookings creates a booking writer over the given store.
func NewBookings(st store.RecordStore, logger *zap.Logger) *Bookings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bookings{store: st, logger: logger, now: time.Now}
}

// CreateFromApproval appends a confirmed booking to userBookings and its
// mirror to nurseAssignments for an approved prescription. The nurse is
// resolved reviewer-assigned first, then preselected, then FallbackNurse.
// Scheduling date/time and notes/symptoms come from the record's carry-forward
// context when present.
func (b *Bookings) CreateFromApproval(ctx context.Context, rec *PrescriptionRecord, preselected *Nurse) (*BookingRecord, error) {
	if rec.Status != StatusApproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, rec.ID, rec.Status)
	}

	nurse := ResolveNurse(rec, preselected, FallbackNurse)
	now := b.now().UTC()

	booking := &BookingRecord{
		ID:             uuid.New().String(),
		PrescriptionID: rec.ID,
		PatientName:    rec.PatientName,
		ServiceType:    rec.ServiceType,
		Price:          rec.Price,
		Nurse:          nurse,
		Date:           rec.ContextString("date"),
		Time:           rec.ContextString("time"),
		Status:         BookingConfirmed,
		CreatedAt:      now,
	}
	if err := b.append(ctx, store.KeyUserBookings, booking); err != nil {
		return nil, err
	}

	priority := rec.ContextString("priority")
	if priority == "" {
		priority = "normal"
	}
	assignment := &NurseAssignment{
		ID:          uuid.New().String(),
		BookingID:   booking.ID,
		PatientName: rec.PatientName,
		ServiceType: rec.ServiceType,
		Nurse:       nurse,
		Status:      string(BookingConfirmed),
		Priority:    priority,
		Notes:       rec.ContextString("notes"),
		Symptoms:    rec.ContextString("symptoms"),
		CreatedAt:   now,
	}
	if err := b.append(ctx, store.KeyNurseAssignments, assignment); err != nil {
		return nil, err
	}

	b.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("prescription_id", rec.ID),
		zap.String("nurse", nurse.Name))
	return booking, nil
}

func (b *Bookings) append(ctx context.Context, key string, record interface{}) error {
	entries, err := b.store.ReadCollection(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}

	entry, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", key, err)
	}

	entries = append(entries, entry)
	if err := b.store.WriteCollection(ctx, key, entries); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
