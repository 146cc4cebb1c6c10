// Package handlers provides HTTP handlers for the review API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/api/middleware"
	"github.com/homewell/rxreview/internal/observability/metrics"
	"github.com/homewell/rxreview/internal/observe"
	"github.com/homewell/rxreview/internal/rxqueue"
	"github.com/homewell/rxreview/pkg/idempotency"
)

// PrescriptionHandler handles the prescription endpoints.
type PrescriptionHandler struct {
	queue         *rxqueue.Queue
	bookings      *rxqueue.Bookings
	publisher     Publisher
	inbox         *idempotency.Inbox
	metrics       *metrics.Metrics
	watchInterval time.Duration
	logger        *zap.Logger
}

// Publisher is the event surface the handler needs. Nil disables publishing.
type Publisher interface {
	PublishSubmitted(ctx context.Context, rec *rxqueue.PrescriptionRecord) error
	PublishReviewed(ctx context.Context, rec *rxqueue.PrescriptionRecord) error
	PublishBookingCreated(ctx context.Context, booking *rxqueue.BookingRecord) error
}

// Options configures optional collaborators.
type Options struct {
	// Bookings, when set, fans approvals out into booking records inline.
	// Deployments with the assignment worker leave it nil and let the
	// worker consume reviewed events instead.
	Bookings *rxqueue.Bookings
	// Publisher, when set, emits submitted/reviewed events.
	Publisher Publisher
	// Inbox, when set, answers retried submissions with the original result.
	Inbox *idempotency.Inbox
	// Metrics, when set, counts workflow activity.
	Metrics *metrics.Metrics
	// WatchInterval overrides the SSE poll period. Zero uses the default.
	WatchInterval time.Duration
}

// NewPrescriptionHandler creates a handler over the queue.
func NewPrescriptionHandler(queue *rxqueue.Queue, opts Options, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		queue:         queue,
		bookings:      opts.Bookings,
		publisher:     opts.Publisher,
		inbox:         opts.Inbox,
		metrics:       opts.Metrics,
		watchInterval: opts.WatchInterval,
		logger:        logger,
	}
}

// Routes returns the handler routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/review", h.Review)
	r.Get("/{id}/watch", h.Watch)
	return r
}

// SubmitRequest is the request body for submitting a prescription.
type SubmitRequest struct {
	ID          string                     `json:"id,omitempty"`
	PatientName string                     `json:"patientName"`
	ServiceType string                     `json:"serviceType"`
	Attachment  *rxqueue.Attachment        `json:"attachment,omitempty"`
	Price       float64                    `json:"price,omitempty"`
	Context     map[string]json.RawMessage `json:"context,omitempty"`
}

// SubmitResponse is the response for a submission.
type SubmitResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// Submit handles POST /prescriptions.
func (h *PrescriptionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "submit_prescription")
	defer span.End()

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = "RX-" + uuid.New().String()
	}
	span.SetAttributes(attribute.String("prescription_id", req.ID))

	rec := &rxqueue.PrescriptionRecord{
		ID:          req.ID,
		PatientName: req.PatientName,
		ServiceType: req.ServiceType,
		Attachment:  req.Attachment,
		Price:       req.Price,
		Context:     req.Context,
	}

	if h.inbox != nil {
		h.submitIdempotent(ctx, w, r, rec)
		return
	}

	resp, status, errMsg := h.doSubmit(ctx, rec)
	if errMsg != "" {
		h.jsonError(w, errMsg, status)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// submitIdempotent routes a submission through the inbox so a retried upload
// is answered with the original result.
func (h *PrescriptionHandler) submitIdempotent(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *rxqueue.PrescriptionRecord) {
	key := idempotency.GenerateKey(rec.PatientName, rec.ServiceType, time.Now())
	payload, _ := json.Marshal(rec)

	result, err := h.inbox.Process(ctx, key, "submit-prescription", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			resp, status, errMsg := h.doSubmit(ctx, rec)
			if errMsg != "" {
				return nil, &submitError{status: status, message: errMsg}
			}
			return json.Marshal(resp)
		})
	if err != nil {
		var serr *submitError
		if errors.As(err, &serr) {
			h.jsonError(w, serr.message, serr.status)
			return
		}
		if errors.Is(err, idempotency.ErrInProgress) {
			h.jsonError(w, "submission already in progress", http.StatusConflict)
			return
		}
		h.logger.Error("idempotent submit failed", zap.Error(err))
		h.jsonError(w, "failed to submit prescription", http.StatusInternalServerError)
		return
	}

	if !result.IsNew && !result.WasRecovered {
		if h.metrics != nil {
			h.metrics.DuplicateSubmissions.Inc()
		}
		var resp SubmitResponse
		if json.Unmarshal(result.Result, &resp) == nil {
			resp.Duplicate = true
			h.writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	var resp SubmitResponse
	if err := json.Unmarshal(result.Result, &resp); err != nil {
		h.jsonError(w, "failed to submit prescription", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *PrescriptionHandler) doSubmit(ctx context.Context, rec *rxqueue.PrescriptionRecord) (*SubmitResponse, int, string) {
	id, err := h.queue.Submit(ctx, rec)
	switch {
	case errors.Is(err, rxqueue.ErrInvalidRecord):
		return nil, http.StatusBadRequest, err.Error()
	case errors.Is(err, rxqueue.ErrDuplicateID):
		if h.metrics != nil {
			h.metrics.DuplicateSubmissions.Inc()
		}
		return nil, http.StatusConflict, err.Error()
	case err != nil:
		h.logger.Error("submit failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		return nil, http.StatusInternalServerError, "failed to submit prescription"
	}

	if h.metrics != nil {
		h.metrics.SubmissionsTotal.Inc()
		h.metrics.PendingRecords.Inc()
	}
	if h.publisher != nil {
		if err := h.publisher.PublishSubmitted(ctx, rec); err != nil {
			h.logger.Warn("submitted event not published",
				zap.String("id", id), zap.Error(err))
		} else if h.metrics != nil {
			h.metrics.EventsPublished.Inc()
		}
	}

	return &SubmitResponse{
		ID:        id,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
	}, 0, ""
}

// List handles GET /prescriptions?status=&q=.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	if filter == "" {
		filter = rxqueue.StatusAll
	}
	search := r.URL.Query().Get("q")

	records, err := h.queue.ListByStatus(r.Context(), filter, search)
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		h.jsonError(w, "failed to list prescriptions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// Get handles GET /prescriptions/{id}.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, rxqueue.ErrNotFound) {
			h.jsonError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		h.jsonError(w, "failed to load prescription", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// ReviewRequest is the request body for a review decision.
type ReviewRequest struct {
	Decision        string         `json:"decision"`
	Reviewer        string         `json:"reviewer"`
	Nurse           *rxqueue.Nurse `json:"nurse,omitempty"`
	ServiceType     string         `json:"serviceType,omitempty"`
	Price           float64        `json:"price,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
}

// Review handles POST /prescriptions/{id}/review.
func (h *PrescriptionHandler) Review(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var decision rxqueue.Decision
	switch req.Decision {
	case string(rxqueue.StatusApproved):
		decision = rxqueue.Approve{
			Reviewer:    req.Reviewer,
			Nurse:       req.Nurse,
			ServiceType: req.ServiceType,
			Price:       req.Price,
		}
	case string(rxqueue.StatusRejected):
		decision = rxqueue.Reject{
			Reviewer: req.Reviewer,
			Reason:   req.RejectionReason,
		}
	default:
		h.jsonError(w, "decision must be approved or rejected", http.StatusBadRequest)
		return
	}

	rec, err := h.queue.Review(ctx, id, decision)
	switch {
	case errors.Is(err, rxqueue.ErrNotFound):
		h.jsonError(w, "prescription not found", http.StatusNotFound)
		return
	case errors.Is(err, rxqueue.ErrAlreadyReviewed):
		h.jsonError(w, "prescription already reviewed", http.StatusConflict)
		return
	case errors.Is(err, rxqueue.ErrMissingReason):
		h.jsonError(w, "rejection requires a reason", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("review failed", zap.Error(err))
		h.jsonError(w, "failed to review prescription", http.StatusInternalServerError)
		return
	}

	h.recordReviewMetrics(rec)

	if h.publisher != nil {
		if err := h.publisher.PublishReviewed(ctx, rec); err != nil {
			h.logger.Warn("reviewed event not published",
				zap.String("id", rec.ID), zap.Error(err))
		} else if h.metrics != nil {
			h.metrics.EventsPublished.Inc()
		}
	}

	// Inline fan-out for deployments without the assignment worker.
	if h.bookings != nil && rec.Status == rxqueue.StatusApproved {
		booking, err := h.bookings.CreateFromApproval(ctx, rec, rec.PreselectedNurse())
		if err != nil {
			h.logger.Error("booking fan-out failed",
				zap.String("id", rec.ID), zap.Error(err))
		} else {
			if h.metrics != nil {
				h.metrics.BookingsCreated.Inc()
			}
			if h.publisher != nil {
				if err := h.publisher.PublishBookingCreated(ctx, booking); err != nil {
					h.logger.Warn("booking event not published",
						zap.String("booking_id", booking.ID), zap.Error(err))
				}
			}
		}
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *PrescriptionHandler) recordReviewMetrics(rec *rxqueue.PrescriptionRecord) {
	if h.metrics == nil {
		return
	}
	h.metrics.PendingRecords.Dec()
	switch rec.Status {
	case rxqueue.StatusApproved:
		h.metrics.ApprovalsTotal.Inc()
	case rxqueue.StatusRejected:
		h.metrics.RejectionsTotal.Inc()
	}
	if rec.ReviewedAt != nil {
		h.metrics.ReviewLatency.Observe(rec.ReviewedAt.Sub(rec.CreatedAt).Seconds())
	}
}

// Watch handles GET /prescriptions/{id}/watch: a server-sent-events stream
// of the record's state, emitted on every observed change. The underlying
// watcher stops when the client disconnects.
func (h *PrescriptionHandler) Watch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	watcher := observe.NewWatcher(h.queue, id, h.watchInterval, h.logger)
	watcher.Start()
	defer watcher.Stop()

	if h.metrics != nil {
		h.metrics.ActiveWatchers.Inc()
		defer h.metrics.ActiveWatchers.Dec()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-watcher.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type submitError struct {
	status  int
	message string
}

func (e *submitError) Error() string { return e.message }

func (h *PrescriptionHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *PrescriptionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
