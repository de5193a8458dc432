/*
handlers.go - HTTP API handlers for the scheduling engine

PURPOSE:
  Exposes the orders service via REST. Handles HTTP request/response and
  JSON serialization; all scheduling rules live in orders and engine.

ENDPOINTS:
  Identifiers:
    POST   /api/identifiers/allocate       Mint the next order identifier

  Queue:
    GET    /api/queue                      Ranked work queue
    POST   /api/queue/items                Create a work item
    GET    /api/queue/items/{id}           Get one work item
    POST   /api/queue/items/{id}/priority-change  Record a priority change

  Capacity:
    GET    /api/capacity/{pool}?date=      Committed units vs quota
    POST   /api/capacity/{pool}/reserve    Try to reserve one unit
    POST   /api/capacity/{pool}/release    Release one unit

  Adjustments:
    POST   /api/adjustments/run            Trigger a scheduling pass
    GET    /api/adjustments/passes         Pass audit trail

  Admin:
    POST   /api/admin/calibrate            Recalibrate the period epoch
    GET    /api/admin/calibrations         Calibration audit trail

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Unknown work item
  - 503: Backing store unavailable (retryable; no state change occurred)
  - 409: Allocation conflict that survived the retry budget
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/production-engine/engine"
	"github.com/warp/production-engine/orders"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *orders.Service

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewHandler creates a new handler over the orders service.
func NewHandler(service *orders.Service) *Handler {
	return &Handler{Service: service, Now: time.Now}
}

// =============================================================================
// IDENTIFIER HANDLERS
// =============================================================================

// AllocateIdentifier mints the next identifier for a kind.
func (h *Handler) AllocateIdentifier(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Kind == "" {
		req.Kind = "order"
	}

	now := h.Now()
	id, err := h.Service.AllocateIdentifier(r.Context(), req.Kind, engine.Identifier(req.LastIdentifier), now)
	if err != nil {
		writeServiceError(w, "Failed to allocate identifier", err)
		return
	}

	writeJSON(w, http.StatusOK, AllocateResponse{
		Identifier: string(id),
		PeriodCode: string(h.Service.Codec().CurrentCode(now)),
	})
}

// =============================================================================
// QUEUE HANDLERS
// =============================================================================

// GetQueue returns the work queue in priority order.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	items, err := h.Service.RankedQueue(r.Context(), now)
	if err != nil {
		writeServiceError(w, "Failed to rank queue", err)
		return
	}

	dtos := make([]WorkItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toWorkItemDTO(item, h.Service.AdjustmentStatus(item, now))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWorkItem enters a new order into the queue.
func (h *Handler) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Kind == "" {
		req.Kind = "order"
	}

	dueDate, err := engine.ParseDay(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}

	now := h.Now()
	item, err := h.Service.CreateWorkItem(r.Context(), req.Kind, dueDate, req.NeedsAdjustment, now)
	if err != nil {
		writeServiceError(w, "Failed to create work item", err)
		return
	}

	writeJSON(w, http.StatusCreated, toWorkItemDTO(item, h.Service.AdjustmentStatus(item, now)))
}

// GetWorkItem returns a single work item.
func (h *Handler) GetWorkItem(w http.ResponseWriter, r *http.Request) {
	id := engine.Identifier(chi.URLParam(r, "id"))

	item, err := h.Service.GetWorkItem(r.Context(), id)
	if errors.Is(err, engine.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "Work item not found", nil)
		return
	}
	if err != nil {
		writeServiceError(w, "Failed to get work item", err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkItemDTO(item, h.Service.AdjustmentStatus(item, h.Now())))
}

// MarkPriorityChanged records an out-of-band priority change on an item.
func (h *Handler) MarkPriorityChanged(w http.ResponseWriter, r *http.Request) {
	id := engine.Identifier(chi.URLParam(r, "id"))

	item, err := h.Service.MarkPriorityChanged(r.Context(), id, h.Now())
	if errors.Is(err, engine.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "Work item not found", nil)
		return
	}
	if err != nil {
		writeServiceError(w, "Failed to record priority change", err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkItemDTO(item, h.Service.AdjustmentStatus(item, h.Now())))
}

// =============================================================================
// CAPACITY HANDLERS
// =============================================================================

func (h *Handler) capacityDate(r *http.Request) (engine.TimePoint, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return engine.DayOf(h.Now()), nil
	}
	return engine.ParseDay(raw)
}

// GetCapacityStatus reports committed units vs quota.
func (h *Handler) GetCapacityStatus(w http.ResponseWriter, r *http.Request) {
	pool := engine.PoolKey(chi.URLParam(r, "pool"))
	date, err := h.capacityDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	count, quota, err := h.Service.CapacityStatus(r.Context(), pool, date)
	if err != nil {
		writeServiceError(w, "Failed to get capacity status", err)
		return
	}

	writeJSON(w, http.StatusOK, CapacityStatusDTO{
		Pool:      string(pool),
		Date:      date.String(),
		Count:     count,
		Quota:     quota,
		Available: count < quota,
	})
}

// ReserveCapacity tries to commit one unit. Exhaustion is a 200 with
// reserved=false, not an error.
func (h *Handler) ReserveCapacity(w http.ResponseWriter, r *http.Request) {
	pool := engine.PoolKey(chi.URLParam(r, "pool"))
	date, err := h.capacityDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	reserved, err := h.Service.TryReserveCapacity(r.Context(), pool, date)
	if err != nil {
		writeServiceError(w, "Failed to reserve capacity", err)
		return
	}

	count, quota, err := h.Service.CapacityStatus(r.Context(), pool, date)
	if err != nil {
		writeServiceError(w, "Failed to get capacity status", err)
		return
	}

	writeJSON(w, http.StatusOK, ReserveResponse{Reserved: reserved, Count: count, Quota: quota})
}

// ReleaseCapacity returns one unit.
func (h *Handler) ReleaseCapacity(w http.ResponseWriter, r *http.Request) {
	pool := engine.PoolKey(chi.URLParam(r, "pool"))
	date, err := h.capacityDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	if err := h.Service.ReleaseCapacity(r.Context(), pool, date); err != nil {
		writeServiceError(w, "Failed to release capacity", err)
		return
	}

	count, quota, err := h.Service.CapacityStatus(r.Context(), pool, date)
	if err != nil {
		writeServiceError(w, "Failed to get capacity status", err)
		return
	}

	writeJSON(w, http.StatusOK, ReserveResponse{Reserved: false, Count: count, Quota: quota})
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// RunAdjustmentPass triggers an immediate scheduling pass.
func (h *Handler) RunAdjustmentPass(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.RunAdjustmentPass(r.Context(), h.Now())
	if err != nil {
		writeServiceError(w, "Failed to run adjustment pass", err)
		return
	}
	writeJSON(w, http.StatusOK, toPassDTO(rec))
}

// ListPasses returns the adjustment pass audit trail.
func (h *Handler) ListPasses(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.Passes(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list passes", err)
		return
	}

	dtos := make([]PassDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toPassDTO(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": dtos})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Calibrate re-derives the period epoch from "today is period X".
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf := engine.DayOf(h.Now())
	if req.AsOf != "" {
		var err error
		if asOf, err = engine.ParseDay(req.AsOf); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	run, err := h.Service.Calibrate(r.Context(), asOf, engine.PeriodCode(req.PeriodCode), req.Actor)
	if errors.Is(err, engine.ErrInvalidPeriodCode) {
		writeError(w, http.StatusBadRequest, "Invalid period code (use two letters A-Z)", err)
		return
	}
	if err != nil {
		writeServiceError(w, "Failed to calibrate", err)
		return
	}

	writeJSON(w, http.StatusOK, toCalibrationDTO(run))
}

// ListCalibrations returns the calibration audit trail.
func (h *Handler) ListCalibrations(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Service.Calibrations(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list calibrations", err)
		return
	}

	dtos := make([]CalibrationDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toCalibrationDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"calibrations": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps engine failure kinds to HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, message, err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
