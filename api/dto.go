/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication. These types decouple the engine
  model from the external contract so fields can evolve without breaking
  clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/production-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AllocateRequest asks for the next identifier of a kind.
type AllocateRequest struct {
	Kind           string `json:"kind"`
	LastIdentifier string `json:"last_identifier,omitempty"`
}

// AllocateResponse carries the minted identifier and its period code.
type AllocateResponse struct {
	Identifier string `json:"identifier"`
	PeriodCode string `json:"period_code"`
}

// CreateWorkItemRequest enters a new order into the queue.
type CreateWorkItemRequest struct {
	Kind            string `json:"kind"`
	DueDate         string `json:"due_date"` // YYYY-MM-DD
	NeedsAdjustment bool   `json:"needs_adjustment"`
}

// WorkItemDTO represents a queued order in API responses.
type WorkItemDTO struct {
	Identifier         string `json:"identifier"`
	DueDate            string `json:"due_date"`
	EntryIndex         int    `json:"entry_index"`
	Score              int    `json:"score"`
	Urgency            string `json:"urgency"`
	NeedsAdjustment    bool   `json:"needs_adjustment"`
	AdjustmentStatus   string `json:"adjustment_status"`
	NextAdjustmentDate string `json:"next_adjustment_date,omitempty"`
	AdjustmentReason   string `json:"adjustment_reason,omitempty"`
}

// CapacityStatusDTO reports committed units vs quota for one pool/date.
type CapacityStatusDTO struct {
	Pool      string `json:"pool"`
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Quota     int    `json:"quota"`
	Available bool   `json:"available"`
}

// ReserveResponse is the defined boolean outcome of a reservation attempt.
type ReserveResponse struct {
	Reserved bool `json:"reserved"`
	Count    int  `json:"count"`
	Quota    int  `json:"quota"`
}

// CalibrateRequest pins today's period code.
type CalibrateRequest struct {
	PeriodCode string `json:"period_code"`
	AsOf       string `json:"as_of,omitempty"` // YYYY-MM-DD, default today
	Actor      string `json:"actor,omitempty"`
}

// CalibrationDTO is one audit entry of the epoch recalibration trail.
type CalibrationDTO struct {
	ID            string `json:"id"`
	RequestedCode string `json:"requested_code"`
	AsOf          string `json:"as_of"`
	PreviousEpoch string `json:"previous_epoch"`
	NewEpoch      string `json:"new_epoch"`
	Actor         string `json:"actor,omitempty"`
	RanAt         string `json:"ran_at"`
}

// PassDTO summarizes one adjustment scheduling pass.
type PassDTO struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	Evaluated   int    `json:"evaluated"`
	Escalated   int    `json:"escalated"`
	Recurring   int    `json:"recurring"`
	Deferred    int    `json:"deferred"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toWorkItemDTO(item engine.WorkItem, status engine.AdjustmentStatus) WorkItemDTO {
	dto := WorkItemDTO{
		Identifier:       string(item.ID),
		DueDate:          item.DueDate.String(),
		EntryIndex:       item.EntryIndex,
		Score:            item.Score,
		Urgency:          string(item.Urgency),
		NeedsAdjustment:  item.NeedsAdjustment,
		AdjustmentStatus: string(status),
		AdjustmentReason: item.AdjustmentReason,
	}
	if !item.NextAdjustmentDate.IsZero() {
		dto.NextAdjustmentDate = item.NextAdjustmentDate.String()
	}
	return dto
}

func toCalibrationDTO(run engine.CalibrationRun) CalibrationDTO {
	return CalibrationDTO{
		ID:            run.ID,
		RequestedCode: string(run.RequestedCode),
		AsOf:          run.AsOf.String(),
		PreviousEpoch: run.PreviousEpoch.Format("2006-01-02"),
		NewEpoch:      run.NewEpoch.Format("2006-01-02"),
		Actor:         run.Actor,
		RanAt:         run.RanAt.Format(time.RFC3339),
	}
}

func toPassDTO(rec engine.PassRecord) PassDTO {
	return PassDTO{
		ID:          rec.ID,
		StartedAt:   rec.StartedAt.Format(time.RFC3339),
		CompletedAt: rec.CompletedAt.Format(time.RFC3339),
		Evaluated:   rec.Evaluated,
		Escalated:   rec.Escalated,
		Recurring:   rec.Recurring,
		Deferred:    rec.Deferred,
	}
}
