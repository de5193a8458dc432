/*
Package engine provides the core production identifier and queue scheduling engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind the
  order-tracking application: time-windowed identifier minting, priority
  ranking of the work queue, per-pool daily capacity gating, the recurring
  deferred-adjustment schedule, and the queue sync event bus.

KEY CONCEPTS IN THIS FILE (types.go):
  - PeriodCode: two-letter code naming a fixed-length identifier window
  - Identifier: PeriodCode + zero-padded 3-digit sequence (e.g. "AN007")
  - WorkItem: a queued production order with due date and adjustment state
  - SyncEvent: an immutable cache-invalidation notification

DESIGN PRINCIPLES:
  1. Scores are derived: a WorkItem's priority score is recomputed from its
     due date and entry index, never treated as source of truth
  2. Events are immutable once published
  3. The durable store is a mirror the engine reconciles against, not the owner

SEE ALSO:
  - period.go: PeriodCode arithmetic and epoch calibration
  - allocator.go: Identifier sequence allocation
  - score.go: Priority scoring and ranking
  - adjust.go: Deferred adjustment scheduling
  - bus.go: Sync event fan-out
*/
package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD CODE - Two-letter identifier window name
// =============================================================================

// PeriodCode names one of 676 identifier windows ("AA".."ZZ").
// The code wraps modulo 676 when advanced past "ZZ".
type PeriodCode string

// PeriodSpan is the number of distinct period codes before wrap.
const PeriodSpan = 26 * 26

// Valid reports whether the code is exactly two letters A-Z.
func (c PeriodCode) Valid() bool {
	if len(c) != 2 {
		return false
	}
	return c[0] >= 'A' && c[0] <= 'Z' && c[1] >= 'A' && c[1] <= 'Z'
}

// =============================================================================
// IDENTIFIER - PeriodCode + 3-digit sequence
// =============================================================================

// Identifier is a production order identifier: two letters + three digits.
// Unique within a period; the sequence resets to 1 when the period advances.
type Identifier string

// MaxSequence is the last sequence number in a period. Allocating past it
// rolls the period code forward one step (overflow-driven rollover).
const MaxSequence = 999

// FormatIdentifier renders a period code and sequence as "XX###".
func FormatIdentifier(code PeriodCode, seq int) Identifier {
	return Identifier(fmt.Sprintf("%s%03d", code, seq))
}

// =============================================================================
// WORK ITEM - A queued production order
// =============================================================================

// WorkItem is a production order in the scheduling queue.
type WorkItem struct {
	ID         Identifier
	DueDate    TimePoint
	EntryIndex int // creation order; FIFO tiebreak for equal scores

	// Derived, recomputed on every ranking pass. Never persisted as truth.
	Score   int
	Urgency UrgencyLabel

	// Deferred-adjustment state
	NeedsAdjustment           bool
	PriorityChangedAt         time.Time // zero = no pending priority change
	LastAdjustmentScheduledAt time.Time // zero = never evaluated
	NextAdjustmentDate        TimePoint // zero = nothing scheduled
	AdjustmentReason          string    // free-text classification of the schedule decision
}

// UrgencyLabel is a display-only classification mirroring the scoring tiers.
type UrgencyLabel string

const (
	UrgencyCritical UrgencyLabel = "critical"
	UrgencyHigh     UrgencyLabel = "high"
	UrgencyMedium   UrgencyLabel = "medium"
	UrgencyNormal   UrgencyLabel = "normal"
)

// =============================================================================
// SYNC EVENT - Cache-invalidation notification
// =============================================================================

// EventType is the fixed enumeration of sync event types.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventQueueUpdate     EventType = "queue_update"
	EventScheduleUpdate  EventType = "schedule_update"
	EventCapacityChanged EventType = "capacity_changed"
)

// SyncEvent is an immutable state-change notification. Ordering between
// events of different types is not guaranteed; each subscriber sees its own
// delivery queue in publish order.
type SyncEvent struct {
	ID        string
	Type      EventType
	Payload   map[string]any
	EmittedAt time.Time
}

// =============================================================================
// CAPACITY
// =============================================================================

// PoolKey names a capacity-constrained resource (e.g. a production line).
type PoolKey string
