/*
adjust.go - Deferred adjustment scheduling (the "LOP schedule")

PURPOSE:
  Decides, per work item, whether the recurring adjustment task runs today,
  is deferred to the next recurrence boundary, or is pulled forward because
  the item's priority changed since it was last scheduled.

STATE MACHINE (per item):
  NONE -> PENDING -> {IMMEDIATE, SCHEDULED, DEFERRED} -> PENDING on the next
  pass. Never terminal while needs-adjustment stays true; back to NONE when
  the flag is cleared externally.

EVALUATION RULE (once per item per pass):
  - needsAdjustment false: untouched.
  - Recurrence weekday today, or priority escalated: schedule for today.
    The weekday reason wins when both conditions hold.
  - Otherwise: schedule for the next recurrence boundary (next designated
    weekday strictly after today).
  - lastAdjustmentScheduledAt is always stamped after evaluation.

IDEMPOTENCE:
  Re-running a pass must not double-escalate and must keep the scheduled
  date stable. An escalation already scheduled for today is held over on
  re-evaluation even though stamping lastAdjustmentScheduledAt consumed the
  escalation condition.

SEE ALSO:
  - time.go: NextWeekday
  - store.go: PassRecord / PassLog
*/
package engine

import (
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Schedule decision reasons. Free text on the item, fixed vocabulary here.
const (
	ReasonScheduledRecurrence = "scheduled recurrence"
	ReasonPriorityEscalation  = "priority escalation"
	ReasonDeferred            = "deferred to next recurrence"
)

// AdjustmentStatus is the 4-valued reporting label.
type AdjustmentStatus string

const (
	StatusNone      AdjustmentStatus = "none"
	StatusScheduled AdjustmentStatus = "scheduled"
	StatusImmediate AdjustmentStatus = "immediate"
	StatusDeferred  AdjustmentStatus = "deferred"
)

// AdjustmentConfig externalizes the recurrence cadence.
type AdjustmentConfig struct {
	RecurrenceWeekday time.Weekday // Monday in the reference system
}

func DefaultAdjustmentConfig() AdjustmentConfig {
	return AdjustmentConfig{RecurrenceWeekday: time.Monday}
}

// =============================================================================
// SCHEDULER
// =============================================================================

// AdjustmentScheduler evaluates the recurring adjustment schedule. Only one
// pass runs at a time; concurrent triggers serialize on the pass lock.
type AdjustmentScheduler struct {
	Config AdjustmentConfig

	passMu sync.Mutex
}

func NewAdjustmentScheduler(cfg AdjustmentConfig) *AdjustmentScheduler {
	return &AdjustmentScheduler{Config: cfg}
}

// PassStats summarizes one evaluation pass.
type PassStats struct {
	Evaluated int
	Escalated int
	Recurring int
	Deferred  int
}

// Evaluate runs one scheduling pass over the items and returns the updated
// copies plus pass stats. Items with needsAdjustment false are returned
// unmodified. Only the schedule fields (next date, reason, last-scheduled
// stamp) are touched; evaluation has no other side effects.
func (s *AdjustmentScheduler) Evaluate(items []WorkItem, now time.Time) ([]WorkItem, PassStats) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	updated := make([]WorkItem, len(items))
	var stats PassStats
	for i, item := range items {
		updated[i] = s.evaluateOne(item, now, &stats)
	}
	return updated, stats
}

// EvaluateItem runs the rule for a single item, outside a full pass
// (e.g. directly after a priority change).
func (s *AdjustmentScheduler) EvaluateItem(item WorkItem, now time.Time) WorkItem {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	var stats PassStats
	return s.evaluateOne(item, now, &stats)
}

func (s *AdjustmentScheduler) evaluateOne(item WorkItem, now time.Time, stats *PassStats) WorkItem {
	if !item.NeedsAdjustment {
		return item
	}
	stats.Evaluated++

	today := DayOf(now)

	// An escalation evaluated earlier today already consumed its condition by
	// stamping lastAdjustmentScheduledAt; hold it rather than re-deferring.
	holdover := item.AdjustmentReason == ReasonPriorityEscalation &&
		item.NextAdjustmentDate.Equal(today)

	switch {
	case today.Weekday() == s.Config.RecurrenceWeekday:
		item.NextAdjustmentDate = today
		item.AdjustmentReason = ReasonScheduledRecurrence
		stats.Recurring++
	case priorityEscalated(item) || holdover:
		item.NextAdjustmentDate = today
		item.AdjustmentReason = ReasonPriorityEscalation
		stats.Escalated++
	default:
		item.NextAdjustmentDate = NextWeekday(today, s.Config.RecurrenceWeekday)
		item.AdjustmentReason = ReasonDeferred
		stats.Deferred++
	}

	item.LastAdjustmentScheduledAt = now
	return item
}

// priorityEscalated reports whether the item's priority changed after it was
// last scheduled (or was never scheduled at all).
func priorityEscalated(item WorkItem) bool {
	if item.PriorityChangedAt.IsZero() {
		return false
	}
	return item.LastAdjustmentScheduledAt.IsZero() ||
		item.PriorityChangedAt.After(item.LastAdjustmentScheduledAt)
}

// =============================================================================
// QUERIES
// =============================================================================

// NeedsImmediateAttention reports whether the item's adjustment should run
// now: scheduled for today, or priority changed since the last scheduling.
func (s *AdjustmentScheduler) NeedsImmediateAttention(item WorkItem, now time.Time) bool {
	if !item.NeedsAdjustment {
		return false
	}
	if !item.NextAdjustmentDate.IsZero() && item.NextAdjustmentDate.SameDay(now) {
		return true
	}
	return priorityEscalated(item)
}

// Status maps an item to its reporting label. Immediate takes precedence
// over scheduled and deferred when both conditions hold.
func (s *AdjustmentScheduler) Status(item WorkItem, now time.Time) AdjustmentStatus {
	if !item.NeedsAdjustment {
		return StatusNone
	}
	if s.NeedsImmediateAttention(item, now) {
		return StatusImmediate
	}
	if item.AdjustmentReason == ReasonDeferred {
		return StatusDeferred
	}
	if !item.NextAdjustmentDate.IsZero() {
		return StatusScheduled
	}
	return StatusDeferred
}
