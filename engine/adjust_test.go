package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/production-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Fixed instants around the Monday recurrence boundary.
var (
	monday    = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	wednesday = time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	// The Monday after wednesday.
	nextMonday = engine.NewTimePoint(2026, time.March, 9)
)

func newTestScheduler() *engine.AdjustmentScheduler {
	return engine.NewAdjustmentScheduler(engine.DefaultAdjustmentConfig())
}

func adjustableItem(id string) engine.WorkItem {
	return engine.WorkItem{
		ID:              engine.Identifier(id),
		DueDate:         engine.NewTimePoint(2026, time.March, 20),
		NeedsAdjustment: true,
	}
}

// =============================================================================
// EVALUATION RULE TESTS
// =============================================================================

func TestEvaluate_SkipsItemsNotNeedingAdjustment(t *testing.T) {
	// GIVEN: An item with the adjustment flag off
	// WHEN: A pass runs
	// THEN: The item comes back untouched, not even stamped

	s := newTestScheduler()
	item := adjustableItem("AN001")
	item.NeedsAdjustment = false

	updated, stats := s.Evaluate([]engine.WorkItem{item}, wednesday)

	assert.Equal(t, item, updated[0])
	assert.Zero(t, stats.Evaluated)
}

func TestEvaluate_RecurrenceDay_SchedulesToday(t *testing.T) {
	// GIVEN: Today is the designated recurrence weekday (Monday)
	// THEN: The adjustment is scheduled for today with the recurrence reason

	s := newTestScheduler()
	updated, stats := s.Evaluate([]engine.WorkItem{adjustableItem("AN001")}, monday)

	assert.True(t, updated[0].NextAdjustmentDate.SameDay(monday))
	assert.Equal(t, engine.ReasonScheduledRecurrence, updated[0].AdjustmentReason)
	assert.Equal(t, 1, stats.Recurring)
	assert.Equal(t, monday, updated[0].LastAdjustmentScheduledAt)
}

func TestEvaluate_MidWeek_DefersToNextRecurrence(t *testing.T) {
	// GIVEN: A Wednesday pass with no priority change
	// THEN: The adjustment is deferred to the following Monday

	s := newTestScheduler()
	updated, stats := s.Evaluate([]engine.WorkItem{adjustableItem("AN001")}, wednesday)

	assert.True(t, updated[0].NextAdjustmentDate.Equal(nextMonday))
	assert.Equal(t, engine.ReasonDeferred, updated[0].AdjustmentReason)
	assert.Equal(t, 1, stats.Deferred)
}

func TestEvaluate_PriorityChange_EscalatesSameDay(t *testing.T) {
	// GIVEN: The item's priority changed after its last scheduling
	// WHEN: A mid-week pass runs
	// THEN: The adjustment is pulled forward to today

	s := newTestScheduler()
	item := adjustableItem("AN001")
	item.LastAdjustmentScheduledAt = monday
	item.PriorityChangedAt = wednesday.Add(-time.Hour)

	updated, stats := s.Evaluate([]engine.WorkItem{item}, wednesday)

	assert.True(t, updated[0].NextAdjustmentDate.SameDay(wednesday))
	assert.Equal(t, engine.ReasonPriorityEscalation, updated[0].AdjustmentReason)
	assert.Equal(t, 1, stats.Escalated)
}

func TestEvaluate_RecurrenceWinsOverEscalation(t *testing.T) {
	// When the recurrence weekday and a pending escalation coincide, the
	// schedule reads as the weekly recurrence.

	s := newTestScheduler()
	item := adjustableItem("AN001")
	item.PriorityChangedAt = monday.Add(-time.Hour)

	updated, stats := s.Evaluate([]engine.WorkItem{item}, monday)

	assert.Equal(t, engine.ReasonScheduledRecurrence, updated[0].AdjustmentReason)
	assert.Equal(t, 1, stats.Recurring)
	assert.Zero(t, stats.Escalated)
}

func TestEvaluate_StalePriorityChange_NotEscalated(t *testing.T) {
	// A priority change already covered by a later scheduling does not
	// escalate again.
	s := newTestScheduler()
	item := adjustableItem("AN001")
	item.PriorityChangedAt = monday
	item.LastAdjustmentScheduledAt = monday.Add(time.Hour)

	updated, _ := s.Evaluate([]engine.WorkItem{item}, wednesday)

	assert.Equal(t, engine.ReasonDeferred, updated[0].AdjustmentReason)
}

// =============================================================================
// IDEMPOTENCE TESTS
// =============================================================================

func TestEvaluate_RerunSameDay_IsStable(t *testing.T) {
	// GIVEN: A completed pass
	// WHEN: The pass re-runs the same day (restart, manual trigger)
	// THEN: Every scheduled date and reason is unchanged

	s := newTestScheduler()
	items := []engine.WorkItem{adjustableItem("AN001"), adjustableItem("AN002")}
	items[1].PriorityChangedAt = wednesday.Add(-time.Hour)

	first, _ := s.Evaluate(items, wednesday)
	second, _ := s.Evaluate(first, wednesday)

	for i := range first {
		assert.True(t, second[i].NextAdjustmentDate.Equal(first[i].NextAdjustmentDate), "item %d date", i)
		assert.Equal(t, first[i].AdjustmentReason, second[i].AdjustmentReason, "item %d reason", i)
	}
}

func TestEvaluate_EscalationHeldOverOnRerun(t *testing.T) {
	// The first pass consumes the escalation condition by stamping the
	// last-scheduled time; the re-run must not demote the item to deferred.

	s := newTestScheduler()
	item := adjustableItem("AN001")
	item.PriorityChangedAt = wednesday.Add(-time.Hour)

	first := s.EvaluateItem(item, wednesday)
	assert.Equal(t, engine.ReasonPriorityEscalation, first.AdjustmentReason)

	second := s.EvaluateItem(first, wednesday.Add(2*time.Hour))
	assert.Equal(t, engine.ReasonPriorityEscalation, second.AdjustmentReason)
	assert.True(t, second.NextAdjustmentDate.SameDay(wednesday))
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestNeedsImmediateAttention(t *testing.T) {
	s := newTestScheduler()

	scheduled := adjustableItem("AN001")
	scheduled.NextAdjustmentDate = engine.DayOf(wednesday)
	assert.True(t, s.NeedsImmediateAttention(scheduled, wednesday), "scheduled for today")

	deferred := adjustableItem("AN002")
	deferred.NextAdjustmentDate = nextMonday
	deferred.LastAdjustmentScheduledAt = wednesday
	assert.False(t, s.NeedsImmediateAttention(deferred, wednesday), "scheduled for later")

	escalated := adjustableItem("AN003")
	escalated.NextAdjustmentDate = nextMonday
	escalated.LastAdjustmentScheduledAt = monday
	escalated.PriorityChangedAt = wednesday.Add(-time.Minute)
	assert.True(t, s.NeedsImmediateAttention(escalated, wednesday), "priority changed since scheduling")

	flagOff := adjustableItem("AN004")
	flagOff.NeedsAdjustment = false
	flagOff.NextAdjustmentDate = engine.DayOf(wednesday)
	assert.False(t, s.NeedsImmediateAttention(flagOff, wednesday))
}

func TestStatus_Labels(t *testing.T) {
	s := newTestScheduler()

	off := adjustableItem("AN001")
	off.NeedsAdjustment = false
	assert.Equal(t, engine.StatusNone, s.Status(off, wednesday))

	today := adjustableItem("AN002")
	today.NextAdjustmentDate = engine.DayOf(wednesday)
	assert.Equal(t, engine.StatusImmediate, s.Status(today, wednesday))

	deferred := adjustableItem("AN003")
	deferred.NextAdjustmentDate = nextMonday
	deferred.LastAdjustmentScheduledAt = wednesday
	deferred.AdjustmentReason = engine.ReasonDeferred
	assert.Equal(t, engine.StatusDeferred, s.Status(deferred, wednesday))

	pending := adjustableItem("AN004")
	assert.Equal(t, engine.StatusDeferred, s.Status(pending, wednesday), "never evaluated reads as deferred")
}
