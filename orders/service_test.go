package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/engine"
	"github.com/warp/production-engine/engine/store"
	"github.com/warp/production-engine/orders"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	serviceEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	// A Wednesday inside period 0 ("AA").
	serviceNow = time.Date(2024, time.January, 3, 9, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*orders.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := orders.NewService(mem, orders.Options{
		Codec: engine.NewCodec(serviceEpoch, 14),
	})
	return svc, mem
}

// conflictingStore injects commit conflicts to simulate a second writer
// advancing the identifier head between read and commit.
type conflictingStore struct {
	*store.Memory
	conflicts int // number of commits to sabotage
}

func (c *conflictingStore) CommitIdentifier(ctx context.Context, kind string, prev, next engine.Identifier) error {
	if c.conflicts > 0 {
		c.conflicts--
		// The other writer lands its own identifier first.
		if err := c.Memory.CommitIdentifier(ctx, kind, prev, "AA500"); err != nil {
			return err
		}
		return &engine.ConflictError{Kind: "identifier", Observed: "AA500"}
	}
	return c.Memory.CommitIdentifier(ctx, kind, prev, next)
}

// unavailableStore times out on every head read.
type unavailableStore struct {
	*store.Memory
}

func (u *unavailableStore) LastIdentifier(context.Context, string) (engine.Identifier, error) {
	return "", context.DeadlineExceeded
}

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestService_AllocateIdentifier_Sequence(t *testing.T) {
	// GIVEN: A fresh store
	// WHEN: Allocating three identifiers for the same kind
	// THEN: They are consecutive within the current period

	svc, _ := newTestService(t)
	ctx := context.Background()

	for i, want := range []engine.Identifier{"AA001", "AA002", "AA003"} {
		got, err := svc.AllocateIdentifier(ctx, "order", "", serviceNow)
		require.NoError(t, err)
		assert.Equal(t, want, got, "allocation %d", i+1)
	}
}

func TestService_AllocateIdentifier_StoreHeadWinsOverCallerView(t *testing.T) {
	// GIVEN: The store head is ahead of the caller's stale view
	// THEN: The allocation continues from the store head

	svc, mem := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mem.CommitIdentifier(ctx, "order", "", "AA007"))

	got, err := svc.AllocateIdentifier(ctx, "order", "AA002", serviceNow)
	require.NoError(t, err)
	assert.Equal(t, engine.Identifier("AA008"), got)
}

func TestService_AllocateIdentifier_CallerSeedsEmptyStore(t *testing.T) {
	// Before any identifier is committed, legacy data supplied by the caller
	// seeds the sequence.
	svc, _ := newTestService(t)

	got, err := svc.AllocateIdentifier(context.Background(), "order", "AA041", serviceNow)
	require.NoError(t, err)
	assert.Equal(t, engine.Identifier("AA042"), got)
}

func TestService_AllocateIdentifier_RetriesPastConflict(t *testing.T) {
	// GIVEN: Another writer commits between our read and our commit
	// WHEN: The first commit conflicts
	// THEN: The allocation retries against the observed head, with no
	//       duplicate ever returned

	cs := &conflictingStore{Memory: store.NewMemory(), conflicts: 1}
	svc := orders.NewService(cs, orders.Options{Codec: engine.NewCodec(serviceEpoch, 14)})

	got, err := svc.AllocateIdentifier(context.Background(), "order", "", serviceNow)
	require.NoError(t, err)
	assert.Equal(t, engine.Identifier("AA501"), got, "retry continues after the other writer")
}

func TestService_AllocateIdentifier_GivesUpAfterRepeatedConflicts(t *testing.T) {
	cs := &conflictingStore{Memory: store.NewMemory(), conflicts: 100}
	svc := orders.NewService(cs, orders.Options{Codec: engine.NewCodec(serviceEpoch, 14)})

	_, err := svc.AllocateIdentifier(context.Background(), "order", "", serviceNow)
	assert.ErrorIs(t, err, engine.ErrAllocationConflict)
	assert.True(t, engine.IsRetryable(err))
}

func TestService_AllocateIdentifier_StoreTimeoutIsRetryable(t *testing.T) {
	// A store timeout surfaces as the retryable unavailable sentinel, meaning
	// no state change occurred.
	us := &unavailableStore{Memory: store.NewMemory()}
	svc := orders.NewService(us, orders.Options{Codec: engine.NewCodec(serviceEpoch, 14)})

	_, err := svc.AllocateIdentifier(context.Background(), "order", "", serviceNow)
	assert.ErrorIs(t, err, engine.ErrStoreUnavailable)
	assert.True(t, engine.IsRetryable(err))
}

func TestService_AllocateIdentifier_PublishesQueueUpdate(t *testing.T) {
	svc, _ := newTestService(t)

	var events []engine.SyncEvent
	svc.Bus().Subscribe(engine.EventQueueUpdate, func(e engine.SyncEvent) {
		events = append(events, e)
	})

	_, err := svc.AllocateIdentifier(context.Background(), "order", "", serviceNow)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "AA001", events[0].Payload["identifier"])
}

// =============================================================================
// WORK ITEM TESTS
// =============================================================================

func TestService_CreateWorkItem(t *testing.T) {
	// GIVEN: An empty queue
	// WHEN: Creating two items
	// THEN: Each gets a fresh identifier, its entry index, and a derived score

	svc, _ := newTestService(t)
	ctx := context.Background()
	due := engine.DayOf(serviceNow).AddDays(3)

	first, err := svc.CreateWorkItem(ctx, "order", due, true, serviceNow)
	require.NoError(t, err)
	second, err := svc.CreateWorkItem(ctx, "order", due, false, serviceNow)
	require.NoError(t, err)

	assert.Equal(t, engine.Identifier("AA001"), first.ID)
	assert.Equal(t, engine.Identifier("AA002"), second.ID)
	assert.Equal(t, 0, first.EntryIndex)
	assert.Equal(t, 1, second.EntryIndex)
	assert.Equal(t, 600, first.Score, "due in 3 days lands in the high tier")
	assert.Equal(t, engine.UrgencyHigh, first.Urgency)

	stored, err := svc.GetWorkItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
}

func TestService_GetWorkItem_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetWorkItem(context.Background(), "AA999")
	assert.ErrorIs(t, err, engine.ErrItemNotFound)
	assert.True(t, engine.IsClientError(err))
}

func TestService_RankedQueue_OrdersByUrgency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	today := engine.DayOf(serviceNow)

	far, err := svc.CreateWorkItem(ctx, "order", today.AddDays(40), false, serviceNow)
	require.NoError(t, err)
	overdue, err := svc.CreateWorkItem(ctx, "order", today.AddDays(-2), false, serviceNow)
	require.NoError(t, err)

	queue, err := svc.RankedQueue(ctx, serviceNow)
	require.NoError(t, err)

	require.Len(t, queue, 2)
	assert.Equal(t, overdue.ID, queue[0].ID)
	assert.Equal(t, far.ID, queue[1].ID)
}

// =============================================================================
// ADJUSTMENT PASS TESTS
// =============================================================================

func TestService_MarkPriorityChanged_EscalatesOnNextPass(t *testing.T) {
	// GIVEN: An item whose priority changed mid-week
	// WHEN: The adjustment pass runs
	// THEN: The item is scheduled for today with the escalation reason

	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateWorkItem(ctx, "order", engine.DayOf(serviceNow).AddDays(10), true, serviceNow)
	require.NoError(t, err)

	_, err = svc.MarkPriorityChanged(ctx, item.ID, serviceNow)
	require.NoError(t, err)

	rec, err := svc.RunAdjustmentPass(ctx, serviceNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Evaluated)
	assert.Equal(t, 1, rec.Escalated)

	updated, err := svc.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, updated.NextAdjustmentDate.SameDay(serviceNow))
	assert.Equal(t, engine.ReasonPriorityEscalation, updated.AdjustmentReason)
	assert.Equal(t, engine.StatusImmediate, svc.AdjustmentStatus(updated, serviceNow))
}

func TestService_RunAdjustmentPass_RecordsAudit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateWorkItem(ctx, "order", engine.DayOf(serviceNow).AddDays(10), true, serviceNow)
	require.NoError(t, err)

	rec, err := svc.RunAdjustmentPass(ctx, serviceNow)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	passes, err := svc.Passes(ctx)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, rec.ID, passes[0].ID)
}

func TestService_RunAdjustmentPass_PublishesScheduleUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	published := 0
	svc.Bus().Subscribe(engine.EventScheduleUpdate, func(engine.SyncEvent) { published++ })

	_, err := svc.RunAdjustmentPass(ctx, serviceNow)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestService_RunAdjustmentPass_RerunIsStable(t *testing.T) {
	// Re-running the pass the same day must not move any scheduled date.
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateWorkItem(ctx, "order", engine.DayOf(serviceNow).AddDays(10), true, serviceNow)
	require.NoError(t, err)

	_, err = svc.RunAdjustmentPass(ctx, serviceNow)
	require.NoError(t, err)
	afterFirst, err := svc.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)

	_, err = svc.RunAdjustmentPass(ctx, serviceNow.Add(time.Hour))
	require.NoError(t, err)
	afterSecond, err := svc.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)

	assert.True(t, afterSecond.NextAdjustmentDate.Equal(afterFirst.NextAdjustmentDate))
	assert.Equal(t, afterFirst.AdjustmentReason, afterSecond.AdjustmentReason)
}

// =============================================================================
// CAPACITY TESTS
// =============================================================================

func TestService_TryReserveCapacity_DefinedRejection(t *testing.T) {
	mem := store.NewMemory()
	svc := orders.NewService(mem, orders.Options{
		Codec:    engine.NewCodec(serviceEpoch, 14),
		Capacity: engine.CapacityConfig{DefaultQuota: 1},
	})
	ctx := context.Background()
	day := engine.DayOf(serviceNow)

	ok, err := svc.TryReserveCapacity(ctx, "line-a", day)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.TryReserveCapacity(ctx, "line-a", day)
	require.NoError(t, err)
	assert.False(t, ok, "exhaustion is an outcome, not an error")

	count, quota, err := svc.CapacityStatus(ctx, "line-a", day)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, quota)
}

// =============================================================================
// CALIBRATION TESTS
// =============================================================================

func TestService_Calibrate_TakesEffectImmediately(t *testing.T) {
	// GIVEN: A calibration that pins today to period "BC"
	// THEN: The next allocation mints under "BC" and the run is in the trail

	svc, _ := newTestService(t)
	ctx := context.Background()

	run, err := svc.Calibrate(ctx, engine.DayOf(serviceNow), "BC", "ops")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "ops", run.Actor)

	got, err := svc.AllocateIdentifier(ctx, "order", "", serviceNow)
	require.NoError(t, err)
	assert.Equal(t, engine.Identifier("BC001"), got)

	runs, err := svc.Calibrations(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestService_Calibrate_InvalidCodeRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Calibrate(context.Background(), engine.DayOf(serviceNow), "b7", "")
	assert.ErrorIs(t, err, engine.ErrInvalidPeriodCode)
	assert.True(t, engine.IsClientError(err))

	// The codec is untouched on failure
	got, err := svc.AllocateIdentifier(context.Background(), "order", "", serviceNow)
	require.NoError(t, err)
	assert.Equal(t, engine.Identifier("AA001"), got)
}
