/*
Package orders exposes the production order scheduling service.

PURPOSE:
  The domain facade over the engine: mints order identifiers, ranks the work
  queue, gates capacity-limited placements, runs adjustment passes, and
  relays sync events. HTTP handlers and the background pass runner talk to
  this package, never to the engine internals directly.

CONCURRENCY:
  Identifier allocation is the one true race in this subsystem. The service
  serializes it per kind behind a mutex, and the store's compare-and-set head
  is the second line of defense against another process. A conflict means
  "no state change occurred": the allocator re-reads the observed head and
  retries, it never assumes its candidate was persisted.

STORE CALLS:
  Every backing-store call is wrapped with a timeout and surfaced as a
  retryable failure (ErrStoreUnavailable), not a fatal one.

SEE ALSO:
  - engine: Core algorithms
  - api: HTTP surface and background pass runner
*/
package orders

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/production-engine/engine"
)

// allocationRetries bounds the conflict retry loop. Each retry re-reads the
// freshly observed head, so contention resolves in one or two rounds.
const allocationRetries = 5

// Store is the full persistence surface the service needs.
type Store interface {
	engine.WorkItemStore
	engine.CapacityStore
	engine.CalibrationLog
	engine.PassLog
}

// Service composes the engine components behind the collaborator-facing API.
type Service struct {
	store    Store
	scorer   *engine.Scorer
	tracker  *engine.Tracker
	adjuster *engine.AdjustmentScheduler
	bus      *engine.Bus
	timeout  time.Duration

	codecMu sync.RWMutex
	codec   engine.Codec

	allocMu sync.Mutex // serializes identifier allocation per process
}

// Options carries the externalized configuration for a service instance.
type Options struct {
	Codec        engine.Codec
	Scoring      engine.ScoringConfig
	Capacity     engine.CapacityConfig
	Adjustment   engine.AdjustmentConfig
	StoreTimeout time.Duration
}

// NewService wires a service over the given store.
func NewService(store Store, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	bus := engine.NewBus()
	return &Service{
		store:    store,
		scorer:   engine.NewScorer(opts.Scoring),
		tracker:  engine.NewTracker(store, opts.Capacity, bus),
		adjuster: engine.NewAdjustmentScheduler(opts.Adjustment),
		bus:      bus,
		timeout:  opts.StoreTimeout,
		codec:    opts.Codec,
	}
}

// Bus exposes the sync bus for subscribers.
func (s *Service) Bus() *engine.Bus { return s.bus }

// Codec returns the current period codec (it changes on calibration).
func (s *Service) Codec() engine.Codec {
	s.codecMu.RLock()
	defer s.codecMu.RUnlock()
	return s.codec
}

// =============================================================================
// IDENTIFIER ALLOCATION
// =============================================================================

// AllocateIdentifier mints the next identifier for kind. last is the caller's
// view of the last-issued identifier; when it is stale or empty the store's
// head wins and the allocation retries against it. No two concurrent callers
// receive the same identifier.
func (s *Service) AllocateIdentifier(ctx context.Context, kind string, last engine.Identifier, now time.Time) (engine.Identifier, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	current := s.Codec().CurrentCode(now)

	for attempt := 0; attempt < allocationRetries; attempt++ {
		head, err := s.lastIdentifier(ctx, kind)
		if err != nil {
			return "", err
		}

		// The store's head wins once it exists; the caller's view only seeds
		// the sequence before any identifier has been committed (legacy data).
		effective := last
		if head != "" {
			effective = head
		}

		next, err := engine.Next(effective, current)
		if err != nil {
			return "", err
		}

		err = s.commitIdentifier(ctx, kind, head, next)
		if err == nil {
			s.bus.Publish(engine.EventQueueUpdate, map[string]any{
				"kind":       kind,
				"identifier": string(next),
			})
			return next, nil
		}

		if engine.IsConflict(err) {
			// Another writer advanced the head; re-read and retry.
			continue
		}
		return "", err
	}
	return "", engine.ErrAllocationConflict
}

// =============================================================================
// WORK ITEMS & RANKING
// =============================================================================

// CreateWorkItem allocates an identifier and enters the item into the queue.
func (s *Service) CreateWorkItem(ctx context.Context, kind string, dueDate engine.TimePoint, needsAdjustment bool, now time.Time) (engine.WorkItem, error) {
	id, err := s.AllocateIdentifier(ctx, kind, "", now)
	if err != nil {
		return engine.WorkItem{}, err
	}

	existing, err := s.listItems(ctx)
	if err != nil {
		return engine.WorkItem{}, err
	}

	item := engine.WorkItem{
		ID:              id,
		DueDate:         dueDate,
		EntryIndex:      len(existing),
		NeedsAdjustment: needsAdjustment,
	}
	item.Score = s.scorer.Score(item.DueDate, now)
	item.Urgency = s.scorer.Label(item.DueDate, now)

	if err := s.saveItem(ctx, item); err != nil {
		return engine.WorkItem{}, err
	}
	return item, nil
}

// GetWorkItem returns a single item.
func (s *Service) GetWorkItem(ctx context.Context, id engine.Identifier) (engine.WorkItem, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	item, err := s.store.GetItem(ctx, id)
	return item, s.mapStoreErr(err)
}

// ScoreAndRank recomputes scores and returns the items in queue order.
// Pure: the input slice is untouched.
func (s *Service) ScoreAndRank(items []engine.WorkItem, now time.Time) []engine.WorkItem {
	return s.scorer.Rank(items, now)
}

// RankedQueue loads every item and returns the current queue order.
func (s *Service) RankedQueue(ctx context.Context, now time.Time) ([]engine.WorkItem, error) {
	items, err := s.listItems(ctx)
	if err != nil {
		return nil, err
	}
	return s.scorer.Rank(items, now), nil
}

// MarkPriorityChanged records an out-of-band priority change, which makes the
// item eligible for same-day escalation on the next adjustment evaluation.
func (s *Service) MarkPriorityChanged(ctx context.Context, id engine.Identifier, at time.Time) (engine.WorkItem, error) {
	item, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return engine.WorkItem{}, err
	}

	item.PriorityChangedAt = at
	if err := s.saveItem(ctx, item); err != nil {
		return engine.WorkItem{}, err
	}

	s.bus.Publish(engine.EventQueueUpdate, map[string]any{"identifier": string(id)})
	return item, nil
}

// =============================================================================
// CAPACITY
// =============================================================================

// TryReserveCapacity commits one unit of (pool, date) capacity. A false
// result is a defined outcome, not an error; the caller picks a fallback.
func (s *Service) TryReserveCapacity(ctx context.Context, pool engine.PoolKey, date engine.TimePoint) (bool, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.tracker.Reserve(ctx, pool, date)
	return ok, s.mapStoreErr(err)
}

// ReleaseCapacity returns one unit of capacity.
func (s *Service) ReleaseCapacity(ctx context.Context, pool engine.PoolKey, date engine.TimePoint) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.mapStoreErr(s.tracker.Release(ctx, pool, date))
}

// CapacityStatus reports committed units vs quota for (pool, date).
func (s *Service) CapacityStatus(ctx context.Context, pool engine.PoolKey, date engine.TimePoint) (count, quota int, err error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	count, err = s.tracker.CountFor(ctx, pool, date)
	return count, s.tracker.Quota(pool), s.mapStoreErr(err)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// EvaluateAdjustments runs the scheduling rule over the given items and
// returns the updated copies. Pure apart from the schedule fields.
func (s *Service) EvaluateAdjustments(items []engine.WorkItem, now time.Time) []engine.WorkItem {
	updated, _ := s.adjuster.Evaluate(items, now)
	return updated
}

// AdjustmentStatus reports the item's 4-valued schedule label.
func (s *Service) AdjustmentStatus(item engine.WorkItem, now time.Time) engine.AdjustmentStatus {
	return s.adjuster.Status(item, now)
}

// NeedsImmediateAttention reports whether the item's adjustment should run now.
func (s *Service) NeedsImmediateAttention(item engine.WorkItem, now time.Time) bool {
	return s.adjuster.NeedsImmediateAttention(item, now)
}

// RunAdjustmentPass loads every item, evaluates the schedule, persists the
// changed items, and records the pass for audit. Publishes schedule_update.
func (s *Service) RunAdjustmentPass(ctx context.Context, now time.Time) (engine.PassRecord, error) {
	items, err := s.listItems(ctx)
	if err != nil {
		return engine.PassRecord{}, err
	}

	started := time.Now().UTC()
	updated, stats := s.adjuster.Evaluate(items, now)

	for i, item := range updated {
		if !item.NeedsAdjustment {
			continue // never mutated; nothing to persist
		}
		if item == items[i] {
			continue
		}
		if err := s.saveItem(ctx, item); err != nil {
			return engine.PassRecord{}, err
		}
	}

	rec := engine.PassRecord{
		ID:          uuid.NewString(),
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		Evaluated:   stats.Evaluated,
		Escalated:   stats.Escalated,
		Recurring:   stats.Recurring,
		Deferred:    stats.Deferred,
	}
	if err := s.appendPass(ctx, rec); err != nil {
		return engine.PassRecord{}, err
	}

	s.bus.Publish(engine.EventScheduleUpdate, map[string]any{
		"pass":      rec.ID,
		"evaluated": stats.Evaluated,
		"escalated": stats.Escalated,
		"deferred":  stats.Deferred,
	})
	log.Printf("[Service] Adjustment pass %s: %d evaluated, %d escalated, %d recurring, %d deferred",
		rec.ID, stats.Evaluated, stats.Escalated, stats.Recurring, stats.Deferred)
	return rec, nil
}

// Passes lists the adjustment pass audit trail.
func (s *Service) Passes(ctx context.Context) ([]engine.PassRecord, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	recs, err := s.store.ListPasses(ctx)
	return recs, s.mapStoreErr(err)
}

// =============================================================================
// CALIBRATION
// =============================================================================

// Calibrate re-derives the period epoch from "asOf is period code". The run
// is recorded for audit and the new codec takes effect immediately.
func (s *Service) Calibrate(ctx context.Context, asOf engine.TimePoint, code engine.PeriodCode, actor string) (engine.CalibrationRun, error) {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()

	newCodec, run, err := s.codec.Calibrate(asOf, code)
	if err != nil {
		return engine.CalibrationRun{}, err
	}
	run.ID = uuid.NewString()
	run.Actor = actor

	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.AppendCalibration(cctx, run); err != nil {
		return engine.CalibrationRun{}, s.mapStoreErr(err)
	}

	s.codec = newCodec
	log.Printf("[Service] Calibrated epoch: %s -> %s (code %s as of %s, actor %s)",
		run.PreviousEpoch.Format("2006-01-02"), run.NewEpoch.Format("2006-01-02"), code, asOf, actor)
	return run, nil
}

// Calibrations lists the audit trail of epoch recalibrations.
func (s *Service) Calibrations(ctx context.Context) ([]engine.CalibrationRun, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	runs, err := s.store.ListCalibrations(ctx)
	return runs, s.mapStoreErr(err)
}

// =============================================================================
// EVENTS
// =============================================================================

// PublishEvent relays an event through the sync bus.
func (s *Service) PublishEvent(eventType engine.EventType, payload map[string]any) {
	s.bus.Publish(eventType, payload)
}

// StreamEvents opens a push channel for a remote listener. The channel
// terminates when ctx is done; there is no replay on reconnect.
func (s *Service) StreamEvents(ctx context.Context) <-chan engine.SyncEvent {
	return s.bus.Stream(ctx)
}

// =============================================================================
// STORE WRAPPERS - Timeout + retryable mapping
// =============================================================================

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// mapStoreErr folds store timeouts into the retryable kind so callers treat
// them as "no state change occurred".
func (s *Service) mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.ErrStoreUnavailable
	}
	return err
}

func (s *Service) lastIdentifier(ctx context.Context, kind string) (engine.Identifier, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	head, err := s.store.LastIdentifier(ctx, kind)
	return head, s.mapStoreErr(err)
}

func (s *Service) commitIdentifier(ctx context.Context, kind string, prev, next engine.Identifier) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.mapStoreErr(s.store.CommitIdentifier(ctx, kind, prev, next))
}

func (s *Service) listItems(ctx context.Context) ([]engine.WorkItem, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.store.ListItems(ctx)
	return items, s.mapStoreErr(err)
}

func (s *Service) saveItem(ctx context.Context, item engine.WorkItem) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.mapStoreErr(s.store.SaveItem(ctx, item))
}

func (s *Service) appendPass(ctx context.Context, rec engine.PassRecord) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.mapStoreErr(s.store.AppendPass(ctx, rec))
}
