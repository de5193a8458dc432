/*
capacity.go - Per-pool daily capacity gating

PURPOSE:
  Enforces a fixed daily quota per capacity pool (e.g. 8 units per day on a
  constrained production line). Bin-packing with rejection: a reservation
  either fits or returns false, and the caller decides fallback placement.
  Capacity exhaustion is a defined outcome, never an error.

DESIGN:
  The reference system used a process-wide mutable singleton. This is an
  explicit service instance with injected storage, so tests run isolated
  trackers in parallel and a second process shares the same ledger.

INVARIANT:
  count(pool, date) <= quota(pool) always. Reserve is a single atomic
  check-then-increment: under concurrent callers the Nth success is exactly
  the Nth accepted unit, and rejections leave no observable side effect.

SEE ALSO:
  - store.go: CapacityStore (atomic increment-with-ceiling)
  - bus.go: capacity_changed events
*/
package engine

import (
	"context"
	"sync"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// CapacityConfig externalizes pool quotas.
type CapacityConfig struct {
	DefaultQuota int
	PoolQuotas   map[PoolKey]int
}

// DefaultCapacityConfig matches the production line quota of 8 per day.
func DefaultCapacityConfig() CapacityConfig {
	return CapacityConfig{DefaultQuota: 8}
}

// QuotaFor returns the fixed daily quota for a pool.
func (c CapacityConfig) QuotaFor(pool PoolKey) int {
	if q, ok := c.PoolQuotas[pool]; ok {
		return q
	}
	return c.DefaultQuota
}

// =============================================================================
// TRACKER
// =============================================================================

// Publisher is the slice of the sync bus the tracker needs.
type Publisher interface {
	Publish(eventType EventType, payload map[string]any)
}

// Tracker gates capacity-limited placements against the ledger.
type Tracker struct {
	store  CapacityStore
	config CapacityConfig
	bus    Publisher // optional; nil disables events

	mu sync.Mutex // serializes reserve/release in-process
}

// NewTracker creates a tracker over the given ledger store. bus may be nil.
func NewTracker(store CapacityStore, cfg CapacityConfig, bus Publisher) *Tracker {
	if cfg.DefaultQuota <= 0 {
		cfg.DefaultQuota = DefaultCapacityConfig().DefaultQuota
	}
	return &Tracker{store: store, config: cfg, bus: bus}
}

// HasCapacity reports whether (pool, date) still has room. Advisory only:
// the answer can be stale by the time the caller acts on it; use Reserve.
func (t *Tracker) HasCapacity(ctx context.Context, pool PoolKey, date TimePoint) (bool, error) {
	count, err := t.store.Count(ctx, pool, date)
	if err != nil {
		return false, err
	}
	return count < t.config.QuotaFor(pool), nil
}

// Reserve attempts to commit one unit of capacity. Returns false when the
// quota is already reached. Emits capacity_changed on every success.
func (t *Tracker) Reserve(ctx context.Context, pool PoolKey, date TimePoint) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok, err := t.store.Reserve(ctx, pool, date, t.config.QuotaFor(pool))
	if err != nil {
		return false, err
	}
	if ok && t.bus != nil {
		count, _ := t.store.Count(ctx, pool, date)
		t.bus.Publish(EventCapacityChanged, map[string]any{
			"pool":  string(pool),
			"date":  date.String(),
			"count": count,
			"quota": t.config.QuotaFor(pool),
		})
	}
	return ok, nil
}

// Release returns one unit of capacity. Counts never go below zero.
func (t *Tracker) Release(ctx context.Context, pool PoolKey, date TimePoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Release(ctx, pool, date); err != nil {
		return err
	}
	if t.bus != nil {
		count, _ := t.store.Count(ctx, pool, date)
		t.bus.Publish(EventCapacityChanged, map[string]any{
			"pool":  string(pool),
			"date":  date.String(),
			"count": count,
			"quota": t.config.QuotaFor(pool),
		})
	}
	return nil
}

// CountFor returns the committed units for (pool, date).
func (t *Tracker) CountFor(ctx context.Context, pool PoolKey, date TimePoint) (int, error) {
	return t.store.Count(ctx, pool, date)
}

// Reset clears the ledger for one pool, or every pool when pool is empty.
func (t *Tracker) Reset(ctx context.Context, pool PoolKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.ResetPool(ctx, pool)
}

// Quota exposes the configured quota for a pool.
func (t *Tracker) Quota(pool PoolKey) int {
	return t.config.QuotaFor(pool)
}
