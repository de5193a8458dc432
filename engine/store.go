/*
store.go - Persistence interfaces for the scheduling engine

PURPOSE:
  Defines the boundary between engine logic and the durable store. The store
  is a mirror: the engine owns WorkItem and the capacity ledger, and
  reconciles the store against itself, never the other way around.

KEY INTERFACES:
  WorkItemStore: Work item rows keyed by identifier, plus the per-kind
                 identifier head with compare-and-set semantics
  CapacityStore: Capacity ledger rows keyed by (pool, date) with an atomic
                 increment-with-ceiling
  PassLog:       Adjustment pass summaries for audit

SECOND LINE OF DEFENSE:
  Identifier allocation and capacity reservation are serialized in-process,
  but the store contracts still enforce uniqueness (CommitIdentifier CAS) and
  the quota ceiling (Reserve) so a second process cannot corrupt either.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite mirror
  - engine/store: In-memory implementation for tests

SEE ALSO:
  - capacity.go: Tracker built on CapacityStore
  - period.go: CalibrationLog interface
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// WORK ITEM STORE
// =============================================================================

// WorkItemStore persists work items and the identifier allocation head.
type WorkItemStore interface {
	// SaveItem upserts a work item keyed by its identifier.
	SaveItem(ctx context.Context, item WorkItem) error

	// GetItem returns the item or ErrItemNotFound.
	GetItem(ctx context.Context, id Identifier) (WorkItem, error)

	// ListItems returns all items in entry-index order.
	ListItems(ctx context.Context) ([]WorkItem, error)

	// LastIdentifier returns the last identifier issued for kind, or "" when
	// none has been issued yet.
	LastIdentifier(ctx context.Context, kind string) (Identifier, error)

	// CommitIdentifier advances the head for kind from prev to next.
	// Returns ErrAllocationConflict (wrapped in a ConflictError carrying the
	// observed head) when the stored head no longer equals prev.
	CommitIdentifier(ctx context.Context, kind string, prev, next Identifier) error
}

// =============================================================================
// CAPACITY STORE
// =============================================================================

// CapacityStore persists the capacity ledger: count of committed units per
// (pool, date).
type CapacityStore interface {
	// Reserve atomically increments the count for (pool, date) unless it has
	// reached quota. Returns false, without mutating state, when full.
	Reserve(ctx context.Context, pool PoolKey, date TimePoint, quota int) (bool, error)

	// Release decrements the count, floored at zero.
	Release(ctx context.Context, pool PoolKey, date TimePoint) error

	// Count returns the committed units for (pool, date).
	Count(ctx context.Context, pool PoolKey, date TimePoint) (int, error)

	// ResetPool clears all ledger rows for a pool. Empty pool clears all.
	ResetPool(ctx context.Context, pool PoolKey) error
}

// =============================================================================
// PASS LOG - Adjustment pass audit records
// =============================================================================

// PassRecord summarizes one adjustment scheduling pass.
type PassRecord struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Evaluated   int
	Escalated   int
	Deferred    int
	Recurring   int
}

// PassLog persists pass summaries. Append-only.
type PassLog interface {
	AppendPass(ctx context.Context, rec PassRecord) error
	ListPasses(ctx context.Context) ([]PassRecord, error)
}
