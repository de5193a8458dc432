// Package store provides in-memory implementations of the engine storage
// interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/production-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements WorkItemStore, CapacityStore, CalibrationLog and PassLog
// behind a single lock. Reserve and CommitIdentifier keep the same atomicity
// contracts as the SQLite mirror.
type Memory struct {
	mu           sync.RWMutex
	items        map[engine.Identifier]engine.WorkItem
	heads        map[string]engine.Identifier
	ledger       map[ledgerKey]int
	calibrations []engine.CalibrationRun
	passes       []engine.PassRecord
}

type ledgerKey struct {
	Pool engine.PoolKey
	Date string
}

func NewMemory() *Memory {
	return &Memory{
		items:  make(map[engine.Identifier]engine.WorkItem),
		heads:  make(map[string]engine.Identifier),
		ledger: make(map[ledgerKey]int),
	}
}

// =============================================================================
// WORK ITEM STORE
// =============================================================================

func (m *Memory) SaveItem(_ context.Context, item engine.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, id engine.Identifier) (engine.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return engine.WorkItem{}, engine.ErrItemNotFound
	}
	return item, nil
}

func (m *Memory) ListItems(_ context.Context) ([]engine.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]engine.WorkItem, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EntryIndex < items[j].EntryIndex })
	return items, nil
}

func (m *Memory) LastIdentifier(_ context.Context, kind string) (engine.Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heads[kind], nil
}

// CommitIdentifier advances the head with compare-and-set semantics.
func (m *Memory) CommitIdentifier(_ context.Context, kind string, prev, next engine.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if observed := m.heads[kind]; observed != prev {
		return &engine.ConflictError{Kind: "identifier", Observed: observed}
	}
	m.heads[kind] = next
	return nil
}

// =============================================================================
// CAPACITY STORE
// =============================================================================

func (m *Memory) Reserve(_ context.Context, pool engine.PoolKey, date engine.TimePoint, quota int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := ledgerKey{Pool: pool, Date: date.String()}
	if m.ledger[k] >= quota {
		return false, nil
	}
	m.ledger[k]++
	return true, nil
}

func (m *Memory) Release(_ context.Context, pool engine.PoolKey, date engine.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := ledgerKey{Pool: pool, Date: date.String()}
	if m.ledger[k] > 0 {
		m.ledger[k]--
	}
	return nil
}

func (m *Memory) Count(_ context.Context, pool engine.PoolKey, date engine.TimePoint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger[ledgerKey{Pool: pool, Date: date.String()}], nil
}

func (m *Memory) ResetPool(_ context.Context, pool engine.PoolKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.ledger {
		if pool == "" || k.Pool == pool {
			delete(m.ledger, k)
		}
	}
	return nil
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

func (m *Memory) AppendCalibration(_ context.Context, run engine.CalibrationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrations = append(m.calibrations, run)
	return nil
}

func (m *Memory) ListCalibrations(_ context.Context) ([]engine.CalibrationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]engine.CalibrationRun, len(m.calibrations))
	copy(runs, m.calibrations)
	return runs, nil
}

func (m *Memory) AppendPass(_ context.Context, rec engine.PassRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = append(m.passes, rec)
	return nil
}

func (m *Memory) ListPasses(_ context.Context) ([]engine.PassRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]engine.PassRecord, len(m.passes))
	copy(recs, m.passes)
	return recs, nil
}
