/*
Package sqlite provides the SQLite-backed durable mirror for the engine.

PURPOSE:
  Implements the engine storage interfaces (WorkItemStore, CapacityStore,
  CalibrationLog, PassLog) on SQLite. The engine owns the domain state; this
  store is the mirror it reconciles against. The same SQL patterns apply to
  PostgreSQL with minor dialect changes.

SECOND LINE OF DEFENSE:
  Two constraints back up the in-process critical sections:
  - identifier_heads: compare-and-set UPDATE, so a second process can never
    commit the same identifier twice
  - capacity_ledger: the quota ceiling is enforced inside the upsert
    (count < quota in the DO UPDATE), so a rejected reservation mutates
    nothing

WAL MODE:
  Opened with WAL so readers don't block and crash recovery is cheap.

KEY TABLES:
  work_items:         Queue items keyed by identifier
  identifier_heads:   Last-issued identifier per kind (CAS)
  capacity_ledger:    Committed units per (pool, date)
  calibration_runs:   Audit trail of epoch recalibrations
  adjustment_passes:  Audit trail of scheduling passes

SEE ALSO:
  - engine/store.go: Interface contracts
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/production-engine/engine"
)

// Store implements the engine storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a second connection would see "database is
	// locked" instead of queueing behind the first.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Work items (queue rows, keyed by identifier)
	CREATE TABLE IF NOT EXISTS work_items (
		identifier TEXT PRIMARY KEY,
		due_date TEXT NOT NULL,
		entry_index INTEGER NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		urgency TEXT NOT NULL DEFAULT 'normal',
		needs_adjustment INTEGER NOT NULL DEFAULT 0,
		priority_changed_at TEXT,
		last_adjustment_scheduled_at TEXT,
		next_adjustment_date TEXT,
		adjustment_reason TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_items_entry ON work_items(entry_index);
	CREATE INDEX IF NOT EXISTS idx_work_items_due ON work_items(due_date);
	CREATE INDEX IF NOT EXISTS idx_work_items_needs_adjustment
		ON work_items(needs_adjustment) WHERE needs_adjustment = 1;

	-- Last-issued identifier per kind. Uniqueness backstop for allocation.
	CREATE TABLE IF NOT EXISTS identifier_heads (
		kind TEXT PRIMARY KEY,
		last_identifier TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Capacity ledger: committed units per (pool, date)
	CREATE TABLE IF NOT EXISTS capacity_ledger (
		pool TEXT NOT NULL,
		date TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		PRIMARY KEY (pool, date)
	);

	-- Calibration audit trail (append-only)
	CREATE TABLE IF NOT EXISTS calibration_runs (
		id TEXT PRIMARY KEY,
		requested_code TEXT NOT NULL,
		as_of TEXT NOT NULL,
		previous_epoch TEXT NOT NULL,
		new_epoch TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		ran_at TEXT NOT NULL
	);

	-- Adjustment pass audit trail (append-only)
	CREATE TABLE IF NOT EXISTS adjustment_passes (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		evaluated INTEGER NOT NULL,
		escalated INTEGER NOT NULL,
		recurring INTEGER NOT NULL,
		deferred INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WORK ITEM STORE
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item engine.WorkItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (
			identifier, due_date, entry_index, score, urgency, needs_adjustment,
			priority_changed_at, last_adjustment_scheduled_at,
			next_adjustment_date, adjustment_reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			due_date = excluded.due_date,
			entry_index = excluded.entry_index,
			score = excluded.score,
			urgency = excluded.urgency,
			needs_adjustment = excluded.needs_adjustment,
			priority_changed_at = excluded.priority_changed_at,
			last_adjustment_scheduled_at = excluded.last_adjustment_scheduled_at,
			next_adjustment_date = excluded.next_adjustment_date,
			adjustment_reason = excluded.adjustment_reason,
			updated_at = excluded.updated_at`,
		string(item.ID),
		item.DueDate.String(),
		item.EntryIndex,
		item.Score,
		string(item.Urgency),
		boolToInt(item.NeedsAdjustment),
		timeOrNull(item.PriorityChangedAt),
		timeOrNull(item.LastAdjustmentScheduledAt),
		dayOrNull(item.NextAdjustmentDate),
		item.AdjustmentReason,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetItem(ctx context.Context, id engine.Identifier) (engine.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identifier, due_date, entry_index, score, urgency, needs_adjustment,
		       priority_changed_at, last_adjustment_scheduled_at,
		       next_adjustment_date, adjustment_reason
		FROM work_items WHERE identifier = ?`, string(id))

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return engine.WorkItem{}, engine.ErrItemNotFound
	}
	return item, err
}

func (s *Store) ListItems(ctx context.Context) ([]engine.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, due_date, entry_index, score, urgency, needs_adjustment,
		       priority_changed_at, last_adjustment_scheduled_at,
		       next_adjustment_date, adjustment_reason
		FROM work_items ORDER BY entry_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []engine.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) LastIdentifier(ctx context.Context, kind string) (engine.Identifier, error) {
	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_identifier FROM identifier_heads WHERE kind = ?`, kind).Scan(&last)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return engine.Identifier(last), nil
}

// CommitIdentifier advances the head with compare-and-set semantics. The
// WHERE clause is the uniqueness constraint: a concurrent writer that
// already advanced the head makes this a zero-row update.
func (s *Store) CommitIdentifier(ctx context.Context, kind string, prev, next engine.Identifier) error {
	now := time.Now().UTC().Format(time.RFC3339)

	if prev == "" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO identifier_heads (kind, last_identifier, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(kind) DO NOTHING`,
			kind, string(next), now)
		if err != nil {
			return err
		}
		// ON CONFLICT DO NOTHING reports zero rows both on success under
		// some drivers and on conflict; re-read to tell them apart.
		head, err := s.LastIdentifier(ctx, kind)
		if err != nil {
			return err
		}
		if head != next {
			return &engine.ConflictError{Kind: "identifier", Observed: head}
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE identifier_heads SET last_identifier = ?, updated_at = ?
		WHERE kind = ? AND last_identifier = ?`,
		string(next), now, kind, string(prev))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		head, err := s.LastIdentifier(ctx, kind)
		if err != nil {
			return err
		}
		return &engine.ConflictError{Kind: "identifier", Observed: head}
	}
	return nil
}

// =============================================================================
// CAPACITY STORE
// =============================================================================

// Reserve is a single atomic check-then-increment: the ceiling lives inside
// the upsert, so a full (pool, date) row is left untouched.
func (s *Store) Reserve(ctx context.Context, pool engine.PoolKey, date engine.TimePoint, quota int) (bool, error) {
	if quota <= 0 {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO capacity_ledger (pool, date, count) VALUES (?, ?, 1)
		ON CONFLICT(pool, date) DO UPDATE SET count = count + 1
		WHERE capacity_ledger.count < ?`,
		string(pool), date.String(), quota)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) Release(ctx context.Context, pool engine.PoolKey, date engine.TimePoint) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE capacity_ledger SET count = count - 1
		WHERE pool = ? AND date = ? AND count > 0`,
		string(pool), date.String())
	return err
}

func (s *Store) Count(ctx context.Context, pool engine.PoolKey, date engine.TimePoint) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM capacity_ledger WHERE pool = ? AND date = ?`,
		string(pool), date.String()).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func (s *Store) ResetPool(ctx context.Context, pool engine.PoolKey) error {
	if pool == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM capacity_ledger`)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM capacity_ledger WHERE pool = ?`, string(pool))
	return err
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

func (s *Store) AppendCalibration(ctx context.Context, run engine.CalibrationRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_runs (id, requested_code, as_of, previous_epoch, new_epoch, actor, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		string(run.RequestedCode),
		run.AsOf.String(),
		run.PreviousEpoch.Format("2006-01-02"),
		run.NewEpoch.Format("2006-01-02"),
		run.Actor,
		run.RanAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListCalibrations(ctx context.Context) ([]engine.CalibrationRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requested_code, as_of, previous_epoch, new_epoch, actor, ran_at
		FROM calibration_runs ORDER BY ran_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []engine.CalibrationRun
	for rows.Next() {
		var run engine.CalibrationRun
		var code, asOf, prevEpoch, newEpoch, ranAt string
		if err := rows.Scan(&run.ID, &code, &asOf, &prevEpoch, &newEpoch, &run.Actor, &ranAt); err != nil {
			return nil, err
		}
		run.RequestedCode = engine.PeriodCode(code)
		if run.AsOf, err = engine.ParseDay(asOf); err != nil {
			return nil, err
		}
		if run.PreviousEpoch, err = time.Parse("2006-01-02", prevEpoch); err != nil {
			return nil, err
		}
		if run.NewEpoch, err = time.Parse("2006-01-02", newEpoch); err != nil {
			return nil, err
		}
		if run.RanAt, err = time.Parse(time.RFC3339, ranAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) AppendPass(ctx context.Context, rec engine.PassRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustment_passes (id, started_at, completed_at, evaluated, escalated, recurring, deferred)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.CompletedAt.Format(time.RFC3339Nano),
		rec.Evaluated, rec.Escalated, rec.Recurring, rec.Deferred,
	)
	return err
}

func (s *Store) ListPasses(ctx context.Context) ([]engine.PassRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, evaluated, escalated, recurring, deferred
		FROM adjustment_passes ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []engine.PassRecord
	for rows.Next() {
		var rec engine.PassRecord
		var started, completed string
		if err := rows.Scan(&rec.ID, &started, &completed, &rec.Evaluated, &rec.Escalated, &rec.Recurring, &rec.Deferred); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (engine.WorkItem, error) {
	var item engine.WorkItem
	var id, due, urgency, reason string
	var needsAdjustment int
	var priorityChanged, lastScheduled, nextDate sql.NullString

	err := row.Scan(&id, &due, &item.EntryIndex, &item.Score, &urgency,
		&needsAdjustment, &priorityChanged, &lastScheduled, &nextDate, &reason)
	if err != nil {
		return engine.WorkItem{}, err
	}

	item.ID = engine.Identifier(id)
	item.Urgency = engine.UrgencyLabel(urgency)
	item.NeedsAdjustment = needsAdjustment != 0
	item.AdjustmentReason = reason
	if item.DueDate, err = engine.ParseDay(due); err != nil {
		return engine.WorkItem{}, err
	}
	if priorityChanged.Valid {
		if item.PriorityChangedAt, err = time.Parse(time.RFC3339Nano, priorityChanged.String); err != nil {
			return engine.WorkItem{}, err
		}
	}
	if lastScheduled.Valid {
		if item.LastAdjustmentScheduledAt, err = time.Parse(time.RFC3339Nano, lastScheduled.String); err != nil {
			return engine.WorkItem{}, err
		}
	}
	if nextDate.Valid {
		if item.NextAdjustmentDate, err = engine.ParseDay(nextDate.String); err != nil {
			return engine.WorkItem{}, err
		}
	}
	return item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func dayOrNull(tp engine.TimePoint) any {
	if tp.IsZero() {
		return nil
	}
	return tp.String()
}
