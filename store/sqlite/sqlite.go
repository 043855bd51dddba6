/*
Package sqlite provides a SQLite-backed implementation of inventory.Store.

PURPOSE:
  Durable EventLog and CheckpointLog for single-node deployments. The
  Postgres backend (store/postgres) implements the same contract against a
  shared server.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on any table
  - No DELETE statements on any table
  - Corrections are new transactions or newer snapshots

KEY TABLES:
  transactions:    Immutable log of quantity movements
  snapshots:       Physical counts, one row per count
  snapshot_levels: Counted level per item, one row per (snapshot, item)

TIME ENCODING:
  Instants are stored as fixed-width UTC text (nanosecond precision) so
  lexical ORDER BY matches chronological order.

CONCURRENCY:
  Writes are serialized with sync.RWMutex. WAL mode lets readers run
  alongside the single writer.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ inventory.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

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

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only log)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		quantity TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		recorded_by TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		unit_cost TEXT
	);

	-- Level replay for one item (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_item_occurred
		ON transactions(item_id, occurred_at, id);

	-- Batch replay across items
	CREATE INDEX IF NOT EXISTS idx_transactions_occurred
		ON transactions(occurred_at, id);

	-- Snapshots (physical counts)
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		effective_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_order
		ON snapshots(effective_date DESC, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS snapshot_levels (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
		item_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, item_id)
	);

	-- Latest count covering an item
	CREATE INDEX IF NOT EXISTS idx_snapshot_levels_item
		ON snapshot_levels(item_id, snapshot_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT LOG (inventory.EventLog interface)
// =============================================================================

const txColumns = `id, item_id, kind, quantity, occurred_at, recorded_at,
	recorded_by, source, note, unit_cost`

func (s *Store) AppendTransaction(ctx context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	if tx.ID == "" {
		return inventory.Transaction{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var unitCost decimal.NullDecimal
	if tx.UnitCost != nil {
		unitCost = decimal.NewNullDecimal(*tx.UnitCost)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.ItemID,
		tx.Kind,
		tx.Quantity.String(),
		formatTime(tx.OccurredAt),
		formatTime(tx.RecordedAt),
		tx.RecordedBy,
		tx.Source,
		tx.Note,
		unitCost,
	)
	if err == nil {
		return tx, nil
	}
	if !isUniqueConstraintError(err) {
		return inventory.Transaction{}, inventory.WrapStorage("append transaction", err)
	}

	existing, err := s.getTransaction(ctx, tx.ID)
	if err != nil {
		return inventory.Transaction{}, inventory.WrapStorage("append transaction", err)
	}
	if !existing.SamePayload(tx) {
		return inventory.Transaction{}, &inventory.DuplicateError{Record: "transaction", ID: string(tx.ID)}
	}
	return existing, nil
}

func (s *Store) GetTransaction(ctx context.Context, id inventory.TransactionID) (inventory.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.getTransaction(ctx, id)
	return tx, inventory.WrapStorage("get transaction", err)
}

func (s *Store) getTransaction(ctx context.Context, id inventory.TransactionID) (inventory.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return inventory.Transaction{}, err
	}
	if len(txs) == 0 {
		return inventory.Transaction{}, inventory.ErrNotFound
	}
	return txs[0], nil
}

// ListByItemInRange returns the item's transactions in (from, to], replay order.
func (s *Store) ListByItemInRange(ctx context.Context, item inventory.ItemID, from, to time.Time) ([]inventory.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE item_id = ? AND occurred_at > ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, id ASC`,
		item, lowerBound(from), formatTime(to))
	return txs, inventory.WrapStorage("list transactions", err)
}

func (s *Store) ListInRange(ctx context.Context, from, to time.Time) ([]inventory.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE occurred_at > ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, id ASC`,
		lowerBound(from), formatTime(to))
	return txs, inventory.WrapStorage("list transactions", err)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]inventory.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []inventory.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (inventory.Transaction, error) {
	var (
		tx         inventory.Transaction
		occurredAt string
		recordedAt string
		unitCost   decimal.NullDecimal
	)

	err := rows.Scan(
		&tx.ID, &tx.ItemID, &tx.Kind, &tx.Quantity, &occurredAt, &recordedAt,
		&tx.RecordedBy, &tx.Source, &tx.Note, &unitCost,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.OccurredAt, err = parseTime(occurredAt); err != nil {
		return tx, err
	}
	if tx.RecordedAt, err = parseTime(recordedAt); err != nil {
		return tx, err
	}
	if unitCost.Valid {
		tx.UnitCost = &unitCost.Decimal
	}

	return tx, nil
}

// =============================================================================
// CHECKPOINT LOG (inventory.CheckpointLog interface)
// =============================================================================

const snapshotOrder = `effective_date DESC, created_at DESC, id DESC`

func (s *Store) AppendSnapshot(ctx context.Context, snap inventory.Snapshot) (inventory.Snapshot, error) {
	if snap.ID == "" {
		return inventory.Snapshot{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertSnapshot(ctx, snap)
	if err == nil {
		return snap, nil
	}
	if !isUniqueConstraintError(err) {
		return inventory.Snapshot{}, inventory.WrapStorage("append snapshot", err)
	}

	existing, err := s.getSnapshot(ctx, snap.ID)
	if err != nil {
		return inventory.Snapshot{}, inventory.WrapStorage("append snapshot", err)
	}
	if !existing.SamePayload(snap) {
		return inventory.Snapshot{}, &inventory.DuplicateError{Record: "snapshot", ID: string(snap.ID)}
	}
	return existing, nil
}

// insertSnapshot writes the header and every level row atomically.
func (s *Store) insertSnapshot(ctx context.Context, snap inventory.Snapshot) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO snapshots (id, effective_date, created_at, created_by, note)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, formatTime(snap.EffectiveDate), formatTime(snap.CreatedAt), snap.CreatedBy, snap.Note)
	if err != nil {
		return err
	}

	stmt, err := sqlTx.PrepareContext(ctx,
		`INSERT INTO snapshot_levels (snapshot_id, item_id, quantity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range snap.Items() {
		if _, err := stmt.ExecContext(ctx, snap.ID, item, snap.Levels[item].String()); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func (s *Store) GetSnapshot(ctx context.Context, id inventory.SnapshotID) (inventory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.getSnapshot(ctx, id)
	return snap, inventory.WrapStorage("get snapshot", err)
}

func (s *Store) getSnapshot(ctx context.Context, id inventory.SnapshotID) (inventory.Snapshot, error) {
	snap, err := s.oneSnapshot(ctx, `s.id = ?`, id)
	if err != nil {
		return inventory.Snapshot{}, err
	}
	if snap == nil {
		return inventory.Snapshot{}, inventory.ErrNotFound
	}
	return *snap, nil
}

func (s *Store) LatestBefore(ctx context.Context, at time.Time) (*inventory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.oneSnapshot(ctx, `s.id = (
		SELECT id FROM snapshots
		WHERE effective_date <= ?
		ORDER BY `+snapshotOrder+` LIMIT 1)`,
		formatTime(at))
	return snap, inventory.WrapStorage("latest snapshot", err)
}

func (s *Store) LatestBeforeForItem(ctx context.Context, item inventory.ItemID, at time.Time) (*inventory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.oneSnapshot(ctx, `s.id = (
		SELECT id FROM snapshots
		JOIN snapshot_levels ON snapshot_levels.snapshot_id = snapshots.id
		WHERE snapshot_levels.item_id = ? AND effective_date <= ?
		ORDER BY `+snapshotOrder+` LIMIT 1)`,
		item, formatTime(at))
	return snap, inventory.WrapStorage("latest snapshot", err)
}

// ListBefore returns every snapshot effective at or before at, oldest first.
func (s *Store) ListBefore(ctx context.Context, at time.Time) ([]inventory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := s.querySnapshots(ctx, `s.effective_date <= ?`, formatTime(at))
	return snaps, inventory.WrapStorage("list snapshots", err)
}

func (s *Store) oneSnapshot(ctx context.Context, where string, args ...any) (*inventory.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, where, args...)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// querySnapshots joins headers with their levels and folds consecutive rows
// of the same snapshot back into one value. Results are oldest first.
func (s *Store) querySnapshots(ctx context.Context, where string, args ...any) ([]inventory.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT s.id, s.effective_date, s.created_at, s.created_by, s.note, l.item_id, l.quantity
		FROM snapshots s
		LEFT JOIN snapshot_levels l ON l.snapshot_id = s.id
		WHERE %s
		ORDER BY s.effective_date ASC, s.created_at ASC, s.id ASC, l.item_id ASC`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []inventory.Snapshot
	for rows.Next() {
		var (
			snap              inventory.Snapshot
			effective, create string
			item              sql.NullString
			quantity          decimal.NullDecimal
		)
		if err := rows.Scan(&snap.ID, &effective, &create, &snap.CreatedBy, &snap.Note, &item, &quantity); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		if n := len(snaps); n == 0 || snaps[n-1].ID != snap.ID {
			if snap.EffectiveDate, err = parseTime(effective); err != nil {
				return nil, err
			}
			if snap.CreatedAt, err = parseTime(create); err != nil {
				return nil, err
			}
			snap.Levels = make(map[inventory.ItemID]decimal.Decimal)
			snaps = append(snaps, snap)
		}
		if item.Valid {
			snaps[len(snaps)-1].Levels[inventory.ItemID(item.String)] = quantity.Decimal
		}
	}

	return snaps, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

// lowerBound maps an unbounded (zero) range start to a value that sorts
// before every stored instant.
func lowerBound(from time.Time) string {
	if from.IsZero() {
		return ""
	}
	return formatTime(from)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
