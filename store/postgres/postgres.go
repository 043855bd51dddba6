// Package postgres implements inventory.Store on PostgreSQL via pgxpool.
//
// Quantities are NUMERIC columns decoded straight into shopspring decimals
// (pgx-shopspring-decimal is registered on every pooled connection). Times
// are TIMESTAMPTZ, which stores microseconds, so incoming instants are
// truncated to microseconds before insert. Identical replays then compare
// equal to the stored row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

type Config struct {
	DatabaseURL string
	MaxConns    int32
	// Schema, when set, is created if missing and used as search_path.
	Schema string
}

// Store implements inventory.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ inventory.Store = (*Store)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	if cfg.Schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}

	// NUMERIC <-> decimal.Decimal on every pooled connection.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx, cfg.Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context, schema string) error {
	var stmts []string
	if schema != "" {
		stmts = append(stmts, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize())
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			recorded_by TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			unit_cost NUMERIC
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_item_occurred
			ON transactions (item_id, occurred_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_occurred
			ON transactions (occurred_at, id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			effective_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_order
			ON snapshots (effective_date DESC, created_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS snapshot_levels (
			snapshot_id TEXT NOT NULL REFERENCES snapshots (id),
			item_id TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			PRIMARY KEY (snapshot_id, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_levels_item
			ON snapshot_levels (item_id, snapshot_id)`,
	)

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// EVENT LOG
// =============================================================================

const txColumns = `id, item_id, kind, quantity, occurred_at, recorded_at,
	recorded_by, source, note, unit_cost`

func (s *Store) AppendTransaction(ctx context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	if tx.ID == "" {
		return inventory.Transaction{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}
	tx.OccurredAt = truncate(tx.OccurredAt)
	tx.RecordedAt = truncate(tx.RecordedAt)

	var unitCost decimal.NullDecimal
	if tx.UnitCost != nil {
		unitCost = decimal.NewNullDecimal(*tx.UnitCost)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(tx.ID), string(tx.ItemID), string(tx.Kind), tx.Quantity,
		tx.OccurredAt, tx.RecordedAt, tx.RecordedBy, tx.Source, tx.Note, unitCost,
	)
	if err == nil {
		return tx, nil
	}
	if !isUniqueViolation(err) {
		return inventory.Transaction{}, inventory.WrapStorage("append transaction", err)
	}

	existing, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		return inventory.Transaction{}, err
	}
	if !existing.SamePayload(tx) {
		return inventory.Transaction{}, &inventory.DuplicateError{Record: "transaction", ID: string(tx.ID)}
	}
	return existing, nil
}

func (s *Store) GetTransaction(ctx context.Context, id inventory.TransactionID) (inventory.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, string(id))
	if err != nil {
		return inventory.Transaction{}, inventory.WrapStorage("get transaction", err)
	}
	if len(txs) == 0 {
		return inventory.Transaction{}, inventory.ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) ListByItemInRange(ctx context.Context, item inventory.ItemID, from, to time.Time) ([]inventory.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE item_id = $1 AND ($2::timestamptz IS NULL OR occurred_at > $2) AND occurred_at <= $3
		ORDER BY occurred_at, id`,
		string(item), lowerBound(from), to)
	return txs, inventory.WrapStorage("list transactions", err)
}

func (s *Store) ListInRange(ctx context.Context, from, to time.Time) ([]inventory.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR occurred_at > $1) AND occurred_at <= $2
		ORDER BY occurred_at, id`,
		lowerBound(from), to)
	return txs, inventory.WrapStorage("list transactions", err)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]inventory.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []inventory.Transaction
	for rows.Next() {
		var (
			tx                     inventory.Transaction
			id, item, kind         string
			occurredAt, recordedAt time.Time
			unitCost               decimal.NullDecimal
		)
		if err := rows.Scan(&id, &item, &kind, &tx.Quantity, &occurredAt, &recordedAt,
			&tx.RecordedBy, &tx.Source, &tx.Note, &unitCost); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.ID = inventory.TransactionID(id)
		tx.ItemID = inventory.ItemID(item)
		tx.Kind = inventory.Kind(kind)
		tx.OccurredAt = occurredAt.UTC()
		tx.RecordedAt = recordedAt.UTC()
		if unitCost.Valid {
			tx.UnitCost = &unitCost.Decimal
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// CHECKPOINT LOG
// =============================================================================

const snapshotOrder = `effective_date DESC, created_at DESC, id DESC`

func (s *Store) AppendSnapshot(ctx context.Context, snap inventory.Snapshot) (inventory.Snapshot, error) {
	if snap.ID == "" {
		return inventory.Snapshot{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}
	snap.EffectiveDate = truncate(snap.EffectiveDate)
	snap.CreatedAt = truncate(snap.CreatedAt)

	err := s.insertSnapshot(ctx, snap)
	if err == nil {
		return snap, nil
	}
	if !isUniqueViolation(err) {
		return inventory.Snapshot{}, inventory.WrapStorage("append snapshot", err)
	}

	existing, err := s.GetSnapshot(ctx, snap.ID)
	if err != nil {
		return inventory.Snapshot{}, err
	}
	if !existing.SamePayload(snap) {
		return inventory.Snapshot{}, &inventory.DuplicateError{Record: "snapshot", ID: string(snap.ID)}
	}
	return existing, nil
}

func (s *Store) insertSnapshot(ctx context.Context, snap inventory.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO snapshots (id, effective_date, created_at, created_by, note)
		VALUES ($1, $2, $3, $4, $5)`,
		string(snap.ID), snap.EffectiveDate, snap.CreatedAt, snap.CreatedBy, snap.Note)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range snap.Items() {
		batch.Queue(`INSERT INTO snapshot_levels (snapshot_id, item_id, quantity) VALUES ($1, $2, $3)`,
			string(snap.ID), string(item), snap.Levels[item])
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id inventory.SnapshotID) (inventory.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, `s.id = $1`, string(id))
	if err != nil {
		return inventory.Snapshot{}, inventory.WrapStorage("get snapshot", err)
	}
	if len(snaps) == 0 {
		return inventory.Snapshot{}, inventory.ErrNotFound
	}
	return snaps[0], nil
}

func (s *Store) LatestBefore(ctx context.Context, at time.Time) (*inventory.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, `s.id = (
		SELECT id FROM snapshots
		WHERE effective_date <= $1
		ORDER BY `+snapshotOrder+` LIMIT 1)`, at)
	return first(snaps), inventory.WrapStorage("latest snapshot", err)
}

func (s *Store) LatestBeforeForItem(ctx context.Context, item inventory.ItemID, at time.Time) (*inventory.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, `s.id = (
		SELECT id FROM snapshots
		WHERE effective_date <= $2
		  AND EXISTS (SELECT 1 FROM snapshot_levels l
		              WHERE l.snapshot_id = snapshots.id AND l.item_id = $1)
		ORDER BY `+snapshotOrder+` LIMIT 1)`, string(item), at)
	return first(snaps), inventory.WrapStorage("latest snapshot", err)
}

func (s *Store) ListBefore(ctx context.Context, at time.Time) ([]inventory.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, `s.effective_date <= $1`, at)
	return snaps, inventory.WrapStorage("list snapshots", err)
}

// querySnapshots returns matching snapshots with their levels, oldest first.
func (s *Store) querySnapshots(ctx context.Context, where string, args ...any) ([]inventory.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.effective_date, s.created_at, s.created_by, s.note, l.item_id, l.quantity
		FROM snapshots s
		LEFT JOIN snapshot_levels l ON l.snapshot_id = s.id
		WHERE `+where+`
		ORDER BY s.effective_date, s.created_at, s.id, l.item_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []inventory.Snapshot
	for rows.Next() {
		var (
			id, createdBy, note string
			effective, created  time.Time
			item                *string
			quantity            decimal.NullDecimal
		)
		if err := rows.Scan(&id, &effective, &created, &createdBy, &note, &item, &quantity); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if n := len(snaps); n == 0 || snaps[n-1].ID != inventory.SnapshotID(id) {
			snaps = append(snaps, inventory.Snapshot{
				ID:            inventory.SnapshotID(id),
				EffectiveDate: effective.UTC(),
				CreatedAt:     created.UTC(),
				CreatedBy:     createdBy,
				Note:          note,
				Levels:        make(map[inventory.ItemID]decimal.Decimal),
			})
		}
		if item != nil {
			snaps[len(snaps)-1].Levels[inventory.ItemID(*item)] = quantity.Decimal
		}
	}
	return snaps, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// lowerBound maps an unbounded range start to SQL NULL.
func lowerBound(from time.Time) *time.Time {
	if from.IsZero() {
		return nil
	}
	return &from
}

func first(snaps []inventory.Snapshot) *inventory.Snapshot {
	if len(snaps) == 0 {
		return nil
	}
	return &snaps[0]
}

// isUniqueViolation reports a unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
