/*
store.go - Persistence interfaces for the two append-only logs

PURPOSE:
  The engine never touches a database directly. It reads and writes through
  EventLog and CheckpointLog so the backend (memory, SQLite, PostgreSQL) can
  be swapped without touching level math.

APPEND-ONLY CONTRACT:
  - AppendTransaction() / AppendSnapshot() are the ONLY write operations
  - NO Update() or Delete() methods exist
  - Appending an id that already exists with an identical payload returns
    the stored record and no error (idempotent retry). A different payload
    returns *DuplicateError.

CONCURRENCY:
  Implementations serialize appends per log (single writer) and allow any
  number of concurrent readers. The write critical section contains only the
  durable insert.

RANGES:
  Transaction ranges are half-open on the left: (from, to]. A zero `from`
  means start of time. Results are ordered by (OccurredAt, ID).

IMPLEMENTATIONS:
  - inventory/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package inventory

import (
	"context"
	"time"
)

// EventLog stores Transactions.
type EventLog interface {
	// AppendTransaction persists tx and returns the stored record.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// GetTransaction returns ErrNotFound if id is unknown.
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// ListByItemInRange returns item's transactions with OccurredAt in (from, to].
	ListByItemInRange(ctx context.Context, item ItemID, from, to time.Time) ([]Transaction, error)

	// ListInRange returns transactions of every item with OccurredAt in (from, to].
	ListInRange(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// CheckpointLog stores Snapshots.
type CheckpointLog interface {
	// AppendSnapshot persists snap and returns the stored record.
	AppendSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)

	// GetSnapshot returns ErrNotFound if id is unknown.
	GetSnapshot(ctx context.Context, id SnapshotID) (Snapshot, error)

	// LatestBefore returns the newest snapshot with EffectiveDate <= at, or nil.
	// Ties: greatest CreatedAt, then greatest ID.
	LatestBefore(ctx context.Context, at time.Time) (*Snapshot, error)

	// LatestBeforeForItem is LatestBefore restricted to snapshots listing item.
	LatestBeforeForItem(ctx context.Context, item ItemID, at time.Time) (*Snapshot, error)

	// ListBefore returns every snapshot with EffectiveDate <= at, oldest first.
	ListBefore(ctx context.Context, at time.Time) ([]Snapshot, error)
}

// Store is a backend that provides both logs.
type Store interface {
	EventLog
	CheckpointLog
}
