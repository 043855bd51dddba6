// Package store provides in-memory EventLog and CheckpointLog implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps each log behind its own lock so a transaction append never
// waits on a snapshot append and vice versa.
type Memory struct {
	txMu   sync.RWMutex
	byItem map[inventory.ItemID][]inventory.Transaction // replay order
	txByID map[inventory.TransactionID]inventory.Transaction

	snapMu   sync.RWMutex
	snaps    []inventory.Snapshot // oldest first
	snapByID map[inventory.SnapshotID]inventory.Snapshot
}

var _ inventory.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byItem:   make(map[inventory.ItemID][]inventory.Transaction),
		txByID:   make(map[inventory.TransactionID]inventory.Transaction),
		snapByID: make(map[inventory.SnapshotID]inventory.Snapshot),
	}
}

// =============================================================================
// EVENT LOG
// =============================================================================

func (m *Memory) AppendTransaction(ctx context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	if tx.ID == "" {
		return inventory.Transaction{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}
	if err := ctx.Err(); err != nil {
		return inventory.Transaction{}, inventory.WrapStorage("append transaction", err)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	if existing, ok := m.txByID[tx.ID]; ok {
		if existing.SamePayload(tx) {
			return cloneTransaction(existing), nil
		}
		return inventory.Transaction{}, &inventory.DuplicateError{Record: "transaction", ID: string(tx.ID)}
	}

	tx = cloneTransaction(tx)
	txs := m.byItem[tx.ItemID]

	// Binary search for insertion point keeps the slice in replay order
	i := sort.Search(len(txs), func(i int) bool {
		return tx.Before(txs[i])
	})
	txs = append(txs, inventory.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.byItem[tx.ItemID] = txs
	m.txByID[tx.ID] = tx

	return cloneTransaction(tx), nil
}

func (m *Memory) GetTransaction(_ context.Context, id inventory.TransactionID) (inventory.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	tx, ok := m.txByID[id]
	if !ok {
		return inventory.Transaction{}, inventory.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *Memory) ListByItemInRange(_ context.Context, item inventory.ItemID, from, to time.Time) ([]inventory.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	var result []inventory.Transaction
	for _, tx := range m.byItem[item] {
		if tx.OccurredAt.After(to) {
			break
		}
		if from.IsZero() || tx.OccurredAt.After(from) {
			result = append(result, cloneTransaction(tx))
		}
	}
	return result, nil
}

func (m *Memory) ListInRange(_ context.Context, from, to time.Time) ([]inventory.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	var result []inventory.Transaction
	for _, txs := range m.byItem {
		for _, tx := range txs {
			if tx.OccurredAt.After(to) {
				break
			}
			if from.IsZero() || tx.OccurredAt.After(from) {
				result = append(result, cloneTransaction(tx))
			}
		}
	}
	inventory.SortTransactions(result)
	return result, nil
}

// =============================================================================
// CHECKPOINT LOG
// =============================================================================

func (m *Memory) AppendSnapshot(ctx context.Context, snap inventory.Snapshot) (inventory.Snapshot, error) {
	if snap.ID == "" {
		return inventory.Snapshot{}, &inventory.ValidationError{Field: "id", Reason: "required"}
	}
	if err := ctx.Err(); err != nil {
		return inventory.Snapshot{}, inventory.WrapStorage("append snapshot", err)
	}

	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	if existing, ok := m.snapByID[snap.ID]; ok {
		if existing.SamePayload(snap) {
			return existing, nil
		}
		return inventory.Snapshot{}, &inventory.DuplicateError{Record: "snapshot", ID: string(snap.ID)}
	}

	snap = cloneSnapshot(snap)
	i := sort.Search(len(m.snaps), func(i int) bool {
		return m.snaps[i].Newer(snap)
	})
	m.snaps = append(m.snaps, inventory.Snapshot{})
	copy(m.snaps[i+1:], m.snaps[i:])
	m.snaps[i] = snap
	m.snapByID[snap.ID] = snap

	return cloneSnapshot(snap), nil
}

func (m *Memory) GetSnapshot(_ context.Context, id inventory.SnapshotID) (inventory.Snapshot, error) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()

	snap, ok := m.snapByID[id]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (m *Memory) LatestBefore(_ context.Context, at time.Time) (*inventory.Snapshot, error) {
	return m.latest(at, func(inventory.Snapshot) bool { return true }), nil
}

func (m *Memory) LatestBeforeForItem(_ context.Context, item inventory.ItemID, at time.Time) (*inventory.Snapshot, error) {
	return m.latest(at, func(s inventory.Snapshot) bool {
		_, ok := s.Levels[item]
		return ok
	}), nil
}

func (m *Memory) latest(at time.Time, match func(inventory.Snapshot) bool) *inventory.Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()

	// First snapshot effective after `at`; everything before it qualifies.
	n := sort.Search(len(m.snaps), func(i int) bool {
		return m.snaps[i].EffectiveDate.After(at)
	})
	for i := n - 1; i >= 0; i-- {
		if match(m.snaps[i]) {
			snap := cloneSnapshot(m.snaps[i])
			return &snap
		}
	}
	return nil
}

func (m *Memory) ListBefore(_ context.Context, at time.Time) ([]inventory.Snapshot, error) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()

	var result []inventory.Snapshot
	for _, s := range m.snaps {
		if s.EffectiveDate.After(at) {
			break
		}
		result = append(result, cloneSnapshot(s))
	}
	return result, nil
}

// cloneTransaction detaches UnitCost from the caller's pointer.
func cloneTransaction(tx inventory.Transaction) inventory.Transaction {
	if tx.UnitCost != nil {
		c := *tx.UnitCost
		tx.UnitCost = &c
	}
	return tx
}

func cloneSnapshot(s inventory.Snapshot) inventory.Snapshot {
	levels := make(map[inventory.ItemID]decimal.Decimal, len(s.Levels))
	for k, v := range s.Levels {
		levels[k] = v
	}
	s.Levels = levels
	return s
}
