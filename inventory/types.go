/*
Package inventory provides the stock ledger engine.

PURPOSE:
  On-hand stock per item is never stored. It is reconstructed from two
  append-only logs: a log of Transactions (deliveries, usage, waste,
  adjustments) and a log of Snapshots (declared counts at a date). The
  engine composes the latest applicable snapshot with every transaction
  that logically follows it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: closed set of transaction kinds; the kind carries the sign
  - Transaction: an immutable fact about stock movement
  - Snapshot: an authoritative count for a set of items at EffectiveDate
  - Levels: a computed projection, item -> quantity

DESIGN PRINCIPLES:
  1. Immutability: records are appended, never edited. Corrections are new
     adjustment transactions or new snapshots.
  2. Logical time: OccurredAt / EffectiveDate drive level math. RecordedAt
     and CreatedAt are audit fields only.
  3. Precision: quantities use decimal.Decimal.

USAGE:
  tx, err := gateway.AppendTransaction(ctx, inventory.TransactionDraft{
      ItemID:     "wine_001",
      Kind:       inventory.KindUsage,
      Quantity:   decimal.NewFromInt(4),
      OccurredAt: inventory.Date(2024, time.January, 3),
  })

SEE ALSO:
  - store.go: EventLog and CheckpointLog interfaces
  - ledger.go: Engine (LevelAsOf, CurrentLevels, LowStockAlerts)
  - gateway.go: write-time validation
*/
package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type TransactionID string
type SnapshotID string

// =============================================================================
// KIND - What happened to the stock
// =============================================================================

type Kind string

const (
	KindDelivery   Kind = "delivery"   // Stock received
	KindUsage      Kind = "usage"      // Sold or consumed
	KindWaste      Kind = "waste"      // Spoiled, broken, comped
	KindAdjustment Kind = "adjustment" // Manual correction, signed
)

var kinds = []Kind{KindDelivery, KindUsage, KindWaste, KindAdjustment}

// Kinds returns the closed set of transaction kinds.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind converts a raw string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Reason: "unknown transaction kind " + quote(s)}
}

func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// Signed reports whether the quantity itself carries the sign.
func (k Kind) Signed() bool { return k == KindAdjustment }

// =============================================================================
// TRANSACTION - Immutable stock movement
// =============================================================================

type Transaction struct {
	ID         TransactionID
	ItemID     ItemID
	Kind       Kind
	Quantity   decimal.Decimal
	OccurredAt time.Time

	// Audit only. Never used for level computation.
	RecordedAt time.Time
	RecordedBy string

	Source   string // "toast_pos", "manual", "delivery", "count"
	Note     string
	UnitCost *decimal.Decimal
}

// SignedDelta returns the effect of the transaction on the item's level.
func (t Transaction) SignedDelta() decimal.Decimal {
	switch t.Kind {
	case KindDelivery:
		return t.Quantity.Abs()
	case KindUsage, KindWaste:
		return t.Quantity.Abs().Neg()
	case KindAdjustment:
		return t.Quantity
	default:
		return decimal.Zero
	}
}

// SamePayload reports whether two transactions describe the same fact.
// RecordedAt is excluded so a retried append with a fresh clock still matches.
func (t Transaction) SamePayload(o Transaction) bool {
	if t.ID != o.ID || t.ItemID != o.ItemID || t.Kind != o.Kind ||
		!t.Quantity.Equal(o.Quantity) || !t.OccurredAt.Equal(o.OccurredAt) ||
		t.Source != o.Source || t.Note != o.Note || t.RecordedBy != o.RecordedBy {
		return false
	}
	switch {
	case t.UnitCost == nil && o.UnitCost == nil:
		return true
	case t.UnitCost == nil || o.UnitCost == nil:
		return false
	default:
		return t.UnitCost.Equal(*o.UnitCost)
	}
}

// Before orders transactions by (OccurredAt, ID). ID breaks timestamp ties so
// replay order is total and reproducible.
func (t Transaction) Before(o Transaction) bool {
	if !t.OccurredAt.Equal(o.OccurredAt) {
		return t.OccurredAt.Before(o.OccurredAt)
	}
	return t.ID < o.ID
}

// SortTransactions sorts in replay order.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Before(txs[j]) })
}

// =============================================================================
// SNAPSHOT - Declared count at an effective date
// =============================================================================

// Snapshot declares absolute levels for a set of items. The levels are
// authoritative only at EffectiveDate and say nothing about items not listed.
type Snapshot struct {
	ID            SnapshotID
	EffectiveDate time.Time
	Levels        map[ItemID]decimal.Decimal

	CreatedAt time.Time
	CreatedBy string
	Note      string
}

// Level returns the declared level for item and whether the snapshot lists it.
func (s Snapshot) Level(item ItemID) (decimal.Decimal, bool) {
	v, ok := s.Levels[item]
	return v, ok
}

// Newer orders snapshots for LatestBefore: later effective date wins, then the
// more recently declared, then the greater id.
func (s Snapshot) Newer(o Snapshot) bool {
	if !s.EffectiveDate.Equal(o.EffectiveDate) {
		return s.EffectiveDate.After(o.EffectiveDate)
	}
	if !s.CreatedAt.Equal(o.CreatedAt) {
		return s.CreatedAt.After(o.CreatedAt)
	}
	return s.ID > o.ID
}

// SamePayload ignores CreatedAt for the same reason as Transaction.SamePayload.
func (s Snapshot) SamePayload(o Snapshot) bool {
	if s.ID != o.ID || !s.EffectiveDate.Equal(o.EffectiveDate) ||
		s.Note != o.Note || s.CreatedBy != o.CreatedBy || len(s.Levels) != len(o.Levels) {
		return false
	}
	for item, v := range s.Levels {
		ov, ok := o.Levels[item]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Items returns the snapshot's item ids in sorted order.
func (s Snapshot) Items() []ItemID {
	items := make([]ItemID, 0, len(s.Levels))
	for item := range s.Levels {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// SortSnapshots sorts oldest first (the reverse of Newer).
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[j].Newer(snaps[i]) })
}

// =============================================================================
// LEVELS - Computed projection
// =============================================================================

type Levels map[ItemID]decimal.Decimal

// Get returns the level of item, zero if absent.
func (l Levels) Get(item ItemID) decimal.Decimal {
	if v, ok := l[item]; ok {
		return v
	}
	return decimal.Zero
}

// Items returns the item ids in sorted order.
func (l Levels) Items() []ItemID {
	items := make([]ItemID, 0, len(l))
	for item := range l {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

func quote(s string) string { return "\"" + s + "\"" }
