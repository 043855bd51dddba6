package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

func TestAppendTransaction_AssignsIDAndRecordedAt(t *testing.T) {
	f := newFixture(t)

	tx := f.tx(t, "wine_001", inventory.KindDelivery, 12, day(2024, time.January, 2))

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, f.now, tx.RecordedAt)

	stored, err := f.store.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, tx.SamePayload(stored))
}

func TestAppendTransaction_Validation(t *testing.T) {
	f := newFixture(t)
	neg := qty(-1)

	tests := []struct {
		name  string
		draft inventory.TransactionDraft
		field string
	}{
		{"missing item", inventory.TransactionDraft{Kind: inventory.KindUsage, Quantity: qty(1), OccurredAt: day(2024, 1, 1)}, "item_id"},
		{"blank item", inventory.TransactionDraft{ItemID: "  ", Kind: inventory.KindUsage, Quantity: qty(1), OccurredAt: day(2024, 1, 1)}, "item_id"},
		{"unknown kind", inventory.TransactionDraft{ItemID: "w", Kind: "theft", Quantity: qty(1), OccurredAt: day(2024, 1, 1)}, "kind"},
		{"zero quantity", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindUsage, Quantity: decimal.Zero, OccurredAt: day(2024, 1, 1)}, "quantity"},
		{"negative usage", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindUsage, Quantity: qty(-2), OccurredAt: day(2024, 1, 1)}, "quantity"},
		{"negative delivery", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindDelivery, Quantity: qty(-2), OccurredAt: day(2024, 1, 1)}, "quantity"},
		{"missing occurred_at", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindUsage, Quantity: qty(1)}, "occurred_at"},
		{"far future", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindUsage, Quantity: qty(1), OccurredAt: day(2024, 3, 5)}, "occurred_at"},
		{"negative unit cost", inventory.TransactionDraft{ItemID: "w", Kind: inventory.KindDelivery, Quantity: qty(1), OccurredAt: day(2024, 1, 1), UnitCost: &neg}, "unit_cost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gateway.AppendTransaction(context.Background(), tt.draft)
			require.Error(t, err)
			assert.ErrorIs(t, err, inventory.ErrValidation)
			assert.True(t, inventory.IsClientError(err))
			assert.False(t, inventory.IsRetryable(err))

			var verrs inventory.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}

	all, err := f.store.ListInRange(context.Background(), time.Time{}, day(2030, 1, 1))
	require.NoError(t, err)
	assert.Empty(t, all, "rejected drafts must not be stored")
}

func TestAppendTransaction_ReportsEveryViolation(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.AppendTransaction(context.Background(), inventory.TransactionDraft{Kind: "bogus"})

	var verrs inventory.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 4) // item_id, kind, quantity, occurred_at
}

func TestAppendTransaction_NegativeAdjustmentAllowed(t *testing.T) {
	f := newFixture(t)

	tx := f.tx(t, "w", inventory.KindAdjustment, -3, day(2024, time.January, 2))

	assertQty(t, -3, tx.SignedDelta())
}

func TestAppendTransaction_IdempotentRetry(t *testing.T) {
	f := newFixture(t)
	draft := inventory.TransactionDraft{
		ID:         "pos-2024-01-03-0001",
		ItemID:     "wine_001",
		Kind:       inventory.KindUsage,
		Quantity:   qty(4),
		OccurredAt: day(2024, time.January, 3),
		Source:     "toast_pos",
	}

	first, err := f.gateway.AppendTransaction(context.Background(), draft)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second, err := f.gateway.AppendTransaction(context.Background(), draft)
	require.NoError(t, err)

	assert.Equal(t, first.RecordedAt, second.RecordedAt, "replay returns the stored record")
	txs, err := f.store.ListByItemInRange(context.Background(), "wine_001", time.Time{}, day(2024, time.February, 1))
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assertQty(t, -4, f.level(t, "wine_001", day(2024, time.January, 5)))
}

func TestAppendTransaction_SameIDDifferentPayloadConflicts(t *testing.T) {
	f := newFixture(t)
	draft := inventory.TransactionDraft{
		ID:         "tx-1",
		ItemID:     "w",
		Kind:       inventory.KindUsage,
		Quantity:   qty(4),
		OccurredAt: day(2024, time.January, 3),
	}
	_, err := f.gateway.AppendTransaction(context.Background(), draft)
	require.NoError(t, err)

	draft.Quantity = qty(5)
	_, err = f.gateway.AppendTransaction(context.Background(), draft)

	var dup *inventory.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "tx-1", dup.ID)
	assert.ErrorIs(t, err, inventory.ErrDuplicate)
}

func TestAppendSnapshot_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		draft inventory.SnapshotDraft
	}{
		{"empty levels", inventory.SnapshotDraft{EffectiveDate: day(2024, 1, 1)}},
		{"negative level", inventory.SnapshotDraft{EffectiveDate: day(2024, 1, 1), Levels: map[inventory.ItemID]decimal.Decimal{"w": qty(-1)}}},
		{"empty item", inventory.SnapshotDraft{EffectiveDate: day(2024, 1, 1), Levels: map[inventory.ItemID]decimal.Decimal{"": qty(1)}}},
		{"missing date", inventory.SnapshotDraft{Levels: map[inventory.ItemID]decimal.Decimal{"w": qty(1)}}},
		{"far future", inventory.SnapshotDraft{EffectiveDate: day(2025, 1, 1), Levels: map[inventory.ItemID]decimal.Decimal{"w": qty(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gateway.AppendSnapshot(context.Background(), tt.draft)
			assert.ErrorIs(t, err, inventory.ErrValidation)
		})
	}
}

func TestAppendSnapshot_ItemsCollidingAfterTrimAreRejected(t *testing.T) {
	// GIVEN: two counts whose item ids differ only by whitespace
	f := newFixture(t)
	draft := inventory.SnapshotDraft{
		EffectiveDate: day(2024, time.January, 1),
		Levels: map[inventory.ItemID]decimal.Decimal{
			"wine":  qty(50),
			" wine": qty(5),
			"beer":  qty(3),
		},
	}

	// WHEN: the draft is appended, repeatedly
	for i := 0; i < 5; i++ {
		_, err := f.gateway.AppendSnapshot(context.Background(), draft)

		// THEN: it is rejected every time, naming the item
		var verrs inventory.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		require.Len(t, verrs, 1)
		assert.Equal(t, "levels", verrs[0].Field)
		assert.Contains(t, verrs[0].Reason, `duplicate item "wine"`)
	}

	// AND: nothing reached the log
	snaps, err := f.store.ListBefore(context.Background(), day(2024, time.January, 2))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestAppendSnapshot_TrimsItemIDs(t *testing.T) {
	f := newFixture(t)

	snap, err := f.gateway.AppendSnapshot(context.Background(), inventory.SnapshotDraft{
		EffectiveDate: day(2024, time.January, 1),
		Levels:        map[inventory.ItemID]decimal.Decimal{" wine ": qty(7)},
	})
	require.NoError(t, err)

	assert.Equal(t, []inventory.ItemID{"wine"}, snap.Items())
	assertQty(t, 7, f.level(t, "wine", day(2024, time.January, 2)))
}

func TestAppendSnapshot_ZeroLevelAllowed(t *testing.T) {
	f := newFixture(t)
	f.tx(t, "w", inventory.KindDelivery, 3, day(2024, time.January, 1))

	f.snap(t, day(2024, time.January, 2), map[string]float64{"w": 0})

	assertQty(t, 0, f.level(t, "w", day(2024, time.January, 3)))
}

func TestAppendSnapshot_DoesNotAliasCallerMap(t *testing.T) {
	f := newFixture(t)
	levels := map[inventory.ItemID]decimal.Decimal{"w": qty(5)}

	_, err := f.gateway.AppendSnapshot(context.Background(), inventory.SnapshotDraft{EffectiveDate: day(2024, 1, 1), Levels: levels})
	require.NoError(t, err)
	levels["w"] = qty(99)

	assertQty(t, 5, f.level(t, "w", day(2024, time.January, 2)))
}

func TestAppendReset_SetsEveryItem(t *testing.T) {
	f := newFixture(t)
	f.tx(t, "a", inventory.KindDelivery, 3, day(2024, time.January, 1))

	snap, err := f.gateway.AppendReset(context.Background(), []inventory.ItemID{"a", "b", "c"}, qty(24), day(2024, time.January, 2), "")
	require.NoError(t, err)

	assert.Equal(t, []inventory.ItemID{"a", "b", "c"}, snap.Items())
	assert.Equal(t, "reset to 24", snap.Note)
	levels, err := f.engine.CurrentLevels(context.Background(), nil)
	require.NoError(t, err)
	for _, item := range []inventory.ItemID{"a", "b", "c"} {
		assertQty(t, 24, levels[item])
	}
}

func TestAppendReset_NoItemsIsValidationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.AppendReset(context.Background(), nil, qty(24), day(2024, time.January, 2), "")

	assert.ErrorIs(t, err, inventory.ErrValidation)
}

// slowLog blocks until the append deadline passes.
type slowLog struct {
	*store.Memory
}

func (s slowLog) AppendTransaction(ctx context.Context, _ inventory.Transaction) (inventory.Transaction, error) {
	<-ctx.Done()
	return inventory.Transaction{}, ctx.Err()
}

type brokenLog struct {
	*store.Memory
}

func (brokenLog) AppendSnapshot(context.Context, inventory.Snapshot) (inventory.Snapshot, error) {
	return inventory.Snapshot{}, errors.New("disk full")
}

func TestAppendTransaction_TimeoutIsDistinct(t *testing.T) {
	mem := store.NewMemory()
	cfg := inventory.GatewayConfig{MaxFutureSkew: time.Hour, AppendTimeout: 10 * time.Millisecond}
	g := inventory.NewGateway(slowLog{mem}, mem, cfg, zerolog.Nop())

	_, err := g.AppendTransaction(context.Background(), inventory.TransactionDraft{
		ItemID: "w", Kind: inventory.KindUsage, Quantity: qty(1), OccurredAt: time.Now(),
	})

	var te *inventory.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, inventory.ErrTimeout)
	assert.NotErrorIs(t, err, inventory.ErrValidation)
	assert.True(t, inventory.IsRetryable(err))
}

func TestAppendSnapshot_StorageErrorPropagates(t *testing.T) {
	mem := store.NewMemory()
	g := inventory.NewGateway(mem, brokenLog{mem}, inventory.DefaultGatewayConfig(), zerolog.Nop())

	_, err := g.AppendSnapshot(context.Background(), inventory.SnapshotDraft{
		EffectiveDate: time.Now(),
		Levels:        map[inventory.ItemID]decimal.Decimal{"w": qty(1)},
	})

	var se *inventory.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "append snapshot", se.Op)
	assert.True(t, inventory.IsRetryable(err))
}

func TestParseKind(t *testing.T) {
	for _, k := range inventory.Kinds() {
		got, err := inventory.ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := inventory.ParseKind("Delivery")
	assert.ErrorIs(t, err, inventory.ErrValidation)
}
