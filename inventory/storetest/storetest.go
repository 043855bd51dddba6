// Package storetest holds the behavioral contract every inventory.Store
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
)

// Factory returns an empty store. Cleanup is the factory's job (t.Cleanup).
type Factory func(t *testing.T) inventory.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("RangeIsLeftOpenRightClosed", func(t *testing.T) { testRange(t, newStore(t)) })
	t.Run("ReplayOrderBreaksTiesByID", func(t *testing.T) { testTieBreak(t, newStore(t)) })
	t.Run("ListInRangeSpansItems", func(t *testing.T) { testListInRange(t, newStore(t)) })
	t.Run("TransactionIdempotency", func(t *testing.T) { testTxIdempotency(t, newStore(t)) })
	t.Run("TransactionRoundTrip", func(t *testing.T) { testTxRoundTrip(t, newStore(t)) })
	t.Run("StoredTransactionIsDetached", func(t *testing.T) { testTxDetached(t, newStore(t)) })
	t.Run("LatestBefore", func(t *testing.T) { testLatestBefore(t, newStore(t)) })
	t.Run("LatestBeforeTies", func(t *testing.T) { testLatestBeforeTies(t, newStore(t)) })
	t.Run("LatestBeforeForItem", func(t *testing.T) { testLatestBeforeForItem(t, newStore(t)) })
	t.Run("ListBeforeOldestFirst", func(t *testing.T) { testListBefore(t, newStore(t)) })
	t.Run("SnapshotIdempotency", func(t *testing.T) { testSnapIdempotency(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func day(d int) time.Time { return inventory.Date(2024, time.January, d) }

func q(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func tx(id string, item string, kind inventory.Kind, n int64, at time.Time) inventory.Transaction {
	return inventory.Transaction{
		ID:         inventory.TransactionID(id),
		ItemID:     inventory.ItemID(item),
		Kind:       kind,
		Quantity:   q(n),
		OccurredAt: at,
		RecordedAt: inventory.Date(2024, time.March, 1),
	}
}

func snap(id string, effective, created time.Time, levels map[string]int64) inventory.Snapshot {
	m := make(map[inventory.ItemID]decimal.Decimal, len(levels))
	for k, v := range levels {
		m[inventory.ItemID(k)] = q(v)
	}
	return inventory.Snapshot{ID: inventory.SnapshotID(id), EffectiveDate: effective, CreatedAt: created, Levels: m}
}

func ids(txs []inventory.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = string(t.ID)
	}
	return out
}

func mustAppendTx(t *testing.T, s inventory.Store, txs ...inventory.Transaction) {
	t.Helper()
	for _, x := range txs {
		_, err := s.AppendTransaction(context.Background(), x)
		require.NoError(t, err)
	}
}

func mustAppendSnap(t *testing.T, s inventory.Store, snaps ...inventory.Snapshot) {
	t.Helper()
	for _, x := range snaps {
		_, err := s.AppendSnapshot(context.Background(), x)
		require.NoError(t, err)
	}
}

func testRange(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	mustAppendTx(t, s,
		tx("t3", "w", inventory.KindUsage, 1, day(3)),
		tx("t1", "w", inventory.KindDelivery, 5, day(1)),
		tx("t2", "w", inventory.KindUsage, 1, day(2)),
		tx("t4", "w", inventory.KindUsage, 1, day(4)),
		tx("x1", "other", inventory.KindUsage, 1, day(2)),
	)

	got, err := s.ListByItemInRange(ctx, "w", day(1), day(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, ids(got))

	got, err = s.ListByItemInRange(ctx, "w", time.Time{}, day(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(got))
}

func testTieBreak(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	at := day(2).Add(10 * time.Hour)
	mustAppendTx(t, s,
		tx("c", "w", inventory.KindUsage, 1, at),
		tx("a", "w", inventory.KindUsage, 1, at),
		tx("b", "w", inventory.KindUsage, 1, at),
	)

	got, err := s.ListByItemInRange(ctx, "w", time.Time{}, day(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func testListInRange(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	mustAppendTx(t, s,
		tx("b2", "b", inventory.KindUsage, 1, day(4)),
		tx("a1", "a", inventory.KindDelivery, 5, day(1)),
		tx("b1", "b", inventory.KindDelivery, 5, day(2)),
		tx("a2", "a", inventory.KindUsage, 1, day(9)),
	)

	got, err := s.ListInRange(ctx, day(1), day(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids(got))
}

func testTxIdempotency(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	orig := tx("t1", "w", inventory.KindUsage, 4, day(3))
	mustAppendTx(t, s, orig)

	retry := orig
	retry.RecordedAt = retry.RecordedAt.Add(time.Hour)
	stored, err := s.AppendTransaction(ctx, retry)
	require.NoError(t, err)
	assert.True(t, stored.RecordedAt.Equal(orig.RecordedAt))

	conflict := orig
	conflict.Quantity = q(5)
	_, err = s.AppendTransaction(ctx, conflict)
	var dup *inventory.DuplicateError
	require.ErrorAs(t, err, &dup)

	all, err := s.ListByItemInRange(ctx, "w", time.Time{}, day(31))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testTxRoundTrip(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	cost := decimal.RequireFromString("12.75")
	in := inventory.Transaction{
		ID:         "rt-1",
		ItemID:     "wine_001",
		Kind:       inventory.KindAdjustment,
		Quantity:   decimal.RequireFromString("-1.5"),
		OccurredAt: day(3).Add(13*time.Hour + 7*time.Minute + 250*time.Millisecond),
		RecordedAt: day(4),
		RecordedBy: "manager",
		Source:     "count",
		Note:       "broken bottle",
		UnitCost:   &cost,
	}
	mustAppendTx(t, s, in)

	out, err := s.GetTransaction(ctx, "rt-1")
	require.NoError(t, err)
	assert.True(t, in.SamePayload(out), "round trip changed payload: %+v", out)
	assert.True(t, in.RecordedAt.Equal(out.RecordedAt))
}

func testTxDetached(t *testing.T, s inventory.Store) {
	// GIVEN: a stored transaction whose unit cost came from a caller pointer
	ctx := context.Background()
	cost := decimal.RequireFromString("4.50")
	in := tx("cost-1", "w", inventory.KindDelivery, 6, day(2))
	in.UnitCost = &cost
	mustAppendTx(t, s, in)

	// WHEN: the caller and a reader write through their pointers
	cost = decimal.RequireFromString("99")
	first, err := s.GetTransaction(ctx, "cost-1")
	require.NoError(t, err)
	require.NotNil(t, first.UnitCost)
	*first.UnitCost = decimal.RequireFromString("77")

	// THEN: the stored record is unchanged
	again, err := s.GetTransaction(ctx, "cost-1")
	require.NoError(t, err)
	require.NotNil(t, again.UnitCost)
	assert.True(t, decimal.RequireFromString("4.50").Equal(*again.UnitCost), "got %s", again.UnitCost)

	listed, err := s.ListByItemInRange(ctx, "w", time.Time{}, day(3))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, decimal.RequireFromString("4.50").Equal(*listed[0].UnitCost))
}

func testLatestBefore(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	got, err := s.LatestBefore(ctx, day(10))
	require.NoError(t, err)
	assert.Nil(t, got)

	mustAppendSnap(t, s,
		snap("s2", day(5), day(20), map[string]int64{"w": 10}),
		snap("s1", day(1), day(1), map[string]int64{"w": 24}),
	)

	got, err = s.LatestBefore(ctx, day(4))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.SnapshotID("s1"), got.ID)

	got, err = s.LatestBefore(ctx, day(5))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.SnapshotID("s2"), got.ID)
	assert.True(t, q(10).Equal(got.Levels["w"]))

	got, err = s.LatestBefore(ctx, inventory.Date(2023, time.December, 31))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testLatestBeforeTies(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	mustAppendSnap(t, s,
		snap("a", day(1), day(3), map[string]int64{"w": 1}),
		snap("b", day(1), day(2), map[string]int64{"w": 2}),
		snap("c", day(1), day(3), map[string]int64{"w": 3}),
	)

	got, err := s.LatestBefore(ctx, day(1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.SnapshotID("c"), got.ID)
}

func testLatestBeforeForItem(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	mustAppendSnap(t, s,
		snap("full", day(1), day(1), map[string]int64{"a": 1, "b": 2}),
		snap("partial", day(5), day(5), map[string]int64{"a": 7}),
	)

	got, err := s.LatestBeforeForItem(ctx, "b", day(10))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.SnapshotID("full"), got.ID)
	assert.Len(t, got.Levels, 2)

	got, err = s.LatestBeforeForItem(ctx, "a", day(10))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.SnapshotID("partial"), got.ID)

	got, err = s.LatestBeforeForItem(ctx, "zzz", day(10))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testListBefore(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	mustAppendSnap(t, s,
		snap("late", day(9), day(9), map[string]int64{"w": 1}),
		snap("mid-new", day(5), day(7), map[string]int64{"w": 1}),
		snap("early", day(1), day(1), map[string]int64{"w": 1}),
		snap("mid-old", day(5), day(6), map[string]int64{"w": 1}),
	)

	got, err := s.ListBefore(ctx, day(8))
	require.NoError(t, err)
	var order []inventory.SnapshotID
	for _, g := range got {
		order = append(order, g.ID)
	}
	assert.Equal(t, []inventory.SnapshotID{"early", "mid-old", "mid-new"}, order)
}

func testSnapIdempotency(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	orig := snap("s1", day(1), day(1), map[string]int64{"w": 24, "v": 3})
	mustAppendSnap(t, s, orig)

	retry := snap("s1", day(1), day(2), map[string]int64{"v": 3, "w": 24})
	stored, err := s.AppendSnapshot(ctx, retry)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(day(1)))

	conflict := snap("s1", day(1), day(1), map[string]int64{"w": 23, "v": 3})
	_, err = s.AppendSnapshot(ctx, conflict)
	assert.ErrorIs(t, err, inventory.ErrDuplicate)
}

func testNotFound(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	_, err := s.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = s.GetSnapshot(ctx, "nope")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func testConcurrent(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	const writers, perWriter = 4, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := inventory.TransactionID(string(rune('a'+w)) + "-" + decimal.NewFromInt(int64(i)).String())
				x := tx(string(id), "w", inventory.KindDelivery, 1, day(1+i%20))
				if _, err := s.AppendTransaction(ctx, x); err != nil {
					t.Errorf("append %s: %v", id, err)
				}
				if _, err := s.ListByItemInRange(ctx, "w", time.Time{}, day(31)); err != nil {
					t.Errorf("list: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	all, err := s.ListByItemInRange(ctx, "w", time.Time{}, day(31))
	require.NoError(t, err)
	assert.Len(t, all, writers*perWriter)
}
