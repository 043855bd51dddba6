package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/storetest"
	"github.com/warp/stock-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) inventory.Store { return newStore(t) })
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	// GIVEN: a file-backed store with one snapshot and one transaction
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.AppendSnapshot(ctx, inventory.Snapshot{
		ID:            "count-1",
		EffectiveDate: inventory.Date(2024, time.January, 1),
		CreatedAt:     inventory.Date(2024, time.January, 1),
		Levels:        map[inventory.ItemID]decimal.Decimal{"wine_001": decimal.NewFromInt(24)},
	})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, inventory.Transaction{
		ID:         "tx-1",
		ItemID:     "wine_001",
		Kind:       inventory.KindUsage,
		Quantity:   decimal.NewFromInt(4),
		OccurredAt: inventory.Date(2024, time.January, 3),
		RecordedAt: inventory.Date(2024, time.January, 3),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: the database is reopened
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: the level is derived from the persisted logs
	engine := inventory.NewEngine(s, s, zerolog.Nop())
	level, err := engine.LevelAsOf(ctx, "wine_001", inventory.Date(2024, time.January, 5))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(level), "got %s", level)
}

func TestSQLite_Ping(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_CanceledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := s.AppendTransaction(ctx, inventory.Transaction{
		ID:         "tx-1",
		ItemID:     "w",
		Kind:       inventory.KindUsage,
		Quantity:   decimal.NewFromInt(1),
		OccurredAt: inventory.Date(2024, time.January, 3),
	})

	require.Error(t, err)
	assert.True(t, inventory.IsRetryable(err))
}
