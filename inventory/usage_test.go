package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
)

func TestUsageStats(t *testing.T) {
	f := newFixture(t)
	f.snap(t, day(2024, time.January, 1), map[string]float64{"w": 20})
	f.tx(t, "w", inventory.KindUsage, 6, day(2024, time.January, 3))
	f.tx(t, "w", inventory.KindWaste, 2, day(2024, time.January, 4))
	f.tx(t, "w", inventory.KindDelivery, 12, day(2024, time.January, 5))
	f.tx(t, "w", inventory.KindAdjustment, -1, day(2024, time.January, 6))
	f.tx(t, "w", inventory.KindUsage, 2, day(2024, time.January, 9))
	f.tx(t, "w", inventory.KindUsage, 100, day(2024, time.February, 1)) // outside window

	stats, err := f.engine.UsageStats(context.Background(), "w", day(2024, time.January, 1), day(2024, time.January, 11))
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Days)
	assertQty(t, 8, stats.Usage)
	assertQty(t, 2, stats.Waste)
	assertQty(t, 10, stats.Consumed)
	assertQty(t, 12, stats.Deliveries)
	assertQty(t, -1, stats.NetAdjustments)
	assertQty(t, 1, stats.AvgDailyUsage)
	assertQty(t, 20, stats.WastePercent)
	assertQty(t, 21, stats.LevelAtEnd)
	require.NotNil(t, stats.DaysOfCover)
	assertQty(t, 21, *stats.DaysOfCover)
}

func TestUsageStats_NoConsumption(t *testing.T) {
	f := newFixture(t)
	f.tx(t, "w", inventory.KindDelivery, 5, day(2024, time.January, 2))

	stats, err := f.engine.UsageStats(context.Background(), "w", day(2024, time.January, 1), day(2024, time.January, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Days)
	assert.True(t, stats.WastePercent.IsZero())
	assert.Nil(t, stats.DaysOfCover)
}

func TestUsageStats_InvertedRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.UsageStats(context.Background(), "w", day(2024, time.January, 5), day(2024, time.January, 1))

	assert.ErrorIs(t, err, inventory.ErrValidation)
}

func TestUsageStats_NoCoverWhenLevelNotPositive(t *testing.T) {
	// GIVEN: usage recorded against a count that was set too low
	f := newFixture(t)
	f.snap(t, day(2024, time.January, 1), map[string]float64{"w": 2})
	f.tx(t, "w", inventory.KindUsage, 5, day(2024, time.January, 3))

	// WHEN: stats are computed
	stats, err := f.engine.UsageStats(context.Background(), "w", day(2024, time.January, 1), day(2024, time.January, 5))

	// THEN: the level is reported as is, but there are no days of cover
	require.NoError(t, err)
	assertQty(t, -3, stats.LevelAtEnd)
	assert.Nil(t, stats.DaysOfCover)

	// An exactly empty shelf has no cover either.
	f.tx(t, "w", inventory.KindDelivery, 3, day(2024, time.January, 4))
	stats, err = f.engine.UsageStats(context.Background(), "w", day(2024, time.January, 1), day(2024, time.January, 5))
	require.NoError(t, err)
	assertQty(t, 0, stats.LevelAtEnd)
	assert.Nil(t, stats.DaysOfCover)
}
