package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UsageStats summarizes an item's movements over (From, To].
type UsageStats struct {
	ItemID ItemID
	From   time.Time
	To     time.Time
	Days   int

	Usage          decimal.Decimal
	Waste          decimal.Decimal
	Consumed       decimal.Decimal // Usage + Waste
	Deliveries     decimal.Decimal
	NetAdjustments decimal.Decimal

	AvgDailyUsage decimal.Decimal
	WastePercent  decimal.Decimal

	LevelAtEnd decimal.Decimal
	// DaysOfCover is nil when nothing was consumed in the window, or when
	// nothing is left to cover with.
	DaysOfCover *decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// UsageStats is historical only: it reports what happened, it does not
// predict demand.
func (e *Engine) UsageStats(ctx context.Context, item ItemID, from, to time.Time) (UsageStats, error) {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return UsageStats{}, &ValidationError{Field: "to", Reason: "must not be before from"}
	}

	txs, err := e.Events.ListByItemInRange(ctx, item, from, to)
	if err != nil {
		return UsageStats{}, err
	}

	stats := UsageStats{
		ItemID:         item,
		From:           from,
		To:             to,
		Days:           DaysBetween(from, to),
		Usage:          decimal.Zero,
		Waste:          decimal.Zero,
		Deliveries:     decimal.Zero,
		NetAdjustments: decimal.Zero,
	}
	if stats.Days < 1 {
		stats.Days = 1
	}

	for _, tx := range txs {
		switch tx.Kind {
		case KindUsage:
			stats.Usage = stats.Usage.Add(tx.Quantity)
		case KindWaste:
			stats.Waste = stats.Waste.Add(tx.Quantity)
		case KindDelivery:
			stats.Deliveries = stats.Deliveries.Add(tx.Quantity)
		case KindAdjustment:
			stats.NetAdjustments = stats.NetAdjustments.Add(tx.Quantity)
		}
	}
	stats.Consumed = stats.Usage.Add(stats.Waste)
	stats.AvgDailyUsage = stats.Consumed.Div(decimal.NewFromInt(int64(stats.Days)))
	if stats.Consumed.IsPositive() {
		stats.WastePercent = stats.Waste.Div(stats.Consumed).Mul(hundred)
	}

	stats.LevelAtEnd, err = e.LevelAsOf(ctx, item, to)
	if err != nil {
		return UsageStats{}, err
	}
	if stats.AvgDailyUsage.IsPositive() && stats.LevelAtEnd.IsPositive() {
		cover := stats.LevelAtEnd.Div(stats.AvgDailyUsage)
		stats.DaysOfCover = &cover
	}
	return stats, nil
}
