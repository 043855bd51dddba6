/*
stock.go - Stock classification and valuation

PURPOSE:
  Both are pure functions over a Levels projection plus per-item data the
  caller supplies (reorder points, par levels, unit costs, categories). The
  ledger keeps no item master data of its own.

CLASSIFICATION (per item with thresholds):
  - out of stock: level <= 0
  - low:          level <= reorder point
  - overstocked:  par level set and level > OverstockFactor * par level
  - otherwise ok, and not reported
  The first matching bucket wins.

VALUATION:
  value = level * cost per unit, for every item with a cost. Negative levels
  are not clamped and yield negative values.
*/
package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// OverstockFactor is how far above par an item must be to count as overstocked.
var OverstockFactor = decimal.RequireFromString("1.5")

// Uncategorized groups valued items that were given no category.
const Uncategorized = "uncategorized"

// =============================================================================
// CLASSIFICATION
// =============================================================================

type StockStatus string

const (
	StatusOutOfStock  StockStatus = "out_of_stock"
	StatusLow         StockStatus = "low_stock"
	StatusOverstocked StockStatus = "overstocked"
	StatusOK          StockStatus = "ok"
)

type StockThresholds struct {
	ReorderPoint decimal.Decimal
	// ParLevel zero disables the overstock check.
	ParLevel decimal.Decimal
}

type StockEntry struct {
	ItemID     ItemID
	Level      decimal.Decimal
	Thresholds StockThresholds
}

type StockReport struct {
	OutOfStock  []StockEntry
	Low         []StockEntry // most urgent first
	Overstocked []StockEntry
}

// Classify returns the bucket level falls into under th.
func (th StockThresholds) Classify(level decimal.Decimal) StockStatus {
	switch {
	case !level.IsPositive():
		return StatusOutOfStock
	case level.LessThanOrEqual(th.ReorderPoint):
		return StatusLow
	case th.ParLevel.IsPositive() && level.GreaterThan(th.ParLevel.Mul(OverstockFactor)):
		return StatusOverstocked
	default:
		return StatusOK
	}
}

// ClassifyStock sorts every item in thresholds into a bucket. An item
// missing from levels has level zero.
func ClassifyStock(levels Levels, thresholds map[ItemID]StockThresholds) StockReport {
	var report StockReport
	for item, th := range thresholds {
		entry := StockEntry{ItemID: item, Level: levels.Get(item), Thresholds: th}
		switch th.Classify(entry.Level) {
		case StatusOutOfStock:
			report.OutOfStock = append(report.OutOfStock, entry)
		case StatusLow:
			report.Low = append(report.Low, entry)
		case StatusOverstocked:
			report.Overstocked = append(report.Overstocked, entry)
		}
	}

	byID := func(entries []StockEntry) {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	}
	byID(report.OutOfStock)
	byID(report.Overstocked)
	sort.Slice(report.Low, func(i, j int) bool {
		gi := report.Low[i].Level.Sub(report.Low[i].Thresholds.ReorderPoint)
		gj := report.Low[j].Level.Sub(report.Low[j].Thresholds.ReorderPoint)
		if c := gi.Cmp(gj); c != 0 {
			return c < 0
		}
		return report.Low[i].ItemID < report.Low[j].ItemID
	})
	return report
}

// ClassifyStock classifies current levels.
func (e *Engine) ClassifyStock(ctx context.Context, thresholds map[ItemID]StockThresholds) (StockReport, error) {
	items := make([]ItemID, 0, len(thresholds))
	for item := range thresholds {
		items = append(items, item)
	}
	levels, err := e.CurrentLevels(ctx, items)
	if err != nil {
		return StockReport{}, err
	}

	report := ClassifyStock(levels, thresholds)
	e.logger.Info().
		Int("out_of_stock", len(report.OutOfStock)).
		Int("low_stock", len(report.Low)).
		Int("overstocked", len(report.Overstocked)).
		Msg("stock classification complete")
	return report, nil
}

// =============================================================================
// VALUATION
// =============================================================================

type Valuation struct {
	Total      decimal.Decimal
	ByCategory map[string]decimal.Decimal
	ByItem     map[ItemID]decimal.Decimal
}

// InventoryValue values every item in costs at its level. categories may be
// nil; items without one are grouped under Uncategorized.
func InventoryValue(levels Levels, costs map[ItemID]decimal.Decimal, categories map[ItemID]string) Valuation {
	v := Valuation{
		Total:      decimal.Zero,
		ByCategory: make(map[string]decimal.Decimal),
		ByItem:     make(map[ItemID]decimal.Decimal, len(costs)),
	}
	for item, cost := range costs {
		value := levels.Get(item).Mul(cost)
		v.ByItem[item] = value
		v.Total = v.Total.Add(value)

		category := categories[item]
		if category == "" {
			category = Uncategorized
		}
		v.ByCategory[category] = v.ByCategory[category].Add(value)
	}
	return v
}

// InventoryValue values current levels.
func (e *Engine) InventoryValue(ctx context.Context, costs map[ItemID]decimal.Decimal, categories map[ItemID]string) (Valuation, error) {
	items := make([]ItemID, 0, len(costs))
	for item := range costs {
		items = append(items, item)
	}
	levels, err := e.CurrentLevels(ctx, items)
	if err != nil {
		return Valuation{}, err
	}
	return InventoryValue(levels, costs, categories), nil
}
