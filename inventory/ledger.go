/*
ledger.go - Level reconstruction from snapshots + transactions

PURPOSE:
  The Engine answers "what was the level of item X at time T". There is no
  stored "current level" that can drift out of sync. Every answer is a pure
  projection over the two logs.

ALGORITHM (LevelAsOf):
  1. base = newest snapshot with EffectiveDate <= T that lists X
     (none: base level 0, base date = start of time)
  2. deltas = X's transactions with OccurredAt in (base date, T]
  3. level = base level + sum(SignedDelta(deltas))

  Step 2 only looks strictly AFTER the base date. A snapshot therefore absorbs
  everything before it and can never hide anything after it, whatever the
  order the records were appended in.

NEGATIVE LEVELS:
  Levels are never clamped. A negative level is a reconciliation problem
  (usage recorded against a count that was set too low) and is surfaced as a
  NegativeLevelWarning for the caller to flag.

SEE ALSO:
  - store.go: EventLog / CheckpointLog
  - gateway.go: how records get in
  - usage.go: usage statistics over a window
*/
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// endOfTime bounds "everything recorded", including future-dated records.
var endOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Events      EventLog
	Checkpoints CheckpointLog
	Now         Clock

	logger zerolog.Logger
}

func NewEngine(events EventLog, checkpoints CheckpointLog, logger zerolog.Logger) *Engine {
	return &Engine{
		Events:      events,
		Checkpoints: checkpoints,
		Now:         systemClock,
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// LevelAsOf returns item's level at `at`, inclusive.
func (e *Engine) LevelAsOf(ctx context.Context, item ItemID, at time.Time) (decimal.Decimal, error) {
	at = at.UTC()

	level := decimal.Zero
	var from time.Time

	base, err := e.Checkpoints.LatestBeforeForItem(ctx, item, at)
	if err != nil {
		return decimal.Zero, err
	}
	if base != nil {
		level, _ = base.Level(item)
		from = base.EffectiveDate
	}

	txs, err := e.Events.ListByItemInRange(ctx, item, from, at)
	if err != nil {
		return decimal.Zero, err
	}
	for _, tx := range txs {
		level = level.Add(tx.SignedDelta())
	}

	if level.IsNegative() {
		e.warnNegative(item, level, at)
	}
	return level, nil
}

// CurrentLevels is LevelsAsOf at the engine's current time.
func (e *Engine) CurrentLevels(ctx context.Context, items []ItemID) (Levels, error) {
	return e.LevelsAsOf(ctx, items, e.Now())
}

// LevelsAsOf computes levels for many items with one read of each log.
// A nil items slice means every item that appears in either log.
func (e *Engine) LevelsAsOf(ctx context.Context, items []ItemID, at time.Time) (Levels, error) {
	at = at.UTC()

	snaps, err := e.Checkpoints.ListBefore(ctx, at)
	if err != nil {
		return nil, err
	}
	txs, err := e.Events.ListInRange(ctx, time.Time{}, at)
	if err != nil {
		return nil, err
	}

	levels := project(snaps, txs, items)
	for _, w := range NegativeLevels(levels) {
		e.warnNegative(w.ItemID, w.Level, at)
	}
	return levels, nil
}

// KnownItems returns every item id present in either log, sorted.
func (e *Engine) KnownItems(ctx context.Context) ([]ItemID, error) {
	levels, err := e.LevelsAsOf(ctx, nil, endOfTime)
	if err != nil {
		return nil, err
	}
	return levels.Items(), nil
}

// project is the batch form of LevelAsOf. snaps must be oldest first.
func project(snaps []Snapshot, txs []Transaction, items []ItemID) Levels {
	type base struct {
		level decimal.Decimal
		date  time.Time
	}
	bases := make(map[ItemID]base)
	for _, s := range snaps {
		for item, v := range s.Levels {
			bases[item] = base{level: v, date: s.EffectiveDate}
		}
	}

	levels := make(Levels)
	wanted := func(ItemID) bool { return true }
	if items != nil {
		set := make(map[ItemID]bool, len(items))
		for _, item := range items {
			set[item] = true
			levels[item] = decimal.Zero
		}
		wanted = func(item ItemID) bool { return set[item] }
	}

	for item, b := range bases {
		if wanted(item) {
			levels[item] = b.level
		}
	}
	for _, tx := range txs {
		if !wanted(tx.ItemID) {
			continue
		}
		if b, ok := bases[tx.ItemID]; ok && !tx.OccurredAt.After(b.date) {
			continue
		}
		levels[tx.ItemID] = levels.Get(tx.ItemID).Add(tx.SignedDelta())
	}
	return levels
}

func (e *Engine) warnNegative(item ItemID, level decimal.Decimal, at time.Time) {
	e.logger.Warn().
		Str("item_id", string(item)).
		Str("level", level.String()).
		Time("as_of", at).
		Msg("negative stock level")
}

// =============================================================================
// LOW STOCK ALERTS
// =============================================================================

type LowStockAlert struct {
	ItemID       ItemID
	Level        decimal.Decimal
	ReorderPoint decimal.Decimal
	Gap          decimal.Decimal // Level - ReorderPoint, <= 0
}

// LowStockAlerts returns items whose level is at or below their reorder point,
// most urgent first. Items without a reorder point are never alerted. An item
// missing from levels has level zero.
func LowStockAlerts(levels Levels, reorderPoints map[ItemID]decimal.Decimal) []LowStockAlert {
	var alerts []LowStockAlert
	for item, rp := range reorderPoints {
		level := levels.Get(item)
		if level.GreaterThan(rp) {
			continue
		}
		alerts = append(alerts, LowStockAlert{
			ItemID:       item,
			Level:        level,
			ReorderPoint: rp,
			Gap:          level.Sub(rp),
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		if c := alerts[i].Gap.Cmp(alerts[j].Gap); c != 0 {
			return c < 0
		}
		return alerts[i].ItemID < alerts[j].ItemID
	})
	return alerts
}

// AlertItems returns the item ids of alerts, in order.
func AlertItems(alerts []LowStockAlert) []ItemID {
	items := make([]ItemID, len(alerts))
	for i, a := range alerts {
		items[i] = a.ItemID
	}
	return items
}

// LowStockAlerts evaluates reorderPoints against current levels.
func (e *Engine) LowStockAlerts(ctx context.Context, reorderPoints map[ItemID]decimal.Decimal) ([]LowStockAlert, error) {
	items := make([]ItemID, 0, len(reorderPoints))
	for item := range reorderPoints {
		items = append(items, item)
	}
	levels, err := e.CurrentLevels(ctx, items)
	if err != nil {
		return nil, err
	}
	return LowStockAlerts(levels, reorderPoints), nil
}

// =============================================================================
// NEGATIVE LEVEL WARNINGS
// =============================================================================

// NegativeLevelWarning flags a data-integrity problem. It is not an error.
type NegativeLevelWarning struct {
	ItemID ItemID
	Level  decimal.Decimal
}

func NegativeLevels(levels Levels) []NegativeLevelWarning {
	var out []NegativeLevelWarning
	for _, item := range levels.Items() {
		if v := levels[item]; v.IsNegative() {
			out = append(out, NegativeLevelWarning{ItemID: item, Level: v})
		}
	}
	return out
}
