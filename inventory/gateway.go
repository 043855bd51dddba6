/*
gateway.go - The only way new facts enter the logs

PURPOSE:
  The logs enforce append-only storage. The Gateway enforces everything the
  logs don't: closed set of kinds, sane quantities, no far-future dates, id
  and audit timestamp assignment.

VALIDATION:
  Every violated precondition is reported, not just the first one. The
  gateway never retries or corrects input; the caller fixes and resubmits.

IDEMPOTENCY:
  A caller may pre-assign an id. Resubmitting the same draft with the same
  id returns the originally stored record. The same id with a different
  payload fails with *DuplicateError.

TIMEOUTS:
  Each append runs under AppendTimeout. A backend that misses the deadline
  surfaces as *TimeoutError, distinct from validation failures.
*/
package inventory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type GatewayConfig struct {
	// MaxFutureSkew is how far past "now" an OccurredAt/EffectiveDate may be.
	MaxFutureSkew time.Duration
	// AppendTimeout bounds each durable append. Zero disables the bound.
	AppendTimeout time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxFutureSkew: 24 * time.Hour,
		AppendTimeout: 5 * time.Second,
	}
}

type Gateway struct {
	Events      EventLog
	Checkpoints CheckpointLog
	Config      GatewayConfig
	Now         Clock
	NewID       func() string

	logger zerolog.Logger
}

func NewGateway(events EventLog, checkpoints CheckpointLog, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	return &Gateway{
		Events:      events,
		Checkpoints: checkpoints,
		Config:      cfg,
		Now:         systemClock,
		NewID:       newID,
		logger:      logger.With().Str("component", "gateway").Logger(),
	}
}

func newID() string {
	// v7 ids sort by creation time, which keeps (occurred_at, id) tie-breaks
	// close to arrival order.
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDraft struct {
	ID         TransactionID // optional; set it to make retries idempotent
	ItemID     ItemID
	Kind       Kind
	Quantity   decimal.Decimal
	OccurredAt time.Time
	Source     string
	Note       string
	RecordedBy string
	UnitCost   *decimal.Decimal
}

func (g *Gateway) validateTransaction(d TransactionDraft, now time.Time) error {
	var errs ValidationErrors
	if strings.TrimSpace(string(d.ItemID)) == "" {
		errs = append(errs, &ValidationError{Field: "item_id", Reason: "required"})
	}
	if !d.Kind.Valid() {
		errs = append(errs, &ValidationError{Field: "kind", Reason: "unknown transaction kind " + quote(string(d.Kind))})
	}
	switch {
	case d.Quantity.IsZero():
		errs = append(errs, &ValidationError{Field: "quantity", Reason: "must not be zero"})
	case d.Quantity.IsNegative() && !d.Kind.Signed():
		errs = append(errs, &ValidationError{Field: "quantity", Reason: string(d.Kind) + " quantity must be positive"})
	}
	if err := g.checkTime("occurred_at", d.OccurredAt, now); err != nil {
		errs = append(errs, err)
	}
	if d.UnitCost != nil && d.UnitCost.IsNegative() {
		errs = append(errs, &ValidationError{Field: "unit_cost", Reason: "must not be negative"})
	}
	return errs.orNil()
}

// AppendTransaction validates d, assigns id and RecordedAt, and appends it.
func (g *Gateway) AppendTransaction(ctx context.Context, d TransactionDraft) (Transaction, error) {
	now := g.Now().UTC()
	if err := g.validateTransaction(d, now); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:         d.ID,
		ItemID:     ItemID(strings.TrimSpace(string(d.ItemID))),
		Kind:       d.Kind,
		Quantity:   d.Quantity,
		OccurredAt: d.OccurredAt.UTC(),
		RecordedAt: now,
		RecordedBy: d.RecordedBy,
		Source:     d.Source,
		Note:       d.Note,
		UnitCost:   d.UnitCost,
	}
	if tx.ID == "" {
		tx.ID = TransactionID(g.NewID())
	}

	ctx, cancel := g.appendContext(ctx)
	defer cancel()

	stored, err := g.Events.AppendTransaction(ctx, tx)
	if err != nil {
		err = g.classify(ctx, "append transaction", err)
		g.logger.Error().Err(err).Str("transaction_id", string(tx.ID)).Msg("append transaction failed")
		return Transaction{}, err
	}

	g.logger.Info().
		Str("transaction_id", string(stored.ID)).
		Str("item_id", string(stored.ItemID)).
		Str("kind", string(stored.Kind)).
		Str("quantity", stored.Quantity.String()).
		Time("occurred_at", stored.OccurredAt).
		Msg("transaction recorded")
	return stored, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

type SnapshotDraft struct {
	ID            SnapshotID // optional; set it to make retries idempotent
	EffectiveDate time.Time
	Levels        map[ItemID]decimal.Decimal
	Note          string
	CreatedBy     string
}

// validateSnapshot returns the levels keyed by trimmed item id. Two raw
// keys that trim to the same id are rejected: neither count can be chosen.
func (g *Gateway) validateSnapshot(d SnapshotDraft, now time.Time) (map[ItemID]decimal.Decimal, error) {
	var errs ValidationErrors
	if len(d.Levels) == 0 {
		errs = append(errs, &ValidationError{Field: "levels", Reason: "must list at least one item"})
	}

	raw := make([]ItemID, 0, len(d.Levels))
	for item := range d.Levels {
		raw = append(raw, item)
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i] < raw[j] })

	levels := make(map[ItemID]decimal.Decimal, len(d.Levels))
	reported := make(map[ItemID]bool)
	for _, key := range raw {
		item := ItemID(strings.TrimSpace(string(key)))
		v := d.Levels[key]
		if item == "" {
			errs = append(errs, &ValidationError{Field: "levels", Reason: "empty item id"})
			continue
		}
		if v.IsNegative() {
			errs = append(errs, &ValidationError{Field: "levels", Reason: "negative level for " + quote(string(item))})
		}
		if _, dup := levels[item]; dup {
			if !reported[item] {
				errs = append(errs, &ValidationError{Field: "levels", Reason: "duplicate item " + quote(string(item)) + " after trimming whitespace"})
				reported[item] = true
			}
			continue
		}
		levels[item] = v
	}
	if err := g.checkTime("effective_date", d.EffectiveDate, now); err != nil {
		errs = append(errs, err)
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}
	return levels, nil
}

// AppendSnapshot validates d, assigns id and CreatedAt, and appends it.
// Full resets and partial counts go through the same path.
func (g *Gateway) AppendSnapshot(ctx context.Context, d SnapshotDraft) (Snapshot, error) {
	now := g.Now().UTC()
	levels, err := g.validateSnapshot(d, now)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ID:            d.ID,
		EffectiveDate: d.EffectiveDate.UTC(),
		Levels:        levels,
		CreatedAt:     now,
		CreatedBy:     d.CreatedBy,
		Note:          d.Note,
	}
	if snap.ID == "" {
		snap.ID = SnapshotID(g.NewID())
	}

	ctx, cancel := g.appendContext(ctx)
	defer cancel()

	stored, err := g.Checkpoints.AppendSnapshot(ctx, snap)
	if err != nil {
		err = g.classify(ctx, "append snapshot", err)
		g.logger.Error().Err(err).Str("snapshot_id", string(snap.ID)).Msg("append snapshot failed")
		return Snapshot{}, err
	}

	g.logger.Info().
		Str("snapshot_id", string(stored.ID)).
		Time("effective_date", stored.EffectiveDate).
		Int("items", len(stored.Levels)).
		Msg("snapshot recorded")
	return stored, nil
}

// AppendReset sets every listed item to count as of effective. The caller
// supplies the item universe.
func (g *Gateway) AppendReset(ctx context.Context, items []ItemID, count decimal.Decimal, effective time.Time, note string) (Snapshot, error) {
	levels := make(map[ItemID]decimal.Decimal, len(items))
	for _, item := range items {
		levels[item] = count
	}
	if note == "" {
		note = "reset to " + count.String()
	}
	return g.AppendSnapshot(ctx, SnapshotDraft{
		EffectiveDate: effective,
		Levels:        levels,
		Note:          note,
		CreatedBy:     "reset",
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *Gateway) checkTime(field string, t, now time.Time) *ValidationError {
	if t.IsZero() {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if t.After(now.Add(g.Config.MaxFutureSkew)) {
		return &ValidationError{Field: field, Reason: "too far in the future"}
	}
	return nil
}

func (g *Gateway) appendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.Config.AppendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.Config.AppendTimeout)
}

func (g *Gateway) classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsClientError(err) && !errors.Is(err, ErrTimeout) {
		return &TimeoutError{Op: op, Err: err}
	}
	return WrapStorage(op, err)
}
