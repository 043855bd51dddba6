/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP surface. They decouple wire names (snake_case,
  string dates) from the inventory package's Go types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers around several DTOs

QUANTITIES:
  Quantities are shopspring decimals. They marshal as JSON strings ("12.5")
  and unmarshal from either strings or numbers.

DATES:
  Request dates are strings: RFC3339, or YYYY-MM-DD for midnight UTC.
  Responses always carry RFC3339 UTC instants.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionRequest struct {
	ID         string           `json:"id,omitempty"`
	ItemID     string           `json:"item_id"`
	Kind       string           `json:"kind"`
	Quantity   decimal.Decimal  `json:"quantity"`
	OccurredAt string           `json:"occurred_at"`
	Source     string           `json:"source,omitempty"`
	Note       string           `json:"note,omitempty"`
	RecordedBy string           `json:"recorded_by,omitempty"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
}

type TransactionDTO struct {
	ID          string           `json:"id"`
	ItemID      string           `json:"item_id"`
	Kind        string           `json:"kind"`
	Quantity    decimal.Decimal  `json:"quantity"`
	SignedDelta decimal.Decimal  `json:"signed_delta"`
	OccurredAt  time.Time        `json:"occurred_at"`
	RecordedAt  time.Time        `json:"recorded_at"`
	RecordedBy  string           `json:"recorded_by,omitempty"`
	Source      string           `json:"source,omitempty"`
	Note        string           `json:"note,omitempty"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
}

func toTransactionDTO(tx inventory.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		ItemID:      string(tx.ItemID),
		Kind:        string(tx.Kind),
		Quantity:    tx.Quantity,
		SignedDelta: tx.SignedDelta(),
		OccurredAt:  tx.OccurredAt,
		RecordedAt:  tx.RecordedAt,
		RecordedBy:  tx.RecordedBy,
		Source:      tx.Source,
		Note:        tx.Note,
		UnitCost:    tx.UnitCost,
	}
}

// HistoryResponse lists an item's transactions in (from, to].
type HistoryResponse struct {
	ItemID       string           `json:"item_id"`
	From         *time.Time       `json:"from,omitempty"`
	To           time.Time        `json:"to"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

type SnapshotRequest struct {
	ID            string                     `json:"id,omitempty"`
	EffectiveDate string                     `json:"effective_date"`
	Levels        map[string]decimal.Decimal `json:"levels"`
	Note          string                     `json:"note,omitempty"`
	CreatedBy     string                     `json:"created_by,omitempty"`
}

type ResetRequest struct {
	Items         []string        `json:"items"`
	Count         decimal.Decimal `json:"count"`
	EffectiveDate string          `json:"effective_date"`
	Note          string          `json:"note,omitempty"`
}

type SnapshotDTO struct {
	ID            string                     `json:"id"`
	EffectiveDate time.Time                  `json:"effective_date"`
	Levels        map[string]decimal.Decimal `json:"levels"`
	CreatedAt     time.Time                  `json:"created_at"`
	CreatedBy     string                     `json:"created_by,omitempty"`
	Note          string                     `json:"note,omitempty"`
}

func toSnapshotDTO(s inventory.Snapshot) SnapshotDTO {
	levels := make(map[string]decimal.Decimal, len(s.Levels))
	for item, v := range s.Levels {
		levels[string(item)] = v
	}
	return SnapshotDTO{
		ID:            string(s.ID),
		EffectiveDate: s.EffectiveDate,
		Levels:        levels,
		CreatedAt:     s.CreatedAt,
		CreatedBy:     s.CreatedBy,
		Note:          s.Note,
	}
}

// =============================================================================
// LEVELS
// =============================================================================

type LevelDTO struct {
	ItemID   string          `json:"item_id"`
	AsOf     time.Time       `json:"as_of"`
	Level    decimal.Decimal `json:"level"`
	Negative bool            `json:"negative,omitempty"`
}

type NegativeLevelDTO struct {
	ItemID string          `json:"item_id"`
	Level  decimal.Decimal `json:"level"`
}

type LevelsResponse struct {
	AsOf     time.Time                  `json:"as_of"`
	Levels   map[string]decimal.Decimal `json:"levels"`
	Warnings []NegativeLevelDTO         `json:"negative_levels"`
}

func toLevelsResponse(at time.Time, levels inventory.Levels) LevelsResponse {
	resp := LevelsResponse{
		AsOf:     at,
		Levels:   make(map[string]decimal.Decimal, len(levels)),
		Warnings: []NegativeLevelDTO{},
	}
	for item, v := range levels {
		resp.Levels[string(item)] = v
	}
	for _, w := range inventory.NegativeLevels(levels) {
		resp.Warnings = append(resp.Warnings, NegativeLevelDTO{ItemID: string(w.ItemID), Level: w.Level})
	}
	return resp
}

// =============================================================================
// ALERTS
// =============================================================================

type LowStockRequest struct {
	ReorderPoints map[string]decimal.Decimal `json:"reorder_points"`
	AsOf          string                     `json:"as_of,omitempty"`
}

type LowStockAlertDTO struct {
	ItemID       string          `json:"item_id"`
	Level        decimal.Decimal `json:"level"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	Gap          decimal.Decimal `json:"gap"`
}

type LowStockResponse struct {
	AsOf   time.Time          `json:"as_of"`
	Alerts []LowStockAlertDTO `json:"alerts"`
}

type StockThresholdsDTO struct {
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	ParLevel     decimal.Decimal `json:"par_level"`
}

type StockStatusRequest struct {
	Thresholds map[string]StockThresholdsDTO `json:"thresholds"`
	AsOf       string                        `json:"as_of,omitempty"`
}

type StockEntryDTO struct {
	ItemID       string          `json:"item_id"`
	Level        decimal.Decimal `json:"level"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	ParLevel     decimal.Decimal `json:"par_level"`
}

type StockStatusResponse struct {
	AsOf        time.Time       `json:"as_of"`
	OutOfStock  []StockEntryDTO `json:"out_of_stock"`
	LowStock    []StockEntryDTO `json:"low_stock"`
	Overstocked []StockEntryDTO `json:"overstocked"`
}

func toStockEntryDTOs(entries []inventory.StockEntry) []StockEntryDTO {
	out := make([]StockEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = StockEntryDTO{
			ItemID:       string(e.ItemID),
			Level:        e.Level,
			ReorderPoint: e.Thresholds.ReorderPoint,
			ParLevel:     e.Thresholds.ParLevel,
		}
	}
	return out
}

func toStockStatusResponse(at time.Time, r inventory.StockReport) StockStatusResponse {
	return StockStatusResponse{
		AsOf:        at,
		OutOfStock:  toStockEntryDTOs(r.OutOfStock),
		LowStock:    toStockEntryDTOs(r.Low),
		Overstocked: toStockEntryDTOs(r.Overstocked),
	}
}

// =============================================================================
// VALUATION
// =============================================================================

type ValuationItemDTO struct {
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	Category    string          `json:"category,omitempty"`
}

type ValuationRequest struct {
	Items map[string]ValuationItemDTO `json:"items"`
	AsOf  string                      `json:"as_of,omitempty"`
}

type ValuationResponse struct {
	AsOf       time.Time                  `json:"as_of"`
	Total      decimal.Decimal            `json:"total"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
	ByItem     map[string]decimal.Decimal `json:"by_item"`
}

func toValuationResponse(at time.Time, v inventory.Valuation) ValuationResponse {
	resp := ValuationResponse{
		AsOf:       at,
		Total:      v.Total.Round(2),
		ByCategory: make(map[string]decimal.Decimal, len(v.ByCategory)),
		ByItem:     make(map[string]decimal.Decimal, len(v.ByItem)),
	}
	for category, value := range v.ByCategory {
		resp.ByCategory[category] = value.Round(2)
	}
	for item, value := range v.ByItem {
		resp.ByItem[string(item)] = value.Round(2)
	}
	return resp
}

// =============================================================================
// USAGE
// =============================================================================

type UsageStatsDTO struct {
	ItemID         string           `json:"item_id"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	Days           int              `json:"days"`
	Usage          decimal.Decimal  `json:"usage"`
	Waste          decimal.Decimal  `json:"waste"`
	Consumed       decimal.Decimal  `json:"consumed"`
	Deliveries     decimal.Decimal  `json:"deliveries"`
	NetAdjustments decimal.Decimal  `json:"net_adjustments"`
	AvgDailyUsage  decimal.Decimal  `json:"avg_daily_usage"`
	WastePercent   decimal.Decimal  `json:"waste_percent"`
	LevelAtEnd     decimal.Decimal  `json:"level_at_end"`
	DaysOfCover    *decimal.Decimal `json:"days_of_cover"`
}

func toUsageStatsDTO(s inventory.UsageStats) UsageStatsDTO {
	return UsageStatsDTO{
		ItemID:         string(s.ItemID),
		From:           s.From,
		To:             s.To,
		Days:           s.Days,
		Usage:          s.Usage,
		Waste:          s.Waste,
		Consumed:       s.Consumed,
		Deliveries:     s.Deliveries,
		NetAdjustments: s.NetAdjustments,
		AvgDailyUsage:  s.AvgDailyUsage.Round(4),
		WastePercent:   s.WastePercent.Round(2),
		LevelAtEnd:     s.LevelAtEnd,
		DaysOfCover:    roundPtr(s.DaysOfCover, 1),
	}
}

func roundPtr(d *decimal.Decimal, places int32) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(places)
	return &r
}

// =============================================================================
// ERRORS / HEALTH
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO is one violated precondition of a rejected append.
type FieldErrorDTO struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
