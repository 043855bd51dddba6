/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Thin adapter between HTTP and the inventory package. Handlers parse the
  request, call the Gateway (writes) or Engine (reads), and serialize the
  result. No level math happens here.

ENDPOINTS:
  Writes:
    POST   /api/transactions            Append a transaction
    POST   /api/snapshots               Append a physical count
    POST   /api/snapshots/reset         Set many items to one count

  Reads:
    GET    /api/transactions/{id}       One transaction
    GET    /api/snapshots/{id}          One snapshot
    GET    /api/items/{id}/level        Level as of ?as_of= (default now)
    GET    /api/items/{id}/history      Transactions in (?from=, ?to=]
    GET    /api/items/{id}/usage        Usage statistics over (?from=, ?to=]
    GET    /api/levels                  Levels for ?item=... (default all)
    POST   /api/alerts/low-stock        Items at or below reorder points
    POST   /api/alerts/stock-status     Out-of-stock, low and overstocked items
    POST   /api/valuation               Stock value at supplied unit costs
    GET    /api/health                  Liveness plus store ping

ERROR HANDLING:
  - 400: Validation errors (details lists every violated field)
  - 404: Unknown transaction or snapshot id
  - 409: Id reused with a different payload
  - 504: Storage did not commit before the append deadline
  - 500: Storage failure

  An idempotent replay is not an error: it answers 201 with the stored record.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

const maxBodyBytes = 1 << 20

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *inventory.Engine
	Gateway *inventory.Gateway
	// Store is pinged by the health check when set.
	Store Pinger

	logger zerolog.Logger
}

func NewHandler(engine *inventory.Engine, gateway *inventory.Gateway, logger zerolog.Logger) *Handler {
	return &Handler{
		Engine:  engine,
		Gateway: gateway,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// AppendTransaction records one stock movement.
// POST /api/transactions
func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// An empty occurred_at is left to the gateway so every violation is
	// reported together; only an unparsable one stops here.
	var errs inventory.ValidationErrors
	var occurredAt time.Time
	if req.OccurredAt != "" {
		var ok bool
		if occurredAt, ok = parseField("occurred_at", req.OccurredAt, false, &errs); !ok {
			h.writeLedgerError(w, errs)
			return
		}
	}

	tx, err := h.Gateway.AppendTransaction(r.Context(), inventory.TransactionDraft{
		ID:         inventory.TransactionID(req.ID),
		ItemID:     inventory.ItemID(req.ItemID),
		Kind:       inventory.Kind(req.Kind),
		Quantity:   req.Quantity,
		OccurredAt: occurredAt,
		Source:     req.Source,
		Note:       req.Note,
		RecordedBy: req.RecordedBy,
		UnitCost:   req.UnitCost,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one transaction by id.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := inventory.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Engine.Events.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// AppendSnapshot records a physical count.
// POST /api/snapshots
func (h *Handler) AppendSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs inventory.ValidationErrors
	effective, ok := parseField("effective_date", req.EffectiveDate, false, &errs)
	if !ok {
		h.writeLedgerError(w, errs)
		return
	}

	levels := make(map[inventory.ItemID]decimal.Decimal, len(req.Levels))
	for item, v := range req.Levels {
		levels[inventory.ItemID(item)] = v
	}

	snap, err := h.Gateway.AppendSnapshot(r.Context(), inventory.SnapshotDraft{
		ID:            inventory.SnapshotID(req.ID),
		EffectiveDate: effective,
		Levels:        levels,
		Note:          req.Note,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

// ResetSnapshot sets every listed item to the same count.
// POST /api/snapshots/reset
func (h *Handler) ResetSnapshot(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs inventory.ValidationErrors
	effective, ok := parseField("effective_date", req.EffectiveDate, false, &errs)
	if !ok {
		h.writeLedgerError(w, errs)
		return
	}

	items := make([]inventory.ItemID, len(req.Items))
	for i, item := range req.Items {
		items[i] = inventory.ItemID(item)
	}

	snap, err := h.Gateway.AppendReset(r.Context(), items, req.Count, effective, req.Note)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

// GetSnapshot returns one snapshot by id.
// GET /api/snapshots/{id}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := inventory.SnapshotID(chi.URLParam(r, "id"))

	snap, err := h.Engine.Checkpoints.GetSnapshot(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// GetLevel returns one item's level.
// GET /api/items/{id}/level?as_of=2024-01-05
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	item := inventory.ItemID(chi.URLParam(r, "id"))

	var errs inventory.ValidationErrors
	at, ok := h.queryTime(r, "as_of", true, &errs)
	if !ok {
		h.writeLedgerError(w, errs)
		return
	}

	level, err := h.Engine.LevelAsOf(r.Context(), item, at)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LevelDTO{
		ItemID:   string(item),
		AsOf:     at,
		Level:    level,
		Negative: level.IsNegative(),
	})
}

// GetHistory lists an item's transactions in replay order.
// GET /api/items/{id}/history?from=&to=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	item := inventory.ItemID(chi.URLParam(r, "id"))

	var errs inventory.ValidationErrors
	from, fromOK := optionalQueryTime(r, "from", &errs)
	to, toOK := h.queryTime(r, "to", true, &errs)
	if !fromOK || !toOK {
		h.writeLedgerError(w, errs)
		return
	}

	txs, err := h.Engine.Events.ListByItemInRange(r.Context(), item, from, to)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	resp := HistoryResponse{
		ItemID:       string(item),
		To:           to,
		Transactions: make([]TransactionDTO, len(txs)),
	}
	if !from.IsZero() {
		resp.From = &from
	}
	for i, tx := range txs {
		resp.Transactions[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUsage returns usage statistics for one item.
// GET /api/items/{id}/usage?from=2024-01-01&to=2024-01-31
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	item := inventory.ItemID(chi.URLParam(r, "id"))

	var errs inventory.ValidationErrors
	to, toOK := h.queryTime(r, "to", true, &errs)
	from, fromOK := optionalQueryTime(r, "from", &errs)
	if !fromOK || !toOK {
		h.writeLedgerError(w, errs)
		return
	}
	if from.IsZero() {
		// Default window: the 30 days ending at to. from is exclusive.
		from = inventory.StartOfDay(to).AddDate(0, 0, -30)
	}

	stats, err := h.Engine.UsageStats(r.Context(), item, from, to)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUsageStatsDTO(stats))
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GetLevels returns levels for the requested items, or every known item.
// GET /api/levels?item=a&item=b&as_of=
func (h *Handler) GetLevels(w http.ResponseWriter, r *http.Request) {
	var items []inventory.ItemID
	for _, item := range r.URL.Query()["item"] {
		items = append(items, inventory.ItemID(item))
	}

	var errs inventory.ValidationErrors
	at, ok := h.queryTime(r, "as_of", true, &errs)
	if !ok {
		h.writeLedgerError(w, errs)
		return
	}

	levels, err := h.Engine.LevelsAsOf(r.Context(), items, at)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLevelsResponse(at, levels))
}

// LowStock evaluates caller-supplied reorder points.
// POST /api/alerts/low-stock
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	var req LowStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs inventory.ValidationErrors
	if len(req.ReorderPoints) == 0 {
		errs = append(errs, &inventory.ValidationError{Field: "reorder_points", Reason: "required"})
	}
	at := h.bodyAsOf(req.AsOf, &errs)
	if len(errs) > 0 {
		h.writeLedgerError(w, errs)
		return
	}

	points := make(map[inventory.ItemID]decimal.Decimal, len(req.ReorderPoints))
	items := make([]inventory.ItemID, 0, len(req.ReorderPoints))
	for item, rp := range req.ReorderPoints {
		points[inventory.ItemID(item)] = rp
		items = append(items, inventory.ItemID(item))
	}

	levels, err := h.Engine.LevelsAsOf(r.Context(), items, at)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	alerts := inventory.LowStockAlerts(levels, points)
	resp := LowStockResponse{AsOf: at, Alerts: make([]LowStockAlertDTO, len(alerts))}
	for i, a := range alerts {
		resp.Alerts[i] = LowStockAlertDTO{
			ItemID:       string(a.ItemID),
			Level:        a.Level,
			ReorderPoint: a.ReorderPoint,
			Gap:          a.Gap,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// StockStatus sorts items into out-of-stock, low and overstocked buckets.
// POST /api/alerts/stock-status
func (h *Handler) StockStatus(w http.ResponseWriter, r *http.Request) {
	var req StockStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs inventory.ValidationErrors
	if len(req.Thresholds) == 0 {
		errs = append(errs, &inventory.ValidationError{Field: "thresholds", Reason: "required"})
	}
	at := h.bodyAsOf(req.AsOf, &errs)
	thresholds := make(map[inventory.ItemID]inventory.StockThresholds, len(req.Thresholds))
	items := make([]inventory.ItemID, 0, len(req.Thresholds))
	for item, th := range req.Thresholds {
		if th.ReorderPoint.IsNegative() || th.ParLevel.IsNegative() {
			errs = append(errs, &inventory.ValidationError{Field: "thresholds", Reason: "negative threshold for \"" + item + "\""})
			continue
		}
		thresholds[inventory.ItemID(item)] = inventory.StockThresholds{ReorderPoint: th.ReorderPoint, ParLevel: th.ParLevel}
		items = append(items, inventory.ItemID(item))
	}
	if len(errs) > 0 {
		h.writeLedgerError(w, errs)
		return
	}

	levels, err := h.Engine.LevelsAsOf(r.Context(), items, at)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStockStatusResponse(at, inventory.ClassifyStock(levels, thresholds)))
}

// Valuation values stock at caller-supplied unit costs.
// POST /api/valuation
func (h *Handler) Valuation(w http.ResponseWriter, r *http.Request) {
	var req ValuationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs inventory.ValidationErrors
	if len(req.Items) == 0 {
		errs = append(errs, &inventory.ValidationError{Field: "items", Reason: "required"})
	}
	at := h.bodyAsOf(req.AsOf, &errs)
	costs := make(map[inventory.ItemID]decimal.Decimal, len(req.Items))
	categories := make(map[inventory.ItemID]string, len(req.Items))
	items := make([]inventory.ItemID, 0, len(req.Items))
	for item, v := range req.Items {
		if v.CostPerUnit.IsNegative() {
			errs = append(errs, &inventory.ValidationError{Field: "items", Reason: "negative cost_per_unit for \"" + item + "\""})
			continue
		}
		costs[inventory.ItemID(item)] = v.CostPerUnit
		categories[inventory.ItemID(item)] = v.Category
		items = append(items, inventory.ItemID(item))
	}
	if len(errs) > 0 {
		h.writeLedgerError(w, errs)
		return
	}

	levels, err := h.Engine.LevelsAsOf(r.Context(), items, at)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toValuationResponse(at, inventory.InventoryValue(levels, costs, categories)))
}

// Health reports liveness and, when possible, store reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "unchecked"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the inventory error taxonomy onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	var verrs inventory.ValidationErrors
	var verr *inventory.ValidationError

	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation",
			Details: fieldErrors(verrs),
		})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation",
			Details: fieldErrors(inventory.ValidationErrors{verr}),
		})
	case errors.Is(err, inventory.ErrDuplicate):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate"})
	case errors.Is(err, inventory.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, inventory.ErrTimeout):
		h.logger.Error().Err(err).Msg("storage timeout")
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "storage timeout", Code: "timeout", Details: err.Error()})
	default:
		h.logger.Error().Err(err).Msg("storage failure")
		writeError(w, http.StatusInternalServerError, "storage failure", err)
	}
}

func fieldErrors(errs inventory.ValidationErrors) []FieldErrorDTO {
	out := make([]FieldErrorDTO, len(errs))
	for i, e := range errs {
		out[i] = FieldErrorDTO{Field: e.Field, Reason: e.Reason}
	}
	return out
}

// decodeJSON reads a bounded JSON body. On failure it has already answered.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseField parses a required date field, recording a violation on errs.
func parseField(field, value string, endOfDay bool, errs *inventory.ValidationErrors) (time.Time, bool) {
	if value == "" {
		*errs = append(*errs, &inventory.ValidationError{Field: field, Reason: "required"})
		return time.Time{}, false
	}
	t, err := inventory.ParseTime(value, endOfDay)
	if err != nil {
		*errs = append(*errs, &inventory.ValidationError{Field: field, Reason: err.Error()})
		return time.Time{}, false
	}
	return t, true
}

// queryTime parses an optional upper-bound query parameter, defaulting to now.
func (h *Handler) queryTime(r *http.Request, name string, endOfDay bool, errs *inventory.ValidationErrors) (time.Time, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return h.Engine.Now().UTC(), true
	}
	return parseField(name, value, endOfDay, errs)
}

// bodyAsOf parses an optional as_of body field, defaulting to now.
func (h *Handler) bodyAsOf(value string, errs *inventory.ValidationErrors) time.Time {
	if value == "" {
		return h.Engine.Now().UTC()
	}
	t, _ := parseField("as_of", value, true, errs)
	return t
}

// optionalQueryTime parses a range start. Absent means unbounded (zero time).
func optionalQueryTime(r *http.Request, name string, errs *inventory.ValidationErrors) (time.Time, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, true
	}
	return parseField(name, value, false, errs)
}
