/*
handlers.go - HTTP API handlers for the stock and ledger engine

PURPOSE:
  Exposes ledger.Engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every rule to the engine.

ENDPOINTS:
  Varieties:
    GET    /api/varieties[?category=]         List varieties with stock status
    POST   /api/varieties                     Register variety
    GET    /api/varieties/low-stock           Varieties at or below minimum
    GET    /api/varieties/{id}                Get variety
    PUT    /api/varieties/{id}/min-stock      Set minimum stock level
    POST   /api/varieties/{id}/adjustments    Manual stock adjustment
    GET    /api/varieties/{id}/adjustments    Replay log, oldest first

  Counterparties:
    GET    /api/counterparties?role=          List suppliers or buyers
    POST   /api/counterparties                Register counterparty
    GET    /api/counterparties/{id}           Statement (aggregates, invoices, payments)
    POST   /api/counterparties/{id}/payments  FIFO payment allocation

  Invoices:
    GET    /api/invoices[?kind=&counterparty_id=]  List invoices, newest first
    POST   /api/invoices                      Record purchase or sale
    GET    /api/invoices/{id}                 Get invoice
    POST   /api/invoices/{id}/payments        Pay one invoice

  Processes:
    GET    /api/processes[?kind=&status=]     List processes
    POST   /api/processes                     Dispatch stock for boiling/milling
    GET    /api/processes/{id}                Process with completion and losses
    POST   /api/processes/{id}/complete       Record the return
    POST   /api/processes/{id}/cancel         Cancel and restore stock
    PUT    /api/processes/{id}/missing-quantities  Itemize boiling losses

  Cashbook (cashbook.go):
    GET    /api/cash/categories[?direction=]  Income and expense categories
    POST   /api/cash/categories               Register category
    GET    /api/cash/entries[?direction=&category_id=&from=&to=]  Live entries, newest first
    POST   /api/cash/entries                  Record income or expense
    GET    /api/cash/entries/{id}             Get entry
    PUT    /api/cash/entries/{id}             Replace entry fields
    DELETE /api/cash/entries/{id}             Soft delete (status = deleted)

  Tooling:
    GET    /healthz                           Store ping
    GET    /api/audit                         Consistency audit

ACTOR:
  Every mutating request must carry the X-Actor-ID header. It is recorded
  on the rows the request writes.

ERROR HANDLING:
  Errors are returned as {"error": {"kind", "message", "fields"}}:
  - 400: validation_error (bad body, bad query, missing actor)
  - 404: not_found
  - 409: invalid_state
  - 422: insufficient_stock
  - 503: transaction_failure (safe to retry)
  - 500: internal (logged, message withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - validation.go: Request body validation
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/logging"
)

// ActorHeader carries the user performing a mutating request.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Log    logrus.FieldLogger

	// Reset wipes the store for scenario loading. Nil disables scenarios.
	Reset  func(ctx context.Context) error
	Pinger Pinger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *ledger.Engine, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Engine: engine, Log: log, Reset: engine.Reset}
}

// =============================================================================
// VARIETY HANDLERS
// =============================================================================

func (h *Handler) ListVarieties(w http.ResponseWriter, r *http.Request) {
	filter := ledger.VarietyFilter{Category: ledger.VarietyCategory(r.URL.Query().Get("category"))}
	varieties, err := h.Engine.ListVarieties(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVarietyDTOs(varieties))
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	varieties, err := h.Engine.LowStock(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVarietyDTOs(varieties))
}

func (h *Handler) RegisterVariety(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RegisterVarietyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.Engine.RegisterVariety(r.Context(), ledger.RegisterVarietyInput{
		Name:          req.Name,
		Category:      ledger.VarietyCategory(req.Category),
		MinStockLevel: req.MinStockLevel,
		OpeningStock:  req.OpeningStock,
		Actor:         actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVarietyDTO(*v))
}

func (h *Handler) GetVariety(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.GetVariety(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVarietyDTO(*v))
}

func (h *Handler) SetMinStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req SetMinStockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.Engine.SetMinStockLevel(r.Context(), chi.URLParam(r, "id"), req.MinStockLevel, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVarietyDTO(*v))
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req AdjustStockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	adj, err := h.Engine.AdjustStock(r.Context(), ledger.AdjustStockInput{
		VarietyID: chi.URLParam(r, "id"),
		Delta:     req.Delta,
		Notes:     req.Notes,
		Actor:     actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	adjs, err := h.Engine.ListAdjustments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjs))
	for i, a := range adjs {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toVarietyDTOs(vs []ledger.Variety) []VarietyDTO {
	dtos := make([]VarietyDTO, len(vs))
	for i, v := range vs {
		dtos[i] = toVarietyDTO(v)
	}
	return dtos
}

// =============================================================================
// COUNTERPARTY HANDLERS
// =============================================================================

func (h *Handler) ListCounterparties(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Engine.ListCounterparties(r.Context(), ledger.CounterpartyRole(r.URL.Query().Get("role")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CounterpartyDTO, len(cps))
	for i, c := range cps {
		dtos[i] = toCounterpartyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RegisterCounterparty(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var req RegisterCounterpartyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.Engine.RegisterCounterparty(r.Context(), ledger.RegisterCounterpartyInput{
		Role:    ledger.CounterpartyRole(req.Role),
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCounterpartyDTO(*c))
}

// GetStatement returns the counterparty with its invoices and payments.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.GetStatement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatementDTO{
		Counterparty: toCounterpartyDTO(st.Counterparty),
		Invoices:     toInvoiceDTOs(st.Invoices),
		Payments:     toPaymentDTOs(st.Payments),
	})
}

// AllocatePayment spreads one payment over the counterparty's open invoices,
// oldest first.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req AllocatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.AllocatePayment(r.Context(), ledger.AllocatePaymentInput{
		CounterpartyID: chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Payment:        req.meta(),
		Recording:      ledger.PaymentRecording(req.Recording),
		Actor:          actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(res))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := h.Engine.ListInvoices(r.Context(), ledger.InvoiceFilter{
		Kind:           ledger.InvoiceKind(q.Get("kind")),
		CounterpartyID: q.Get("counterparty_id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateInvoiceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var date time.Time
	if req.Date != "" {
		// Already checked by the datetime tag.
		date, _ = time.Parse(dateLayout, req.Date)
	}

	res, err := h.Engine.CreateInvoice(r.Context(), ledger.CreateInvoiceInput{
		Kind: ledger.InvoiceKind(req.Kind),
		Counterparty: ledger.CounterpartyRef{
			ID:      req.CounterpartyID,
			Name:    req.CounterpartyName,
			Phone:   req.Phone,
			Address: req.Address,
		},
		VarietyID:  req.VarietyID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		PaidAmount: req.PaidAmount,
		Payment:    ledger.PaymentMeta{Method: req.PaymentMethod, Reference: req.Reference, Notes: req.Notes},
		Date:       date,
		Actor:      actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dto := InvoiceResultDTO{
		Invoice:      toInvoiceDTO(res.Invoice),
		Counterparty: toCounterpartyDTO(res.Counterparty),
		Adjustment:   toAdjustmentDTO(res.Adjustment),
	}
	if res.Payment != nil {
		p := toPaymentDTO(*res.Payment)
		dto.Payment = &p
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.RecordInvoicePayment(r.Context(), ledger.RecordInvoicePaymentInput{
		InvoiceID: chi.URLParam(r, "id"),
		Amount:    req.Amount,
		Payment:   req.meta(),
		Actor:     actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, InvoicePaymentDTO{
		Invoice:      toInvoiceDTO(res.Invoice),
		Counterparty: toCounterpartyDTO(res.Counterparty),
		Payment:      toPaymentDTO(res.Payment),
	})
}

// =============================================================================
// PROCESS HANDLERS
// =============================================================================

func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	procs, err := h.Engine.ListProcesses(r.Context(), ledger.ProcessFilter{
		Kind:   ledger.ProcessKind(q.Get("kind")),
		Status: ledger.ProcessStatus(q.Get("status")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ProcessDTO, len(procs))
	for i, p := range procs {
		dtos[i] = toProcessDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateProcessRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.CreateProcess(r.Context(), ledger.CreateProcessInput{
		Kind:           ledger.ProcessKind(req.Kind),
		InputVarietyID: req.InputVarietyID,
		Quantity:       req.Quantity,
		Actor:          actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProcessResultDTO(res))
}

func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Engine.GetProcess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProcessDetailDTO{
		Process:        toProcessDTO(detail.Process),
		Completion:     toCompletionDTO(detail.Completion),
		MissingDetails: toMissingDetailDTOs(detail.MissingDetails),
	})
}

func (h *Handler) CompleteProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CompleteProcessRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var cost decimal.NullDecimal
	if req.Cost != nil {
		cost = decimal.NullDecimal{Decimal: *req.Cost, Valid: true}
	}
	res, err := h.Engine.CompleteProcess(r.Context(), ledger.CompleteProcessInput{
		ProcessID:        chi.URLParam(r, "id"),
		OutputVarietyID:  req.OutputVarietyID,
		ReturnedQuantity: *req.ReturnedQuantity,
		Cost:             cost,
		Notes:            req.Notes,
		Actor:            actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResultDTO(res))
}

// CancelProcess serves both POST .../cancel and DELETE /processes/{id}.
func (h *Handler) CancelProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.CancelProcess(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResultDTO(res))
}

// ReconcileMissing replaces the itemized losses of a completed boiling.
func (h *Handler) ReconcileMissing(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req MissingQuantitiesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	details := make([]ledger.MissingDetailInput, len(req.Details))
	for i, d := range req.Details {
		details[i] = ledger.MissingDetailInput{
			Quantity:    d.Quantity,
			Reason:      ledger.LossReason(d.Reason),
			Description: d.Description,
		}
	}
	saved, err := h.Engine.ReconcileMissingQuantities(r.Context(), ledger.ReconcileInput{
		ProcessID: chi.URLParam(r, "id"),
		Details:   details,
		Actor:     actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMissingDetailDTOs(saved))
}

func toProcessResultDTO(res *ledger.ProcessResult) ProcessResultDTO {
	return ProcessResultDTO{
		Process:    toProcessDTO(res.Process),
		Completion: toCompletionDTO(res.Completion),
		Adjustment: toAdjustmentDTOPtr(res.Adjustment),
	}
}

// =============================================================================
// TOOLING
// =============================================================================

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Audit(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			logging.LogError(h.Log, "api", "Health", "store ping failed", nil, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// actor reads the X-Actor-ID header, writing a 400 when it is missing.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Kind:    string(ledger.KindValidation),
			Message: ActorHeader + " header is required",
		}})
		return "", false
	}
	return actor, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInvalidState:
		return http.StatusConflict
	case ledger.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case ledger.KindTransactionFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Kind:    string(ledger.KindValidation),
			Message: reqErr.message,
			Fields:  reqErr.fields,
		}})
		return
	}

	kind := ledger.KindOf(err)
	body := ErrorBody{Kind: string(kind), Message: err.Error()}
	if kind == ledger.KindInternal {
		logging.LogError(h.Log, "api", r.Method+" "+r.URL.Path, "request failed",
			map[string]string{"request_id": middleware.GetReqID(r.Context())}, err)
		body.Message = "internal error"
	}
	writeJSON(w, statusFor(kind), ErrorResponse{Error: body})
}
