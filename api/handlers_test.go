/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Actor header and request validation
- Error kind to HTTP status mapping
- Stock, invoice, payment and process endpoints end to end
- Cashbook categories and entries
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/ledger/store"
	"github.com/ricemill/stock-ledger/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testActor = "clerk-1"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testAPI struct {
	t       *testing.T
	handler *Handler
	router  *chi.Mux
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { mem.Close() })

	log := quietLogger()
	engine := ledger.NewEngine(mem, ledger.Options{Logger: log})
	h := NewHandler(engine, log)
	router := NewRouter(h, RouterOptions{
		AllowedOrigins: []string{"http://localhost:5173"},
		Metrics:        metrics.New(),
	})
	return &testAPI{t: t, handler: h, router: router}
}

// do sends a request; actor is sent as X-Actor-ID when not empty.
func (a *testAPI) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func (a *testAPI) registerVariety(name, category, opening string) VarietyDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/varieties", map[string]any{
		"name":          name,
		"category":      category,
		"opening_stock": opening,
	}, testActor)
	requireStatus(a.t, rec, http.StatusCreated)
	return decodeBody[VarietyDTO](a.t, rec)
}

// =============================================================================
// REQUEST HANDLING
// =============================================================================

func TestHandlers_MutationsRequireActor(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodPost, "/api/varieties", map[string]any{"name": "Samba", "category": "paddy"}, "")

	requireStatus(t, rec, http.StatusBadRequest)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error.Kind)
	assert.Contains(t, body.Error.Message, ActorHeader)
}

func TestHandlers_MalformedBody(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodPost, "/api/varieties", `{"name": `, testActor)

	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "validation_error", decodeBody[ErrorResponse](t, rec).Error.Kind)
}

func TestHandlers_ValidationReportsFields(t *testing.T) {
	// GIVEN: An invoice request missing everything
	api := setupTestAPI(t)

	// WHEN: It is posted
	rec := api.do(http.MethodPost, "/api/invoices", map[string]any{"kind": "barter", "date": "03/01/2026"}, testActor)

	// THEN: Each bad field is named by its JSON name
	requireStatus(t, rec, http.StatusBadRequest)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error.Kind)
	assert.Contains(t, body.Error.Fields["kind"], "purchase, sale")
	assert.Contains(t, body.Error.Fields, "phone")
	assert.Contains(t, body.Error.Fields, "variety_id")
	assert.Equal(t, "must be a number greater than zero", body.Error.Fields["quantity"])
	assert.Contains(t, body.Error.Fields, "unit_price")
	assert.Contains(t, body.Error.Fields["date"], "2006-01-02")
	assert.NotContains(t, body.Error.Fields, "paid_amount")
}

func TestHandlers_NestedValidation(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodPut, "/api/processes/p-1/missing-quantities", map[string]any{
		"details": []map[string]any{{"quantity": "5", "reason": "theft"}},
	}, testActor)

	requireStatus(t, rec, http.StatusBadRequest)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, body.Error.Fields, "details[0].reason")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind ledger.Kind
		want int
	}{
		{ledger.KindValidation, http.StatusBadRequest},
		{ledger.KindNotFound, http.StatusNotFound},
		{ledger.KindInvalidState, http.StatusConflict},
		{ledger.KindInsufficientStock, http.StatusUnprocessableEntity},
		{ledger.KindTransactionFailure, http.StatusServiceUnavailable},
		{ledger.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}

func TestHandlers_Health(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodGet, "/healthz", nil, "")

	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestHandlers_MetricsEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	api.do(http.MethodGet, "/api/varieties/nope", nil, "")

	rec := api.do(http.MethodGet, "/metrics", nil, "")

	requireStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `route="/api/varieties/{id}"`)
}

// =============================================================================
// STOCK
// =============================================================================

func TestHandlers_VarietyStockFlow(t *testing.T) {
	// GIVEN: A variety registered with opening stock sent as a JSON number
	api := setupTestAPI(t)
	rec := api.do(http.MethodPost, "/api/varieties", map[string]any{
		"name":            "Samba Paddy",
		"category":        "paddy",
		"opening_stock":   100,
		"min_stock_level": 50,
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	v := decodeBody[VarietyDTO](t, rec)
	assertDec(t, "100", v.CurrentStock)
	assert.Equal(t, "ok", v.StockStatus)
	assert.Contains(t, rec.Body.String(), `"current_stock":"100"`)

	// WHEN: 60 kg are written off by hand
	rec = api.do(http.MethodPost, "/api/varieties/"+v.ID+"/adjustments", map[string]any{"delta": "-60", "notes": "rat damage"}, testActor)

	// THEN: The adjustment carries the chain and the variety turns low
	requireStatus(t, rec, http.StatusCreated)
	adj := decodeBody[AdjustmentDTO](t, rec)
	assertDec(t, "100", adj.PreviousStock)
	assertDec(t, "40", adj.NewStock)
	assert.Equal(t, "manual", adj.Source)
	assert.Equal(t, testActor, adj.Actor)

	rec = api.do(http.MethodGet, "/api/varieties/low-stock", nil, "")
	requireStatus(t, rec, http.StatusOK)
	low := decodeBody[[]VarietyDTO](t, rec)
	require.Len(t, low, 1)
	assert.Equal(t, "low", low[0].StockStatus)

	rec = api.do(http.MethodGet, "/api/varieties/"+v.ID+"/adjustments", nil, "")
	requireStatus(t, rec, http.StatusOK)
	adjs := decodeBody[[]AdjustmentDTO](t, rec)
	require.Len(t, adjs, 2)
	assert.Equal(t, "opening", adjs[0].Source)
	assert.Equal(t, "manual", adjs[1].Source)
}

func TestHandlers_SetMinStock(t *testing.T) {
	api := setupTestAPI(t)
	v := api.registerVariety("Nadu Rice", "selling", "10")

	rec := api.do(http.MethodPut, "/api/varieties/"+v.ID+"/min-stock", map[string]any{"min_stock_level": "25.5"}, testActor)

	requireStatus(t, rec, http.StatusOK)
	got := decodeBody[VarietyDTO](t, rec)
	assertDec(t, "25.5", got.MinStockLevel)
	assert.Equal(t, "low", got.StockStatus)
}

func TestHandlers_ZeroAdjustmentRejected(t *testing.T) {
	api := setupTestAPI(t)
	v := api.registerVariety("Nadu Rice", "selling", "10")

	rec := api.do(http.MethodPost, "/api/varieties/"+v.ID+"/adjustments", map[string]any{"delta": "0"}, testActor)

	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "must be a non-zero number", decodeBody[ErrorResponse](t, rec).Error.Fields["delta"])
}

func TestHandlers_UnknownVarietyIsNotFound(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodGet, "/api/varieties/nope", nil, "")

	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Error.Kind)
}

func TestHandlers_UnknownCategoryFilter(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodGet, "/api/varieties?category=bran", nil, "")

	requireStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

func TestHandlers_SaleFlow(t *testing.T) {
	// GIVEN: 100 kg of rice
	api := setupTestAPI(t)
	rice := api.registerVariety("Nadu Rice", "selling", "100")

	// WHEN: 40 kg are sold for 7,200 with 5,000 paid
	rec := api.do(http.MethodPost, "/api/invoices", map[string]any{
		"kind":              "sale",
		"counterparty_name": "Perera Stores",
		"phone":             "077 123 4567",
		"variety_id":        rice.ID,
		"quantity":          "40",
		"unit_price":        "180",
		"paid_amount":       "5000",
		"date":              "2026-03-02",
	}, testActor)

	// THEN: Stock, invoice and buyer move together
	requireStatus(t, rec, http.StatusCreated)
	res := decodeBody[InvoiceResultDTO](t, rec)
	assertDec(t, "7200", res.Invoice.Total)
	assertDec(t, "2200", res.Invoice.Pending)
	assert.Equal(t, "2026-03-02", res.Invoice.Date)
	assertDec(t, "-40", res.Adjustment.Delta)
	assertDec(t, "60", res.Adjustment.NewStock)
	assert.Equal(t, "+94771234567", res.Counterparty.Phone)
	assertDec(t, "2200", res.Counterparty.TotalPending)
	require.NotNil(t, res.Payment)
	assertDec(t, "5000", res.Payment.Amount)

	// AND: The remaining balance is paid against the invoice
	rec = api.do(http.MethodPost, "/api/invoices/"+res.Invoice.ID+"/payments", map[string]any{"amount": "2200", "method": "bank"}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	paid := decodeBody[InvoicePaymentDTO](t, rec)
	assert.True(t, paid.Invoice.Pending.IsZero())
	assert.True(t, paid.Counterparty.TotalPending.IsZero())
	assert.Equal(t, "bank", paid.Payment.Method)

	// AND: The statement lists both payments
	rec = api.do(http.MethodGet, "/api/counterparties/"+res.Counterparty.ID, nil, "")
	requireStatus(t, rec, http.StatusOK)
	st := decodeBody[StatementDTO](t, rec)
	assert.Len(t, st.Invoices, 1)
	assert.Len(t, st.Payments, 2)
	assertDec(t, "7200", st.Counterparty.TotalPaid)
}

func TestHandlers_SaleBeyondStock(t *testing.T) {
	api := setupTestAPI(t)
	rice := api.registerVariety("Nadu Rice", "selling", "10")

	rec := api.do(http.MethodPost, "/api/invoices", map[string]any{
		"kind":              "sale",
		"counterparty_name": "Perera Stores",
		"phone":             "0771234567",
		"variety_id":        rice.ID,
		"quantity":          "11",
		"unit_price":        "180",
	}, testActor)

	requireStatus(t, rec, http.StatusUnprocessableEntity)
	assert.Equal(t, "insufficient_stock", decodeBody[ErrorResponse](t, rec).Error.Kind)

	rec = api.do(http.MethodGet, "/api/invoices", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Empty(t, decodeBody[[]InvoiceDTO](t, rec))
}

func TestHandlers_OverpayingInvoiceRejected(t *testing.T) {
	api := setupTestAPI(t)
	paddy := api.registerVariety("Samba Paddy", "paddy", "0")
	rec := api.do(http.MethodPost, "/api/invoices", map[string]any{
		"kind":              "purchase",
		"counterparty_name": "Silva Farm",
		"phone":             "0712345678",
		"variety_id":        paddy.ID,
		"quantity":          "10",
		"unit_price":        "2",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	inv := decodeBody[InvoiceResultDTO](t, rec).Invoice

	rec = api.do(http.MethodPost, "/api/invoices/"+inv.ID+"/payments", map[string]any{"amount": "25"}, testActor)

	requireStatus(t, rec, http.StatusBadRequest)
}

func TestHandlers_AllocatePaymentFIFO(t *testing.T) {
	// GIVEN: The receivables scenario (pending 3,000 / 5,000 / 2,000 oldest first)
	api := setupTestAPI(t)
	requireStatus(t, api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "receivables"}, ""), http.StatusOK)

	rec := api.do(http.MethodGet, "/api/counterparties?role=buyer", nil, "")
	requireStatus(t, rec, http.StatusOK)
	buyers := decodeBody[[]CounterpartyDTO](t, rec)
	require.Len(t, buyers, 1)
	buyer := buyers[0]

	// WHEN: 7,000 is received
	rec = api.do(http.MethodPost, "/api/counterparties/"+buyer.ID+"/payments", map[string]any{"amount": 7000}, testActor)

	// THEN: The oldest invoice is cleared and the next one part-paid
	requireStatus(t, rec, http.StatusCreated)
	res := decodeBody[AllocationDTO](t, rec)
	require.Len(t, res.Applied, 2)
	assertDec(t, "3000", res.Applied[0].Amount)
	assertDec(t, "4000", res.Applied[1].Amount)
	assert.True(t, res.Remaining.IsZero())
	assertDec(t, "3000", res.Counterparty.TotalPending)
	assert.Len(t, res.Payments, 2)

	rec = api.do(http.MethodGet, "/api/invoices?counterparty_id="+buyer.ID, nil, "")
	requireStatus(t, rec, http.StatusOK)
	invoices := decodeBody[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 3)
	// Newest first
	assertDec(t, "2000", invoices[0].Pending)
	assertDec(t, "1000", invoices[1].Pending)
	assertDec(t, "0", invoices[2].Pending)

	rec = api.do(http.MethodGet, "/api/audit", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeBody[AuditReportDTO](t, rec).Clean)
}

func TestHandlers_AllocateRecordingValidated(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodPost, "/api/counterparties/c-1/payments", map[string]any{"amount": "10", "recording": "lump"}, testActor)

	requireStatus(t, rec, http.StatusBadRequest)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error.Fields, "recording")
}

// =============================================================================
// PROCESSES
// =============================================================================

func TestHandlers_BoilingLifecycle(t *testing.T) {
	// GIVEN: 200 kg of paddy sent for boiling
	api := setupTestAPI(t)
	paddy := api.registerVariety("Samba Paddy", "paddy", "200")
	rec := api.do(http.MethodPost, "/api/processes", map[string]any{
		"kind":             "boiling",
		"input_variety_id": paddy.ID,
		"quantity":         "100",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	created := decodeBody[ProcessResultDTO](t, rec)
	assert.Equal(t, "pending", created.Process.Status)
	require.NotNil(t, created.Adjustment)
	assertDec(t, "100", created.Adjustment.NewStock)

	// WHEN: 92 kg come back with a cost, and the 8 kg loss is itemized
	rec = api.do(http.MethodPost, "/api/processes/"+created.Process.ID+"/complete", map[string]any{
		"returned_quantity": "92",
		"cost":              "1500",
	}, testActor)
	requireStatus(t, rec, http.StatusOK)
	completed := decodeBody[ProcessResultDTO](t, rec)
	require.NotNil(t, completed.Completion)
	require.NotNil(t, completed.Completion.Missing)
	assertDec(t, "8", *completed.Completion.Missing)

	rec = api.do(http.MethodPut, "/api/processes/"+created.Process.ID+"/missing-quantities", map[string]any{
		"details": []map[string]any{
			{"quantity": "5", "reason": "evaporation"},
			{"quantity": "3", "reason": "spillage", "description": "bag split"},
		},
	}, testActor)
	requireStatus(t, rec, http.StatusOK)

	// THEN: The detail view shows all of it
	rec = api.do(http.MethodGet, "/api/processes/"+created.Process.ID, nil, "")
	requireStatus(t, rec, http.StatusOK)
	detail := decodeBody[ProcessDetailDTO](t, rec)
	assert.Equal(t, "completed", detail.Process.Status)
	require.NotNil(t, detail.Completion.Cost)
	assertDec(t, "1500", *detail.Completion.Cost)
	assert.Len(t, detail.MissingDetails, 2)

	rec = api.do(http.MethodGet, "/api/varieties/"+paddy.ID, nil, "")
	assertDec(t, "192", decodeBody[VarietyDTO](t, rec).CurrentStock)

	// AND: A mismatching breakdown is rejected
	rec = api.do(http.MethodPut, "/api/processes/"+created.Process.ID+"/missing-quantities", map[string]any{
		"details": []map[string]any{{"quantity": "5", "reason": "evaporation"}},
	}, testActor)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestHandlers_CancelProcess(t *testing.T) {
	// GIVEN: A pending milling process
	api := setupTestAPI(t)
	paddy := api.registerVariety("Samba Paddy", "paddy", "50")
	rec := api.do(http.MethodPost, "/api/processes", map[string]any{
		"kind":             "milling",
		"input_variety_id": paddy.ID,
		"quantity":         "50",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	id := decodeBody[ProcessResultDTO](t, rec).Process.ID

	// WHEN: It is cancelled through the DELETE alias
	rec = api.do(http.MethodDelete, "/api/processes/"+id, nil, testActor)

	// THEN: Stock is restored and a second cancel conflicts
	requireStatus(t, rec, http.StatusOK)
	res := decodeBody[ProcessResultDTO](t, rec)
	assert.Equal(t, "cancelled", res.Process.Status)
	assert.Equal(t, testActor, res.Process.CancelledBy)
	require.NotNil(t, res.Adjustment)
	assertDec(t, "50", res.Adjustment.NewStock)

	rec = api.do(http.MethodPost, "/api/processes/"+id+"/cancel", nil, testActor)
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Error.Kind)

	rec = api.do(http.MethodGet, "/api/processes?status=cancelled", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeBody[[]ProcessDTO](t, rec), 1)
}

func TestHandlers_CompleteProcessRequiresReturnedQuantity(t *testing.T) {
	// GIVEN: A pending boiling process
	api := setupTestAPI(t)
	paddy := api.registerVariety("Samba Paddy", "paddy", "100")
	rec := api.do(http.MethodPost, "/api/processes", map[string]any{
		"kind":             "boiling",
		"input_variety_id": paddy.ID,
		"quantity":         "100",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	id := decodeBody[ProcessResultDTO](t, rec).Process.ID

	// WHEN: Completing it without saying how much came back
	rec = api.do(http.MethodPost, "/api/processes/"+id+"/complete", map[string]any{"cost": "500"}, testActor)

	// THEN: The request is rejected and the process stays pending
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "is required", decodeBody[ErrorResponse](t, rec).Error.Fields["returned_quantity"])

	rec = api.do(http.MethodGet, "/api/processes/"+id, nil, "")
	assert.Equal(t, "pending", decodeBody[ProcessDetailDTO](t, rec).Process.Status)

	// AND: An explicit zero is a full loss, not a missing field
	rec = api.do(http.MethodPost, "/api/processes/"+id+"/complete", map[string]any{"returned_quantity": "0"}, testActor)
	requireStatus(t, rec, http.StatusOK)
	res := decodeBody[ProcessResultDTO](t, rec)
	require.NotNil(t, res.Completion.Missing)
	assertDec(t, "100", *res.Completion.Missing)
}

func TestHandlers_CashbookFlow(t *testing.T) {
	// GIVEN: An expense category
	api := setupTestAPI(t)
	rec := api.do(http.MethodPost, "/api/cash/categories", map[string]any{
		"direction": "expense",
		"name":      "Wages",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	wages := decodeBody[CashCategoryDTO](t, rec)
	assert.Equal(t, "expense", wages.Direction)

	// WHEN: Two expenses are recorded and one is edited
	rec = api.do(http.MethodPost, "/api/cash/entries", map[string]any{
		"category_id": wages.ID,
		"amount":      "8000",
		"date":        "2026-03-05",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	first := decodeBody[CashEntryDTO](t, rec)
	assert.Equal(t, "2026-03-05", first.Date)
	assert.Equal(t, "active", first.Status)

	rec = api.do(http.MethodPost, "/api/cash/entries", map[string]any{
		"category_id": wages.ID,
		"amount":      "7500",
		"date":        "2026-03-12",
	}, testActor)
	requireStatus(t, rec, http.StatusCreated)
	second := decodeBody[CashEntryDTO](t, rec)

	rec = api.do(http.MethodPut, "/api/cash/entries/"+first.ID, map[string]any{
		"category_id": wages.ID,
		"amount":      "8250.50",
		"description": "overtime",
	}, "clerk-2")
	requireStatus(t, rec, http.StatusOK)
	edited := decodeBody[CashEntryDTO](t, rec)
	assertDec(t, "8250.50", edited.Amount)
	assert.Equal(t, "2026-03-05", edited.Date)
	assert.Equal(t, "clerk-2", edited.UpdatedBy)

	// THEN: The date window includes its last day
	rec = api.do(http.MethodGet, "/api/cash/entries?direction=expense&from=2026-03-01&to=2026-03-05", nil, "")
	requireStatus(t, rec, http.StatusOK)
	window := decodeBody[[]CashEntryDTO](t, rec)
	require.Len(t, window, 1)
	assert.Equal(t, first.ID, window[0].ID)

	// AND: A deleted entry is gone from reads
	rec = api.do(http.MethodDelete, "/api/cash/entries/"+second.ID, nil, testActor)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "deleted", decodeBody[CashEntryDTO](t, rec).Status)

	rec = api.do(http.MethodGet, "/api/cash/entries/"+second.ID, nil, "")
	requireStatus(t, rec, http.StatusNotFound)

	rec = api.do(http.MethodGet, "/api/cash/entries", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeBody[[]CashEntryDTO](t, rec), 1)
}

func TestHandlers_CashbookRejectsBadInput(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodPost, "/api/cash/categories", map[string]any{"direction": "refund", "name": "Other"}, testActor)
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error.Fields, "direction")

	rec = api.do(http.MethodPost, "/api/cash/entries", map[string]any{"category_id": "c-1", "amount": "0"}, testActor)
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error.Fields, "amount")

	rec = api.do(http.MethodPost, "/api/cash/entries", map[string]any{"category_id": "missing", "amount": "10"}, testActor)
	requireStatus(t, rec, http.StatusNotFound)

	rec = api.do(http.MethodGet, "/api/cash/entries?from=05-03-2026", nil, "")
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error.Fields, "from")
}
