/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic mill
	data for demos. Every row is written through ledger.Engine, so a loaded
	scenario always passes the audit.

AVAILABLE SCENARIOS:

	fresh-mill:   Paddy and rice varieties, a part-paid purchase, one
	              boiling in progress and one completed milling
	receivables:  One buyer with three part-paid sales on different dates,
	              ready for a FIFO payment

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register varieties with opening stock
 3. Record invoices through the engine (counterparties are created on the fly)
 4. Dispatch and complete processes

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "receivables"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and loader

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricemill/stock-ledger/ledger"
)

// scenarioActor is recorded on every row a scenario writes.
const scenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *ledger.Engine) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fresh-mill",
			Name:        "Fresh Mill",
			Description: "Paddy and rice stock, a part-paid purchase, one boiling in progress and one completed milling",
		},
		load: loadFreshMill,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "receivables",
			Name:        "Receivables",
			Description: "A buyer with three part-paid sales, oldest first, for FIFO payment demos",
		},
		load: loadReceivables,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		h.writeError(w, r, ledger.Invalid("unknown scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetLocked(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.load(r.Context(), h.Engine); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to load scenario %s: %w", s.ID, err))
		return
	}
	h.currentScenario = s.ID

	h.Log.WithField("scenario", s.ID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase wipes every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetLocked(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetLocked(ctx context.Context) error {
	if h.Reset == nil {
		return ledger.Invalid("store reset is disabled")
	}
	if err := h.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFreshMill(ctx context.Context, e *ledger.Engine) error {
	paddy, err := e.RegisterVariety(ctx, ledger.RegisterVarietyInput{
		Name:          "Samba Paddy",
		Category:      ledger.CategoryPaddy,
		MinStockLevel: decimal.NewFromInt(200),
		OpeningStock:  decimal.NewFromInt(1000),
		Actor:         scenarioActor,
	})
	if err != nil {
		return err
	}
	rice, err := e.RegisterVariety(ctx, ledger.RegisterVarietyInput{
		Name:          "Samba Rice",
		Category:      ledger.CategorySelling,
		MinStockLevel: decimal.NewFromInt(100),
		Actor:         scenarioActor,
	})
	if err != nil {
		return err
	}

	// 500 kg at 95.00, 20,000 paid on delivery
	if _, err := e.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		Kind:         ledger.InvoicePurchase,
		Counterparty: ledger.CounterpartyRef{Name: "Silva Farm", Phone: "0712345678", Address: "Polonnaruwa"},
		VarietyID:    paddy.ID,
		Quantity:     decimal.NewFromInt(500),
		UnitPrice:    decimal.RequireFromString("95.00"),
		PaidAmount:   decimal.NewFromInt(20000),
		Payment:      ledger.PaymentMeta{Method: "cash"},
		Date:         time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC),
		Actor:        scenarioActor,
	}); err != nil {
		return err
	}

	if _, err := e.CreateProcess(ctx, ledger.CreateProcessInput{
		Kind:           ledger.ProcessBoiling,
		InputVarietyID: paddy.ID,
		Quantity:       decimal.NewFromInt(300),
		Actor:          scenarioActor,
	}); err != nil {
		return err
	}

	milling, err := e.CreateProcess(ctx, ledger.CreateProcessInput{
		Kind:           ledger.ProcessMilling,
		InputVarietyID: paddy.ID,
		Quantity:       decimal.NewFromInt(200),
		Actor:          scenarioActor,
	})
	if err != nil {
		return err
	}
	_, err = e.CompleteProcess(ctx, ledger.CompleteProcessInput{
		ProcessID:        milling.Process.ID,
		OutputVarietyID:  rice.ID,
		ReturnedQuantity: decimal.NewFromInt(130),
		Notes:            "first milling run",
		Actor:            scenarioActor,
	})
	return err
}

func loadReceivables(ctx context.Context, e *ledger.Engine) error {
	rice, err := e.RegisterVariety(ctx, ledger.RegisterVarietyInput{
		Name:          "Nadu Rice",
		Category:      ledger.CategorySelling,
		MinStockLevel: decimal.NewFromInt(100),
		OpeningStock:  decimal.NewFromInt(1000),
		Actor:         scenarioActor,
	})
	if err != nil {
		return err
	}

	// Pending after each sale: 3,000 then 5,000 then 2,000
	sales := []struct {
		day        int
		qty, price int64
		paid       int64
	}{
		{5, 100, 180, 15000},
		{12, 50, 180, 4000},
		{20, 20, 200, 2000},
	}
	for _, s := range sales {
		if _, err := e.CreateInvoice(ctx, ledger.CreateInvoiceInput{
			Kind:         ledger.InvoiceSale,
			Counterparty: ledger.CounterpartyRef{Name: "Perera Stores", Phone: "0771234567", Address: "Kandy"},
			VarietyID:    rice.ID,
			Quantity:     decimal.NewFromInt(s.qty),
			UnitPrice:    decimal.NewFromInt(s.price),
			PaidAmount:   decimal.NewFromInt(s.paid),
			Date:         time.Date(2026, time.January, s.day, 0, 0, 0, 0, time.UTC),
			Actor:        scenarioActor,
		}); err != nil {
			return err
		}
	}
	return nil
}
