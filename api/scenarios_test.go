/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Varieties carry the expected stock
	- Invoices and counterparty totals match
	- Processes are in the expected state
	- The loaded data passes the audit

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
)

func TestScenario_FreshMill(t *testing.T) {
	// GIVEN: The fresh-mill scenario
	api := setupTestAPI(t)
	ctx := context.Background()
	e := api.handler.Engine

	// WHEN: Loading it
	require.NoError(t, loadFreshMill(ctx, e))

	// THEN: 1000 opening + 500 bought - 300 boiling - 200 milling
	varieties, err := e.ListVarieties(ctx, ledger.VarietyFilter{})
	require.NoError(t, err)
	require.Len(t, varieties, 2)
	stock := map[string]decimal.Decimal{}
	for _, v := range varieties {
		stock[v.Name] = v.CurrentStock
	}
	assertDec(t, "1000", stock["Samba Paddy"])
	assertDec(t, "130", stock["Samba Rice"])

	suppliers, err := e.ListCounterparties(ctx, ledger.RoleSupplier)
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assertDec(t, "47500", suppliers[0].TotalValue)
	assertDec(t, "27500", suppliers[0].TotalPending)

	pending, err := e.ListProcesses(ctx, ledger.ProcessFilter{Status: ledger.ProcessPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ledger.ProcessBoiling, pending[0].Kind)

	completed, err := e.ListProcesses(ctx, ledger.ProcessFilter{Status: ledger.ProcessCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, ledger.ProcessMilling, completed[0].Kind)

	report, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%v", report.Discrepancies)
}

func TestScenario_Receivables(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()
	e := api.handler.Engine

	require.NoError(t, loadReceivables(ctx, e))

	open, err := e.ListInvoices(ctx, ledger.InvoiceFilter{Kind: ledger.InvoiceSale, OpenOnly: true, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, open, 3)
	assertDec(t, "3000", open[0].Pending)
	assertDec(t, "5000", open[1].Pending)
	assertDec(t, "2000", open[2].Pending)

	buyers, err := e.ListCounterparties(ctx, ledger.RoleBuyer)
	require.NoError(t, err)
	require.Len(t, buyers, 1)
	assertDec(t, "10000", buyers[0].TotalPending)
	assertDec(t, "21000", buyers[0].TotalPaid)

	rice, err := e.ListVarieties(ctx, ledger.VarietyFilter{Category: ledger.CategorySelling})
	require.NoError(t, err)
	require.Len(t, rice, 1)
	assertDec(t, "830", rice[0].CurrentStock)
}

func TestScenario_LoadReplacesPreviousData(t *testing.T) {
	// GIVEN: One scenario already loaded
	api := setupTestAPI(t)
	requireStatus(t, api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "fresh-mill"}, ""), http.StatusOK)

	// WHEN: Another is loaded over it
	rec := api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "receivables"}, "")

	// THEN: Only the second one's data remains
	requireStatus(t, rec, http.StatusOK)
	rec = api.do(http.MethodGet, "/api/varieties", nil, "")
	varieties := decodeBody[[]VarietyDTO](t, rec)
	require.Len(t, varieties, 1)
	assert.Equal(t, "Nadu Rice", varieties[0].Name)

	rec = api.do(http.MethodGet, "/api/scenarios/current", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "receivables", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenario_UnknownScenario(t *testing.T) {
	api := setupTestAPI(t)
	requireStatus(t, api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "fresh-mill"}, ""), http.StatusOK)

	rec := api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "harvest-festival"}, "")

	// Rejected before anything is reset
	requireStatus(t, rec, http.StatusBadRequest)
	rec = api.do(http.MethodGet, "/api/varieties", nil, "")
	assert.Len(t, decodeBody[[]VarietyDTO](t, rec), 2)
}

func TestScenario_Reset(t *testing.T) {
	api := setupTestAPI(t)
	requireStatus(t, api.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "fresh-mill"}, ""), http.StatusOK)

	rec := api.do(http.MethodPost, "/api/scenarios/reset", nil, "")

	requireStatus(t, rec, http.StatusOK)
	rec = api.do(http.MethodGet, "/api/varieties", nil, "")
	assert.Empty(t, decodeBody[[]VarietyDTO](t, rec))
	rec = api.do(http.MethodGet, "/api/scenarios/current", nil, "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestScenario_ListScenarios(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.do(http.MethodGet, "/api/scenarios", nil, "")

	requireStatus(t, rec, http.StatusOK)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	assert.Equal(t, "fresh-mill", list[0].ID)
}
