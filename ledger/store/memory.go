// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ricemill/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes transactions behind one mutex. A transaction writes
// directly into the maps and a snapshot taken at the start is restored if fn
// fails, so row locks are implicit.
type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	varieties      map[string]ledger.Variety
	adjustments    []ledger.StockAdjustment
	counterparties map[string]ledger.Counterparty
	invoices       map[string]ledger.Invoice
	payments       []ledger.Payment
	processes      map[string]ledger.ConversionProcess
	completions    map[string]ledger.ConversionCompletion // by process ID
	missing        map[string][]ledger.MissingQuantityDetail
	cashCategories map[string]ledger.CashCategory
	cashEntries    map[string]ledger.CashEntry
}

func newState() memoryState {
	return memoryState{
		varieties:      make(map[string]ledger.Variety),
		counterparties: make(map[string]ledger.Counterparty),
		invoices:       make(map[string]ledger.Invoice),
		processes:      make(map[string]ledger.ConversionProcess),
		completions:    make(map[string]ledger.ConversionCompletion),
		missing:        make(map[string][]ledger.MissingQuantityDetail),
		cashCategories: make(map[string]ledger.CashCategory),
		cashEntries:    make(map[string]ledger.CashEntry),
	}
}

func (s memoryState) clone() memoryState {
	c := newState()
	for k, v := range s.varieties {
		c.varieties[k] = v
	}
	for k, v := range s.counterparties {
		c.counterparties[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.processes {
		c.processes[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v
	}
	for k, v := range s.cashCategories {
		c.cashCategories[k] = v
	}
	for k, v := range s.cashEntries {
		c.cashEntries[k] = v
	}
	for k, v := range s.missing {
		c.missing[k] = append([]ledger.MissingQuantityDetail{}, v...)
	}
	c.adjustments = append([]ledger.StockAdjustment{}, s.adjustments...)
	c.payments = append([]ledger.Payment{}, s.payments...)
	return c
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

var _ ledger.Store = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error
// or panic.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.state.clone()
	defer func() {
		if p := recover(); p != nil {
			m.state = snapshot
			panic(p)
		}
	}()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// View runs fn against a copy, so writes made by fn are discarded.
func (m *Memory) View(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.RLock()
	view := m.state.clone()
	m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memoryTx{state: &view})
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type memoryTx struct {
	state *memoryState
}

// ----- varieties -----

func (t *memoryTx) InsertVariety(_ context.Context, v ledger.Variety) error {
	t.state.varieties[v.ID] = v
	return nil
}

func (t *memoryTx) GetVariety(_ context.Context, id string, _ ledger.Lock) (*ledger.Variety, error) {
	v, ok := t.state.varieties[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (t *memoryTx) FindVarietyByName(_ context.Context, key string) (*ledger.Variety, error) {
	for _, v := range t.state.varieties {
		if ledger.NameKey(v.Name) == key {
			return &v, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListVarieties(_ context.Context, f ledger.VarietyFilter) ([]ledger.Variety, error) {
	out := make([]ledger.Variety, 0, len(t.state.varieties))
	for _, v := range t.state.varieties {
		if f.Category != "" && v.Category != f.Category {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (t *memoryTx) UpdateVarietyStock(_ context.Context, id string, stock decimal.Decimal) error {
	v := t.state.varieties[id]
	v.CurrentStock = stock
	t.state.varieties[id] = v
	return nil
}

func (t *memoryTx) UpdateMinStockLevel(_ context.Context, id string, level decimal.Decimal) error {
	v := t.state.varieties[id]
	v.MinStockLevel = level
	t.state.varieties[id] = v
	return nil
}

// ----- adjustments -----

func (t *memoryTx) InsertAdjustment(_ context.Context, adj ledger.StockAdjustment) error {
	t.state.adjustments = append(t.state.adjustments, adj)
	return nil
}

func (t *memoryTx) ListAdjustments(_ context.Context, varietyID string) ([]ledger.StockAdjustment, error) {
	out := make([]ledger.StockAdjustment, 0)
	for _, adj := range t.state.adjustments {
		if varietyID == "" || adj.VarietyID == varietyID {
			out = append(out, adj)
		}
	}
	return out, nil
}

// ----- counterparties -----

func (t *memoryTx) InsertCounterparty(_ context.Context, c ledger.Counterparty) error {
	t.state.counterparties[c.ID] = c
	return nil
}

func (t *memoryTx) GetCounterparty(_ context.Context, id string, _ ledger.Lock) (*ledger.Counterparty, error) {
	c, ok := t.state.counterparties[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memoryTx) FindCounterpartyByPhone(_ context.Context, role ledger.CounterpartyRole, phone string, _ ledger.Lock) (*ledger.Counterparty, error) {
	for _, c := range t.state.counterparties {
		if c.Role == role && c.Phone == phone && c.Status.IsLive() {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListCounterparties(_ context.Context, role ledger.CounterpartyRole) ([]ledger.Counterparty, error) {
	out := make([]ledger.Counterparty, 0)
	for _, c := range t.state.counterparties {
		if !c.Status.IsLive() || (role != "" && c.Role != role) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) UpdateCounterpartyTotals(_ context.Context, c ledger.Counterparty) error {
	cur := t.state.counterparties[c.ID]
	cur.TotalValue = c.TotalValue
	cur.TotalPaid = c.TotalPaid
	cur.TotalPending = c.TotalPending
	cur.CreditBalance = c.CreditBalance
	t.state.counterparties[c.ID] = cur
	return nil
}

// ----- invoices -----

func (t *memoryTx) InsertInvoice(_ context.Context, inv ledger.Invoice) error {
	t.state.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) GetInvoice(_ context.Context, id string, _ ledger.Lock) (*ledger.Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (t *memoryTx) ListInvoices(_ context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	out := make([]ledger.Invoice, 0)
	for _, inv := range t.state.invoices {
		switch {
		case !inv.Status.IsLive():
		case f.Kind != "" && inv.Kind != f.Kind:
		case f.CounterpartyID != "" && inv.CounterpartyID != f.CounterpartyID:
		case f.OpenOnly && !inv.Pending.IsPositive():
		default:
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		older := out[i].Date.Before(out[j].Date) ||
			(out[i].Date.Equal(out[j].Date) && out[i].ID < out[j].ID)
		if f.OldestFirst {
			return older
		}
		return !older
	})
	return out, nil
}

func (t *memoryTx) UpdateInvoiceSettlement(_ context.Context, id string, paid, pending decimal.Decimal) error {
	inv := t.state.invoices[id]
	inv.Paid = paid
	inv.Pending = pending
	t.state.invoices[id] = inv
	return nil
}

// ----- payments -----

func (t *memoryTx) InsertPayment(_ context.Context, p ledger.Payment) error {
	t.state.payments = append(t.state.payments, p)
	return nil
}

func (t *memoryTx) ListPayments(_ context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	out := make([]ledger.Payment, 0)
	for _, p := range t.state.payments {
		switch {
		case !p.Status.IsLive():
		case f.CounterpartyID != "" && p.CounterpartyID != f.CounterpartyID:
		case f.InvoiceID != "" && p.InvoiceID != f.InvoiceID:
		default:
			out = append(out, p)
		}
	}
	return out, nil
}

// ----- processes -----

func (t *memoryTx) InsertProcess(_ context.Context, p ledger.ConversionProcess) error {
	t.state.processes[p.ID] = p
	return nil
}

func (t *memoryTx) GetProcess(_ context.Context, id string, _ ledger.Lock) (*ledger.ConversionProcess, error) {
	p, ok := t.state.processes[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) ListProcesses(_ context.Context, f ledger.ProcessFilter) ([]ledger.ConversionProcess, error) {
	out := make([]ledger.ConversionProcess, 0)
	for _, p := range t.state.processes {
		if (f.Kind != "" && p.Kind != f.Kind) || (f.Status != "" && p.Status != f.Status) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memoryTx) UpdateProcess(_ context.Context, p ledger.ConversionProcess) error {
	t.state.processes[p.ID] = p
	return nil
}

func (t *memoryTx) InsertCompletion(_ context.Context, c ledger.ConversionCompletion) error {
	t.state.completions[c.ProcessID] = c
	return nil
}

func (t *memoryTx) GetCompletion(_ context.Context, processID string) (*ledger.ConversionCompletion, error) {
	c, ok := t.state.completions[processID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memoryTx) ReplaceMissingDetails(_ context.Context, completionID string, details []ledger.MissingQuantityDetail) error {
	t.state.missing[completionID] = append([]ledger.MissingQuantityDetail{}, details...)
	return nil
}

func (t *memoryTx) ListMissingDetails(_ context.Context, completionID string) ([]ledger.MissingQuantityDetail, error) {
	return append([]ledger.MissingQuantityDetail{}, t.state.missing[completionID]...), nil
}

// ----- cashbook -----

func (t *memoryTx) InsertCashCategory(_ context.Context, c ledger.CashCategory) error {
	t.state.cashCategories[c.ID] = c
	return nil
}

func (t *memoryTx) GetCashCategory(_ context.Context, id string) (*ledger.CashCategory, error) {
	c, ok := t.state.cashCategories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memoryTx) FindCashCategoryByName(_ context.Context, direction ledger.CashDirection, key string) (*ledger.CashCategory, error) {
	for _, c := range t.state.cashCategories {
		if c.Direction == direction && ledger.NameKey(c.Name) == key {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListCashCategories(_ context.Context, direction ledger.CashDirection) ([]ledger.CashCategory, error) {
	out := make([]ledger.CashCategory, 0)
	for _, c := range t.state.cashCategories {
		if direction == "" || c.Direction == direction {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return ledger.NameKey(out[i].Name) < ledger.NameKey(out[j].Name)
	})
	return out, nil
}

func (t *memoryTx) InsertCashEntry(_ context.Context, e ledger.CashEntry) error {
	t.state.cashEntries[e.ID] = e
	return nil
}

func (t *memoryTx) GetCashEntry(_ context.Context, id string, _ ledger.Lock) (*ledger.CashEntry, error) {
	e, ok := t.state.cashEntries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *memoryTx) ListCashEntries(_ context.Context, f ledger.CashEntryFilter) ([]ledger.CashEntry, error) {
	out := make([]ledger.CashEntry, 0)
	for _, e := range t.state.cashEntries {
		switch {
		case !e.Status.IsLive():
		case f.Direction != "" && e.Direction != f.Direction:
		case f.CategoryID != "" && e.CategoryID != f.CategoryID:
		case !f.From.IsZero() && e.Date.Before(f.From):
		case !f.To.IsZero() && e.Date.After(f.To):
		default:
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memoryTx) UpdateCashEntry(_ context.Context, e ledger.CashEntry) error {
	t.state.cashEntries[e.ID] = e
	return nil
}
