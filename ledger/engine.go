/*
engine.go - Atomic operations

PURPOSE:
  Engine is the facade the HTTP layer and tools call. Each mutating method
  runs exactly one Store.WithTx: the components below it (StockLedger,
  InvoiceRecorder, ProcessMachine, PaymentAllocator, Balances, Cashbook)
  only ever see the Tx, so a failure anywhere rolls back every row the
  operation touched.

  Every call is traced (one span per operation), timed and counted through
  the Observer, and logged once when it finishes.

USAGE:
  engine := ledger.NewEngine(store, ledger.Options{Logger: log})
  res, err := engine.CreateInvoice(ctx, ledger.CreateInvoiceInput{...})
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ricemill/stock-ledger/ledger"

// Observer receives operation outcomes. metrics.Collector implements it.
type Observer interface {
	ObserveOperation(op string, kind Kind, elapsed time.Duration)
	ObserveAdjustment(source AdjustmentSource, delta decimal.Decimal)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, Kind, time.Duration)       {}
func (nopObserver) ObserveAdjustment(AdjustmentSource, decimal.Decimal) {}

type Options struct {
	// StrictStock rejects any reducing adjustment that would end below zero.
	StrictStock bool
	// Overpayment decides what happens to money beyond the open balance.
	// Default OverpaymentCredit.
	Overpayment OverpaymentPolicy
	// PhoneRegion is used to parse local numbers. Default "LK".
	PhoneRegion string

	Logger   logrus.FieldLogger
	Observer Observer
	Tracer   trace.Tracer
	Clock    func() time.Time
	NewID    func() string
}

type Engine struct {
	store  Store
	log    logrus.FieldLogger
	obs    Observer
	tracer trace.Tracer
	now    func() time.Time
	policy OverpaymentPolicy

	stock     *StockLedger
	balances  *Balances
	invoices  *InvoiceRecorder
	processes *ProcessMachine
	payments  *PaymentAllocator
	cashbook  *Cashbook
}

// NewID returns a time-ordered UUID (v7) so rows created in the same
// instant still sort in creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.Overpayment == "" {
		opts.Overpayment = OverpaymentCredit
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = DefaultPhoneRegion
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}

	stock := &StockLedger{Strict: opts.StrictStock, Now: opts.Clock, NewID: opts.NewID}
	balances := &Balances{PhoneRegion: opts.PhoneRegion, Now: opts.Clock, NewID: opts.NewID}
	return &Engine{
		store:     store,
		log:       opts.Logger,
		obs:       opts.Observer,
		tracer:    opts.Tracer,
		now:       opts.Clock,
		policy:    opts.Overpayment,
		stock:     stock,
		balances:  balances,
		invoices:  &InvoiceRecorder{Stock: stock, Balances: balances, Now: opts.Clock, NewID: opts.NewID},
		processes: &ProcessMachine{Stock: stock, Now: opts.Clock, NewID: opts.NewID},
		payments:  &PaymentAllocator{Balances: balances, Overpayment: opts.Overpayment, Now: opts.Clock, NewID: opts.NewID},
		cashbook:  &Cashbook{Now: opts.Clock, NewID: opts.NewID},
	}
}

// OverpaymentPolicy reports the policy the engine was built with.
func (e *Engine) OverpaymentPolicy() OverpaymentPolicy { return e.policy }

// =============================================================================
// OPERATION WRAPPERS
// =============================================================================

// write runs fn in one read-write transaction. fields is logged on
// completion; fn may add to it.
func (e *Engine) write(ctx context.Context, op string, fields logrus.Fields, fn func(ctx context.Context, tx Tx) error) error {
	return e.observe(ctx, op, fields, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx Tx) error { return fn(ctx, tx) })
	}, logrus.InfoLevel)
}

func (e *Engine) read(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	return e.observe(ctx, op, logrus.Fields{}, func(ctx context.Context) error {
		return e.store.View(ctx, func(tx Tx) error { return fn(ctx, tx) })
	}, logrus.DebugLevel)
}

func (e *Engine) observe(ctx context.Context, op string, fields logrus.Fields, run func(ctx context.Context) error, level logrus.Level) error {
	ctx, span := e.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("ledger.op", op)))
	defer span.End()

	start := time.Now()
	err := annotate(op, run(ctx))
	elapsed := time.Since(start)

	kind := KindOf(err)
	e.obs.ObserveOperation(op, kind, elapsed)

	fields["op"] = op
	fields["duration_ms"] = elapsed.Milliseconds()
	entry := e.log.WithFields(fields)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		entry.Log(level, "ledger operation completed")
	case IsClientError(err):
		span.SetAttributes(attribute.String("ledger.error_kind", string(kind)))
		span.SetStatus(codes.Error, err.Error())
		entry.WithField("error_kind", kind).WithError(err).Warn("ledger operation rejected")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithField("error_kind", kind).WithError(err).Error("ledger operation failed")
	}
	return err
}

// annotate stamps op onto engine errors and wraps anything foreign as internal.
func annotate(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return err
	}
	var stockErr *InsufficientStockError
	var mismatch *MissingMismatchError
	if errors.As(err, &stockErr) || errors.As(err, &mismatch) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

func (e *Engine) adjusted(adjs ...*StockAdjustment) {
	for _, adj := range adjs {
		if adj != nil {
			e.obs.ObserveAdjustment(adj.Source, adj.Delta)
		}
	}
}

// =============================================================================
// VARIETIES AND STOCK
// =============================================================================

func (e *Engine) RegisterVariety(ctx context.Context, in RegisterVarietyInput) (*Variety, error) {
	var v *Variety
	var adj *StockAdjustment
	fields := logrus.Fields{"actor": in.Actor, "name": in.Name}
	err := e.write(ctx, "register_variety", fields, func(ctx context.Context, tx Tx) error {
		var err error
		v, adj, err = e.stock.Register(ctx, tx, in)
		if err == nil {
			fields["variety_id"] = v.ID
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(adj)
	return v, nil
}

func (e *Engine) SetMinStockLevel(ctx context.Context, varietyID string, level decimal.Decimal, actor string) (*Variety, error) {
	if actor == "" {
		return nil, annotate("set_min_stock_level", validationf("actor is required"))
	}
	var v *Variety
	err := e.write(ctx, "set_min_stock_level", logrus.Fields{"actor": actor, "variety_id": varietyID}, func(ctx context.Context, tx Tx) error {
		var err error
		v, err = e.stock.SetMinStockLevel(ctx, tx, varietyID, level)
		return err
	})
	return v, err
}

// AdjustStock books a manual stock correction.
func (e *Engine) AdjustStock(ctx context.Context, in AdjustStockInput) (*StockAdjustment, error) {
	var adj *StockAdjustment
	fields := logrus.Fields{"actor": in.Actor, "variety_id": in.VarietyID, "delta": in.Delta.String()}
	err := e.write(ctx, "adjust_stock", fields, func(ctx context.Context, tx Tx) error {
		var err error
		adj, err = e.stock.Adjust(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(adj)
	return adj, nil
}

func (e *Engine) GetVariety(ctx context.Context, id string) (*Variety, error) {
	var v *Variety
	err := e.read(ctx, "get_variety", func(ctx context.Context, tx Tx) error {
		var err error
		if v, err = tx.GetVariety(ctx, id, NoLock); err != nil {
			return err
		}
		if v == nil {
			return notFound("variety", id)
		}
		return nil
	})
	return v, err
}

func (e *Engine) ListVarieties(ctx context.Context, filter VarietyFilter) ([]Variety, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, annotate("list_varieties", validationf("unknown variety category %q", filter.Category))
	}
	var out []Variety
	err := e.read(ctx, "list_varieties", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListVarieties(ctx, filter)
		return err
	})
	return out, err
}

// LowStock lists varieties at or below their minimum level.
func (e *Engine) LowStock(ctx context.Context) ([]Variety, error) {
	all, err := e.ListVarieties(ctx, VarietyFilter{})
	if err != nil {
		return nil, err
	}
	low := make([]Variety, 0)
	for _, v := range all {
		if v.StockStatus() == StockLow {
			low = append(low, v)
		}
	}
	return low, nil
}

// ListAdjustments returns the replay log of one variety, oldest first.
func (e *Engine) ListAdjustments(ctx context.Context, varietyID string) ([]StockAdjustment, error) {
	var out []StockAdjustment
	err := e.read(ctx, "list_adjustments", func(ctx context.Context, tx Tx) error {
		v, err := tx.GetVariety(ctx, varietyID, NoLock)
		if err != nil {
			return err
		}
		if v == nil {
			return notFound("variety", varietyID)
		}
		out, err = tx.ListAdjustments(ctx, varietyID)
		return err
	})
	return out, err
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

type RegisterCounterpartyInput struct {
	Role    CounterpartyRole
	Name    string
	Phone   string
	Address string
}

// Statement is a counterparty with its invoices (newest first) and payments.
type Statement struct {
	Counterparty Counterparty
	Invoices     []Invoice
	Payments     []Payment
}

func (e *Engine) RegisterCounterparty(ctx context.Context, in RegisterCounterpartyInput) (*Counterparty, error) {
	var c *Counterparty
	fields := logrus.Fields{"role": in.Role, "name": in.Name}
	err := e.write(ctx, "register_counterparty", fields, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = e.balances.Register(ctx, tx, in.Role, in.Name, in.Phone, in.Address)
		if err == nil {
			fields["counterparty_id"] = c.ID
		}
		return err
	})
	return c, err
}

func (e *Engine) GetStatement(ctx context.Context, id string) (*Statement, error) {
	var st *Statement
	err := e.read(ctx, "get_statement", func(ctx context.Context, tx Tx) error {
		c, err := tx.GetCounterparty(ctx, id, NoLock)
		if err != nil {
			return err
		}
		if c == nil || !c.Status.IsLive() {
			return notFound("counterparty", id)
		}
		invoices, err := tx.ListInvoices(ctx, InvoiceFilter{CounterpartyID: id})
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, PaymentFilter{CounterpartyID: id})
		if err != nil {
			return err
		}
		st = &Statement{Counterparty: *c, Invoices: invoices, Payments: payments}
		return nil
	})
	return st, err
}

// ListCounterparties lists live counterparties. An empty role lists both.
func (e *Engine) ListCounterparties(ctx context.Context, role CounterpartyRole) ([]Counterparty, error) {
	if role != "" && !role.Valid() {
		return nil, annotate("list_counterparties", validationf("unknown counterparty role %q", role))
	}
	var out []Counterparty
	err := e.read(ctx, "list_counterparties", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListCounterparties(ctx, role)
		return err
	})
	return out, err
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

func (e *Engine) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*InvoiceResult, error) {
	var res *InvoiceResult
	fields := logrus.Fields{"actor": in.Actor, "kind": in.Kind, "variety_id": in.VarietyID}
	err := e.write(ctx, "create_invoice", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.invoices.Record(ctx, tx, in)
		if err == nil {
			fields["invoice_id"] = res.Invoice.ID
			fields["counterparty_id"] = res.Counterparty.ID
			fields["total"] = res.Invoice.Total.String()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(&res.Adjustment)
	return res, nil
}

func (e *Engine) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var inv *Invoice
	err := e.read(ctx, "get_invoice", func(ctx context.Context, tx Tx) error {
		var err error
		if inv, err = tx.GetInvoice(ctx, id, NoLock); err != nil {
			return err
		}
		if inv == nil || !inv.Status.IsLive() {
			return notFound("invoice", id)
		}
		return nil
	})
	return inv, err
}

func (e *Engine) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	if filter.Kind != "" {
		if _, err := ruleFor(filter.Kind); err != nil {
			return nil, annotate("list_invoices", err)
		}
	}
	filter.Lock = NoLock
	var out []Invoice
	err := e.read(ctx, "list_invoices", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListInvoices(ctx, filter)
		return err
	})
	return out, err
}

// RecordInvoicePayment pays one invoice. Amounts above its pending balance
// are rejected.
func (e *Engine) RecordInvoicePayment(ctx context.Context, in RecordInvoicePaymentInput) (*InvoicePaymentResult, error) {
	var res *InvoicePaymentResult
	fields := logrus.Fields{"actor": in.Actor, "invoice_id": in.InvoiceID, "amount": in.Amount.String()}
	err := e.write(ctx, "record_invoice_payment", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.payments.RecordInvoice(ctx, tx, in)
		return err
	})
	return res, err
}

// AllocatePayment applies a payment to the counterparty's open invoices,
// oldest first.
func (e *Engine) AllocatePayment(ctx context.Context, in AllocatePaymentInput) (*AllocationResult, error) {
	var res *AllocationResult
	fields := logrus.Fields{"actor": in.Actor, "counterparty_id": in.CounterpartyID, "amount": in.Amount.String()}
	err := e.write(ctx, "allocate_payment", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.payments.Allocate(ctx, tx, in)
		if err == nil {
			fields["invoices"] = len(res.Applied)
			fields["remaining"] = res.Remaining.String()
		}
		return err
	})
	return res, err
}

// =============================================================================
// CONVERSION PROCESSES
// =============================================================================

func (e *Engine) CreateProcess(ctx context.Context, in CreateProcessInput) (*ProcessResult, error) {
	var res *ProcessResult
	fields := logrus.Fields{"actor": in.Actor, "kind": in.Kind, "variety_id": in.InputVarietyID}
	err := e.write(ctx, "create_process", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.processes.Create(ctx, tx, in)
		if err == nil {
			fields["process_id"] = res.Process.ID
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(res.Adjustment)
	return res, nil
}

func (e *Engine) CompleteProcess(ctx context.Context, in CompleteProcessInput) (*ProcessResult, error) {
	var res *ProcessResult
	fields := logrus.Fields{"actor": in.Actor, "process_id": in.ProcessID, "returned": in.ReturnedQuantity.String()}
	err := e.write(ctx, "complete_process", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.processes.Complete(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(res.Adjustment)
	return res, nil
}

func (e *Engine) CancelProcess(ctx context.Context, processID, actor string) (*ProcessResult, error) {
	var res *ProcessResult
	fields := logrus.Fields{"actor": actor, "process_id": processID}
	err := e.write(ctx, "cancel_process", fields, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = e.processes.Cancel(ctx, tx, processID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.adjusted(res.Adjustment)
	return res, nil
}

// ReconcileMissingQuantities replaces the loss breakdown of a completed
// boiling process.
func (e *Engine) ReconcileMissingQuantities(ctx context.Context, in ReconcileInput) ([]MissingQuantityDetail, error) {
	var out []MissingQuantityDetail
	fields := logrus.Fields{"actor": in.Actor, "process_id": in.ProcessID, "details": len(in.Details)}
	err := e.write(ctx, "reconcile_missing", fields, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = e.processes.Reconcile(ctx, tx, in)
		return err
	})
	return out, err
}

func (e *Engine) GetProcess(ctx context.Context, id string) (*ProcessDetail, error) {
	var d *ProcessDetail
	err := e.read(ctx, "get_process", func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProcess(ctx, id, NoLock)
		if err != nil {
			return err
		}
		if p == nil {
			return notFound("process", id)
		}
		d = &ProcessDetail{Process: *p, MissingDetails: []MissingQuantityDetail{}}
		if p.Status != ProcessCompleted {
			return nil
		}
		if d.Completion, err = tx.GetCompletion(ctx, p.ID); err != nil {
			return err
		}
		if d.Completion != nil {
			d.MissingDetails, err = tx.ListMissingDetails(ctx, d.Completion.ID)
		}
		return err
	})
	return d, err
}

func (e *Engine) ListProcesses(ctx context.Context, filter ProcessFilter) ([]ConversionProcess, error) {
	if filter.Kind != "" {
		if _, err := processRuleFor(filter.Kind); err != nil {
			return nil, annotate("list_processes", err)
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, annotate("list_processes", validationf("unknown process status %q", filter.Status))
	}
	var out []ConversionProcess
	err := e.read(ctx, "list_processes", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListProcesses(ctx, filter)
		return err
	})
	return out, err
}

// =============================================================================
// CASHBOOK
// =============================================================================

func (e *Engine) RegisterCashCategory(ctx context.Context, in RegisterCashCategoryInput) (*CashCategory, error) {
	var cat *CashCategory
	fields := logrus.Fields{"actor": in.Actor, "direction": in.Direction, "name": in.Name}
	err := e.write(ctx, "register_cash_category", fields, func(ctx context.Context, tx Tx) error {
		var err error
		cat, err = e.cashbook.RegisterCategory(ctx, tx, in)
		return err
	})
	return cat, err
}

func (e *Engine) ListCashCategories(ctx context.Context, direction CashDirection) ([]CashCategory, error) {
	if direction != "" && !direction.Valid() {
		return nil, annotate("list_cash_categories", validationf("unknown cash direction %q", direction))
	}
	var out []CashCategory
	err := e.read(ctx, "list_cash_categories", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListCashCategories(ctx, direction)
		return err
	})
	return out, err
}

// RecordCashEntry books income or an expense under an existing category.
func (e *Engine) RecordCashEntry(ctx context.Context, in CashEntryInput) (*CashEntry, error) {
	var entry *CashEntry
	fields := logrus.Fields{"actor": in.Actor, "category_id": in.CategoryID, "amount": in.Amount.String()}
	err := e.write(ctx, "record_cash_entry", fields, func(ctx context.Context, tx Tx) error {
		var err error
		if entry, err = e.cashbook.Record(ctx, tx, in); err == nil {
			fields["entry_id"] = entry.ID
		}
		return err
	})
	return entry, err
}

func (e *Engine) UpdateCashEntry(ctx context.Context, id string, in CashEntryInput) (*CashEntry, error) {
	var entry *CashEntry
	fields := logrus.Fields{"actor": in.Actor, "entry_id": id, "amount": in.Amount.String()}
	err := e.write(ctx, "update_cash_entry", fields, func(ctx context.Context, tx Tx) error {
		var err error
		entry, err = e.cashbook.Update(ctx, tx, id, in)
		return err
	})
	return entry, err
}

func (e *Engine) DeleteCashEntry(ctx context.Context, id, actor string) (*CashEntry, error) {
	var entry *CashEntry
	err := e.write(ctx, "delete_cash_entry", logrus.Fields{"actor": actor, "entry_id": id}, func(ctx context.Context, tx Tx) error {
		var err error
		entry, err = e.cashbook.Delete(ctx, tx, id, actor)
		return err
	})
	return entry, err
}

// GetCashEntry returns a live entry.
func (e *Engine) GetCashEntry(ctx context.Context, id string) (*CashEntry, error) {
	var entry *CashEntry
	err := e.read(ctx, "get_cash_entry", func(ctx context.Context, tx Tx) error {
		var err error
		if entry, err = tx.GetCashEntry(ctx, id, NoLock); err != nil {
			return err
		}
		if entry == nil || !entry.Status.IsLive() {
			return notFound("cash entry", id)
		}
		return nil
	})
	return entry, err
}

func (e *Engine) ListCashEntries(ctx context.Context, filter CashEntryFilter) ([]CashEntry, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, annotate("list_cash_entries", validationf("unknown cash direction %q", filter.Direction))
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, annotate("list_cash_entries", validationf("date range ends before it starts"))
	}
	var out []CashEntry
	err := e.read(ctx, "list_cash_entries", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListCashEntries(ctx, filter)
		return err
	})
	return out, err
}

// =============================================================================
// AUDIT AND TOOLING
// =============================================================================

// Audit recomputes stock and counterparty totals from the ledger rows.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	var report *AuditReport
	err := e.read(ctx, "audit", func(ctx context.Context, tx Tx) error {
		var err error
		report, err = runAudit(ctx, tx, e.policy, e.now())
		return err
	})
	return report, err
}

// Reset wipes the store. Development tooling only.
func (e *Engine) Reset(ctx context.Context) error {
	err := e.store.Reset(ctx)
	if err != nil {
		e.log.WithError(err).Error("ledger reset failed")
		return err
	}
	e.log.Warn("ledger store reset")
	return nil
}
