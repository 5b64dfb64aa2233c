/*
Package ledger provides the stock and ledger consistency engine for the mill.

PURPOSE:
  Every operation the mill performs (buying paddy, selling rice, sending stock
  out for boiling or milling, taking payments) moves both physical stock and
  money. This package owns the rules that keep the two ledgers consistent:

  - Stock Ledger:       signed stock deltas with an append-only adjustment log
  - Invoice Recorder:   purchase/sale invoices with paid/pending splits
  - Process Machine:    two-phase boiling/milling (pending → completed | cancelled)
  - Payment Allocator:  FIFO distribution of a payment over open invoices
  - Counterparty totals: denormalized running balances per supplier/buyer

KEY CONCEPTS IN THIS FILE (types.go):
  - Variety, StockAdjustment: stock-bearing unit and its replay log
  - Counterparty, Invoice, Payment: the receivable/payable side
  - ConversionProcess, ConversionCompletion, MissingQuantityDetail: processing

DESIGN PRINCIPLES:
  1. Precision: every quantity and amount is a decimal.Decimal
  2. Append-only: adjustments and payments are never updated or deleted
  3. Explicit status: entities carry a status enum, never a deleted flag
  4. One atomic unit per operation: see engine.go

SEE ALSO:
  - store.go: persistence contracts
  - engine.go: the atomic operations exposed to callers
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRECISION
// =============================================================================

const (
	// QuantityScale is the number of decimal places allowed on weights (kg).
	QuantityScale = 3
	// MoneyScale is the number of decimal places allowed on amounts.
	MoneyScale = 2
)

// MissingTolerance is the allowed gap between an itemized loss breakdown and
// the recorded missing quantity.
var MissingTolerance = decimal.RequireFromString("0.01")

func hasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// =============================================================================
// RECORD STATUS - replaces scattered soft-delete booleans
// =============================================================================

type RecordStatus string

const (
	StatusActive    RecordStatus = "active"
	StatusCancelled RecordStatus = "cancelled"
	StatusDeleted   RecordStatus = "deleted"
)

// IsLive is the single visibility predicate for counterparties, invoices and payments.
func (s RecordStatus) IsLive() bool { return s == StatusActive }

// =============================================================================
// VARIETY - stock-bearing unit
// =============================================================================

type VarietyCategory string

const (
	CategoryPaddy   VarietyCategory = "paddy"   // input stock for processing
	CategorySelling VarietyCategory = "selling" // sellable output
)

func (c VarietyCategory) Valid() bool {
	return c == CategoryPaddy || c == CategorySelling
}

type StockStatus string

const (
	StockOK  StockStatus = "ok"
	StockLow StockStatus = "low"
)

// Variety is a distinct rice type. CurrentStock is only ever changed by the
// StockLedger, together with a StockAdjustment row.
type Variety struct {
	ID            string
	Name          string
	Category      VarietyCategory
	CurrentStock  decimal.Decimal
	MinStockLevel decimal.Decimal
	CreatedBy     string
	CreatedAt     time.Time
}

func (v Variety) StockStatus() StockStatus {
	if v.CurrentStock.LessThanOrEqual(v.MinStockLevel) {
		return StockLow
	}
	return StockOK
}

// NameKey is the uniqueness key for variety names.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// =============================================================================
// STOCK ADJUSTMENT - append-only replay log
// =============================================================================

// AdjustmentSource records which flow produced an adjustment.
type AdjustmentSource string

const (
	SourceManual          AdjustmentSource = "manual"
	SourceOpening         AdjustmentSource = "opening"
	SourcePurchase        AdjustmentSource = "purchase"
	SourceSale            AdjustmentSource = "sale"
	SourceProcessDispatch AdjustmentSource = "process_dispatch"
	SourceProcessReturn   AdjustmentSource = "process_return"
	SourceProcessCancel   AdjustmentSource = "process_cancel"
)

// StockAdjustment is immutable. NewStock == PreviousStock + Delta.
type StockAdjustment struct {
	ID            string
	VarietyID     string
	Delta         decimal.Decimal
	PreviousStock decimal.Decimal
	NewStock      decimal.Decimal
	Reason        string
	Source        AdjustmentSource
	ReferenceID   string // invoice or process ID, empty for manual adjustments
	Actor         string
	CreatedAt     time.Time
}

// =============================================================================
// COUNTERPARTY - supplier or buyer with running totals
// =============================================================================

type CounterpartyRole string

const (
	RoleSupplier CounterpartyRole = "supplier" // we buy paddy from them
	RoleBuyer    CounterpartyRole = "buyer"    // we sell rice to them
)

func (r CounterpartyRole) Valid() bool {
	return r == RoleSupplier || r == RoleBuyer
}

// Counterparty carries denormalized totals maintained incrementally by the
// invoice recorder and the payment allocator.
//
// With the default credit policy:
//
//	TotalPending == sum(invoice.Pending)
//	TotalPaid    == sum(payment.Amount)
//	TotalValue - TotalPaid + CreditBalance == TotalPending
type Counterparty struct {
	ID            string
	Role          CounterpartyRole
	Name          string
	Phone         string // E.164 when it could be parsed
	Address       string
	TotalValue    decimal.Decimal
	TotalPaid     decimal.Decimal
	TotalPending  decimal.Decimal
	CreditBalance decimal.Decimal
	Status        RecordStatus
	CreatedAt     time.Time
}

// =============================================================================
// INVOICE - purchase or sale
// =============================================================================

type InvoiceKind string

const (
	InvoicePurchase InvoiceKind = "purchase"
	InvoiceSale     InvoiceKind = "sale"
)

// Invoice holds Paid + Pending == Total at all times.
type Invoice struct {
	ID             string
	Kind           InvoiceKind
	CounterpartyID string
	VarietyID      string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	Paid           decimal.Decimal
	Pending        decimal.Decimal
	Date           time.Time
	Status         RecordStatus
	CreatedBy      string
	CreatedAt      time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

const DefaultPaymentMethod = "cash"

// Payment is append-only. An empty InvoiceID marks an unallocated payment made
// against the counterparty as a whole.
type Payment struct {
	ID             string
	CounterpartyID string
	InvoiceID      string
	Amount         decimal.Decimal
	Method         string
	Reference      string
	Notes          string
	Status         RecordStatus
	CreatedBy      string
	CreatedAt      time.Time
}

func (p Payment) Unallocated() bool { return p.InvoiceID == "" }

// =============================================================================
// CONVERSION PROCESS - boiling and milling
// =============================================================================

type ProcessKind string

const (
	ProcessBoiling ProcessKind = "boiling"
	ProcessMilling ProcessKind = "milling"
)

type ProcessStatus string

const (
	ProcessPending   ProcessStatus = "pending"
	ProcessCompleted ProcessStatus = "completed"
	ProcessCancelled ProcessStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessCompleted || s == ProcessCancelled
}

func (s ProcessStatus) Valid() bool {
	return s == ProcessPending || s.IsTerminal()
}

type ConversionProcess struct {
	ID             string
	Kind           ProcessKind
	InputVarietyID string
	InputQuantity  decimal.Decimal
	Status         ProcessStatus
	CreatedBy      string
	CreatedAt      time.Time
	CompletedBy    string
	CompletedAt    *time.Time
	CancelledBy    string
	CancelledAt    *time.Time
}

// ConversionCompletion is written once, when the process completes.
// Missing is set for boiling only; Cost is optional and boiling only.
type ConversionCompletion struct {
	ID               string
	ProcessID        string
	OutputVarietyID  string
	ReturnedQuantity decimal.Decimal
	Missing          decimal.NullDecimal
	Cost             decimal.NullDecimal
	Notes            string
	CreatedBy        string
	CreatedAt        time.Time
}

type LossReason string

const (
	LossEvaporation      LossReason = "evaporation"
	LossSpillage         LossReason = "spillage"
	LossQualityRejection LossReason = "quality_rejection"
	LossOther            LossReason = "other"
)

func (r LossReason) Valid() bool {
	switch r {
	case LossEvaporation, LossSpillage, LossQualityRejection, LossOther:
		return true
	}
	return false
}

// MissingQuantityDetail itemizes part of a boiling shortfall. The set for a
// completion is always replaced as a whole.
type MissingQuantityDetail struct {
	ID           string
	CompletionID string
	Quantity     decimal.Decimal
	Reason       LossReason
	Description  string
	CreatedBy    string
	CreatedAt    time.Time
}

// =============================================================================
// CASH ENTRY - income and expenses outside invoices
// =============================================================================

type CashDirection string

const (
	CashIncome  CashDirection = "income"  // husk and bran sales, rent received
	CashExpense CashDirection = "expense" // electricity, wages, transport
)

func (d CashDirection) Valid() bool {
	return d == CashIncome || d == CashExpense
}

// CashCategory names a kind of income or expense. Names are unique per
// direction.
type CashCategory struct {
	ID          string
	Direction   CashDirection
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
}

// CashEntry is one income or expense record. Unlike payments it is edited in
// place; it is removed by status, never by deleting the row. Direction always
// equals the category's.
type CashEntry struct {
	ID          string
	Direction   CashDirection
	CategoryID  string
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	Status      RecordStatus
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedBy   string
	UpdatedAt   *time.Time
	DeletedBy   string
	DeletedAt   *time.Time
}
