/*
store.go - Persistence contracts

PURPOSE:
  Defines the boundary between the engine and the relational store. The
  engine never holds a connection itself: a Store is constructed by the
  service bootstrap and handed to NewEngine.

ATOMICITY:
  WithTx runs fn inside one transaction. If fn returns an error everything it
  wrote is rolled back; if it returns nil everything commits together. A store
  may run fn more than once when the database reports a serialization
  conflict, so fn must not have side effects outside the Tx.

LOCKING:
  Reads that precede a write take Lock = ForUpdate. Relational stores turn that
  into SELECT ... FOR UPDATE (or an exclusive transaction on SQLite), which
  closes the read-modify-write race on current_stock, pending and the
  counterparty totals.

APPEND-ONLY:
  StockAdjustment and Payment rows have insert and list methods only.
  CashEntry rows are updated in place and soft-deleted through Status.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite, MySQL, PostgreSQL
  - ledger/store: in-memory, for tests
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Lock selects whether a read takes a row lock for the rest of the transaction.
type Lock bool

const (
	NoLock    Lock = false
	ForUpdate Lock = true
)

// Store owns the connection pool and hands out transactions.
type Store interface {
	// WithTx executes fn within a read-write transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// View executes fn with read access only. Locks are ignored.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Reset removes all data. Development tooling only.
	Reset(ctx context.Context) error

	Close() error
}

// Tx is the set of row operations available inside a transaction. Get* methods
// return (nil, nil) when the row does not exist.
type Tx interface {
	// Varieties
	InsertVariety(ctx context.Context, v Variety) error
	GetVariety(ctx context.Context, id string, lock Lock) (*Variety, error)
	FindVarietyByName(ctx context.Context, key string) (*Variety, error) // key = NameKey(name)
	ListVarieties(ctx context.Context, filter VarietyFilter) ([]Variety, error)
	UpdateVarietyStock(ctx context.Context, id string, stock decimal.Decimal) error
	UpdateMinStockLevel(ctx context.Context, id string, level decimal.Decimal) error

	// Stock adjustments (append-only). Listed oldest first.
	InsertAdjustment(ctx context.Context, adj StockAdjustment) error
	ListAdjustments(ctx context.Context, varietyID string) ([]StockAdjustment, error)

	// Counterparties
	InsertCounterparty(ctx context.Context, c Counterparty) error
	GetCounterparty(ctx context.Context, id string, lock Lock) (*Counterparty, error)
	FindCounterpartyByPhone(ctx context.Context, role CounterpartyRole, phone string, lock Lock) (*Counterparty, error)
	ListCounterparties(ctx context.Context, role CounterpartyRole) ([]Counterparty, error) // empty role = all
	UpdateCounterpartyTotals(ctx context.Context, c Counterparty) error

	// Invoices
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string, lock Lock) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	UpdateInvoiceSettlement(ctx context.Context, id string, paid, pending decimal.Decimal) error

	// Payments (append-only). Listed oldest first.
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// Conversion processes
	InsertProcess(ctx context.Context, p ConversionProcess) error
	GetProcess(ctx context.Context, id string, lock Lock) (*ConversionProcess, error)
	ListProcesses(ctx context.Context, filter ProcessFilter) ([]ConversionProcess, error)
	UpdateProcess(ctx context.Context, p ConversionProcess) error
	InsertCompletion(ctx context.Context, c ConversionCompletion) error
	GetCompletion(ctx context.Context, processID string) (*ConversionCompletion, error)
	ReplaceMissingDetails(ctx context.Context, completionID string, details []MissingQuantityDetail) error
	ListMissingDetails(ctx context.Context, completionID string) ([]MissingQuantityDetail, error)

	// Cashbook
	InsertCashCategory(ctx context.Context, c CashCategory) error
	GetCashCategory(ctx context.Context, id string) (*CashCategory, error)
	FindCashCategoryByName(ctx context.Context, direction CashDirection, key string) (*CashCategory, error) // key = NameKey(name)
	ListCashCategories(ctx context.Context, direction CashDirection) ([]CashCategory, error)                // empty direction = all
	InsertCashEntry(ctx context.Context, e CashEntry) error
	GetCashEntry(ctx context.Context, id string, lock Lock) (*CashEntry, error)
	ListCashEntries(ctx context.Context, filter CashEntryFilter) ([]CashEntry, error)
	UpdateCashEntry(ctx context.Context, e CashEntry) error
}

// =============================================================================
// FILTERS
// =============================================================================

type VarietyFilter struct {
	Category VarietyCategory // empty = all
}

// InvoiceFilter selects live invoices. Results are newest-first unless
// OldestFirst is set; ties on Date are broken by ID in the same direction.
type InvoiceFilter struct {
	Kind           InvoiceKind
	CounterpartyID string
	OpenOnly       bool // Pending > 0
	OldestFirst    bool
	Lock           Lock
}

type PaymentFilter struct {
	CounterpartyID string
	InvoiceID      string
}

type ProcessFilter struct {
	Kind   ProcessKind
	Status ProcessStatus
}

// CashEntryFilter selects live cash entries, newest first. From and To bound
// the entry date inclusively; zero leaves that side open.
type CashEntryFilter struct {
	Direction  CashDirection
	CategoryID string
	From       time.Time
	To         time.Time
}
