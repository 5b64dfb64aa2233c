/*
invoice.go - Invoice Recorder

PURPOSE:
  Purchases and sales are the same record with opposite stock signs. One
  recorder handles both, parameterized by an invoiceRule.

FLOW (one transaction):
  1. Validate quantity > 0, unit price > 0, 0 <= paid <= total. The total is
     quantity * unit price exactly; inputs whose product needs more than
     MoneyScale places are rejected rather than rounded.
  2. Resolve counterparty (by id, by phone, or create from phone + name)
  3. Stock Ledger: +quantity (purchase) / -quantity (sale, stock checked)
  4. Insert invoice with total/paid/pending
  5. Counterparty totals: value += total, paid += paid, pending += pending
  6. If paid > 0, insert the initial Payment
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE RULES - the behaviour that differs between purchase and sale
// =============================================================================

type invoiceRule struct {
	role             CounterpartyRole
	sign             int64
	source           AdjustmentSource
	requireAvailable bool
	recording        PaymentRecording
	reason           func(qty decimal.Decimal, counterparty string) string
}

var invoiceRules = map[InvoiceKind]invoiceRule{
	InvoicePurchase: {
		role:      RoleSupplier,
		sign:      1,
		source:    SourcePurchase,
		recording: RecordUnallocated,
		reason: func(qty decimal.Decimal, counterparty string) string {
			return fmt.Sprintf("Bought %s kg from %s", qty.String(), counterparty)
		},
	},
	InvoiceSale: {
		role:             RoleBuyer,
		sign:             -1,
		source:           SourceSale,
		requireAvailable: true,
		recording:        RecordPerInvoice,
		reason: func(qty decimal.Decimal, counterparty string) string {
			return fmt.Sprintf("Sold %s kg to %s", qty.String(), counterparty)
		},
	},
}

func ruleFor(kind InvoiceKind) (invoiceRule, error) {
	rule, ok := invoiceRules[kind]
	if !ok {
		return invoiceRule{}, validationf("unknown invoice kind %q", kind)
	}
	return rule, nil
}

// RoleFor returns the counterparty role that invoices of kind are issued to.
func RoleFor(kind InvoiceKind) (CounterpartyRole, error) {
	rule, err := ruleFor(kind)
	return rule.role, err
}

// =============================================================================
// INVOICE RECORDER
// =============================================================================

// PaymentMeta describes how a payment was made.
type PaymentMeta struct {
	Method    string
	Reference string
	Notes     string
}

func (m PaymentMeta) method() string {
	if m.Method == "" {
		return DefaultPaymentMethod
	}
	return m.Method
}

type CreateInvoiceInput struct {
	Kind         InvoiceKind
	Counterparty CounterpartyRef
	VarietyID    string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	PaidAmount   decimal.Decimal
	Payment      PaymentMeta
	Date         time.Time // zero = now
	Actor        string
}

// InvoiceResult is what CreateInvoice returns.
type InvoiceResult struct {
	Invoice      Invoice
	Counterparty Counterparty
	Adjustment   StockAdjustment
	Payment      *Payment
}

type InvoiceRecorder struct {
	Stock    *StockLedger
	Balances *Balances
	Now      func() time.Time
	NewID    func() string
}

func (in CreateInvoiceInput) validate() (decimal.Decimal, error) {
	if in.Actor == "" {
		return decimal.Zero, validationf("actor is required")
	}
	if in.VarietyID == "" {
		return decimal.Zero, validationf("variety id is required")
	}
	if !in.Quantity.IsPositive() {
		return decimal.Zero, validationf("quantity must be greater than zero")
	}
	if !hasScale(in.Quantity, QuantityScale) {
		return decimal.Zero, validationf("quantity allows at most %d decimal places", QuantityScale)
	}
	if !in.UnitPrice.IsPositive() {
		return decimal.Zero, validationf("unit price must be greater than zero")
	}
	if !hasScale(in.UnitPrice, MoneyScale) || !hasScale(in.PaidAmount, MoneyScale) {
		return decimal.Zero, validationf("amounts allow at most %d decimal places", MoneyScale)
	}
	if in.PaidAmount.IsNegative() {
		return decimal.Zero, validationf("paid amount cannot be negative")
	}
	total := in.Quantity.Mul(in.UnitPrice)
	if !hasScale(total, MoneyScale) {
		return decimal.Zero, validationf("total %s (quantity × unit price) allows at most %d decimal places", total, MoneyScale)
	}
	if in.PaidAmount.GreaterThan(total) {
		return decimal.Zero, validationf("paid amount %s exceeds invoice total %s", in.PaidAmount, total)
	}
	return total, nil
}

// Record runs the invoice flow inside tx.
func (r *InvoiceRecorder) Record(ctx context.Context, tx Tx, in CreateInvoiceInput) (*InvoiceResult, error) {
	rule, err := ruleFor(in.Kind)
	if err != nil {
		return nil, err
	}
	total, err := in.validate()
	if err != nil {
		return nil, err
	}

	// The variety must exist before a counterparty is created for it.
	v, err := tx.GetVariety(ctx, in.VarietyID, NoLock)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("variety", in.VarietyID)
	}

	cp, err := r.Balances.Resolve(ctx, tx, rule.role, in.Counterparty)
	if err != nil {
		return nil, err
	}

	now := r.Now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	pending := total.Sub(in.PaidAmount)

	inv := Invoice{
		ID:             r.NewID(),
		Kind:           in.Kind,
		CounterpartyID: cp.ID,
		VarietyID:      v.ID,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		Total:          total,
		Paid:           in.PaidAmount,
		Pending:        pending,
		Date:           date.UTC(),
		Status:         StatusActive,
		CreatedBy:      in.Actor,
		CreatedAt:      now,
	}

	adj, err := r.Stock.Apply(ctx, tx, Movement{
		VarietyID:        v.ID,
		Delta:            in.Quantity.Mul(decimal.NewFromInt(rule.sign)),
		Reason:           rule.reason(in.Quantity, cp.Name),
		Source:           rule.source,
		ReferenceID:      inv.ID,
		Actor:            in.Actor,
		RequireAvailable: rule.requireAvailable,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return nil, err
	}

	if err := r.Balances.apply(ctx, tx, cp, balanceDelta{
		Value:   total,
		Paid:    in.PaidAmount,
		Pending: pending,
	}); err != nil {
		return nil, err
	}

	result := &InvoiceResult{Invoice: inv, Counterparty: *cp, Adjustment: *adj}
	if in.PaidAmount.IsPositive() {
		p := Payment{
			ID:             r.NewID(),
			CounterpartyID: cp.ID,
			InvoiceID:      inv.ID,
			Amount:         in.PaidAmount,
			Method:         in.Payment.method(),
			Reference:      in.Payment.Reference,
			Notes:          in.Payment.Notes,
			Status:         StatusActive,
			CreatedBy:      in.Actor,
			CreatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return nil, err
		}
		result.Payment = &p
	}
	return result, nil
}
