/*
payment.go - Payment Allocator

PURPOSE:
  Applies money received from a buyer (or paid to a supplier) to that
  counterparty's open invoices, oldest first.

FIFO:
  Open invoices (pending > 0) are read under lock ordered by (date, id)
  ascending. For each: applied = min(remaining, pending). The loop stops
  when the amount is spent or the invoices run out.

    pendings [30, 50, 20], amount 70  →  applied [30, 40], pendings [0, 10, 20]

OVERPAYMENT (amount > sum of pendings):
  credit  excess is accepted and held as CreditBalance. Aggregates stay equal
          to the sums over invoices and payments.
  reject  ValidationError, nothing written.
  legacy  TotalPending is reduced by the full amount, so it drifts below
          sum(invoice.Pending). Kept for data migrated from the old system.

LOCK ORDER:
  counterparty → invoices. RecordInvoicePayment resolves the owner first
  for the same reason.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type OverpaymentPolicy string

const (
	OverpaymentCredit OverpaymentPolicy = "credit"
	OverpaymentReject OverpaymentPolicy = "reject"
	OverpaymentLegacy OverpaymentPolicy = "legacy"
)

func (p OverpaymentPolicy) Valid() bool {
	switch p {
	case OverpaymentCredit, OverpaymentReject, OverpaymentLegacy:
		return true
	}
	return false
}

// PaymentRecording selects the shape of the Payment rows an allocation writes.
type PaymentRecording string

const (
	RecordPerInvoice  PaymentRecording = "per_invoice" // one row per invoice touched
	RecordUnallocated PaymentRecording = "unallocated" // one row against the counterparty
)

func (r PaymentRecording) Valid() bool {
	return r == RecordPerInvoice || r == RecordUnallocated
}

// DefaultRecording is the row shape used when the caller does not choose one.
func DefaultRecording(role CounterpartyRole) PaymentRecording {
	if role == RoleSupplier {
		return invoiceRules[InvoicePurchase].recording
	}
	return invoiceRules[InvoiceSale].recording
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationf("payment amount must be greater than zero")
	}
	if !hasScale(amount, MoneyScale) {
		return validationf("payment amount allows at most %d decimal places", MoneyScale)
	}
	return nil
}

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

type AllocatePaymentInput struct {
	CounterpartyID string
	Amount         decimal.Decimal
	Payment        PaymentMeta
	Recording      PaymentRecording // empty = DefaultRecording(role)
	Actor          string
}

// AppliedPayment is the part of an allocation that landed on one invoice.
type AppliedPayment struct {
	InvoiceID string
	Amount    decimal.Decimal
}

type AllocationResult struct {
	Counterparty Counterparty
	Applied      []AppliedPayment
	Remaining    decimal.Decimal // unapplied after the loop
	Credited     decimal.Decimal // part of Remaining held as credit
	Payments     []Payment
}

type RecordInvoicePaymentInput struct {
	InvoiceID string
	Amount    decimal.Decimal
	Payment   PaymentMeta
	Actor     string
}

type InvoicePaymentResult struct {
	Invoice      Invoice
	Counterparty Counterparty
	Payment      Payment
}

// =============================================================================
// ALLOCATOR
// =============================================================================

type PaymentAllocator struct {
	Balances    *Balances
	Overpayment OverpaymentPolicy
	Now         func() time.Time
	NewID       func() string
}

// Allocate spreads in.Amount over the counterparty's open invoices.
func (a *PaymentAllocator) Allocate(ctx context.Context, tx Tx, in AllocatePaymentInput) (*AllocationResult, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.Recording != "" && !in.Recording.Valid() {
		return nil, validationf("unknown payment recording %q", in.Recording)
	}

	cp, err := a.Balances.lockOwner(ctx, tx, in.CounterpartyID)
	if err != nil {
		return nil, err
	}
	if !cp.Status.IsLive() {
		return nil, notFound("counterparty", in.CounterpartyID)
	}
	recording := in.Recording
	if recording == "" {
		recording = DefaultRecording(cp.Role)
	}

	open, err := tx.ListInvoices(ctx, InvoiceFilter{
		CounterpartyID: cp.ID,
		OpenOnly:       true,
		OldestFirst:    true,
		Lock:           ForUpdate,
	})
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, validationf("no pending invoices for counterparty %s", cp.ID)
	}

	if a.Overpayment == OverpaymentReject {
		outstanding := decimal.Zero
		for _, inv := range open {
			outstanding = outstanding.Add(inv.Pending)
		}
		if in.Amount.GreaterThan(outstanding) {
			return nil, validationf("payment %s exceeds outstanding balance %s", in.Amount, outstanding)
		}
	}

	result := &AllocationResult{}
	remaining := in.Amount
	applied := decimal.Zero
	for _, inv := range open {
		if !remaining.IsPositive() {
			break
		}
		part := decimal.Min(remaining, inv.Pending)
		if err := tx.UpdateInvoiceSettlement(ctx, inv.ID, inv.Paid.Add(part), inv.Pending.Sub(part)); err != nil {
			return nil, err
		}
		result.Applied = append(result.Applied, AppliedPayment{InvoiceID: inv.ID, Amount: part})
		remaining = remaining.Sub(part)
		applied = applied.Add(part)
	}
	result.Remaining = remaining

	delta := balanceDelta{Paid: in.Amount, Pending: applied.Neg()}
	switch a.Overpayment {
	case OverpaymentLegacy:
		delta.Pending = in.Amount.Neg()
	default:
		delta.Credit = remaining
		result.Credited = remaining
	}
	if err := a.Balances.apply(ctx, tx, cp, delta); err != nil {
		return nil, err
	}

	now := a.Now()
	newPayment := func(invoiceID string, amount decimal.Decimal) Payment {
		return Payment{
			ID:             a.NewID(),
			CounterpartyID: cp.ID,
			InvoiceID:      invoiceID,
			Amount:         amount,
			Method:         in.Payment.method(),
			Reference:      in.Payment.Reference,
			Notes:          in.Payment.Notes,
			Status:         StatusActive,
			CreatedBy:      in.Actor,
			CreatedAt:      now,
		}
	}

	// Payment rows always add up to the full amount, so TotalPaid stays equal
	// to the payment sum under every policy.
	switch recording {
	case RecordPerInvoice:
		for _, ap := range result.Applied {
			result.Payments = append(result.Payments, newPayment(ap.InvoiceID, ap.Amount))
		}
		if remaining.IsPositive() {
			result.Payments = append(result.Payments, newPayment("", remaining))
		}
	case RecordUnallocated:
		result.Payments = append(result.Payments, newPayment("", in.Amount))
	}
	for _, p := range result.Payments {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return nil, err
		}
	}

	result.Counterparty = *cp
	return result, nil
}

// RecordInvoice pays one invoice directly. The amount may not exceed its
// pending balance.
func (a *PaymentAllocator) RecordInvoice(ctx context.Context, tx Tx, in RecordInvoicePaymentInput) (*InvoicePaymentResult, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}

	peek, err := tx.GetInvoice(ctx, in.InvoiceID, NoLock)
	if err != nil {
		return nil, err
	}
	if peek == nil || !peek.Status.IsLive() {
		return nil, notFound("invoice", in.InvoiceID)
	}
	cp, err := a.Balances.lockOwner(ctx, tx, peek.CounterpartyID)
	if err != nil {
		return nil, err
	}
	inv, err := tx.GetInvoice(ctx, in.InvoiceID, ForUpdate)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, notFound("invoice", in.InvoiceID)
	}

	if in.Amount.GreaterThan(inv.Pending) {
		return nil, validationf("payment %s exceeds pending amount %s on invoice %s", in.Amount, inv.Pending, inv.ID)
	}

	inv.Paid = inv.Paid.Add(in.Amount)
	inv.Pending = inv.Pending.Sub(in.Amount)
	if err := tx.UpdateInvoiceSettlement(ctx, inv.ID, inv.Paid, inv.Pending); err != nil {
		return nil, err
	}
	if err := a.Balances.apply(ctx, tx, cp, balanceDelta{Paid: in.Amount, Pending: in.Amount.Neg()}); err != nil {
		return nil, err
	}

	p := Payment{
		ID:             a.NewID(),
		CounterpartyID: cp.ID,
		InvoiceID:      inv.ID,
		Amount:         in.Amount,
		Method:         in.Payment.method(),
		Reference:      in.Payment.Reference,
		Notes:          in.Payment.Notes,
		Status:         StatusActive,
		CreatedBy:      in.Actor,
		CreatedAt:      a.Now(),
	}
	if err := tx.InsertPayment(ctx, p); err != nil {
		return nil, err
	}
	return &InvoicePaymentResult{Invoice: *inv, Counterparty: *cp, Payment: p}, nil
}
