/*
audit.go - Reconciliation from the ledger

PURPOSE:
  The hot path maintains stock and counterparty totals incrementally. Audit
  recomputes them from the append-only rows and reports every place where
  the stored value differs. It never writes.

CHECKS:
  stock_replay        variety.CurrentStock == sum(adjustment.Delta)
  adjustment_chain    each adjustment: Prev == running total, New == Prev + Delta
  invoice_balance     Paid + Pending == Total, both >= 0
  counterparty_total  TotalValue, TotalPaid, TotalPending, CreditBalance
                      against sums over invoices and payments

  Under the legacy overpayment policy TotalPending is expected to be
  TotalValue - TotalPaid and CreditBalance zero.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DiscrepancyKind string

const (
	DiscrepancyStockReplay       DiscrepancyKind = "stock_replay"
	DiscrepancyAdjustmentChain   DiscrepancyKind = "adjustment_chain"
	DiscrepancyInvoiceBalance    DiscrepancyKind = "invoice_balance"
	DiscrepancyCounterpartyTotal DiscrepancyKind = "counterparty_total"
)

type Discrepancy struct {
	Kind     DiscrepancyKind
	EntityID string
	Field    string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s %s.%s: expected %s, found %s", d.Kind, d.EntityID, d.Field, d.Expected, d.Actual)
}

type AuditReport struct {
	CheckedAt      time.Time
	Varieties      int
	Adjustments    int
	Counterparties int
	Invoices       int
	Payments       int
	Discrepancies  []Discrepancy
}

// Clean reports whether nothing drifted.
func (r *AuditReport) Clean() bool { return len(r.Discrepancies) == 0 }

type auditor struct {
	policy OverpaymentPolicy
	report *AuditReport
}

func (a *auditor) expect(kind DiscrepancyKind, id, field string, expected, actual decimal.Decimal) {
	if !expected.Equal(actual) {
		a.report.Discrepancies = append(a.report.Discrepancies, Discrepancy{
			Kind: kind, EntityID: id, Field: field, Expected: expected, Actual: actual,
		})
	}
}

func runAudit(ctx context.Context, tx Tx, policy OverpaymentPolicy, now time.Time) (*AuditReport, error) {
	a := &auditor{policy: policy, report: &AuditReport{CheckedAt: now}}
	if err := a.stock(ctx, tx); err != nil {
		return nil, err
	}
	if err := a.counterparties(ctx, tx); err != nil {
		return nil, err
	}
	return a.report, nil
}

func (a *auditor) stock(ctx context.Context, tx Tx) error {
	varieties, err := tx.ListVarieties(ctx, VarietyFilter{})
	if err != nil {
		return err
	}
	a.report.Varieties = len(varieties)

	for _, v := range varieties {
		adjs, err := tx.ListAdjustments(ctx, v.ID)
		if err != nil {
			return err
		}
		a.report.Adjustments += len(adjs)

		running := decimal.Zero
		for _, adj := range adjs {
			a.expect(DiscrepancyAdjustmentChain, adj.ID, "previous_stock", running, adj.PreviousStock)
			a.expect(DiscrepancyAdjustmentChain, adj.ID, "new_stock", adj.PreviousStock.Add(adj.Delta), adj.NewStock)
			running = running.Add(adj.Delta)
		}
		a.expect(DiscrepancyStockReplay, v.ID, "current_stock", running, v.CurrentStock)
	}
	return nil
}

func (a *auditor) counterparties(ctx context.Context, tx Tx) error {
	all, err := tx.ListCounterparties(ctx, "")
	if err != nil {
		return err
	}
	a.report.Counterparties = len(all)

	for _, c := range all {
		invoices, err := tx.ListInvoices(ctx, InvoiceFilter{CounterpartyID: c.ID})
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, PaymentFilter{CounterpartyID: c.ID})
		if err != nil {
			return err
		}
		a.report.Invoices += len(invoices)
		a.report.Payments += len(payments)

		value, invoicePaid, pending := decimal.Zero, decimal.Zero, decimal.Zero
		for _, inv := range invoices {
			a.expect(DiscrepancyInvoiceBalance, inv.ID, "paid+pending", inv.Total, inv.Paid.Add(inv.Pending))
			if inv.Pending.IsNegative() {
				a.expect(DiscrepancyInvoiceBalance, inv.ID, "pending", decimal.Zero, inv.Pending)
			}
			if inv.Paid.IsNegative() {
				a.expect(DiscrepancyInvoiceBalance, inv.ID, "paid", decimal.Zero, inv.Paid)
			}
			value = value.Add(inv.Total)
			invoicePaid = invoicePaid.Add(inv.Paid)
			pending = pending.Add(inv.Pending)
		}
		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Amount)
		}

		credit := paid.Sub(invoicePaid)
		if a.policy == OverpaymentLegacy {
			pending = value.Sub(paid)
			credit = decimal.Zero
		}
		a.expect(DiscrepancyCounterpartyTotal, c.ID, "total_value", value, c.TotalValue)
		a.expect(DiscrepancyCounterpartyTotal, c.ID, "total_paid", paid, c.TotalPaid)
		a.expect(DiscrepancyCounterpartyTotal, c.ID, "total_pending", pending, c.TotalPending)
		a.expect(DiscrepancyCounterpartyTotal, c.ID, "credit_balance", credit, c.CreditBalance)
	}
	return nil
}
