/*
stock.go - Stock Ledger

PURPOSE:
  The only code path that changes Variety.CurrentStock. Each call reads the
  variety under lock, computes new = previous + delta, writes exactly one
  StockAdjustment and updates the variety, inside the caller's transaction.

INVARIANTS:
  - adjustment.NewStock == adjustment.PreviousStock + adjustment.Delta
  - variety.CurrentStock == opening + sum(adjustment.Delta)
  - One adjustment per call; never batched or coalesced

NEGATIVE STOCK:
  By default a reducing delta may take stock below zero (stock is sometimes
  dispatched before the matching purchase is weighed in). With Strict set, a
  reducing delta that would end below zero fails with InsufficientStock.
  Movements with RequireAvailable (sales) are always checked.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Movement describes one stock change.
type Movement struct {
	VarietyID        string
	Delta            decimal.Decimal
	Reason           string
	Source           AdjustmentSource
	ReferenceID      string
	Actor            string
	RequireAvailable bool
}

type StockLedger struct {
	Strict bool
	Now    func() time.Time
	NewID  func() string
}

// Apply records m against tx and returns the written adjustment.
func (l *StockLedger) Apply(ctx context.Context, tx Tx, m Movement) (*StockAdjustment, error) {
	if m.Delta.IsZero() {
		return nil, validationf("stock adjustment must be non-zero")
	}
	if !hasScale(m.Delta, QuantityScale) {
		return nil, validationf("stock adjustment allows at most %d decimal places", QuantityScale)
	}

	v, err := tx.GetVariety(ctx, m.VarietyID, ForUpdate)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("variety", m.VarietyID)
	}

	previous := v.CurrentStock
	next := previous.Add(m.Delta)

	if m.Delta.IsNegative() && next.IsNegative() && (l.Strict || m.RequireAvailable) {
		return nil, &InsufficientStockError{
			VarietyID: v.ID,
			Available: previous,
			Requested: m.Delta.Neg(),
		}
	}

	adj := StockAdjustment{
		ID:            l.NewID(),
		VarietyID:     v.ID,
		Delta:         m.Delta,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        m.Reason,
		Source:        m.Source,
		ReferenceID:   m.ReferenceID,
		Actor:         m.Actor,
		CreatedAt:     l.Now(),
	}
	if err := tx.InsertAdjustment(ctx, adj); err != nil {
		return nil, err
	}
	if err := tx.UpdateVarietyStock(ctx, v.ID, next); err != nil {
		return nil, err
	}
	return &adj, nil
}
