package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type RegisterVarietyInput struct {
	Name          string
	Category      VarietyCategory
	MinStockLevel decimal.Decimal
	OpeningStock  decimal.Decimal
	Actor         string
}

type AdjustStockInput struct {
	VarietyID string
	Delta     decimal.Decimal
	Notes     string
	Actor     string
}

func validateLevel(what string, d decimal.Decimal) error {
	if d.IsNegative() {
		return validationf("%s cannot be negative", what)
	}
	if !hasScale(d, QuantityScale) {
		return validationf("%s allows at most %d decimal places", what, QuantityScale)
	}
	return nil
}

// Register creates a variety with zero stock and, when an opening stock is
// given, books it as the first adjustment so replay starts from zero.
func (l *StockLedger) Register(ctx context.Context, tx Tx, in RegisterVarietyInput) (*Variety, *StockAdjustment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, validationf("variety name is required")
	}
	if !in.Category.Valid() {
		return nil, nil, validationf("unknown variety category %q", in.Category)
	}
	if in.Actor == "" {
		return nil, nil, validationf("actor is required")
	}
	if err := validateLevel("minimum stock level", in.MinStockLevel); err != nil {
		return nil, nil, err
	}
	if err := validateLevel("opening stock", in.OpeningStock); err != nil {
		return nil, nil, err
	}

	existing, err := tx.FindVarietyByName(ctx, NameKey(name))
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, validationf("variety %q already exists", existing.Name)
	}

	v := Variety{
		ID:            l.NewID(),
		Name:          name,
		Category:      in.Category,
		CurrentStock:  decimal.Zero,
		MinStockLevel: in.MinStockLevel,
		CreatedBy:     in.Actor,
		CreatedAt:     l.Now(),
	}
	if err := tx.InsertVariety(ctx, v); err != nil {
		return nil, nil, err
	}
	if in.OpeningStock.IsZero() {
		return &v, nil, nil
	}

	adj, err := l.Apply(ctx, tx, Movement{
		VarietyID: v.ID,
		Delta:     in.OpeningStock,
		Reason:    "Opening stock",
		Source:    SourceOpening,
		Actor:     in.Actor,
	})
	if err != nil {
		return nil, nil, err
	}
	v.CurrentStock = adj.NewStock
	return &v, adj, nil
}

// Adjust books a manual correction.
func (l *StockLedger) Adjust(ctx context.Context, tx Tx, in AdjustStockInput) (*StockAdjustment, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	reason := strings.TrimSpace(in.Notes)
	if reason == "" {
		reason = "Manual adjustment"
	}
	return l.Apply(ctx, tx, Movement{
		VarietyID: in.VarietyID,
		Delta:     in.Delta,
		Reason:    reason,
		Source:    SourceManual,
		Actor:     in.Actor,
	})
}

// SetMinStockLevel changes the low-stock threshold. Stock itself is untouched.
func (l *StockLedger) SetMinStockLevel(ctx context.Context, tx Tx, id string, level decimal.Decimal) (*Variety, error) {
	if err := validateLevel("minimum stock level", level); err != nil {
		return nil, err
	}
	v, err := tx.GetVariety(ctx, id, ForUpdate)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("variety", id)
	}
	if err := tx.UpdateMinStockLevel(ctx, v.ID, level); err != nil {
		return nil, err
	}
	v.MinStockLevel = level
	return v, nil
}
