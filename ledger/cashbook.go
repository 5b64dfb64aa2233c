/*
cashbook.go - Income and expense records

PURPOSE:
  Money that moves without an invoice: husk and bran sales, rent, wages,
  electricity. Entries never touch stock or counterparty totals.

RULES:
  - Every entry belongs to a category; its direction comes from the category
  - Amount > 0 with at most MoneyScale decimal places
  - Update replaces category, amount, description and date of a live entry;
    the category may change only within the same direction
  - Delete sets StatusDeleted. Deleted entries are not listed and can be
    neither updated nor deleted again (not found)
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Cashbook struct {
	Now   func() time.Time
	NewID func() string
}

type RegisterCashCategoryInput struct {
	Direction   CashDirection
	Name        string
	Description string
	Actor       string
}

// RegisterCategory creates an income or expense category.
func (c *Cashbook) RegisterCategory(ctx context.Context, tx Tx, in RegisterCashCategoryInput) (*CashCategory, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	if !in.Direction.Valid() {
		return nil, validationf("unknown cash direction %q", in.Direction)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationf("category name is required")
	}
	existing, err := tx.FindCashCategoryByName(ctx, in.Direction, NameKey(name))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, validationf("%s category %q already exists", in.Direction, name)
	}

	cat := CashCategory{
		ID:          c.NewID(),
		Direction:   in.Direction,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   in.Actor,
		CreatedAt:   c.Now(),
	}
	if err := tx.InsertCashCategory(ctx, cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// CashEntryInput is the editable part of an entry.
type CashEntryInput struct {
	CategoryID  string
	Amount      decimal.Decimal
	Description string
	Date        time.Time // zero = now on record, unchanged on update
	Actor       string
}

func (in CashEntryInput) validate() error {
	if in.Actor == "" {
		return validationf("actor is required")
	}
	if in.CategoryID == "" {
		return validationf("category id is required")
	}
	if !in.Amount.IsPositive() {
		return validationf("amount must be greater than zero")
	}
	if !hasScale(in.Amount, MoneyScale) {
		return validationf("amount allows at most %d decimal places", MoneyScale)
	}
	return nil
}

func (c *Cashbook) category(ctx context.Context, tx Tx, id string) (*CashCategory, error) {
	cat, err := tx.GetCashCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, notFound("cash category", id)
	}
	return cat, nil
}

// live loads a live entry for update.
func (c *Cashbook) live(ctx context.Context, tx Tx, id string) (*CashEntry, error) {
	entry, err := tx.GetCashEntry(ctx, id, ForUpdate)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.Status.IsLive() {
		return nil, notFound("cash entry", id)
	}
	return entry, nil
}

// Record books a new income or expense.
func (c *Cashbook) Record(ctx context.Context, tx Tx, in CashEntryInput) (*CashEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cat, err := c.category(ctx, tx, in.CategoryID)
	if err != nil {
		return nil, err
	}

	now := c.Now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	entry := CashEntry{
		ID:          c.NewID(),
		Direction:   cat.Direction,
		CategoryID:  cat.ID,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Date:        date.UTC(),
		Status:      StatusActive,
		CreatedBy:   in.Actor,
		CreatedAt:   now,
	}
	if err := tx.InsertCashEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Update replaces the editable fields of a live entry.
func (c *Cashbook) Update(ctx context.Context, tx Tx, id string, in CashEntryInput) (*CashEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	entry, err := c.live(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	cat, err := c.category(ctx, tx, in.CategoryID)
	if err != nil {
		return nil, err
	}
	if cat.Direction != entry.Direction {
		return nil, validationf("cannot move %s entry %s to %s category %q", entry.Direction, entry.ID, cat.Direction, cat.Name)
	}

	now := c.Now()
	entry.CategoryID = cat.ID
	entry.Amount = in.Amount
	entry.Description = strings.TrimSpace(in.Description)
	if !in.Date.IsZero() {
		entry.Date = in.Date.UTC()
	}
	entry.UpdatedBy = in.Actor
	entry.UpdatedAt = &now
	if err := tx.UpdateCashEntry(ctx, *entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete marks a live entry deleted.
func (c *Cashbook) Delete(ctx context.Context, tx Tx, id, actor string) (*CashEntry, error) {
	if actor == "" {
		return nil, validationf("actor is required")
	}
	entry, err := c.live(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	now := c.Now()
	entry.Status = StatusDeleted
	entry.DeletedBy = actor
	entry.DeletedAt = &now
	if err := tx.UpdateCashEntry(ctx, *entry); err != nil {
		return nil, err
	}
	return entry, nil
}
