package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
)

func cashCategory(t *testing.T, e *ledger.Engine, direction ledger.CashDirection, name string) ledger.CashCategory {
	t.Helper()
	c, err := e.RegisterCashCategory(context.Background(), ledger.RegisterCashCategoryInput{
		Direction: direction,
		Name:      name,
		Actor:     actor,
	})
	require.NoError(t, err)
	return *c
}

func cashEntry(t *testing.T, e *ledger.Engine, categoryID, amount string, d int) ledger.CashEntry {
	t.Helper()
	entry, err := e.RecordCashEntry(context.Background(), ledger.CashEntryInput{
		CategoryID: categoryID,
		Amount:     dec(amount),
		Date:       day(d),
		Actor:      actor,
	})
	require.NoError(t, err)
	return *entry
}

func TestCashbook_RecordAndList(t *testing.T) {
	// GIVEN: Income and expense categories with entries across the month
	// WHEN: Listing with direction, category and date filters
	// THEN: Only live matching entries come back, newest first

	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		ctx := context.Background()
		bran := cashCategory(t, e, ledger.CashIncome, "Bran Sales")
		wages := cashCategory(t, e, ledger.CashExpense, "Wages")
		power := cashCategory(t, e, ledger.CashExpense, "Electricity")

		first := cashEntry(t, e, bran.ID, "1200.50", 2)
		assert.Equal(t, ledger.CashIncome, first.Direction)
		assert.Equal(t, ledger.StatusActive, first.Status)
		cashEntry(t, e, wages.ID, "8000", 5)
		cashEntry(t, e, power.ID, "2350.75", 10)
		cashEntry(t, e, wages.ID, "8000", 20)

		all, err := e.ListCashEntries(ctx, ledger.CashEntryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.True(t, day(20).Equal(all[0].Date))
		assert.Equal(t, first.ID, all[3].ID)

		expenses, err := e.ListCashEntries(ctx, ledger.CashEntryFilter{Direction: ledger.CashExpense})
		require.NoError(t, err)
		assert.Len(t, expenses, 3)

		wageRows, err := e.ListCashEntries(ctx, ledger.CashEntryFilter{CategoryID: wages.ID})
		require.NoError(t, err)
		assert.Len(t, wageRows, 2)

		window, err := e.ListCashEntries(ctx, ledger.CashEntryFilter{From: day(5), To: day(10)})
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, power.ID, window[0].CategoryID)
		assert.Equal(t, wages.ID, window[1].CategoryID)

		cats, err := e.ListCashCategories(ctx, ledger.CashExpense)
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "Electricity", cats[0].Name)
	})
}

func TestCashbook_EntriesLeaveStockAndBalancesAlone(t *testing.T) {
	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		rice := registerVariety(t, e, "Nadu Rice", ledger.CategorySelling, "50")
		husk := cashCategory(t, e, ledger.CashIncome, "Husk Sales")
		cashEntry(t, e, husk.ID, "300", 3)

		assertDec(t, "50", currentStock(t, e, rice.ID))
		requireCleanAudit(t, e)
	})
}

func TestCashbook_UpdateReplacesFields(t *testing.T) {
	// GIVEN: An expense booked under Wages
	// WHEN: It is moved to Electricity with a new amount
	// THEN: The entry changes in place and records who edited it

	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		ctx := context.Background()
		wages := cashCategory(t, e, ledger.CashExpense, "Wages")
		power := cashCategory(t, e, ledger.CashExpense, "Electricity")
		entry := cashEntry(t, e, wages.ID, "8000", 5)

		updated, err := e.UpdateCashEntry(ctx, entry.ID, ledger.CashEntryInput{
			CategoryID:  power.ID,
			Amount:      dec("2100.25"),
			Description: "  March bill  ",
			Actor:       "user-2",
		})
		require.NoError(t, err)
		assert.Equal(t, power.ID, updated.CategoryID)
		assertDec(t, "2100.25", updated.Amount)
		assert.Equal(t, "March bill", updated.Description)
		assert.True(t, day(5).Equal(updated.Date), "zero date keeps the original")
		assert.Equal(t, "user-2", updated.UpdatedBy)
		require.NotNil(t, updated.UpdatedAt)

		got, err := e.GetCashEntry(ctx, entry.ID)
		require.NoError(t, err)
		assertDec(t, "2100.25", got.Amount)
		assert.Equal(t, power.ID, got.CategoryID)
		assert.Equal(t, actor, got.CreatedBy)
	})
}

func TestCashbook_UpdateCannotSwitchDirection(t *testing.T) {
	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		wages := cashCategory(t, e, ledger.CashExpense, "Wages")
		bran := cashCategory(t, e, ledger.CashIncome, "Bran Sales")
		entry := cashEntry(t, e, wages.ID, "8000", 5)

		_, err := e.UpdateCashEntry(context.Background(), entry.ID, ledger.CashEntryInput{
			CategoryID: bran.ID,
			Amount:     dec("8000"),
			Actor:      actor,
		})
		require.Error(t, err)
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})
}

func TestCashbook_DeleteIsSoft(t *testing.T) {
	// GIVEN: A recorded income entry
	// WHEN: It is deleted
	// THEN: It disappears from reads and can no longer be changed

	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		ctx := context.Background()
		bran := cashCategory(t, e, ledger.CashIncome, "Bran Sales")
		keep := cashEntry(t, e, bran.ID, "500", 1)
		gone := cashEntry(t, e, bran.ID, "700", 2)

		deleted, err := e.DeleteCashEntry(ctx, gone.ID, "user-2")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusDeleted, deleted.Status)
		assert.Equal(t, "user-2", deleted.DeletedBy)
		require.NotNil(t, deleted.DeletedAt)

		_, err = e.GetCashEntry(ctx, gone.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = e.UpdateCashEntry(ctx, gone.ID, ledger.CashEntryInput{CategoryID: bran.ID, Amount: dec("1"), Actor: actor})
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = e.DeleteCashEntry(ctx, gone.ID, actor)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		live, err := e.ListCashEntries(ctx, ledger.CashEntryFilter{})
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, keep.ID, live[0].ID)
	})
}

func TestCashbook_Validation(t *testing.T) {
	eachStore(t, ledger.Options{}, func(t *testing.T, e *ledger.Engine) {
		ctx := context.Background()
		wages := cashCategory(t, e, ledger.CashExpense, "Wages")

		tests := []struct {
			name     string
			in       ledger.CashEntryInput
			wantKind ledger.Kind
		}{
			{"zero amount", ledger.CashEntryInput{CategoryID: wages.ID, Amount: dec("0"), Actor: actor}, ledger.KindValidation},
			{"negative amount", ledger.CashEntryInput{CategoryID: wages.ID, Amount: dec("-5"), Actor: actor}, ledger.KindValidation},
			{"sub-cent amount", ledger.CashEntryInput{CategoryID: wages.ID, Amount: dec("1.005"), Actor: actor}, ledger.KindValidation},
			{"missing category", ledger.CashEntryInput{Amount: dec("10"), Actor: actor}, ledger.KindValidation},
			{"missing actor", ledger.CashEntryInput{CategoryID: wages.ID, Amount: dec("10")}, ledger.KindValidation},
			{"unknown category", ledger.CashEntryInput{CategoryID: "nope", Amount: dec("10"), Actor: actor}, ledger.KindNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.RecordCashEntry(ctx, tt.in)
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, ledger.KindOf(err))
			})
		}

		// Category names are unique per direction, case-insensitively.
		_, err := e.RegisterCashCategory(ctx, ledger.RegisterCashCategoryInput{Direction: ledger.CashExpense, Name: "wages", Actor: actor})
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
		_, err = e.RegisterCashCategory(ctx, ledger.RegisterCashCategoryInput{Direction: ledger.CashIncome, Name: "Wages", Actor: actor})
		assert.NoError(t, err)

		_, err = e.RegisterCashCategory(ctx, ledger.RegisterCashCategoryInput{Direction: "refund", Name: "Other", Actor: actor})
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))

		_, err = e.ListCashEntries(ctx, ledger.CashEntryFilter{From: day(10), To: day(5)})
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})
}
