package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/store/sqlstore"
)

// concurrentStores are the stores that accept parallel writers. The
// ":memory:" SQLite case is left out: it has a single connection by
// construction, so a file database is used instead.
var concurrentStores = []storeCase{
	storeCases[0],
	{"sqlite-file", func(t *testing.T) ledger.Store {
		st, err := sqlstore.Open(context.Background(), sqlstore.Config{
			DSN:    filepath.Join(t.TempDir(), "mill.db"),
			Logger: quietLogger(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}},
}

// race starts n goroutines at once and counts how their calls end.
func race(t *testing.T, n int, call func() error, refused error) (ok, denied int32) {
	t.Helper()
	var wg sync.WaitGroup
	var okN, deniedN atomic.Int32
	unexpected := make(chan error, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := call()
			switch {
			case err == nil:
				okN.Add(1)
			case errors.Is(err, refused):
				deniedN.Add(1)
			default:
				unexpected <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(unexpected)

	for err := range unexpected {
		t.Errorf("unexpected error: %v", err)
	}
	return okN.Load(), deniedN.Load()
}

func TestCreateInvoice_ConcurrentSalesNeverOversell(t *testing.T) {
	// GIVEN: 10 kg in stock and 20 buyers each wanting 1 kg
	// WHEN: All sales run at the same time
	// THEN: Exactly 10 succeed, the rest see insufficient stock, nothing drifts

	const attempts, stock = 20, 10

	for _, sc := range concurrentStores {
		t.Run(sc.name, func(t *testing.T) {
			ctx := context.Background()
			e := ledger.NewEngine(sc.open(t), ledger.Options{Logger: quietLogger(), Clock: stepClock()})
			rice := registerVariety(t, e, "Nadu Rice", ledger.CategorySelling, "10")
			buyer, err := e.RegisterCounterparty(ctx, ledger.RegisterCounterpartyInput{
				Role: ledger.RoleBuyer, Name: "Perera Stores", Phone: "0771234567",
			})
			require.NoError(t, err)

			sold, refused := race(t, attempts, func() error {
				_, err := e.CreateInvoice(ctx, ledger.CreateInvoiceInput{
					Kind:         ledger.InvoiceSale,
					Counterparty: ledger.CounterpartyRef{ID: buyer.ID},
					VarietyID:    rice.ID,
					Quantity:     dec("1"),
					UnitPrice:    dec("180"),
					Actor:        actor,
				})
				return err
			}, ledger.ErrInsufficientStock)

			assert.EqualValues(t, stock, sold)
			assert.EqualValues(t, attempts-stock, refused)
			assertDec(t, "0", currentStock(t, e, rice.ID))

			invoices, err := e.ListInvoices(ctx, ledger.InvoiceFilter{Kind: ledger.InvoiceSale})
			require.NoError(t, err)
			assert.Len(t, invoices, stock)
			requireCleanAudit(t, e)
		})
	}
}

func TestRecordInvoicePayment_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	// GIVEN: An invoice with 100 pending
	// WHEN: 15 payments of 10 arrive at once
	// THEN: Exactly 10 are accepted and the invoice ends fully paid

	for _, sc := range concurrentStores {
		t.Run(sc.name, func(t *testing.T) {
			ctx := context.Background()
			e := ledger.NewEngine(sc.open(t), ledger.Options{Logger: quietLogger(), Clock: stepClock()})
			rice := registerVariety(t, e, "Nadu Rice", ledger.CategorySelling, "10")
			inv := sale(t, e, rice.ID, "0771234567", "1", "100", "0", day(1)).Invoice

			paid, refused := race(t, 15, func() error {
				_, err := e.RecordInvoicePayment(ctx, ledger.RecordInvoicePaymentInput{
					InvoiceID: inv.ID,
					Amount:    dec("10"),
					Actor:     actor,
				})
				return err
			}, ledger.ErrValidation)

			assert.EqualValues(t, 10, paid)
			assert.EqualValues(t, 5, refused)

			got, err := e.GetInvoice(ctx, inv.ID)
			require.NoError(t, err)
			assertDec(t, "100", got.Paid)
			assertDec(t, "0", got.Pending)
			requireCleanAudit(t, e)
		})
	}
}
