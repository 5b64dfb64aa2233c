package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/metrics"
)

func TestCollector_ObservesEngineOutcomes(t *testing.T) {
	c := metrics.New()

	c.ObserveOperation("create_invoice", "", 3*time.Millisecond)
	c.ObserveOperation("create_invoice", ledger.KindInsufficientStock, time.Millisecond)
	c.ObserveAdjustment(ledger.SourceSale, decimal.RequireFromString("-12.5"))
	c.ObserveAdjustment(ledger.SourceSale, decimal.RequireFromString("-2.5"))
	c.ObserveRetry(errors.New("deadlock"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("create_invoice", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("create_invoice", "insufficient_stock")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.StockMovedTotal.WithLabelValues("sale", "out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TxRetriesTotal))
}

func TestCollector_ObserveAudit(t *testing.T) {
	c := metrics.New()

	c.ObserveAudit(&ledger.AuditReport{Discrepancies: make([]ledger.Discrepancy, 2)})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.AuditDiscrepancies))
}

func TestCollector_MiddlewareUsesRoutePattern(t *testing.T) {
	// GIVEN: A chi router instrumented by the collector
	c := metrics.New()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	// WHEN: Two different invoices are requested
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices/"+id, nil))
	}

	// THEN: They share one series, visible on /metrics
	assert.Equal(t, 2.0, testutil.ToFloat64(c.HTTPRequestsTotal.WithLabelValues("GET", "/api/invoices/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ledger_http_requests_total{method="GET",route="/api/invoices/{id}",status="404"} 2`)
}
