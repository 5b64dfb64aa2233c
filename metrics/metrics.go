/*
Package metrics exposes engine, store and HTTP metrics to Prometheus.

Collector implements ledger.Observer, so the engine reports every
operation outcome and every stock movement without knowing about
Prometheus. The store reports transaction retries through
Collector.ObserveRetry, the audit scheduler reports drift through
Collector.ObserveAudit.

METRICS (namespace "ledger"):
  operations_total{op,kind}              kind is "ok" or an error kind
  operation_duration_seconds{op}
  stock_moved_kg_total{source,direction}
  tx_retries_total
  audit_discrepancies                    drift found by the last audit
  http_requests_total{method,route,status}
  http_request_duration_seconds{method,route}
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/ricemill/stock-ledger/ledger"
)

const Namespace = "ledger"

type Collector struct {
	registry *prometheus.Registry

	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	StockMovedTotal    *prometheus.CounterVec
	TxRetriesTotal     prometheus.Counter
	AuditDiscrepancies prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ ledger.Observer = (*Collector)(nil)

// New creates a collector on its own registry, including the standard Go
// and process collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collector{registry: registry}

	c.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Engine operations by outcome",
		},
		[]string{"op", "kind"},
	)
	c.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds, transaction included",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)
	c.StockMovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stock_moved_kg_total",
			Help:      "Kilograms moved through the stock ledger",
		},
		[]string{"source", "direction"},
	)
	c.TxRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions rerun after a deadlock or serialization failure",
		},
	)
	c.AuditDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "audit_discrepancies",
			Help:      "Discrepancies found by the most recent audit",
		},
	)
	c.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		c.OperationsTotal,
		c.OperationDuration,
		c.StockMovedTotal,
		c.TxRetriesTotal,
		c.AuditDiscrepancies,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
	)
	return c
}

// =============================================================================
// ENGINE AND STORE HOOKS
// =============================================================================

func (c *Collector) ObserveOperation(op string, kind ledger.Kind, elapsed time.Duration) {
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	c.OperationsTotal.WithLabelValues(op, label).Inc()
	c.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveAdjustment(source ledger.AdjustmentSource, delta decimal.Decimal) {
	direction := "in"
	if delta.IsNegative() {
		direction = "out"
	}
	kg, _ := delta.Abs().Float64()
	c.StockMovedTotal.WithLabelValues(string(source), direction).Add(kg)
}

// ObserveRetry matches sqlstore.Config.OnRetry.
func (c *Collector) ObserveRetry(error, time.Duration) {
	c.TxRetriesTotal.Inc()
}

func (c *Collector) ObserveAudit(report *ledger.AuditReport) {
	c.AuditDiscrepancies.Set(float64(len(report.Discrepancies)))
}

// =============================================================================
// HTTP
// =============================================================================

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and latencies by chi route pattern, so
// /api/invoices/{id} is one series however many invoices exist.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
