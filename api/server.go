/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address from proxy headers
  3. Logger:     One logrus entry per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters, by route pattern
  6. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /healthz               Liveness and store ping
  /metrics               Prometheus exposition
  /api/varieties/*       Stock ledger
  /api/counterparties/*  Suppliers, buyers, FIFO payments
  /api/invoices/*        Purchases and sales
  /api/processes/*       Boiling and milling
  /api/audit             Consistency audit
  /api/scenarios/*       Demo scenarios (dev only)

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header is trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics instruments every request and serves /metrics when set.
	Metrics MetricsProvider
}

// MetricsProvider is implemented by metrics.Collector.
type MetricsProvider interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/varieties", func(r chi.Router) {
			r.Get("/", h.ListVarieties)
			r.Post("/", h.RegisterVariety)
			r.Get("/low-stock", h.LowStock)
			r.Get("/{id}", h.GetVariety)
			r.Put("/{id}/min-stock", h.SetMinStock)
			r.Get("/{id}/adjustments", h.ListAdjustments)
			r.Post("/{id}/adjustments", h.AdjustStock)
		})

		r.Route("/counterparties", func(r chi.Router) {
			r.Get("/", h.ListCounterparties)
			r.Post("/", h.RegisterCounterparty)
			r.Get("/{id}", h.GetStatement)
			r.Post("/{id}/payments", h.AllocatePayment)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/payments", h.RecordInvoicePayment)
		})

		r.Route("/processes", func(r chi.Router) {
			r.Get("/", h.ListProcesses)
			r.Post("/", h.CreateProcess)
			r.Get("/{id}", h.GetProcess)
			r.Delete("/{id}", h.CancelProcess)
			r.Post("/{id}/complete", h.CompleteProcess)
			r.Post("/{id}/cancel", h.CancelProcess)
			r.Put("/{id}/missing-quantities", h.ReconcileMissing)
		})

		r.Route("/cash", func(r chi.Router) {
			r.Get("/categories", h.ListCashCategories)
			r.Post("/categories", h.RegisterCashCategory)
			r.Get("/entries", h.ListCashEntries)
			r.Post("/entries", h.RecordCashEntry)
			r.Get("/entries/{id}", h.GetCashEntry)
			r.Put("/entries/{id}", h.UpdateCashEntry)
			r.Delete("/entries/{id}", h.DeleteCashEntry)
		})

		r.Get("/audit", h.Audit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one entry per request after it completes.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"remote_addr": r.RemoteAddr,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request served with server error")
				return
			}
			entry.Debug("request served")
		})
	}
}
