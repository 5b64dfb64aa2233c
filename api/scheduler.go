/*
scheduler.go - Periodic consistency audit

PURPOSE:
  Runs ledger.Engine.Audit on a fixed interval so drift between cached
  totals and their source rows is noticed without anyone calling
  GET /api/audit.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Audits once immediately on start, then on every tick
  - Logs each discrepancy at warn level
  - Hands every report to OnReport (the server feeds metrics.ObserveAudit)

CONFIGURATION:
  - Interval: How often to audit; 0 disables the scheduler

USAGE:
  scheduler := NewAuditScheduler(engine, log, time.Hour)
  scheduler.OnReport = collector.ObserveAudit
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Audit endpoint (manual audit)
  - ledger/audit.go: What is checked
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/logging"
)

// Auditor is the part of ledger.Engine the scheduler needs.
type Auditor interface {
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

// AuditScheduler runs the consistency audit periodically.
type AuditScheduler struct {
	Auditor  Auditor
	Log      logrus.FieldLogger
	Interval time.Duration
	// Timeout bounds a single audit run. Default one minute.
	Timeout  time.Duration
	OnReport func(*ledger.AuditReport)

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(auditor Auditor, log logrus.FieldLogger, interval time.Duration) *AuditScheduler {
	return &AuditScheduler{
		Auditor:  auditor,
		Log:      log,
		Interval: interval,
		Timeout:  time.Minute,
	}
}

// Start begins the scheduler. It is a no-op when Interval is not positive.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Log.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Log.WithField("interval", s.Interval.String()).Info("audit scheduler started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Log.Info("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one audit and returns its report, or nil when the audit
// itself failed.
func (s *AuditScheduler) RunNow() *ledger.AuditReport {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := s.Auditor.Audit(ctx)
	if err != nil {
		logging.LogError(s.Log, "api", "AuditScheduler.RunNow", "audit failed", nil, err)
		return nil
	}

	for _, d := range report.Discrepancies {
		s.Log.WithFields(logrus.Fields{
			"kind":      d.Kind,
			"entity_id": d.EntityID,
			"field":     d.Field,
			"expected":  d.Expected.String(),
			"actual":    d.Actual.String(),
		}).Warn("ledger discrepancy")
	}
	s.Log.WithFields(logrus.Fields{
		"varieties":      report.Varieties,
		"counterparties": report.Counterparties,
		"invoices":       report.Invoices,
		"discrepancies":  len(report.Discrepancies),
	}).Info("audit completed")

	if s.OnReport != nil {
		s.OnReport(report)
	}
	return report
}
