package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/metrics"
)

type stubAuditor struct {
	calls  atomic.Int32
	report *ledger.AuditReport
	err    error
}

func (s *stubAuditor) Audit(context.Context) (*ledger.AuditReport, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func driftReport() *ledger.AuditReport {
	return &ledger.AuditReport{Discrepancies: []ledger.Discrepancy{{
		Kind:     ledger.DiscrepancyStockReplay,
		EntityID: "v-1",
		Field:    "current_stock",
		Expected: decimal.NewFromInt(10),
		Actual:   decimal.NewFromInt(12),
	}}}
}

func TestAuditScheduler_RunNowFeedsMetrics(t *testing.T) {
	// GIVEN: A scheduler wired to a collector
	auditor := &stubAuditor{report: driftReport()}
	collector := metrics.New()
	s := NewAuditScheduler(auditor, quietLogger(), time.Hour)
	s.OnReport = collector.ObserveAudit

	// WHEN: Running one audit
	report := s.RunNow()

	// THEN: The discrepancy count is published
	require.NotNil(t, report)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.AuditDiscrepancies))
}

func TestAuditScheduler_FailedAuditSkipsReport(t *testing.T) {
	auditor := &stubAuditor{err: errors.New("database is gone")}
	s := NewAuditScheduler(auditor, quietLogger(), time.Hour)
	s.OnReport = func(*ledger.AuditReport) { t.Fatal("OnReport called for a failed audit") }

	assert.Nil(t, s.RunNow())
	assert.Equal(t, int32(1), auditor.calls.Load())
}

func TestAuditScheduler_DisabledWithZeroInterval(t *testing.T) {
	auditor := &stubAuditor{report: &ledger.AuditReport{}}
	s := NewAuditScheduler(auditor, quietLogger(), 0)

	s.Start()
	s.Stop()

	assert.Equal(t, int32(0), auditor.calls.Load())
}

func TestAuditScheduler_StartRunsImmediately(t *testing.T) {
	// GIVEN: A long interval, so only the start-up run can happen
	auditor := &stubAuditor{report: &ledger.AuditReport{}}
	s := NewAuditScheduler(auditor, quietLogger(), time.Hour)

	// WHEN: Starting and stopping
	s.Start()
	require.Eventually(t, func() bool { return auditor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	// THEN: Stop is idempotent and nothing else ran
	s.Stop()
	assert.Equal(t, int32(1), auditor.calls.Load())
}

func TestAuditScheduler_TicksAgainstRealEngine(t *testing.T) {
	api := setupTestAPI(t)
	require.NoError(t, loadReceivables(context.Background(), api.handler.Engine))

	var clean atomic.Int32
	s := NewAuditScheduler(api.handler.Engine, quietLogger(), 10*time.Millisecond)
	s.OnReport = func(r *ledger.AuditReport) {
		if r.Clean() {
			clean.Add(1)
		}
	}

	s.Start()
	require.Eventually(t, func() bool { return clean.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}
