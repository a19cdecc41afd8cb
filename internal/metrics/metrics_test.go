package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransfer("success", 100)
	m.ObserveDepositInit("ok")
	m.ObserveDepositCredit(100)
	m.ObserveWebhook("charge.success", "credited")
	m.ObserveIdempotency("replayed")
	m.ObserveCleanup(1, nil)
	m.ObserveSweep("abandoned")
	m.ObserveAuthFailure("missing")
}

func TestObserveTransferAndCleanup(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTransfer("success", 250)
	m.ObserveTransfer("success", 50)
	m.ObserveTransfer("insufficient_balance", 1000)

	if got := testutil.ToFloat64(m.transfersTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful transfers, got %v", got)
	}
	if got := testutil.ToFloat64(m.transferredMinorTotal); got != 300 {
		t.Fatalf("expected 300 minor units moved, got %v", got)
	}

	m.ObserveCleanup(7, nil)
	m.ObserveCleanup(0, errors.New("db down"))
	if got := testutil.ToFloat64(m.cleanupDeletedTotal); got != 7 {
		t.Fatalf("expected 7 deleted, got %v", got)
	}
	if got := testutil.ToFloat64(m.cleanupRunsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
}
