package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRecordsReadIncrementsByN(t *testing.T) {
	RecordRecordsRead("crp_def", "notes", 3)

	got := testutil.ToFloat64(RecordsRead.WithLabelValues("crp_def", "notes"))
	if got < 3 {
		t.Fatalf("expected RecordsRead >= 3, got %v", got)
	}
}

func TestRecordCommitFlushLabelsByTrigger(t *testing.T) {
	RecordCommitFlush("crp_validator", "rows")

	got := testutil.ToFloat64(CommitFlushes.WithLabelValues("crp_validator", "rows"))
	if got < 1 {
		t.Fatalf("expected at least one rows-triggered flush, got %v", got)
	}
}

func TestSetCircuitBreakerStateRecordsLastValue(t *testing.T) {
	SetCircuitBreakerState("crp_validator", 1)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("crp_validator")); got != 1 {
		t.Fatalf("expected state 1, got %v", got)
	}

	SetCircuitBreakerState("crp_validator", 0)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("crp_validator")); got != 0 {
		t.Fatalf("expected state reset to 0, got %v", got)
	}
}

func TestCPUSamplerStartStopDoesNotBlock(t *testing.T) {
	s := NewCPUSampler(5 * time.Millisecond)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
