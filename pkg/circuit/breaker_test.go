package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestBreaker(t *testing.T) *Breaker {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return New(Config{
		Name:             "nlprp-remote",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}, logger)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := newTestBreaker(t)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected state closed, got %v", b.State())
	}
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := newTestBreaker(t)
	testErr := errors.New("remote unavailable")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return testErr })
	}

	if b.State() != StateOpen {
		t.Fatalf("expected state open after 3 failures, got %v", b.State())
	}

	err := b.Execute(func() error {
		t.Fatal("fn must not run while breaker is open")
		return nil
	})
	if err == nil {
		t.Fatal("expected error while breaker is open")
	}
}

func TestBreakerHalfOpenRecoversToClose(t *testing.T) {
	b := newTestBreaker(t)
	testErr := errors.New("remote unavailable")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: expected success, got %v", i, err)
		}
	}

	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probes, got %v", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := newTestBreaker(t)
	testErr := errors.New("remote unavailable")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	time.Sleep(60 * time.Millisecond)

	_ = b.Execute(func() error { return testErr })

	if b.State() != StateOpen {
		t.Fatalf("expected reopened state, got %v", b.State())
	}
}

func TestBreakerResetClearsState(t *testing.T) {
	b := newTestBreaker(t)
	testErr := errors.New("remote unavailable")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	b.Reset()

	stats := b.Stats()
	if stats.State != StateClosed || stats.Failures != 0 {
		t.Fatalf("expected reset stats, got %+v", stats)
	}
}
