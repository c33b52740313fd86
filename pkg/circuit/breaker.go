// Package circuit implements the breaker that guards RemoteExtractor's
// NLPRP HTTP calls (and may be reused anywhere a remote dependency needs
// to be shed load during an outage) from hammering a server that is
// already failing.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls trip/recovery thresholds for a Breaker.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// Stats is a point-in-time snapshot of a Breaker's counters.
type Stats struct {
	State         State
	Failures      int64
	Successes     int64
	Requests      int64
	LastFailure   time.Time
	LastSuccess   time.Time
	NextRetryTime time.Time
}

// Breaker protects a remote call path. NLPRP requests against a failing
// server are tripped open after FailureThreshold consecutive failures
// and admitted again, a few at a time, once Timeout elapses.
type Breaker struct {
	config Config
	logger *logrus.Logger

	state         State
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time

	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStartTime time.Time

	onStateChange func(from, to State)

	mu sync.RWMutex
}

// New builds a Breaker, starting closed, with sane defaults applied to
// any unset threshold.
func New(config Config, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}

	return &Breaker{
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs fn under the breaker's protection. The call is split into
// three phases so the lock is never held while fn runs: admission check,
// unlocked execution, then result bookkeeping.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailureLocked(err)
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++

	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			return fmt.Errorf("circuit breaker %s is open, retry after %s", b.config.Name, b.nextRetryTime.Format(time.RFC3339))
		}
		b.setStateLocked(StateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
	}

	if b.state == StateHalfOpen {
		if time.Since(b.halfOpenStartTime) > b.config.Timeout*2 {
			b.tripLocked()
			return fmt.Errorf("circuit breaker %s half-open probe timed out, reopened", b.config.Name)
		}
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return fmt.Errorf("circuit breaker %s half-open, probe limit reached", b.config.Name)
		}
		b.halfOpenCalls++
	}

	return nil
}

func (b *Breaker) onFailureLocked(err error) {
	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.tripLocked()
		return
	}
	if b.state == StateClosed && b.failures >= int64(b.config.FailureThreshold) {
		b.tripLocked()
	}
}

func (b *Breaker) onSuccessLocked() {
	b.successes++
	b.lastSuccess = time.Now()

	switch b.state {
	case StateHalfOpen:
		if b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setStateLocked(StateClosed)
			b.resetCountersLocked()
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) tripLocked() {
	if b.state == StateOpen {
		return
	}
	b.setStateLocked(StateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)

	b.logger.WithFields(logrus.Fields{
		"breaker":         b.config.Name,
		"failures":        b.failures,
		"next_retry_time": b.nextRetryTime,
	}).Warn("circuit breaker opened")
}

func (b *Breaker) resetCountersLocked() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}
}

func (b *Breaker) setStateLocked(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}

	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": oldState,
		"new_state": newState,
	}).Info("circuit breaker state changed")
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen reports whether the breaker is currently refusing calls outright.
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateOpen
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setStateLocked(StateClosed)
	b.resetCountersLocked()
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}

// SetStateChangeCallback registers a hook invoked on every state transition.
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}
