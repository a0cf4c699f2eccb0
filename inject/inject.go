// Package inject is a failure-injection harness for exercising the
// pipeline's recovery paths. Disabled by default; enabled through
// environment variables so production configuration files never carry
// injection settings.
package inject

import (
	"math/rand"
	"os"
	"strconv"
	"sync"

	"github.com/tidemark/conflux/errors"
)

// Failure types selectable through CONFLUX_INJECT_FAILURE_TYPE.
// Timeouts are additionally marked transient so retry classification
// sees them the way a real network timeout would look; injected errors
// are still fatal to the run because IsInjected is checked first.
const (
	FailureException      = "exception"
	FailureTimeout        = "timeout"
	FailureDataCorruption = "data_corruption"
	FailureOther          = "other"
)

// Injector decides, per processed record, whether to inject a failure.
// It triggers at most once per run: after firing it stays dormant until
// Reset, so a retried or resumed run can proceed past the failure point.
type Injector struct {
	mu          sync.Mutex
	enabled     bool
	failureRate float64
	failAfterN  int
	failureType string
	seen        int
	triggered   bool
	rng         *rand.Rand
}

// New returns a disabled injector.
func New() *Injector {
	return &Injector{failureType: FailureException, rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewWithOptions returns a configured injector. failAfterN takes
// precedence over failureRate when both are set.
func NewWithOptions(enabled bool, failureRate float64, failAfterN int, failureType string) *Injector {
	i := New()
	i.enabled = enabled
	i.failureRate = failureRate
	i.failAfterN = failAfterN
	if failureType != "" {
		i.failureType = failureType
	}
	return i
}

// FromEnv builds an injector from CONFLUX_INJECT_* environment
// variables:
//
//	CONFLUX_INJECT_ENABLED       "true" to arm the injector
//	CONFLUX_INJECT_FAILURE_RATE  probability per record, 0.0-1.0
//	CONFLUX_INJECT_FAIL_AFTER_N  fail deterministically on record N
//	CONFLUX_INJECT_FAILURE_TYPE  exception | timeout | data_corruption | other
func FromEnv() *Injector {
	enabled, _ := strconv.ParseBool(os.Getenv("CONFLUX_INJECT_ENABLED"))
	rate, _ := strconv.ParseFloat(os.Getenv("CONFLUX_INJECT_FAILURE_RATE"), 64)
	afterN, _ := strconv.Atoi(os.Getenv("CONFLUX_INJECT_FAIL_AFTER_N"))
	return NewWithOptions(enabled, rate, afterN, os.Getenv("CONFLUX_INJECT_FAILURE_TYPE"))
}

// CheckAndFail counts one processed record and returns an injected
// error if the trigger condition is met. Nil when disabled or already
// triggered.
func (i *Injector) CheckAndFail(operation string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.enabled || i.triggered {
		return nil
	}

	i.seen++

	fire := false
	if i.failAfterN > 0 {
		fire = i.seen >= i.failAfterN
	} else if i.failureRate > 0 {
		fire = i.rng.Float64() < i.failureRate
	}
	if !fire {
		return nil
	}

	i.triggered = true
	err := errors.Wrapf(errors.ErrInjected, "injected %s failure during %s after %d records",
		i.failureType, operation, i.seen)
	if i.failureType == FailureTimeout {
		return errors.Mark(err, errors.ErrTransient)
	}
	return err
}

// Enabled reports whether the injector is armed.
func (i *Injector) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}

// Triggered reports whether the injector has already fired.
func (i *Injector) Triggered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.triggered
}

// Seen returns how many records the injector has observed.
func (i *Injector) Seen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen
}

// Reset clears the trigger and the record count so the next run starts
// from a clean slate.
func (i *Injector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen = 0
	i.triggered = false
}

// Disable turns the injector off without clearing its counters.
func (i *Injector) Disable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = false
}
