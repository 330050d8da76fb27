// Package utiltest provides test doubles for package util.
package utiltest

import (
	"sync"
	"time"

	"github.com/uhyunpark/darkpool-oracle/pkg/util"
)

// StepClock fires every After immediately and advances its own time by the
// requested duration. Waits are recorded so callers can assert pacing.
type StepClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func NewStepClock(start time.Time) *StepClock {
	return &StepClock{now: start}
}

func (c *StepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Waits returns the durations passed to After so far.
func (c *StepClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

var _ util.Clock = (*StepClock)(nil)
