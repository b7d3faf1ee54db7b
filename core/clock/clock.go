// Package clock abstracts simulated time. Agents express every delay and
// deadline in simulated durations and let the clock map them to wall time.
package clock

import (
	"context"
	"time"
)

// Clock provides delayed and periodic invocation over simulated time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Scaled runs simulated time Speedup times faster than the wall clock.
type Scaled struct {
	start   time.Time
	speedup float64
}

// Real returns a clock where one simulated second is one wall second.
func Real() *Scaled { return NewScaled(1) }

// NewScaled returns a clock running speedup times faster than wall time.
// Values <= 0 are treated as 1.
func NewScaled(speedup float64) *Scaled {
	if speedup <= 0 {
		speedup = 1
	}
	return &Scaled{start: time.Now(), speedup: speedup}
}

// Wall converts a simulated duration to wall time.
func (c *Scaled) Wall(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) / c.speedup)
}

func (c *Scaled) Now() time.Time {
	elapsed := time.Since(c.start)
	return c.start.Add(time.Duration(float64(elapsed) * c.speedup))
}

func (c *Scaled) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	time.AfterFunc(c.Wall(d), func() { ch <- c.Now() })
	return ch
}

func (c *Scaled) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(c.Wall(d))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Every calls fn each interval until ctx is done.
func Every(ctx context.Context, c Clock, interval time.Duration, fn func(context.Context)) {
	for {
		if err := c.Sleep(ctx, interval); err != nil {
			return
		}
		fn(ctx)
	}
}
