package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Stepper is the part of a Simulation a Clock drives.
type Stepper interface {
	Step() bool
	Finished() bool
}

// Clock advances a simulation one day per interval, like a user pressing
// Step at a steady pace. It is an external trigger: the simulation itself
// never schedules work.
type Clock struct {
	Interval time.Duration // Base interval between days (default 1 second)

	// BeforeStep, if set, runs before each paced step, e.g. to apply live
	// conditions through the simulation's manual overrides.
	BeforeStep func(ctx context.Context)

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = one day per Interval, 0 = paused
	running bool
	sim     Stepper
}

// NewClock creates a clock for sim with default settings.
func NewClock(sim Stepper) *Clock {
	return &Clock{
		Interval: time.Second,
		speed:    1.0,
		sim:      sim,
	}
}

// SetSpeed changes the pace. Zero or below pauses the clock.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Speed returns the current pace multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Running reports whether Run is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Run steps the simulation until ctx is cancelled or the last day is reached.
// Steps that find the simulation busy are simply dropped.
func (c *Clock) Run(ctx context.Context) {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	slog.Info("simulation clock started", "interval", c.Interval, "speed", c.Speed())

	for !c.sim.Finished() {
		wait := 100 * time.Millisecond
		if speed := c.Speed(); speed > 0 {
			start := time.Now()
			if c.BeforeStep != nil {
				c.BeforeStep(ctx)
			}
			c.sim.Step()

			// Sleep for the remainder of the interval, adjusted for speed.
			target := time.Duration(float64(c.Interval) / speed)
			wait = target - time.Since(start)
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				slog.Info("simulation clock stopped", "reason", ctx.Err())
				return
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return
		}
	}

	slog.Info("simulation clock stopped", "reason", "last day reached")
}
