// Package poll implements the engine's poll worker (§4.L Poll): a
// pluggable Driver behind a single interface so a binding's repeating
// call can be backed by an in-memory ticker (the default), a
// cron-expression schedule, or a durable Asynq queue when the demo
// deployment has Redis available — mirroring the way the teacher's
// jobs.Runtime offered a no-op client/server pair when Redis was
// absent and a real one otherwise.
package poll

import (
	"context"
	"time"
)

// MinInterval is the floor the registration/dispatcher layer enforces
// on the poll attribute; a Driver is not expected to double-check it.
const MinInterval = 100 * time.Millisecond

// Tick is delivered once per poll firing. Err is set if the underlying
// driver itself failed to schedule the tick (e.g. an Asynq enqueue
// error); it is not the result of the bound call, which the dispatcher
// runs itself in response to each Tick.
type Tick struct {
	Err error
}

// Driver starts and stops a repeating tick stream for one binding.
type Driver interface {
	// Start begins delivering ticks on the returned channel at the
	// driver's own cadence, until ctx is canceled. TickerDriver and
	// CronDriver close the channel when they stop; AsynqDriver never
	// closes it.
	Start(ctx context.Context, interval time.Duration) <-chan Tick
}

// TickerDriver is the default in-memory poll backend: one
// time.Ticker per Start call, re-entrancy left to the caller (the
// dispatcher skips a tick if the previous call is still in flight by
// not reading the next tick until it has finished handling the last).
type TickerDriver struct{}

// NewTickerDriver constructs the default driver.
func NewTickerDriver() *TickerDriver { return &TickerDriver{} }

// Start implements Driver.
func (d *TickerDriver) Start(ctx context.Context, interval time.Duration) <-chan Tick {
	out := make(chan Tick)
	go func() {
		defer close(out)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case out <- Tick{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
