package poll

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// CronDriver backs a poll binding with a cron expression instead of a
// fixed interval, for bindings whose server-side counterpart expects
// ticks aligned to wall-clock boundaries (e.g. "every hour on the
// hour") rather than a fixed period since registration.
type CronDriver struct {
	Expr string
}

// NewCronDriver builds a driver that fires according to expr (standard
// five-field cron syntax).
func NewCronDriver(expr string) *CronDriver {
	return &CronDriver{Expr: expr}
}

// Start implements Driver. interval is ignored; CronDriver's cadence
// comes entirely from Expr. A malformed expression yields a closed,
// empty channel rather than a panic, since Start has no error return.
func (d *CronDriver) Start(ctx context.Context, interval time.Duration) <-chan Tick {
	out := make(chan Tick)

	schedule, err := cron.ParseStandard(d.Expr)
	if err != nil {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		now := time.Now()
		next := schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case fired := <-timer.C:
				select {
				case out <- Tick{}:
				case <-ctx.Done():
					return
				}
				next = schedule.Next(fired)
				timer.Reset(time.Until(next))
			}
		}
	}()
	return out
}
