package poll

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/monstercameron/htmlex-go/jobs"
)

// AsynqDriver backs a poll binding with a durable, Redis-queued tick
// chain: each fired task re-enqueues the next one with ProcessIn(interval)
// before it hands off to the bound call, so a tick survives a process
// restart the way an in-memory ticker never could. Each binding gets
// its own task type (derived from ID) registered on the shared mux, so
// one jobs.Runtime/worker serves every poll binding in the process.
type AsynqDriver struct {
	Runtime *jobs.Runtime
	ID      string
}

// NewAsynqDriver builds a driver scoped to one binding's unique id.
func NewAsynqDriver(rt *jobs.Runtime, id string) *AsynqDriver {
	return &AsynqDriver{Runtime: rt, ID: id}
}

func (d *AsynqDriver) taskType() string { return "htmlex:poll:" + d.ID }

// Start implements Driver. Unlike TickerDriver, the returned channel
// is never closed: each tick is handed off by an asynq worker
// goroutine outside this driver's control, so there is no single point
// that can safely close the channel without racing a concurrent send.
// Callers must select on ctx.Done() alongside reading from the channel
// to detect that polling has stopped.
func (d *AsynqDriver) Start(ctx context.Context, interval time.Duration) <-chan Tick {
	out := make(chan Tick)
	taskType := d.taskType()

	d.Runtime.Mux.HandleFunc(taskType, func(taskCtx context.Context, task *asynq.Task) error {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case out <- Tick{}:
		case <-ctx.Done():
			return nil
		}

		select {
		case <-ctx.Done():
		default:
			_ = d.Runtime.EnqueueIn(interval, taskType, nil)
		}
		return nil
	})

	if err := d.Runtime.EnqueueIn(interval, taskType, nil); err != nil {
		go func() {
			select {
			case out <- Tick{Err: err}:
			case <-ctx.Done():
			}
		}()
	}

	return out
}
