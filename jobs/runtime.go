// Package jobs wraps github.com/hibiken/asynq into the small client/
// server/mux trio the poll package's AsynqDriver needs for durable,
// Redis-backed poll scheduling. It carries no domain knowledge of its
// own — task types and payloads are the caller's concern — the same
// separation the teacher's jobs.Runtime drew between queue plumbing
// and the specific job handlers registered on top of it.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/monstercameron/htmlex-go/logging"
)

// Runtime encapsulates the Asynq client, server and mux. A Runtime
// created with an empty redisURL is a no-op: Enqueue logs and returns
// nil instead of erroring, so the demo server and tests can run
// without a Redis instance available.
type Runtime struct {
	Client *asynq.Client
	Server *asynq.Server
	Mux    *asynq.ServeMux
	log    *logging.Logger
}

// NewRuntime creates a Runtime. redisURL empty yields a no-op runtime.
func NewRuntime(redisURL string) (*Runtime, error) {
	log := logging.System()
	if redisURL == "" {
		return &Runtime{Mux: asynq.NewServeMux(), log: log}, nil
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("jobs: invalid redis URL: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"poll":    6,
			"default": 3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Errorf("task %s failed: %v", task.Type(), err)
		}),
		Logger: &zapAdapter{log: log},
	})

	return &Runtime{
		Client: client,
		Server: server,
		Mux:    asynq.NewServeMux(),
		log:    log,
	}, nil
}

// Start begins processing registered handlers. A no-op runtime returns
// nil immediately without starting a worker goroutine.
func (r *Runtime) Start() error {
	if r.Server == nil {
		r.log.Infof("no redis configured, skipping job worker")
		return nil
	}
	return r.Server.Start(r.Mux)
}

// Stop shuts the worker and client down. Safe on a no-op runtime.
func (r *Runtime) Stop() error {
	if r.Server == nil {
		return nil
	}
	r.Server.Shutdown()
	return r.Client.Close()
}

// Enqueue marshals payload as JSON and submits it as taskType.
func (r *Runtime) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	if r.Client == nil {
		r.log.Debugf("no-op enqueue of %s (redis not configured)", taskType)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data, opts...)
	info, err := r.Client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", taskType, err)
	}
	r.log.Debugf("enqueued %s (id=%s queue=%s)", taskType, info.ID, info.Queue)
	return nil
}

// EnqueueIn schedules taskType to run after delay.
func (r *Runtime) EnqueueIn(delay time.Duration, taskType string, payload interface{}) error {
	return r.Enqueue(taskType, payload, asynq.ProcessIn(delay), asynq.Queue("poll"))
}

// zapAdapter satisfies asynq's minimal Logger interface on top of the
// engine's own leveled logger, so worker diagnostics flow through the
// same sinks as everything else instead of asynq's default stdlib log.
type zapAdapter struct{ log *logging.Logger }

func (a *zapAdapter) Debug(args ...interface{}) { a.log.Debugf("%v", args) }
func (a *zapAdapter) Info(args ...interface{})  { a.log.Infof("%v", args) }
func (a *zapAdapter) Warn(args ...interface{})  { a.log.Warnf("%v", args) }
func (a *zapAdapter) Error(args ...interface{}) { a.log.Errorf("%v", args) }
func (a *zapAdapter) Fatal(args ...interface{}) { a.log.Errorf("FATAL: %v", args) }
