// Package jobs runs fire-and-forget background work: post-ingest
// translation and embedding updates, and anything else whose failure
// must be logged and reported but never propagated to a request.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

const queueSize = 64

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Runner is a bounded worker pool with panic recovery. Failures go to
// the log and the error sink.
type Runner struct {
	ctx     context.Context
	queue   chan task
	wg      sync.WaitGroup
	log     *logrus.Entry
	started bool
}

func NewRunner(ctx context.Context, workers int, log *logrus.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	r := &Runner{
		ctx:   ctx,
		queue: make(chan task, queueSize),
		log:   log.WithField("component", "jobs"),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.started = true
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t, ok := <-r.queue:
			if !ok {
				return
			}
			r.run(t)
		}
	}
}

func (r *Runner) run(t task) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("background job %s panicked: %v", t.name, rec)
			r.log.WithError(err).Error("background job panic")
			sentry.CaptureException(err)
		}
	}()

	if err := t.fn(r.ctx); err != nil {
		r.log.WithError(err).WithField("job", t.name).Error("background job failed")
		sentry.CaptureException(fmt.Errorf("background job %s: %w", t.name, err))
	}
}

// Submit queues a background job. Drops the job with a warning when
// the queue is full or the runner is shutting down; background work is
// best-effort.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	select {
	case <-r.ctx.Done():
	case r.queue <- task{name: name, fn: fn}:
	default:
		r.log.WithField("job", name).Warn("background queue full, job dropped")
	}
}

// Drain closes the queue and waits for in-flight jobs.
func (r *Runner) Drain() {
	close(r.queue)
	r.wg.Wait()
}
