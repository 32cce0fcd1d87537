// Package bgtask supervises fire-and-forget work scheduled from request
// handlers, such as cache writes that must outlive the response.
package bgtask

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/resulta/resulta-proxy/pkg/logging"
)

// DefaultTimeout bounds a task when no timeout is configured.
const DefaultTimeout = 10 * time.Second

var tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "resulta_background_tasks_total",
	Help: "Total background tasks by name and final status",
}, []string{"name", "status"})

// Group runs background tasks detached from the caller's cancellation.
type Group struct {
	g       errgroup.Group
	timeout time.Duration
	logger  zerolog.Logger
	pending atomic.Int64
}

// New creates a task group. Each task is cancelled after timeout.
func New(timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{
		timeout: timeout,
		logger:  logging.NewLogger("bgtask"),
	}
}

// Go schedules fn. The task context keeps the values of ctx but is not
// cancelled with it. Failures and panics are logged and counted, never
// returned.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.pending.Add(1)
	g.g.Go(func() error {
		defer g.pending.Add(-1)

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		start := time.Now()
		err := run(taskCtx, fn)
		if err != nil {
			tasksTotal.WithLabelValues(name, "error").Inc()
			g.logger.Error().
				Err(err).
				Str("task", name).
				Dur("duration", time.Since(start)).
				Msg("Background task failed")
			return nil
		}

		tasksTotal.WithLabelValues(name, "ok").Inc()
		g.logger.Debug().
			Str("task", name).
			Dur("duration", time.Since(start)).
			Msg("Background task complete")
		return nil
	})
}

// Pending returns the number of tasks that have not finished.
func (g *Group) Pending() int64 {
	return g.pending.Load()
}

// Drain waits for all scheduled tasks or until ctx is done.
func (g *Group) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = g.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain background tasks (%d pending): %w", g.Pending(), ctx.Err())
	}
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
