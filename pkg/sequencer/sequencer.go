package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task produces one value. Returning an error settles the task as failed.
type Task[T any] func(ctx context.Context) (T, error)

// Settled is the outcome of one task.
type Settled[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task succeeded.
func (s Settled[T]) OK() bool {
	return s.Err == nil
}

// Run executes tasks in chunks of width and returns their outcomes in input
// order. A width below 1 is treated as 1. A panicking task settles with an
// error instead of crashing the process.
func Run[T any](ctx context.Context, tasks []Task[T], width int) []Settled[T] {
	if width < 1 {
		width = 1
	}

	start := time.Now()
	results := make([]Settled[T], len(tasks))

	for lo := 0; lo < len(tasks); lo += width {
		hi := min(lo+width, len(tasks))

		// Tasks never fail the group, so siblings are never cancelled.
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				results[i] = settle(ctx, tasks[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Debug().
		Int("tasks", len(tasks)).
		Int("width", width).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Sequence complete")

	return results
}

func settle[T any](ctx context.Context, task Task[T]) (s Settled[T]) {
	defer func() {
		if r := recover(); r != nil {
			s = Settled[T]{Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()

	if task == nil {
		return Settled[T]{Err: fmt.Errorf("nil task")}
	}
	v, err := task(ctx)
	return Settled[T]{Value: v, Err: err}
}
