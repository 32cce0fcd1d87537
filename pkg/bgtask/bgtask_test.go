package bgtask

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_SurvivesCallerCancellation(t *testing.T) {
	g := New(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel atomic.Bool
	var ran atomic.Bool

	g.Go(ctx, "write", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(ctx.Err() != nil)
		ran.Store(true)
		return nil
	})
	cancel()

	require.NoError(t, g.Drain(context.Background()))
	assert.True(t, ran.Load())
	assert.False(t, sawCancel.Load(), "task context was cancelled with the caller")
}

func TestGroup_KeepsContextValues(t *testing.T) {
	type key struct{}
	g := New(time.Second)

	var got atomic.Value
	g.Go(context.WithValue(context.Background(), key{}, "req-1"), "value", func(ctx context.Context) error {
		got.Store(ctx.Value(key{}))
		return nil
	})

	require.NoError(t, g.Drain(context.Background()))
	assert.Equal(t, "req-1", got.Load())
}

func TestGroup_TaskTimeout(t *testing.T) {
	g := New(10 * time.Millisecond)

	var err atomic.Value
	g.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		err.Store(ctx.Err())
		return ctx.Err()
	})

	require.NoError(t, g.Drain(context.Background()))
	assert.ErrorIs(t, err.Load().(error), context.DeadlineExceeded)
}

func TestGroup_FailuresAndPanicsAreContained(t *testing.T) {
	g := New(time.Second)

	g.Go(context.Background(), "fails", func(ctx context.Context) error {
		return errors.New("store down")
	})
	g.Go(context.Background(), "panics", func(ctx context.Context) error {
		panic("boom")
	})

	assert.NoError(t, g.Drain(context.Background()))
	assert.Equal(t, int64(0), g.Pending())
}

func TestGroup_DrainTimeout(t *testing.T) {
	g := New(time.Second)

	release := make(chan struct{})
	g.Go(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), g.Pending())

	close(release)
	require.NoError(t, g.Drain(context.Background()))
}

func TestNew_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, New(0).timeout)
}

func TestGroup_LogsWithComponent(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	g := New(time.Second)
	g.Go(context.Background(), "write", func(context.Context) error {
		return errors.New("store down")
	})
	require.NoError(t, g.Drain(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"component":"bgtask"`)
	assert.Contains(t, out, `"task":"write"`)
	assert.Contains(t, out, `"error":"store down"`)
}
