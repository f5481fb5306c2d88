package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	var runs atomic.Int32
	runner := runnerFunc(func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewScheduler("test", runner, 10*time.Millisecond, time.Second, testLogger()).Start(ctx)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RunsOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewScheduler("overlap", runner, 5*time.Millisecond, time.Second, testLogger()).Start(ctx)
	}()

	assert.Eventually(t, func() bool { return maxActive.Load() >= 2 }, time.Second, time.Millisecond)
	close(release)
	cancel()
	<-done

	assert.Equal(t, int32(0), active.Load(), "Start waits for in-flight runs")
}

func TestScheduler_RunTimeoutAndErrors(t *testing.T) {
	deadlines := make(chan error, 1)
	runner := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case deadlines <- ctx.Err():
		default:
		}
		return errors.New("gave up")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewScheduler("timeout", runner, time.Hour, 10*time.Millisecond, testLogger()).Start(ctx) }()

	select {
	case err := <-deadlines:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("run was not bounded by its timeout")
	}
}
