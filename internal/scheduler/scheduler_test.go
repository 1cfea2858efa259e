package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
	}{
		{"missing name", []Task{{Interval: time.Second, Run: func(context.Context) error { return nil }}}},
		{"missing run", []Task{{Name: "decay", Interval: time.Second}}},
		{"zero interval", []Task{{Name: "decay", Run: func(context.Context) error { return nil }}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tasks, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int64
	s, err := New([]Task{{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must fail")

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	got := runs.Load()
	assert.Greater(t, got, int64(0))

	// No further runs after Stop.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, runs.Load())

	// Stopping again is a no-op.
	s.Stop()
}

func TestTaskErrorDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int64
	s, err := New([]Task{{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	assert.Greater(t, runs.Load(), int64(2))
}

func TestTaskPanicRecovered(t *testing.T) {
	var runs atomic.Int64
	s, err := New([]Task{{
		Name:     "panicky",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			panic("bad record")
		},
	}}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	assert.Greater(t, runs.Load(), int64(2))
}

func TestIndependentTasks(t *testing.T) {
	var fast, slow atomic.Int64
	s, err := New([]Task{
		{
			Name:     "slow",
			Interval: 10 * time.Millisecond,
			Run: func(ctx context.Context) error {
				slow.Add(1)
				// A slow task must not block the fast one.
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				return nil
			},
		},
		{
			Name:     "fast",
			Interval: 5 * time.Millisecond,
			Run: func(context.Context) error {
				fast.Add(1)
				return nil
			},
		},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Greater(t, fast.Load(), slow.Load())
}
