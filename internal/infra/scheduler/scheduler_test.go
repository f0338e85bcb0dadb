package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/pkg/logger"
)

func TestScheduler_RunsJob(t *testing.T) {
	s := New(logger.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_FailingJobKeepsSchedule(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("fail", "* * * * * *", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, s.Add("slow", "* * * * * *", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}

func TestScheduler_Add(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("retention", "0 0 3 * * *", noop))
	assert.Error(t, s.Add("retention", "0 0 3 * * *", noop))
	assert.Error(t, s.Add("bad", "not a spec", noop))
	// five-field specs are rejected; seconds are required
	assert.Error(t, s.Add("five", "0 3 * * *", noop))

	_, ok := s.Next("missing")
	assert.False(t, ok)
}

func TestScheduler_Next(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add("retention", "0 0 3 * * *", func(context.Context) error { return nil }))
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	next, ok := s.Next("retention")
	require.True(t, ok)
	assert.Equal(t, 3, next.UTC().Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}
