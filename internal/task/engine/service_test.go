package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctimer/internal/eventbus"
	logx "ctimer/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		unsub()
	})
	return s, ch
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s, ch := startEngine(t, Config{Workers: 1})

	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "ok", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}))

	ev := waitEvent(t, ch, eventbus.TaskFinished)
	te := ev.Data.(TaskEvent)
	assert.Equal(t, "ok", te.Name)
	assert.NotEmpty(t, te.ID)
	assert.Equal(t, 1, te.Attempts)
	assert.True(t, ran.Load())

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Completed)
	require.Len(t, snap.History, 1)
	assert.Empty(t, snap.History[0].Error)
}

func TestRetriesThenNoRetry(t *testing.T) {
	t.Parallel()
	s, ch := startEngine(t, Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})

	var calls atomic.Int32
	permanent := errors.New("permanent")
	require.NoError(t, s.Enqueue(Task{Name: "flaky", Run: func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return NoRetry(permanent)
	}}))

	ev := waitEvent(t, ch, eventbus.TaskFailed)
	te := ev.Data.(TaskEvent)
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, "permanent", te.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, ch := startEngine(t, Config{Workers: 1})

	require.NoError(t, s.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error { panic("boom") }}))
	ev := waitEvent(t, ch, eventbus.TaskFailed)
	assert.Contains(t, ev.Data.(TaskEvent).Error, "panic: boom")

	// The worker survives.
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { return nil }}))
	waitEvent(t, ch, eventbus.TaskFinished)
}

func TestTimeoutCancelsTask(t *testing.T) {
	t.Parallel()
	s, ch := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})

	require.NoError(t, s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return NoRetry(ctx.Err())
	}}))
	ev := waitEvent(t, ch, eventbus.TaskFailed)
	assert.Equal(t, context.DeadlineExceeded.Error(), ev.Data.(TaskEvent).Error)
}

func TestFullQueueDiscardsOldest(t *testing.T) {
	t.Parallel()
	s, ch := startEngine(t, Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	var ran []string
	done := make(chan struct{}, 2)
	for _, name := range []string{"old", "new"} {
		name := name
		require.NoError(t, s.Enqueue(Task{Name: name, Run: func(ctx context.Context) error {
			ran = append(ran, name)
			done <- struct{}{}
			return nil
		}}))
	}
	ev := waitEvent(t, ch, eventbus.TaskDropped)
	assert.Equal(t, "new", ev.Data.(TaskEvent).Name)

	close(release)
	<-done
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"new"}, ran)
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x"}), ErrInvalidTask)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
	assert.False(t, s.Snapshot().Running)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.0001}.withDefaults()
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		got := backoffDelay(cfg, tt.retry, rng)
		assert.InDelta(t, float64(tt.want), float64(got), float64(tt.want)*0.001, "retry %d", tt.retry)
	}

	hinted := backoffDelayWithHint(cfg, 1, RetryAfter(errors.New("x"), time.Hour), rng)
	assert.LessOrEqual(t, hinted, time.Second)
}
