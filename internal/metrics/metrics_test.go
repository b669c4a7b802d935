package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctimer/internal/eventbus"
	"ctimer/internal/task/engine"
	logx "ctimer/pkg/logx"
)

func cycle(timer string, late, took time.Duration) eventbus.CycleData {
	deadline := time.Date(2024, 5, 1, 0, 0, 10, 0, time.UTC)
	return eventbus.CycleData{Timer: timer, Deadline: deadline, Fired: deadline.Add(late), Took: took}
}

func TestObserveCounts(t *testing.T) {
	t.Parallel()
	m := New(eventbus.New(), logx.Nop(), func() (int, int) { return 2, 8 })

	m.Observe(eventbus.Event{Type: eventbus.TimerStarted, Data: eventbus.TimerData{Timer: "a"}})
	m.Observe(eventbus.Event{Type: eventbus.TimerFired, Data: cycle("a", time.Millisecond, 10*time.Millisecond)})
	m.Observe(eventbus.Event{Type: eventbus.TimerFired, Data: cycle("a", 2*time.Millisecond, 10*time.Millisecond)})
	m.Observe(eventbus.Event{Type: eventbus.TimerFailed, Data: cycle("a", 0, time.Millisecond)})
	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Name: "q"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{Name: "q"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskDropped, Data: engine.TaskEvent{Name: "q", Discarded: 3}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("a", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeTimers))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleLateness))

	m.Observe(eventbus.Event{Type: eventbus.TimerStopped, Data: eventbus.TimerData{Timer: "a"}})
	assert.Zero(t, testutil.ToFloat64(m.activeTimers))
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(bus, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: cycle("b", 0, 0)})
		return testutil.ToFloat64(m.cyclesTotal.WithLabelValues("b", "ok")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()
	m := New(eventbus.New(), logx.Nop(), func() (int, int) { return 1, 4 })
	m.Observe(eventbus.Event{Type: eventbus.TimerFired, Data: cycle("c", 0, 0)})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `ctimer_cycles_total{outcome="ok",timer="c"} 1`), text)
	assert.Contains(t, text, "ctimer_queue_capacity 4")
	assert.Contains(t, text, "go_goroutines")
}
