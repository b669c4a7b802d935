package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"ctimer/internal/eventbus"
	"ctimer/internal/task/engine"
	"ctimer/pkg/ctimer"
	"ctimer/pkg/epoch"
	logx "ctimer/pkg/logx"
)

type timer struct {
	def   Def
	spec  ParsedSpec
	sched cron.Schedule

	// interval timers; a fresh Runner is built on every start
	runner *ctimer.Runner

	// cron timers
	cron     *cron.Cron
	entry    cron.EntryID
	cronSeq  atomic.Uint64
	cronLeft atomic.Int64
	cronDone atomic.Bool

	fired    atomic.Uint64
	failures atomic.Uint64

	mu        sync.Mutex
	lastErr   error
	lastFired time.Time
	startedAt time.Time

	// First few failures are logged, then at most one every 30s.
	failLog rate.Sometimes
}

func newTimer(d Def) (*timer, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("timer name required")
	}
	if d.Job == nil {
		return nil, fmt.Errorf("timer %q: job required", d.Name)
	}
	switch d.Mode {
	case "":
		d.Mode = ModeInline
	case ModeInline, ModeQueued:
	default:
		return nil, fmt.Errorf("timer %q: unknown mode %q", d.Name, d.Mode)
	}
	if d.Iterations < 0 {
		d.Iterations = 0
	}
	spec, err := ParseSchedule(d.Schedule)
	if err != nil {
		return nil, fmt.Errorf("timer %q: %w", d.Name, err)
	}
	sched, err := spec.Schedule(d.Epoch)
	if err != nil {
		return nil, fmt.Errorf("timer %q: %w", d.Name, err)
	}
	return &timer{
		def:     d,
		spec:    spec,
		sched:   sched,
		failLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}, nil
}

func (t *timer) budget() int {
	if t.def.Iterations == 0 {
		return ctimer.Unbounded
	}
	return t.def.Iterations
}

// execute runs one cycle of the timer's job.
func (s *Service) execute(ctx context.Context, t *timer, deadline time.Time) error {
	if t.def.Mode == ModeQueued {
		if s.engine == nil {
			return engine.ErrStopped
		}
		return s.engine.Enqueue(engine.Task{
			Name:     t.def.Name,
			Deadline: deadline,
			Timeout:  t.def.Timeout,
			Run:      t.def.Job,
		})
	}
	if t.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.def.Timeout)
		defer cancel()
	}
	return t.def.Job(ctx)
}

// startInterval builds and starts a Runner for t. Call with s.mu held.
func (s *Service) startInterval(ctx context.Context, t *timer) error {
	clock := s.clock()
	grid := t.sched.(epoch.Grid)
	r, err := ctimer.New(t.spec.Every,
		func(ctx context.Context) error {
			return s.execute(ctx, t, grid.Floor(clock.Now()))
		},
		ctimer.WithName(t.def.Name),
		ctimer.WithEpoch(t.def.Epoch),
		ctimer.WithIterations(t.budget()),
		ctimer.WithClock(clock),
		ctimer.WithStopOnError(t.def.StopOnError),
		ctimer.WithLogger(s.log),
		ctimer.WithCycleHook(func(c ctimer.Cycle) { s.onCycle(t, c) }),
	)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	t.runner = r
	s.markStarted(t)
	go func() {
		err := r.Join()
		s.publishStopped(t, err)
	}()
	return nil
}

// startCron registers t on c with a fresh budget. Call with s.mu held.
func (s *Service) startCron(ctx context.Context, t *timer, c *cron.Cron) {
	t.cronDone.Store(false)
	t.cronSeq.Store(0)
	t.cronLeft.Store(int64(t.budget()))
	s.registerCron(ctx, t, c)
	s.markStarted(t)
}

// registerCron schedules t on c, keeping its sequence and remaining budget.
func (s *Service) registerCron(ctx context.Context, t *timer, c *cron.Cron) {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() {
		s.fireCron(ctx, t)
	}))
	t.mu.Lock()
	t.cron = c
	t.entry = c.Schedule(t.sched, job)
	t.mu.Unlock()
}

func (s *Service) fireCron(ctx context.Context, t *timer) {
	if t.cronDone.Load() || ctx.Err() != nil {
		return
	}
	fired := time.Now()
	deadline := fired.Truncate(time.Second)
	seq := t.cronSeq.Add(1)
	err := s.runCronJob(ctx, t, seq, deadline)
	s.onCycle(t, ctimer.Cycle{Runner: t.def.Name, Seq: seq, Deadline: deadline, Fired: fired, Took: time.Since(fired), Err: err})

	exhausted := false
	if left := t.cronLeft.Load(); left > 0 {
		t.cronLeft.Store(left - 1)
		exhausted = left == 1
	}
	if exhausted || (err != nil && t.def.StopOnError) {
		s.stopCron(t)
	}
}

func (s *Service) runCronJob(ctx context.Context, t *timer, seq uint64, deadline time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			s.log.Error("action panicked", logx.String("timer", t.def.Name), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		if err != nil {
			err = &ctimer.ActionError{Runner: t.def.Name, Cycle: seq, Deadline: deadline, Err: err}
		}
	}()
	return s.execute(ctx, t, deadline)
}

// stopCron unregisters t once and publishes timer.stopped.
func (s *Service) stopCron(t *timer) {
	if !t.cronDone.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	c, id := t.cron, t.entry
	err := t.lastErr
	t.mu.Unlock()
	if c != nil {
		c.Remove(id)
	}
	s.publishStopped(t, err)
}

// stopTimer stops t without waiting. Call with s.mu held.
func (s *Service) stopTimer(t *timer) {
	if t.spec.Kind == SpecInterval {
		if t.runner != nil {
			t.runner.Stop()
		}
		return
	}
	s.stopCron(t)
}

// join waits for an interval Runner to finish its in-flight action.
func join(ctx context.Context, t *timer) {
	if t.runner != nil {
		_ = t.runner.Wait(ctx)
	}
}

func (s *Service) markStarted(t *timer) {
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	s.publish(eventbus.TimerStarted, eventbus.TimerData{Timer: t.def.Name, Kind: t.spec.Kind.String()})
}

func (s *Service) onCycle(t *timer, c ctimer.Cycle) {
	t.fired.Add(1)
	t.mu.Lock()
	t.lastFired = c.Fired
	if c.Err != nil {
		t.lastErr = c.Err
	}
	t.mu.Unlock()

	data := eventbus.CycleData{
		RunID:    uuid.NewString(),
		Timer:    t.def.Name,
		Seq:      c.Seq,
		Deadline: c.Deadline,
		Fired:    c.Fired,
		Took:     c.Took,
	}
	if c.Err == nil {
		s.publish(eventbus.TimerFired, data)
		return
	}
	t.failures.Add(1)
	data.Error = c.Err.Error()
	s.publish(eventbus.TimerFailed, data)

	var ae *ctimer.ActionError
	cause := c.Err
	if errors.As(c.Err, &ae) {
		cause = ae.Err
	}
	t.failLog.Do(func() {
		s.log.Warn("timer cycle failed",
			logx.String("timer", t.def.Name),
			logx.Uint64("cycle", c.Seq),
			logx.Time("deadline", c.Deadline),
			logx.Uint64("failures", t.failures.Load()),
			logx.Err(cause),
		)
	})
}

func (s *Service) publishStopped(t *timer, err error) {
	data := eventbus.TimerData{
		Timer:    t.def.Name,
		Kind:     t.spec.Kind.String(),
		Fired:    t.fired.Load(),
		Failures: t.failures.Load(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	s.log.Debug("timer stopped", logx.String("timer", t.def.Name), logx.Uint64("fired", data.Fired), logx.Uint64("failures", data.Failures))
	s.publish(eventbus.TimerStopped, data)
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
