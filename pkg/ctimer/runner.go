// Package ctimer runs an action on an epoch-aligned interval in a background goroutine.
//
// Every cycle re-reads the clock and re-rounds it against the grid
// (see package epoch), so slow actions, scheduling slippage and clock steps
// never accumulate into drift. Missed grid points are skipped, not replayed.
package ctimer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ctimer/pkg/epoch"
	logx "ctimer/pkg/logx"
)

// State is the lifecycle stage of a Runner.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runner invokes an Action once per grid interval.
//
// A Runner is single-use: Idle -> Running -> Stopped. Construct a new one to
// run again.
type Runner struct {
	name   string
	grid   epoch.Grid
	budget int
	clock  Clock
	action Action
	log    logx.Logger
	hooks  []func(Cycle)

	stopOnError bool

	state    atomic.Int32
	stopReq  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	fired     atomic.Uint64
	failures  atomic.Uint64
	remaining atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// New validates the arguments and returns an idle Runner.
func New(interval time.Duration, action Action, opts ...Option) (*Runner, error) {
	o := options{iterations: Unbounded}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	grid, err := epoch.NewGrid(interval, o.epoch)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("%w: action is nil", ErrInvalidArgument)
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.iterations < 0 {
		o.iterations = Unbounded
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.name != "" {
		o.log = o.log.With(logx.String("timer", o.name))
	}

	r := &Runner{
		name:        o.name,
		grid:        grid,
		budget:      o.iterations,
		clock:       o.clock,
		action:      action,
		log:         o.log,
		hooks:       o.hooks,
		stopOnError: o.stopOnError,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.remaining.Store(int64(o.iterations))
	return r, nil
}

func (r *Runner) Name() string     { return r.name }
func (r *Runner) Grid() epoch.Grid { return r.grid }
func (r *Runner) State() State     { return State(r.state.Load()) }

// Fired is the number of action invocations so far.
func (r *Runner) Fired() uint64 { return r.fired.Load() }

// Failures is the number of invocations that returned an error or panicked.
func (r *Runner) Failures() uint64 { return r.failures.Load() }

// Remaining is the iteration budget left, or Unbounded.
func (r *Runner) Remaining() int { return int(r.remaining.Load()) }

// Done is closed once the Runner reaches StateStopped.
func (r *Runner) Done() <-chan struct{} { return r.done }

// LastError returns the most recent *ActionError, or nil.
func (r *Runner) LastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Start spawns the loop. It fails with ErrInvalidState unless the Runner is idle.
//
// Cancelling ctx has the same effect as Stop. ctx is also passed to the action.
func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: start on %s runner", ErrInvalidState, r.State())
	}
	r.log.Debug("runner started",
		logx.Duration("interval", r.grid.Interval),
		logx.Time("epoch", r.grid.Epoch),
		logx.Int("iterations", r.budget),
	)
	go r.loop(ctx)
	return nil
}

// Stop requests termination. It never blocks and may be called at any time,
// including before Start. An in-flight action is allowed to finish; use Join
// to wait for the Runner to reach StateStopped.
func (r *Runner) Stop() {
	r.stopReq.Store(true)
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Join blocks until the Runner has stopped and returns LastError.
func (r *Runner) Join() error {
	<-r.done
	return r.LastError()
}

// Wait is Join bounded by ctx.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.LastError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) stopping(ctx context.Context) bool {
	return r.stopReq.Load() || ctx.Err() != nil
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.state.Store(int32(StateStopped))
		close(r.done)
		r.log.Debug("runner stopped", logx.Uint64("fired", r.fired.Load()), logx.Uint64("failures", r.failures.Load()))
	}()

	remaining := r.budget
	var seq uint64
	for remaining != 0 {
		// Re-rounded every cycle so a wall clock step in either direction
		// costs at most one interval.
		now := r.clock.Now()
		deadline := r.grid.Next(now)
		wait := deadline.Sub(now)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-r.clock.After(wait):
		case <-r.stopCh:
		case <-ctx.Done():
		}
		if r.stopping(ctx) {
			return
		}

		seq++
		err := r.invoke(ctx, seq, deadline)
		if remaining > 0 {
			remaining--
			r.remaining.Store(int64(remaining))
		}
		if err != nil && r.stopOnError {
			r.log.Warn("runner stopping after failed cycle", logx.Uint64("cycle", seq))
			return
		}
	}
}

func (r *Runner) invoke(ctx context.Context, seq uint64, deadline time.Time) (err error) {
	fired := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.log.Error("action panicked", logx.Uint64("cycle", seq), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		took := r.clock.Now().Sub(fired)
		r.fired.Add(1)
		if err != nil {
			err = &ActionError{Runner: r.name, Cycle: seq, Deadline: deadline, Err: err}
			r.failures.Add(1)
			r.errMu.Lock()
			r.lastErr = err
			r.errMu.Unlock()
			r.log.Debug("action failed", logx.Uint64("cycle", seq), logx.Time("deadline", deadline), logx.Err(err))
		} else {
			r.log.Trace("action done", logx.Uint64("cycle", seq), logx.Duration("took", took))
		}
		c := Cycle{Runner: r.name, Seq: seq, Deadline: deadline, Fired: fired, Took: took, Err: err}
		for _, h := range r.hooks {
			h(c)
		}
	}()
	return r.action(ctx)
}
