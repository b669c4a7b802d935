package ctimer

import (
	"time"

	logx "ctimer/pkg/logx"
)

// Unbounded is the iteration budget of a Runner that only stops on request.
const Unbounded = -1

// Cycle describes one completed action invocation.
type Cycle struct {
	Runner   string
	Seq      uint64
	Deadline time.Time
	Fired    time.Time
	Took     time.Duration
	Err      error
}

type options struct {
	name        string
	epoch       time.Time
	iterations  int
	clock       Clock
	stopOnError bool
	log         logx.Logger
	hooks       []func(Cycle)
}

// Option configures a Runner in New.
type Option func(*options)

// WithEpoch anchors the grid. The zero time selects epoch.Default.
func WithEpoch(t time.Time) Option { return func(o *options) { o.epoch = t } }

// WithIterations sets the iteration budget. Negative values mean Unbounded;
// 0 makes the Runner stop without invoking the action.
func WithIterations(n int) Option { return func(o *options) { o.iterations = n } }

// WithClock replaces SystemClock, mainly for tests.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithStopOnError stops the Runner after the first failed cycle.
// By default a failed cycle is recorded and the loop continues.
func WithStopOnError(enabled bool) Option { return func(o *options) { o.stopOnError = enabled } }

// WithName labels the Runner in logs and cycle reports.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithLogger sets the Runner's logger. The default discards output.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithCycleHook registers fn to run on the loop goroutine after every
// invocation. Hooks must not block.
func WithCycleHook(fn func(Cycle)) Option {
	return func(o *options) {
		if fn != nil {
			o.hooks = append(o.hooks, fn)
		}
	}
}
