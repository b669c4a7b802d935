package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ctimer/internal/eventbus"
	"ctimer/internal/task/engine"
	"ctimer/pkg/ctimer"
	"ctimer/pkg/epoch"
	logx "ctimer/pkg/logx"
)

// Enqueuer accepts queued timer work. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	engine Enqueuer

	ctx    context.Context
	cancel context.CancelFunc
	c      *cron.Cron

	timers map[string]*timer
}

func New(cfg Config, eng Enqueuer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		engine: eng,
		timers: map[string]*timer{},
	}
}

func (s *Service) clock() ctimer.Clock {
	if s.cfg.Clock != nil {
		return s.cfg.Clock
	}
	return ctimer.SystemClock()
}

// Apply updates the service config. A timezone change moves cron timers to
// a new cron instance with their remaining budgets; exhausted cron timers and
// interval timers are not affected.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	// Waits for running cron jobs, so cronDone is settled afterwards.
	<-s.c.Stop().Done()
	s.startCronLocked()
	moved := 0
	for _, t := range s.timers {
		if t.spec.Kind != SpecCron || t.cronDone.Load() {
			continue
		}
		s.registerCron(s.ctx, t, s.c)
		moved++
	}
	s.log.Info("cron restarted", logx.String("tz", s.loc.String()), logx.Int("timers", moved))
}

// Replace swaps the whole timer set. Every def is validated before anything
// changes; old timers are stopped and their in-flight actions awaited
// (bounded by ctx) before the new ones start.
func (s *Service) Replace(ctx context.Context, defs []Def) error {
	next := make(map[string]*timer, len(defs))
	for _, d := range defs {
		t, err := newTimer(d)
		if err != nil {
			return err
		}
		if _, dup := next[t.def.Name]; dup {
			return fmt.Errorf("duplicate timer name %q", t.def.Name)
		}
		next[t.def.Name] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(ctx, next)
}

// replaceLocked installs next. If a new timer fails to start, the ones
// already started are stopped and the previous set is started again.
func (s *Service) replaceLocked(ctx context.Context, next map[string]*timer) error {
	s.stopAllLocked(ctx)
	prev := s.timers
	s.timers = next
	if s.ctx != nil {
		if err := s.startAllLocked(ctx); err != nil {
			s.timers = prev
			if rerr := s.startAllLocked(ctx); rerr != nil {
				s.log.Error("previous timers failed to restart", logx.Err(rerr))
			}
			return err
		}
	}
	s.log.Info("timers replaced", logx.Int("timers", len(next)))
	return nil
}

// Add registers one timer, starting it immediately when the service runs.
func (s *Service) Add(d Def) error {
	t, err := newTimer(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.timers[t.def.Name]; dup {
		return fmt.Errorf("duplicate timer name %q", t.def.Name)
	}
	if s.ctx != nil {
		if err := s.startLocked(t); err != nil {
			return err
		}
	}
	s.timers[t.def.Name] = t
	return nil
}

// Remove stops and forgets the named timer. It does not wait for an
// in-flight action. It reports whether the timer existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return false
	}
	s.stopTimer(t)
	delete(s.timers, name)
	s.log.Debug("timer removed", logx.String("timer", name))
	return true
}

// Start starts all registered timers. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	if err := s.startAllLocked(ctx); err != nil {
		s.c.Stop()
		s.cancel()
		s.ctx, s.cancel, s.c = nil, nil, nil
		return err
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("timers", len(s.timers)))
	return nil
}

// Stop stops every timer and waits for in-flight inline actions (bounded by
// ctx). Definitions are kept, so a later Start runs them again with fresh
// iteration budgets.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return
	}
	s.stopAllLocked(ctx)
	if s.c != nil {
		select {
		case <-s.c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.cancel()
	s.ctx, s.cancel, s.c = nil, nil, nil
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) startLocked(t *timer) error {
	if t.spec.Kind == SpecInterval {
		return s.startInterval(s.ctx, t)
	}
	s.startCron(s.ctx, t, s.c)
	return nil
}

// startAllLocked starts every timer. On failure the timers it already
// started are stopped and awaited (bounded by ctx).
func (s *Service) startAllLocked(ctx context.Context) error {
	started := make([]*timer, 0, len(s.timers))
	for _, t := range s.timers {
		if err := s.startLocked(t); err != nil {
			for _, st := range started {
				s.stopTimer(st)
			}
			for _, st := range started {
				join(ctx, st)
			}
			return fmt.Errorf("timer %q: %w", t.def.Name, err)
		}
		started = append(started, t)
	}
	return nil
}

func (s *Service) stopAllLocked(ctx context.Context) {
	for _, t := range s.timers {
		s.stopTimer(t)
	}
	for _, t := range s.timers {
		join(ctx, t)
	}
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{s.log}),
	)
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Snapshot reports every timer, sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap := Snapshot{Running: s.ctx != nil, Timezone: loc.String()}
	preview := s.cfg.Preview
	if preview <= 0 {
		preview = 3
	}
	now := s.clock().Now()
	for _, t := range s.timers {
		info := TimerInfo{
			Name:     t.def.Name,
			Kind:     t.spec.Kind.String(),
			Schedule: t.def.Schedule,
			Mode:     t.def.Mode,
			Fired:    t.fired.Load(),
			Failures: t.failures.Load(),
		}
		t.mu.Lock()
		if t.lastErr != nil {
			info.LastError = t.lastErr.Error()
		}
		info.LastFired = t.lastFired
		info.StartedAt = t.startedAt
		t.mu.Unlock()

		running := false
		if t.spec.Kind == SpecInterval {
			info.Interval = t.spec.Every.String()
			info.Epoch = t.sched.(epoch.Grid).Epoch
			info.State = ctimer.StateIdle.String()
			info.Remaining = t.budget()
			if t.runner != nil {
				info.State = t.runner.State().String()
				info.Remaining = t.runner.Remaining()
			}
			running = info.State == ctimer.StateRunning.String()
		} else {
			info.State = ctimer.StateIdle.String()
			info.Remaining = t.budget()
			if snap.Running {
				info.Remaining = int(t.cronLeft.Load())
				info.State = ctimer.StateRunning.String()
				if t.cronDone.Load() {
					info.State = ctimer.StateStopped.String()
				}
			}
			running = info.State == ctimer.StateRunning.String()
		}
		if running || !snap.Running {
			info.NextRuns = NextRuns(t.sched, now.In(loc), preview)
		}
		snap.Timers = append(snap.Timers, info)
	}
	sort.Slice(snap.Timers, func(i, j int) bool { return snap.Timers[i].Name < snap.Timers[j].Name })
	return snap
}
