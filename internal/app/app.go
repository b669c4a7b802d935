package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ctimer/internal/config"
	"ctimer/internal/eventbus"
	"ctimer/internal/jobs"
	"ctimer/internal/metrics"
	"ctimer/internal/observability/diag"
	rtsup "ctimer/internal/runtime/supervisor"
	"ctimer/internal/storage"
	"ctimer/internal/task/engine"
	"ctimer/internal/task/scheduler"
	logx "ctimer/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	units *jobs.SystemdUnits
	jobs  *jobs.Builder

	engine  *engine.Service
	sched   *scheduler.Service
	metrics *metrics.Service
	diag    *diag.Service
}

// Status is served on /timers.
type Status struct {
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Engine    engine.Snapshot    `json:"engine"`
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Map every section before opening files so a bad value leaks nothing.
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	diagCfg, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, journal, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	bus := eventbus.New()

	// Journal (optional)
	var store storage.Store
	if journal {
		store, err = storage.Open(storeCfg, log.With(logx.String("comp", "journal")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("journal enabled", logx.String("driver", storeCfg.Driver))
	}

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log, bus)

	units := jobs.NewSystemdUnits()
	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  store,
		units:  units,
		jobs:   jobs.NewBuilder(log.With(logx.String("comp", "jobs")), units),
		engine: engineSvc,
		sched:  schedSvc,
	}
	a.metrics = metrics.New(bus, log.With(logx.String("comp", "metrics")), func() (int, int) {
		s := engineSvc.Snapshot()
		return s.QueueLen, s.QueueCap
	})

	src := diag.Sources{
		Health:  a.health,
		Timers:  func() any { return a.Status() },
		Metrics: a.metrics.Handler(),
	}
	if store != nil {
		src.Journal = func(ctx context.Context, timer string, limit int) (any, error) {
			return store.Recent(ctx, timer, limit)
		}
	}
	a.diag = diag.New(diagCfg, src, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Status() Status {
	return Status{Scheduler: a.sched.Snapshot(), Engine: a.engine.Snapshot()}
}

func (a *App) health() (any, error) {
	if a.sup == nil {
		return nil, errors.New("not started")
	}
	snap := a.sup.Snapshot()
	if snap.FirstError != "" {
		return snap, errors.New(snap.FirstError)
	}
	return snap, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg, a.jobs)
	})

	cfg := a.cfgm.Get()
	defs, err := buildDefs(cfg, a.jobs)
	if err != nil {
		return err
	}

	// Engine first so queued timers never fire into a stopped pool.
	a.engine.Start(run)
	if err := a.sched.Replace(run, defs); err != nil {
		return err
	}
	if err := a.sched.Start(run); err != nil {
		return err
	}

	a.sup.GoRestart("metrics", a.metrics.Run)
	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.String("comp", "journal")))
		a.sup.GoRestart("journal.recorder", rec.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}
	a.diag.Start(run)

	// Debug-level event trace; frequent timers would be too noisy at info.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			newCfg, err := sub.Pop(c)
			if err != nil {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
			for {
				newer, ok := sub.TryPop()
				if !ok {
					break
				}
				newCfg = newer
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					sdNotify(a.log, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("timers", len(defs)))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, timersChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(next))
	}
	if slices.Contains(sections, "engine") {
		if ec, err := mapEngineConfig(next); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}
	if slices.Contains(sections, "scheduler") {
		a.sched.Apply(mapSchedulerConfig(next))
	}
	if len(timersChanged) > 0 {
		a.log.Debug("timer changes detected", logx.Any("timers", timersChanged))
		defs, err := buildDefs(next, a.jobs)
		if err == nil {
			err = a.sched.Replace(ctx, defs)
		}
		if err != nil {
			a.log.Warn("timer reload failed; keeping previous", logx.Err(err))
		}
	}
	if slices.Contains(sections, "diag") {
		if dc, err := mapDiagConfig(next); err != nil {
			a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
		} else {
			a.diag.Reconfigure(ctx, dc)
		}
	}
	if slices.Contains(sections, "journal") {
		a.log.Warn("journal config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// Triggers before the pool so no new work is queued during drain.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("journal", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("systemd", time.Second, func(context.Context) error { return a.units.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// stopStep runs fn bounded by max (never extending ctx's deadline) so one
// component cannot stall the whole shutdown.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		return stepCtx.Err()
	}
}
