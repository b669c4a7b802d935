package app

import (
	"fmt"
	"strings"
	"time"

	"ctimer/internal/config"
	"ctimer/internal/jobs"
	"ctimer/internal/observability/diag"
	"ctimer/internal/storage"
	"ctimer/internal/task/engine"
	"ctimer/internal/task/scheduler"
	logx "ctimer/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	e := cfg.Engine
	pushTimeout, err := config.ParseDurationField("engine.push_timeout", e.PushTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	defTimeout, err := config.ParseDurationField("engine.default_timeout", e.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("engine.retry_base", e.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("engine.retry_max_delay", e.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        e.Workers,
		QueueSize:      e.QueueSize,
		PushTimeout:    pushTimeout,
		DefaultTimeout: defTimeout,
		HistorySize:    e.HistorySize,
		RetryMax:       e.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

// mapStorageConfig reports enabled=false when the journal is omitted or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return storage.Config{}, false, nil
	}
	j := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(j.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(j.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=%s", driver)
	}
	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path, Retain: j.Retain}, true, nil
	case "sqlite":
		busy, err := config.ParseDurationOrDefault("journal.busy_timeout", j.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: j.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown journal.driver: %s", j.Driver)
	}
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	d := cfg.Diag
	readTimeout, err := config.ParseDurationOrDefault("diag.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("diag.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Pprof:         d.Pprof,
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   readTimeout,
		IdleTimeout:   idleTimeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		Preview:  cfg.Scheduler.Preview,
	}
}

// buildDefs turns timer blocks into scheduler defs. Disabled timers are
// skipped. Every schedule is parsed so a bad reload is rejected as a whole.
func buildDefs(cfg *config.Config, b *jobs.Builder) ([]scheduler.Def, error) {
	defs := make([]scheduler.Def, 0, len(cfg.Timers))
	for i, t := range cfg.Timers {
		if t.Disabled {
			continue
		}
		path := fmt.Sprintf("timers[%d]", i)
		name := strings.TrimSpace(t.Name)

		if _, err := scheduler.ParseSchedule(t.Schedule); err != nil {
			return nil, fmt.Errorf("%s.schedule: %w", path, err)
		}
		ep, err := config.ParseEpoch(path+".epoch", t.Epoch)
		if err != nil {
			return nil, err
		}
		timeout, err := config.ParseDurationField(path+".timeout", t.Timeout)
		if err != nil {
			return nil, err
		}
		mode := scheduler.ModeInline
		if strings.EqualFold(strings.TrimSpace(t.Mode), string(scheduler.ModeQueued)) {
			mode = scheduler.ModeQueued
		}
		job, err := b.Build(name, jobs.Spec{
			Command:    t.Command,
			Dir:        t.Dir,
			Env:        t.Env,
			Message:    t.Message,
			Unit:       t.Unit,
			UnitAction: t.UnitAction,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		defs = append(defs, scheduler.Def{
			Name:        name,
			Schedule:    t.Schedule,
			Epoch:       ep,
			Iterations:  t.Iterations,
			Mode:        mode,
			StopOnError: t.StopOnError,
			Timeout:     timeout,
			Job:         job,
		})
	}
	return defs, nil
}

// validate is the transactional reload hook: a config that would fail to
// map onto any component is rejected before it is committed.
func validate(cfg *config.Config, b *jobs.Builder) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	_, err := buildDefs(cfg, b)
	return err
}
