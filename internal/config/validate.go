package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the structural rules of cfg: unique timer names, parsable
// durations and epochs, known modes and exactly one job kind per timer.
// Schedule syntax is checked by the scheduler when timers are built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("engine.push_timeout", cfg.Engine.PushTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("engine.retry_base", cfg.Engine.RetryBase); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("engine.retry_max_delay", cfg.Engine.RetryMaxDelay); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.Workers < 0 || cfg.Engine.QueueSize < 0 || cfg.Engine.RetryMax < 0 {
		errs = append(errs, errors.New("engine: workers, queue_size and retry_max must be >= 0"))
	}

	if _, err := ParseDurationField("diag.read_timeout", cfg.Diag.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("diag.idle_timeout", cfg.Diag.IdleTimeout); err != nil {
		errs = append(errs, err)
	}

	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(j.Path) == "" {
				errs = append(errs, fmt.Errorf("journal.path is required for driver %q", j.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q", j.Driver))
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if j.Retain < 0 {
			errs = append(errs, errors.New("journal.retain must be >= 0"))
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	seen := make(map[string]int, len(cfg.Timers))
	for i, t := range cfg.Timers {
		path := fmt.Sprintf("timers[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates timers[%d]", path, name, prev))
		} else {
			seen[name] = i
		}
		if err := validateTimer(path, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateTimer(path string, t TimerConfig) error {
	var errs []error
	if strings.TrimSpace(t.Schedule) == "" {
		errs = append(errs, fmt.Errorf("%s.schedule is required", path))
	}
	if _, err := ParseEpoch(path+".epoch", t.Epoch); err != nil {
		errs = append(errs, err)
	}
	if t.Iterations < 0 {
		errs = append(errs, fmt.Errorf("%s.iterations must be >= 0", path))
	}
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case "", "inline", "queued":
	default:
		errs = append(errs, fmt.Errorf("%s.mode: unknown mode %q", path, t.Mode))
	}
	if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
		errs = append(errs, err)
	}

	kinds := 0
	if len(t.Command) > 0 {
		kinds++
	}
	if strings.TrimSpace(t.Message) != "" {
		kinds++
	}
	if strings.TrimSpace(t.Unit) != "" {
		kinds++
	}
	if kinds != 1 {
		errs = append(errs, fmt.Errorf("%s: exactly one of command, message or unit is required", path))
	}
	return errors.Join(errs...)
}

// ParseEpoch parses an RFC3339 epoch. Empty returns the zero time.
func ParseEpoch(path, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid RFC3339 time %q: %w", path, raw, err)
	}
	return t, nil
}
