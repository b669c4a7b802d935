package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ctimer/internal/config"
	"ctimer/internal/jobs"
	"ctimer/internal/task/scheduler"
	logx "ctimer/pkg/logx"
)

// Check validates the config at path and writes the next n deadlines of
// every enabled timer to w, computed from now.
func Check(w io.Writer, path string, n int, now time.Time) error {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return err
	}
	if err := validate(cfg, jobs.NewBuilder(logx.Nop(), jobs.NewSystemdUnits())); err != nil {
		return err
	}
	if n <= 0 {
		n = 3
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMER\tKIND\tMODE\tNEXT")
	for i, t := range cfg.Timers {
		if t.Disabled {
			continue
		}
		spec, err := scheduler.ParseSchedule(t.Schedule)
		if err != nil {
			return err
		}
		ep, err := config.ParseEpoch(fmt.Sprintf("timers[%d].epoch", i), t.Epoch)
		if err != nil {
			return err
		}
		sched, err := spec.Schedule(ep)
		if err != nil {
			return err
		}
		mode := strings.TrimSpace(t.Mode)
		if mode == "" {
			mode = string(scheduler.ModeInline)
		}
		next := scheduler.NextRuns(sched, now.In(loc), n)
		if t.Iterations > 0 && len(next) > t.Iterations {
			next = next[:t.Iterations]
		}
		runs := make([]string, len(next))
		for j, r := range next {
			runs[j] = r.In(loc).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", strings.TrimSpace(t.Name), spec.Kind, mode, strings.Join(runs, ", "))
	}
	return tw.Flush()
}
