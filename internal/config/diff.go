package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "ctimer/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes the diag token),
// and (3) the names of timers that were added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.push_timeout", strings.TrimSpace(newCfg.Engine.PushTimeout)),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
			logx.Int("engine.retry_max", newCfg.Engine.RetryMax),
		)
	}

	// Diag (never log token)
	od, nd := oldCfg.Diag, newCfg.Diag
	if od.Enabled != nd.Enabled ||
		strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) ||
		od.Pprof != nd.Pprof ||
		od.AllowInsecure != nd.AllowInsecure ||
		strings.TrimSpace(od.ReadTimeout) != strings.TrimSpace(nd.ReadTimeout) ||
		strings.TrimSpace(od.IdleTimeout) != strings.TrimSpace(nd.IdleTimeout) ||
		strings.TrimSpace(od.Token) != strings.TrimSpace(nd.Token) {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nd.Enabled),
			logx.String("diag.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("diag.pprof", nd.Pprof),
			logx.Bool("diag.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	// Journal. Nil means disabled.
	oj, nj := derefJournal(oldCfg.Journal), derefJournal(newCfg.Journal)
	if oj != nj {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", strings.TrimSpace(nj.Driver)),
			logx.Bool("journal.path_set", strings.TrimSpace(nj.Path) != ""),
			logx.Int("journal.retain", nj.Retain),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	timers := diffTimers(oldCfg.Timers, newCfg.Timers)
	if len(timers) > 0 {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.Int("timers.changed_count", len(timers)),
			logx.Int("timers.count", len(newCfg.Timers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, timers
}

func derefJournal(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}

func diffTimers(oldT, newT []TimerConfig) []string {
	index := func(ts []TimerConfig) map[string]uint64 {
		m := make(map[string]uint64, len(ts))
		for _, t := range ts {
			b, _ := json.Marshal(t)
			m[strings.TrimSpace(t.Name)] = hashBytes(b)
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	out := make([]string, 0)
	for name, h := range nm {
		if oh, ok := om[name]; !ok || oh != h {
			out = append(out, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
