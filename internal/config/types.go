package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls the worker pool used by queued timers.
	Engine EngineConfig `json:"engine"`

	Diag      DiagConfig      `json:"diag,omitempty"`
	Journal   *JournalConfig  `json:"journal,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Timers    []TimerConfig   `json:"timers"`
}

// EngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - push_timeout: "0s" (discard the oldest task immediately)
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	PushTimeout    string `json:"push_timeout,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// JournalConfig controls the optional cycle journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./ctimerd_journal.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`
}

// DiagConfig controls the diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof/
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls trigger behavior shared by all timers.
type SchedulerConfig struct {
	// Timezone for cron schedules. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
	// Preview is the number of upcoming runs listed per timer on /timers.
	Preview int `json:"preview,omitempty"`
}

// TimerConfig describes one timer and its job.
//
// Exactly one of command, message or unit must be set.
type TimerConfig struct {
	Name string `json:"name"`
	// Schedule is a duration ("5s"), a daily "HH:MM", "every:<dur>" or "cron:<expr>".
	Schedule string `json:"schedule"`
	// Epoch is an RFC3339 timestamp anchoring interval grids.
	Epoch string `json:"epoch,omitempty"`
	// Iterations bounds the number of runs. 0 means unbounded.
	Iterations  int    `json:"iterations,omitempty"`
	Mode        string `json:"mode,omitempty"` // inline (default) | queued
	StopOnError bool   `json:"stop_on_error,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`

	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	Message string `json:"message,omitempty"`

	Unit       string `json:"unit,omitempty"`
	UnitAction string `json:"unit_action,omitempty"` // start | stop | restart
}

// UnmarshalJSON disallows unknown fields so typos in a timer block
// are caught during config reload.
func (t *TimerConfig) UnmarshalJSON(b []byte) error {
	type plain TimerConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*t = TimerConfig(p)
	return nil
}
