package scheduler

import (
	"context"
	"time"

	"ctimer/pkg/ctimer"
)

// Mode selects where a timer's job executes.
type Mode string

const (
	// ModeInline runs the job on the trigger goroutine. The next deadline is
	// computed after the job returns.
	ModeInline Mode = "inline"
	// ModeQueued hands the job to the task engine and returns immediately.
	ModeQueued Mode = "queued"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ for cron schedules, e.g. "Asia/Jakarta"
	// Clock drives interval timers. nil selects the system clock.
	Clock ctimer.Clock
	// Preview is the number of upcoming runs listed per timer in snapshots.
	Preview int
}

// Def describes one timer.
type Def struct {
	Name     string
	Schedule string
	// Epoch anchors interval schedules. Zero selects epoch.Default.
	Epoch time.Time
	// Iterations bounds the number of runs. 0 means unbounded.
	Iterations  int
	Mode        Mode
	StopOnError bool
	Timeout     time.Duration
	Job         func(ctx context.Context) error
}

type TimerInfo struct {
	Name      string      `json:"name"`
	Kind      string      `json:"kind"`
	Schedule  string      `json:"schedule"`
	Mode      Mode        `json:"mode"`
	State     string      `json:"state"`
	Fired     uint64      `json:"fired"`
	Failures  uint64      `json:"failures"`
	Remaining int         `json:"remaining"`
	LastError string      `json:"last_error,omitempty"`
	LastFired time.Time   `json:"last_fired,omitempty"`
	Epoch     time.Time   `json:"epoch,omitempty"`
	Interval  string      `json:"interval,omitempty"`
	NextRuns  []time.Time `json:"next_runs,omitempty"`
	StartedAt time.Time   `json:"started_at,omitempty"`
}

type Snapshot struct {
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Timers   []TimerInfo `json:"timers"`
}
