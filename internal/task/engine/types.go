package engine

import (
	"context"
	"time"
)

// Config controls the worker pool that executes queued timer work.
type Config struct {
	Workers   int
	QueueSize int

	// PushTimeout > 0 makes Enqueue wait that long for a free slot before
	// discarding the oldest pending task. 0 discards immediately.
	PushTimeout time.Duration

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables it.
	DefaultTimeout time.Duration

	HistorySize   int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Task is one fired cycle handed over by a timer.
type Task struct {
	ID       string
	Name     string
	Deadline time.Time
	Timeout  time.Duration
	Run      func(ctx context.Context) error
	// RetryMax overrides Config.RetryMax when > 0.
	RetryMax int
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Deadline   time.Time     `json:"deadline"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is published on the event bus for task outcomes.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Deadline   time.Time     `json:"deadline"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Discarded  int           `json:"discarded,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running   bool          `json:"running"`
	Workers   int           `json:"workers"`
	InFlight  int           `json:"in_flight"`
	QueueLen  int           `json:"queue_len"`
	QueueCap  int           `json:"queue_cap"`
	Dropped   uint64        `json:"dropped"`
	Completed uint64        `json:"completed"`
	Failed    uint64        `json:"failed"`
	RetryMax  int           `json:"retry_max"`
	History   []HistoryItem `json:"history"`
}
