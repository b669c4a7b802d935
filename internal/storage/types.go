package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the number of records kept. 0 means 10000.
	Retain int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return 10000
	}
	return c.Retain
}

// CycleRecord is one journaled timer cycle.
type CycleRecord struct {
	RunID    string        `json:"run_id"`
	Timer    string        `json:"timer"`
	Seq      uint64        `json:"seq"`
	Deadline time.Time     `json:"deadline"`
	Fired    time.Time     `json:"fired"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}
