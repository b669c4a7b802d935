package storage

import (
	"context"
	"errors"
	"strings"

	logx "ctimer/pkg/logx"
)

// Store is the journal API.
type Store interface {
	AppendCycle(ctx context.Context, r CycleRecord) error
	// Recent returns up to limit records, newest first. An empty timer
	// matches every timer.
	Recent(ctx context.Context, timer string, limit int) ([]CycleRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
