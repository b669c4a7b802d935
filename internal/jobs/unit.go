package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by unit jobs on platforms without systemd.
var ErrUnsupported = errors.New("systemd units are supported on linux only")

// UnitController performs systemd unit operations.
type UnitController interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
}

// unitName appends ".service" when no unit suffix is present.
func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func (b *Builder) unitJob(name, unit, action string) (Func, error) {
	if b.units == nil {
		return nil, fmt.Errorf("timer %q: %w", name, ErrUnsupported)
	}
	var op func(ctx context.Context, unit string) error
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "", "restart":
		op = b.units.Restart
	case "start":
		op = b.units.Start
	case "stop":
		op = b.units.Stop
	default:
		return nil, fmt.Errorf("timer %q: unknown unit action %q", name, action)
	}
	unit = unitName(unit)
	return func(ctx context.Context) error { return op(ctx, unit) }, nil
}
