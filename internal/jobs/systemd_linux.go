//go:build linux

package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// SystemdUnits drives units over the systemd D-Bus API. The connection is
// opened on first use.
type SystemdUnits struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewSystemdUnits() *SystemdUnits { return &SystemdUnits{} }

func (u *SystemdUnits) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if u.conn != nil {
		return u.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	u.conn = conn
	return conn, nil
}

// do runs op and waits for the job result systemd reports.
func (u *SystemdUnits) do(ctx context.Context, verb, unit string, op func(*dbus.Conn, chan<- string) (int, error)) error {
	u.mu.Lock()
	conn, err := u.connLocked(ctx)
	u.mu.Unlock()
	if err != nil {
		return err
	}
	ch := make(chan string, 1)
	if _, err := op(conn, ch); err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, unit, err)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", verb, unit, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", verb, unit, ctx.Err())
	}
}

func (u *SystemdUnits) Start(ctx context.Context, unit string) error {
	return u.do(ctx, "start", unit, func(c *dbus.Conn, ch chan<- string) (int, error) {
		return c.StartUnitContext(ctx, unit, "replace", ch)
	})
}

func (u *SystemdUnits) Stop(ctx context.Context, unit string) error {
	return u.do(ctx, "stop", unit, func(c *dbus.Conn, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, unit, "replace", ch)
	})
}

func (u *SystemdUnits) Restart(ctx context.Context, unit string) error {
	return u.do(ctx, "restart", unit, func(c *dbus.Conn, ch chan<- string) (int, error) {
		return c.RestartUnitContext(ctx, unit, "replace", ch)
	})
}

// Close closes the D-Bus connection if one was opened.
func (u *SystemdUnits) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	return nil
}
