//go:build !linux

package jobs

import "context"

// SystemdUnits is unavailable off linux; every operation fails with ErrUnsupported.
type SystemdUnits struct{}

func NewSystemdUnits() *SystemdUnits { return &SystemdUnits{} }

func (*SystemdUnits) Start(context.Context, string) error   { return ErrUnsupported }
func (*SystemdUnits) Stop(context.Context, string) error    { return ErrUnsupported }
func (*SystemdUnits) Restart(context.Context, string) error { return ErrUnsupported }
func (*SystemdUnits) Close() error                          { return nil }
