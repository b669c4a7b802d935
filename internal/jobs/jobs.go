// Package jobs turns timer definitions into job funcs.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ctimer/internal/task/engine"
	logx "ctimer/pkg/logx"
)

// outputTail bounds how much command output is kept for errors and logs.
const outputTail = 2048

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = time.Second

// Spec selects exactly one job kind.
type Spec struct {
	Command []string
	Dir     string
	Env     []string

	Message string

	Unit       string
	UnitAction string // start | stop | restart
}

// Func is the job signature shared by the scheduler and the task engine.
type Func = func(ctx context.Context) error

// Builder creates job funcs. It is safe for concurrent use.
type Builder struct {
	log   logx.Logger
	units UnitController
}

func NewBuilder(log logx.Logger, units UnitController) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{log: log, units: units}
}

// Build validates spec and returns the job for timer name.
func (b *Builder) Build(name string, spec Spec) (Func, error) {
	kinds := 0
	if len(spec.Command) > 0 {
		kinds++
	}
	if spec.Message != "" {
		kinds++
	}
	if spec.Unit != "" {
		kinds++
	}
	switch {
	case kinds == 0:
		return nil, fmt.Errorf("timer %q: one of command, message or unit is required", name)
	case kinds > 1:
		return nil, fmt.Errorf("timer %q: command, message and unit are mutually exclusive", name)
	}

	log := b.log.With(logx.String("timer", name))
	switch {
	case len(spec.Command) > 0:
		if strings.TrimSpace(spec.Command[0]) == "" {
			return nil, fmt.Errorf("timer %q: empty command", name)
		}
		return commandJob(log, spec.Command, spec.Dir, spec.Env), nil
	case spec.Message != "":
		return messageJob(log, spec.Message), nil
	default:
		return b.unitJob(name, spec.Unit, spec.UnitAction)
	}
}

func messageJob(log logx.Logger, msg string) Func {
	return func(ctx context.Context) error {
		log.Info(msg)
		return nil
	}
}

// tailBuffer keeps the last outputTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > outputTail {
		t.buf = t.buf[len(t.buf)-outputTail:]
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

func commandJob(log logx.Logger, argv []string, dir string, env []string) Func {
	argv = append([]string(nil), argv...)
	env = append([]string(nil), env...)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.WaitDelay = waitDelay
		if len(env) > 0 {
			cmd.Env = append(cmd.Environ(), env...)
		}
		var out tailBuffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		tail := out.String()
		if err == nil {
			if tail != "" {
				log.Debug("command output", logx.String("output", tail))
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("command %s: %w", argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command %s exited with code %d: %s", argv[0], exitErr.ExitCode(), tail)
		}
		// The binary is missing or not executable; retrying won't help.
		return engine.NoRetry(fmt.Errorf("command %s: %w", argv[0], err))
	}
}
