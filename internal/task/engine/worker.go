package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"ctimer/internal/eventbus"
	logx "ctimer/pkg/logx"
	"ctimer/pkg/pushqueue"
)

func (s *Service) worker(ctx context.Context, q *pushqueue.Queue[queuedTask]) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		qt, err := q.Pop(ctx)
		if err != nil {
			return nil
		}
		s.inFlight.Add(1)
		s.execOne(ctx, qt, rng)
		s.inFlight.Add(-1)
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	timeout := qt.task.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	retries := cfg.RetryMax
	if qt.task.RetryMax > 0 {
		retries = qt.task.RetryMax
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.String("id", qt.task.ID), logx.Duration("queue_delay", queueDelay))

	var err error
	attempts := 0
	maxAttempts := 1 + retries
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt.task, timeout)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(cfg, attempt, err, rng)
		if delay > 0 {
			s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				tmr.Stop()
				err = fmt.Errorf("%w: %v", ErrStopped, err)
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Deadline: qt.task.Deadline, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Deadline: qt.task.Deadline, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
	}
	s.record(item, cfg.HistorySize)

	if err != nil {
		s.failed.Add(1)
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: ev})
		}
	} else {
		s.completed.Add(1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: ev})
		}
	}
}

// runAttempt converts panics into errors so one bad task can't kill a worker.
func (s *Service) runAttempt(ctx context.Context, t Task, timeout time.Duration) (err error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(runCtx)
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return jitter(d, cfg.RetryJitter, cfg.RetryMaxDelay, rng)
	}
	return backoffDelay(cfg, retry, rng)
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jitter(d, cfg.RetryJitter, cfg.RetryMaxDelay, rng)
}

func jitter(d time.Duration, j float64, maxD time.Duration, rng *rand.Rand) time.Duration {
	if j > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
