package storage

import (
	"context"
	"time"

	"ctimer/internal/eventbus"
	logx "ctimer/pkg/logx"
)

// Recorder journals every timer cycle published on the bus.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run consumes events until ctx is done. Write errors are logged, not returned.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(1024)
	defer unsub()
	var failed uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TimerFired && ev.Type != eventbus.TimerFailed {
				continue
			}
			d, ok := ev.Data.(eventbus.CycleData)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.AppendCycle(wctx, CycleRecord{
				RunID:    d.RunID,
				Timer:    d.Timer,
				Seq:      d.Seq,
				Deadline: d.Deadline,
				Fired:    d.Fired,
				Took:     d.Took,
				Error:    d.Error,
			})
			cancel()
			if err != nil {
				failed++
				if failed == 1 || failed%100 == 0 {
					r.log.Warn("journal append failed", logx.Uint64("failures", failed), logx.Err(err))
				}
			}
		}
	}
}
