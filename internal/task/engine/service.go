package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ctimer/internal/eventbus"
	rtsup "ctimer/internal/runtime/supervisor"
	logx "ctimer/pkg/logx"
	"ctimer/pkg/pushqueue"
)

const dropWarnThrottle = 5 * time.Second

// Service executes tasks handed over by timers running in queued mode.
//
// Tasks travel through a pushqueue.Queue: when workers fall behind, the
// oldest pending task is discarded so the most recent cycle always runs.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q   *pushqueue.Queue[queuedTask]
	sup *rtsup.Supervisor

	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	lastDropWarn atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	cfg := s.cfg
	s.q = pushqueue.New[queuedTask](cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))))
	for i := 0; i < cfg.Workers; i++ {
		q := s.q
		s.sup.GoRestart(fmt.Sprintf("engine.worker.%d", i), func(c context.Context) error {
			return s.worker(c, q)
		}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	s.log.Info("engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop cancels the workers, waits for in-flight tasks (bounded by ctx),
// and discards whatever is still queued.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	q := s.q
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("engine stop incomplete", logx.Err(err))
	}
	pending := 0
	for {
		if _, ok := q.TryPop(); !ok {
			break
		}
		pending++
	}
	s.log.Info("engine stopped", logx.Int("discarded_pending", pending))
}

// Apply updates the config; workers restart when pool or queue size changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.sup != nil
	s.mu.Unlock()
	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Enqueue hands a task to the workers. If the queue is full the oldest
// pending task is discarded.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return ErrInvalidTask
	}
	s.mu.Lock()
	q := s.q
	sup := s.sup
	pushTimeout := s.cfg.PushTimeout
	s.mu.Unlock()
	if sup == nil {
		return ErrStopped
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	qt := queuedTask{task: t, enqueuedAt: time.Now()}
	var discarded int
	if pushTimeout > 0 {
		n, err := q.Push(sup.Context(), qt, pushTimeout)
		if err != nil {
			return ErrStopped
		}
		discarded = n
	} else {
		discarded = q.PushNowait(qt)
	}
	if discarded > 0 {
		s.onDropped(t.Name, discarded)
	}
	return nil
}

func (s *Service) onDropped(name string, n int) {
	s.dropped.Add(uint64(n))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Data: TaskEvent{Name: name, Discarded: n}})
	}
	now := time.Now().UnixNano()
	last := s.lastDropWarn.Load()
	if now-last < int64(dropWarnThrottle) || !s.lastDropWarn.CompareAndSwap(last, now) {
		return
	}
	s.log.Warn("engine queue full; discarded oldest task", logx.String("task", name), logx.Int("discarded", n), logx.Uint64("dropped_total", s.dropped.Load()))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.sup != nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:   running,
		Workers:   cfg.Workers,
		InFlight:  int(s.inFlight.Load()),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		RetryMax:  cfg.RetryMax,
	}
	if q != nil {
		snap.QueueLen = q.Len()
		snap.QueueCap = q.Cap()
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem, historySize int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
