// Package metrics exposes Prometheus metrics fed from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ctimer/internal/eventbus"
	"ctimer/internal/task/engine"
	logx "ctimer/pkg/logx"
)

// Service owns a private registry, so several instances can coexist in tests.
type Service struct {
	bus eventbus.Bus
	log logx.Logger
	reg *prometheus.Registry

	cyclesTotal    *prometheus.CounterVec
	cycleLateness  *prometheus.HistogramVec
	actionDuration *prometheus.HistogramVec
	tasksTotal     *prometheus.CounterVec
	queueDropped   prometheus.Counter
	activeTimers   prometheus.Gauge
}

// QueueStats reports the engine queue length and capacity.
type QueueStats func() (length, capacity int)

func New(bus eventbus.Bus, log logx.Logger, queue QueueStats) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Service{
		bus: bus,
		log: log,
		reg: prometheus.NewRegistry(),

		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctimer_cycles_total",
				Help: "Timer cycles by outcome",
			},
			[]string{"timer", "outcome"}, // ok, failed
		),

		cycleLateness: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ctimer_cycle_lateness_seconds",
				Help:    "Delay between a cycle's aligned deadline and the moment its action started",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2min
			},
			[]string{"timer"},
		),

		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ctimer_action_duration_seconds",
				Help:    "Duration of timer actions",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
			},
			[]string{"timer"},
		),

		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctimer_tasks_total",
				Help: "Queued tasks by outcome",
			},
			[]string{"outcome"}, // finished, failed
		),

		queueDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ctimer_queue_dropped_total",
				Help: "Pending tasks discarded because the engine queue was full",
			},
		),

		activeTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctimer_timers_active",
				Help: "Timers currently running",
			},
		),
	}

	m.reg.MustRegister(
		m.cyclesTotal,
		m.cycleLateness,
		m.actionDuration,
		m.tasksTotal,
		m.queueDropped,
		m.activeTimers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if queue != nil {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "ctimer_queue_length",
				Help: "Tasks waiting in the engine queue",
			}, func() float64 { l, _ := queue(); return float64(l) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "ctimer_queue_capacity",
				Help: "Engine queue capacity",
			}, func() float64 { _, c := queue(); return float64(c) }),
		)
	}
	return m
}

func (m *Service) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Service) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Service) Run(ctx context.Context) error {
	ch, unsub := m.bus.Subscribe(1024)
	defer unsub()
	m.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates the collectors for one event.
func (m *Service) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TimerFired, eventbus.TimerFailed:
		d, ok := ev.Data.(eventbus.CycleData)
		if !ok {
			return
		}
		outcome := "ok"
		if ev.Type == eventbus.TimerFailed {
			outcome = "failed"
		}
		m.cyclesTotal.WithLabelValues(d.Timer, outcome).Inc()
		if late := d.Fired.Sub(d.Deadline); late >= 0 {
			m.cycleLateness.WithLabelValues(d.Timer).Observe(late.Seconds())
		}
		m.actionDuration.WithLabelValues(d.Timer).Observe(d.Took.Seconds())
	case eventbus.TimerStarted:
		m.activeTimers.Inc()
	case eventbus.TimerStopped:
		m.activeTimers.Dec()
	case eventbus.TaskFinished:
		m.tasksTotal.WithLabelValues("finished").Inc()
	case eventbus.TaskFailed:
		m.tasksTotal.WithLabelValues("failed").Inc()
	case eventbus.TaskDropped:
		n := 1
		if d, ok := ev.Data.(engine.TaskEvent); ok && d.Discarded > 0 {
			n = d.Discarded
		}
		m.queueDropped.Add(float64(n))
	}
}
