package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"bountychain/core/events"
)

type eventMetrics struct {
	published   *prometheus.CounterVec
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed domain events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bounty",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bounty",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Active websocket event stream subscribers.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bounty",
				Subsystem: "events",
				Name:      "stream_dropped_total",
				Help:      "Events dropped because a subscriber fell behind.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.subscribers, eventRegistry.dropped)
	})
	return eventRegistry
}

// Emit implements events.Emitter by counting the event type.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.published.WithLabelValues(eventType).Inc()
}

// SetSubscribers publishes the current websocket subscriber count.
func (m *eventMetrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

// AddDropped records events a slow subscriber missed.
func (m *eventMetrics) AddDropped(count uint64) {
	if m == nil || count == 0 {
		return
	}
	m.dropped.Add(float64(count))
}
