package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics tracks index maintenance events consumed from the bus.
type EventMetrics struct {
	service string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
}

func NewEventMetrics(service string, registerer prometheus.Registerer) *EventMetrics {
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total processed index events by op and status.",
		},
		[]string{"service", "op", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "process_duration_seconds",
			Help:      "Index event processing duration in seconds by op.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "op"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "in_flight",
			Help:      "Number of index events being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registerer.MustRegister(processTotal, processDuration, processInFlight)

	return &EventMetrics{
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
	}
}

func (m *EventMetrics) StartEvent() {
	m.processInFlight.Inc()
}

func (m *EventMetrics) FinishEvent(op string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	if op == "" {
		op = "unknown"
	}

	m.processTotal.WithLabelValues(m.service, op, status).Inc()
	m.processDuration.WithLabelValues(m.service, op).Observe(duration.Seconds())
}
