package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics counts order pipeline outcomes and notifier health.
type PipelineMetrics struct {
	Submissions       *prometheus.CounterVec
	StageFailures     *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	NotifierDrops     prometheus.Counter
	ActiveSubscribers prometheus.Gauge
}

// New registers and returns the pipeline metrics set.
func New(service string) *PipelineMetrics {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "easiapp",
		Subsystem: service,
		Name:      "submissions_total",
		Help:      "Total number of order submissions by outcome.",
	}, []string{"outcome"})
	stageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "easiapp",
		Subsystem: service,
		Name:      "stage_failures_total",
		Help:      "Total number of pipeline stage failures.",
	}, []string{"stage"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "easiapp",
		Subsystem: service,
		Name:      "status_transitions_total",
		Help:      "Total number of order status transitions.",
	}, []string{"to"})
	notifierDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "easiapp",
		Subsystem: service,
		Name:      "notifier_dropped_events_total",
		Help:      "Events dropped from full subscriber queues.",
	})
	activeSubscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "easiapp",
		Subsystem: service,
		Name:      "notifier_active_subscribers",
		Help:      "Currently registered change subscribers.",
	})

	prometheus.MustRegister(submissions, stageFailures, transitions,
		notifierDrops, activeSubscribers)

	return &PipelineMetrics{
		Submissions:       submissions,
		StageFailures:     stageFailures,
		Transitions:       transitions,
		NotifierDrops:     notifierDrops,
		ActiveSubscribers: activeSubscribers,
	}
}

// NewNop returns an unregistered metrics set for tests.
func NewNop() *PipelineMetrics {
	return &PipelineMetrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nop_submissions_total",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nop_stage_failures_total",
		}, []string{"stage"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nop_status_transitions_total",
		}, []string{"to"}),
		NotifierDrops:     prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_drops_total"}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_subscribers"}),
	}
}

// Handler exposes the registered metrics over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
