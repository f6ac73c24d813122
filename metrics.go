package eventcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusEventObserver implements EventObserver on top of a counter
// and a histogram, both labeled by event name.
type PrometheusEventObserver struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusEventObserver registers its metrics with reg and returns
// an EventObserver backed by them. Pass prometheus.DefaultRegisterer to
// use the global registry.
func NewPrometheusEventObserver(reg prometheus.Registerer) *PrometheusEventObserver {
	o := &PrometheusEventObserver{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventcore_event_handler_duration_seconds",
				Help:    "Time taken to run an event handler, by event name and outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event", "outcome"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcore_events_total",
				Help: "Total number of dispatched events, by event name and outcome.",
			},
			[]string{"event", "outcome"},
		),
	}
	reg.MustRegister(o.duration, o.total)
	return o
}

func (o *PrometheusEventObserver) ObserveEventSuccess(eventType string, duration time.Duration) {
	o.duration.WithLabelValues(eventType, "success").Observe(duration.Seconds())
	o.total.WithLabelValues(eventType, "success").Inc()
}

func (o *PrometheusEventObserver) ObserveEventFailure(eventType string, duration time.Duration, err error) {
	o.duration.WithLabelValues(eventType, "failure").Observe(duration.Seconds())
	o.total.WithLabelValues(eventType, "failure").Inc()
}

// PrometheusBackgroundTaskObserver implements BackgroundTaskObserver.
type PrometheusBackgroundTaskObserver struct {
	started  *prometheus.CounterVec
	done     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusBackgroundTaskObserver registers its metrics with reg and
// returns a BackgroundTaskObserver backed by them.
func NewPrometheusBackgroundTaskObserver(reg prometheus.Registerer) *PrometheusBackgroundTaskObserver {
	o := &PrometheusBackgroundTaskObserver{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcore_bgtask_started_total",
				Help: "Total number of background tasks started, by task name.",
			},
			[]string{"task"},
		),
		done: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcore_bgtask_done_total",
				Help: "Total number of background tasks finished, by task name, status and error code.",
			},
			[]string{"task", "status", "error_code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventcore_bgtask_duration_seconds",
				Help:    "Background task run time, by task name and status.",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"task", "status"},
		),
	}
	reg.MustRegister(o.started, o.done, o.duration)
	return o
}

func (o *PrometheusBackgroundTaskObserver) ObserveBgtaskStarted(taskName string) {
	o.started.WithLabelValues(taskName).Inc()
}

func (o *PrometheusBackgroundTaskObserver) ObserveBgtaskDone(taskName string, status TaskStatus, duration time.Duration, errorCode ErrorCode) {
	code := string(errorCode)
	if code == "" {
		code = "none"
	}
	o.done.WithLabelValues(taskName, string(status), code).Inc()
	o.duration.WithLabelValues(taskName, string(status)).Observe(duration.Seconds())
}
