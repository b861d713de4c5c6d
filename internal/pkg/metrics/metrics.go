package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every GLAD collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// PollTotal counts periodic polls. result: success/failed
	PollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glad_poll_total",
			Help: "Total number of periodic device polls.",
		},
		[]string{"device", "result"},
	)

	// TaskTotal counts executed queue tasks. result: success/failed/abandoned
	TaskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glad_task_total",
			Help: "Total number of device tasks taken from the command queue.",
		},
		[]string{"device", "result"},
	)

	// TaskDuration observes how long a task held the device.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glad_task_duration_seconds",
			Help:    "Time spent executing a single device task.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"device"},
	)

	// ReconnectAttempts counts failed connect attempts. mode: poll/task
	ReconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glad_reconnect_attempts_total",
			Help: "Total number of failed device reconnect attempts.",
		},
		[]string{"device", "mode"},
	)

	// QueueDepth is the number of tasks waiting in a device's command queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glad_queue_depth",
			Help: "Number of tasks waiting in the command queue.",
		},
		[]string{"device"},
	)

	// ProfileState exposes the sequencer state as a number (0=idle, 1=scheduled, 2=running).
	ProfileState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glad_profile_state",
			Help: "Profile sequencer state per device (0=idle, 1=scheduled, 2=running).",
		},
		[]string{"device"},
	)

	// EventsDropped counts events lost because a subscriber was not keeping up.
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glad_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PollTotal,
		TaskTotal,
		TaskDuration,
		ReconnectAttempts,
		QueueDepth,
		ProfileState,
		EventsDropped,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
