// Package metrics exports recorder activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

const namespace = "mcrec"

// Collector owns the recorder metrics and the registry they live in.
// It implements recorder.Observer.
type Collector struct {
	registry *prometheus.Registry

	packets  *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	failures *prometheus.CounterVec
	finishes *prometheus.CounterVec
	duration prometheus.Gauge
}

// NewCollector registers the recorder metrics on registry. A nil registry
// gets a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_recorded_total",
			Help:      "Packets written to the replay, by phase.",
		}, []string{"phase"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_recorded_total",
			Help:      "Packet bytes written to the replay, by phase.",
		}, []string{"phase"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packets removed by the exclusion policy.",
		}, []string{"phase", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Packets that could not be written, by phase.",
		}, []string{"phase"}),
		finishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finishes_total",
			Help:      "Replay finalizations, by result.",
		}, []string{"result"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of the last finished recording.",
		}),
	}
	registry.MustRegister(c.packets, c.bytes, c.dropped, c.failures, c.finishes, c.duration)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) PacketRecorded(phase recorder.Phase, n int) {
	c.packets.WithLabelValues(phase.String()).Inc()
	c.bytes.WithLabelValues(phase.String()).Add(float64(n))
}

func (c *Collector) PacketDropped(phase recorder.Phase, reason string) {
	c.dropped.WithLabelValues(phase.String(), reason).Inc()
}

func (c *Collector) RecordFailed(phase recorder.Phase) {
	c.failures.WithLabelValues(phase.String()).Inc()
}

func (c *Collector) Finished(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.finishes.WithLabelValues(result).Inc()
	c.duration.Set(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
