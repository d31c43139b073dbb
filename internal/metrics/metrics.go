// Package metrics exports update session activity to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamancini/keel/internal/driver"
)

// Collector implements driver.Recorder.
type Collector struct {
	registry *prometheus.Registry

	// SessionsTotal counts finished sessions by outcome.
	SessionsTotal *prometheus.CounterVec

	// TransitionsTotal counts state machine transitions.
	TransitionsTotal *prometheus.CounterVec

	// DownloadBytesTotal counts artifact bytes received.
	DownloadBytesTotal prometheus.Counter

	// SessionDuration observes the wall time of finished sessions.
	SessionDuration prometheus.Histogram
}

var _ driver.Recorder = (*Collector)(nil)

// New creates a Collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keel_sessions_total",
				Help: "Total number of finished update sessions.",
			},
			[]string{"outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keel_state_transitions_total",
				Help: "Total number of update driver state transitions.",
			},
			[]string{"from", "to"},
		),
		DownloadBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keel_download_bytes_total",
				Help: "Total number of update artifact bytes downloaded.",
			},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keel_session_duration_seconds",
				Help:    "Duration of update sessions from check to finish.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(c.SessionsTotal, c.TransitionsTotal, c.DownloadBytesTotal, c.SessionDuration)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Transition(from, to driver.State) {
	c.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) DownloadBytes(n int) {
	c.DownloadBytesTotal.Add(float64(n))
}

func (c *Collector) SessionFinished(r driver.Result) {
	c.SessionsTotal.WithLabelValues(r.Reason.Token()).Inc()
	c.SessionDuration.Observe(r.Duration().Seconds())
}
