// Package metrics exposes Prometheus instrumentation for auth operations,
// session broadcasts and storage health.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the instrumentation surface used by the auth and session layers.
type Recorder interface {
	// AuthOperation counts a finished register/login/logout.
	// path is "remote", "local", "federated" or "none"; result is "ok" or an error code.
	AuthOperation(op, path, result string)
	SessionBroadcast(source string)
	SubscriberPanic()
	StorageCorrupt(key string)
	RemoteRequest(endpoint string, d time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	authOps          *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	subscriberPanics prometheus.Counter
	storageCorrupt   *prometheus.CounterVec
	remoteLatency    *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unisession_auth_operations_total",
			Help: "Auth operations by operation, resolved path and result.",
		}, []string{"op", "path", "result"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unisession_session_broadcasts_total",
			Help: "Canonical session changes delivered to subscribers, by new source.",
		}, []string{"source"}),
		subscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unisession_subscriber_panics_total",
			Help: "Session subscribers that panicked during delivery.",
		}),
		storageCorrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unisession_storage_corrupt_total",
			Help: "Persisted records that failed to decode and were treated as absent.",
		}, []string{"key"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unisession_remote_request_seconds",
			Help:    "Latency of remote account service requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.authOps,
		c.broadcasts,
		c.subscriberPanics,
		c.storageCorrupt,
		c.remoteLatency,
	)
	return c
}

func (c *Collector) AuthOperation(op, path, result string) {
	c.authOps.WithLabelValues(op, path, result).Inc()
}

func (c *Collector) SessionBroadcast(source string) {
	if source == "" {
		source = "none"
	}
	c.broadcasts.WithLabelValues(source).Inc()
}

func (c *Collector) SubscriberPanic() { c.subscriberPanics.Inc() }

func (c *Collector) StorageCorrupt(key string) { c.storageCorrupt.WithLabelValues(key).Inc() }

func (c *Collector) RemoteRequest(endpoint string, d time.Duration) {
	c.remoteLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Handler serves the registry for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) AuthOperation(string, string, string) {}
func (NoopRecorder) SessionBroadcast(string)              {}
func (NoopRecorder) SubscriberPanic()                     {}
func (NoopRecorder) StorageCorrupt(string)                {}
func (NoopRecorder) RemoteRequest(string, time.Duration)  {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
