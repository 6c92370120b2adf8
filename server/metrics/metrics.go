// Package metrics exposes pipeline counters to Prometheus
package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one process
type Metrics struct {
	FramesProcessed   atomic.Uint64
	FramesFailed      atomic.Uint64 // Frames on which detection returned an error
	Detections        atomic.Uint64
	SnapshotsWritten  atomic.Uint64
	PersistenceErrors atomic.Uint64
	VideosEvaluated   atomic.Uint64
	VideosSkipped     atomic.Uint64
	fps               atomic.Uint64 // math.Float64bits

	current      *prometheus.GaugeVec   // Current count per animal class
	maximum      *prometheus.GaugeVec   // Maximum count per animal class
	httpRequests *prometheus.CounterVec // Dashboard requests by method and status code
	registry     *prometheus.Registry
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herdcount_animals_current",
			Help: "Number of animals of each class in the most recent frame",
		}, []string{"animal_type"}),
		maximum: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herdcount_animals_max",
			Help: "Highest number of animals of each class seen in a single frame this session",
		}, []string{"animal_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdcount_http_requests_total",
			Help: "Total HTTP requests served by the dashboard",
		}, []string{"code", "method"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	counter("herdcount_frames_processed_total", "Total frames run through the detector", &m.FramesProcessed)
	counter("herdcount_frames_failed_total", "Total frames on which detection failed", &m.FramesFailed)
	counter("herdcount_detections_total", "Total animal detections", &m.Detections)
	counter("herdcount_snapshots_written_total", "Total count snapshots written to the time series store", &m.SnapshotsWritten)
	counter("herdcount_persistence_errors_total", "Total failed writes to the time series store", &m.PersistenceErrors)
	counter("herdcount_videos_evaluated_total", "Total videos scored in evaluation mode", &m.VideosEvaluated)
	counter("herdcount_videos_skipped_total", "Total videos skipped in evaluation mode", &m.VideosSkipped)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "herdcount_fps",
			Help: "Rolling average frames per second",
		},
		func() float64 { return m.FPS() },
	))
	m.registry.MustRegister(m.current, m.maximum, m.httpRequests)
}

func (m *Metrics) SetFPS(fps float64) {
	m.fps.Store(math.Float64bits(fps))
}

func (m *Metrics) FPS() float64 {
	return math.Float64frombits(m.fps.Load())
}

// SetCounts publishes the current and maximum per-class counts.
// Classes that are configured but absent from 'current' are reported as zero.
func (m *Metrics) SetCounts(classes []string, current, maximum map[string]int) {
	for _, c := range classes {
		m.current.WithLabelValues(c).Set(float64(current[c]))
		m.maximum.WithLabelValues(c).Set(float64(maximum[c]))
	}
}

// InstrumentHandler counts the requests served by h
func (m *Metrics) InstrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, h)
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
