package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 每个进程一份，挂在自己的 Registry 上（测试互不干扰）
type Metrics struct {
	registry *prometheus.Registry

	Resolutions      *prometheus.CounterVec   // mode, outcome
	ResolveDuration  *prometheus.HistogramVec // mode
	Mutations        *prometheus.CounterVec   // operation, result
	ParkingSynced    *prometheus.CounterVec   // kind
	VoiceTriggers    *prometheus.CounterVec   // reason
	PendingPlates    *prometheus.GaugeVec     // community
	BestEffortErrors *prometheus.CounterVec   // side
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_resolutions_total",
			Help: "Resolution chain outcomes by mode",
		}, []string{"mode", "outcome"}),
		ResolveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plate_resolve_duration_seconds",
			Help:    "Resolution chain latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"mode"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_mutations_total",
			Help: "Mutation orchestrator operations by result",
		}, []string{"operation", "result"}),
		ParkingSynced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_parking_spots_synced_total",
			Help: "Parking lookup entries written by the synchronizer",
		}, []string{"kind"}),
		VoiceTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_voice_triggers_total",
			Help: "Voice searches fired, by trigger reason",
		}, []string{"reason"}),
		PendingPlates: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plate_pending_plates",
			Help: "Plates waiting for a household code",
		}, []string{"community"}),
		BestEffortErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plate_best_effort_errors_total",
			Help: "Swallowed failures of side operations",
		}, []string{"side"}),
	}
}

func (m *Metrics) ObserveResolve(mode, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(mode, outcome).Inc()
	m.ResolveDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Mutations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) AddParkingSynced(kind string, n int) {
	if m == nil {
		return
	}
	m.ParkingSynced.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncVoiceTrigger(reason string) {
	if m == nil {
		return
	}
	m.VoiceTriggers.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPending(community string, n int) {
	if m == nil {
		return
	}
	m.PendingPlates.WithLabelValues(community).Set(float64(n))
}

func (m *Metrics) IncBestEffortError(side string) {
	if m == nil {
		return
	}
	m.BestEffortErrors.WithLabelValues(side).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
