// Package metrics provides Prometheus metrics for the launcher agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry served by the agent.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Metrics holds all launcher metrics.
type Metrics struct {
	// Resolution outcomes
	Resolutions     *prometheus.CounterVec // labels: state, trigger
	ResolutionErrs  *prometheus.CounterVec // labels: kind
	IdentityChanges prometheus.Counter
	CycleDuration   prometheus.Histogram
	ConnectionMode  *prometheus.GaugeVec // labels: mode; 1 for the current mode
	Busy            prometheus.Gauge     // 1 while a cycle is loading

	// Mesh setup
	MeshSetups        *prometheus.CounterVec // labels: result (ok, download, install, connect, error)
	MeshSetupDuration prometheus.Histogram

	Info *prometheus.GaugeVec // labels: version
}

// InitMetrics registers launcher metrics on the global Registry.
func InitMetrics(version string) *Metrics {
	return NewMetrics(Registry, version)
}

// NewMetrics registers launcher metrics on reg.
func NewMetrics(reg prometheus.Registerer, version string) *Metrics {
	m := &Metrics{
		Resolutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ryvie_resolutions_total",
			Help: "Completed resolution outcomes by final state and trigger",
		}, []string{"state", "trigger"}),
		ResolutionErrs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ryvie_resolution_errors_total",
			Help: "Resolution errors by kind",
		}, []string{"kind"}),
		IdentityChanges: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ryvie_identity_changes_total",
			Help: "Times a different device answered the local probe",
		}),
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ryvie_resolution_duration_seconds",
			Help:    "Time from the start of a cycle to its first settled state",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ConnectionMode: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ryvie_connection_mode",
			Help: "Current connection mode (1 for the active mode, 0 otherwise)",
		}, []string{"mode"}),
		Busy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ryvie_resolution_in_progress",
			Help: "1 while a resolution cycle is loading",
		}),

		MeshSetups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ryvie_mesh_setups_total",
			Help: "Mesh setup attempts by result (ok or the failing stage)",
		}, []string{"result"}),
		MeshSetupDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ryvie_mesh_setup_duration_seconds",
			Help:    "Mesh setup duration",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),

		Info: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ryvie_launcher_info",
			Help: "Launcher information (value is always 1)",
		}, []string{"version"}),
	}

	m.Info.WithLabelValues(version).Set(1)

	return m
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
