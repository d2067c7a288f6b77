// Package metrics exposes scan and HTTP metrics in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
)

// Recorder owns a private registry and the secscan collectors. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	scansTotal     *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
	securityScore  prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

// NewRecorder creates a recorder. Runtime collectors are added when
// includeRuntime is true.
func NewRecorder(includeRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	if includeRuntime {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	r := &Recorder{
		registry: reg,
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secscan_scans_total",
				Help: "Scans executed, by scan type and final status",
			},
			[]string{"scan_type", "status"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secscan_findings_total",
				Help: "Findings reported, by category and severity",
			},
			[]string{"category", "severity"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secscan_module_duration_seconds",
				Help:    "Time spent in each scanning module",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"module"},
		),
		securityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secscan_security_score",
				Help:    "Distribution of computed security scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secscan_http_requests_total",
				Help: "API requests served, by route and status code",
			},
			[]string{"path", "status"},
		),
	}

	reg.MustRegister(r.scansTotal, r.findingsTotal, r.moduleDuration, r.securityScore, r.httpRequests)
	return r
}

// ObserveScan records a finished scan with its score and findings.
func (r *Recorder) ObserveScan(scanType, status string, score int, findings []finding.Finding) {
	if r == nil {
		return
	}
	r.scansTotal.WithLabelValues(scanType, status).Inc()
	if status != "completed" {
		return
	}
	r.securityScore.Observe(float64(score))
	for _, f := range findings {
		r.findingsTotal.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
}

// ObserveModule records how long one module took, in milliseconds.
func (r *Recorder) ObserveModule(module string, durationMs float64) {
	if r == nil {
		return
	}
	r.moduleDuration.WithLabelValues(module).Observe(durationMs / 1000)
}

// ObserveRequest counts one served API request.
func (r *Recorder) ObserveRequest(path string, status int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers adding collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
