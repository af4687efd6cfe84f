// Package metrics exposes provisioning counters and timings in Prometheus
// format, either over HTTP or as a node_exporter textfile.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jbweber/anvil/api/v1alpha1"
)

const (
	labelStep   = "step"
	labelResult = "result"
	labelPhase  = "phase"

	resultSuccess = "success"
	resultError   = "error"
)

// stepBuckets cover fast metadata calls up to slow volume allocation.
var stepBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// Recorder records provisioning metrics into its own registry. It satisfies
// the provisioner's Observer interface.
type Recorder struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// NewRecorder creates a Recorder. When withProcess is true the Go runtime
// and process collectors are registered as well, which suits a long running
// server but not a textfile written by a one-shot CLI run.
func NewRecorder(withProcess bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anvil_provision_steps_total",
			Help: "Number of host-facing provisioning steps by step and result",
		}, []string{labelStep, labelResult}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anvil_provision_step_duration_seconds",
			Help:    "Length of time per provisioning step",
			Buckets: stepBuckets,
		}, []string{labelStep}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anvil_provision_runs_total",
			Help: "Number of provisioning runs by final phase",
		}, []string{labelPhase}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anvil_provision_duration_seconds",
			Help:    "Length of time per provisioning run",
			Buckets: stepBuckets,
		}, []string{labelPhase}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anvil_provision_in_flight",
			Help: "Number of provisioning runs currently executing",
		}),
	}

	r.registry.MustRegister(r.steps, r.stepDuration, r.outcomes, r.runDuration, r.inFlight)
	if withProcess {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// ObserveStep records one step and its duration.
func (r *Recorder) ObserveStep(step string, duration time.Duration, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	r.steps.With(prometheus.Labels{labelStep: step, labelResult: result}).Inc()
	r.stepDuration.With(prometheus.Labels{labelStep: step}).Observe(duration.Seconds())
}

// ObserveOutcome records the final phase of a run.
func (r *Recorder) ObserveOutcome(phase v1alpha1.Phase, duration time.Duration) {
	labels := prometheus.Labels{labelPhase: string(phase)}
	r.outcomes.With(labels).Inc()
	r.runDuration.With(labels).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the function that
// decrements it.
func (r *Recorder) TrackInFlight() func() {
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to path for the node_exporter
// textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
