// Package metrics exposes run results in the Prometheus textfile collector
// format, so node_exporter picks them up without restartcheck running a
// server.
package metrics

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/staleproc/restartcheck/pkg/models"
)

const namespace = "restartcheck"

// Recorder collects the gauges one run produces.
type Recorder struct {
	reg *prometheus.Registry

	kernelRestart prometheus.Gauge
	staleFiles    prometheus.Gauge
	packages      *prometheus.GaugeVec
	lastRun       prometheus.Gauge
	runSuccess    prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

// NewRecorder returns a recorder with all series registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		kernelRestart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kernel_restart_required",
			Help:      "Whether the running kernel is older than the newest installed one.",
		}),
		staleFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_files",
			Help:      "Deleted or superseded files still held open by running processes.",
		}),
		packages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packages",
			Help:      "Packages with processes on stale files, by restartability.",
		}, []string{"bucket"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "End time of the last run (unix seconds).",
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last run completed, 0 if it failed.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for restartcheck.",
		}, []string{"version", "commit", "go_version"}),
	}
	r.reg.MustRegister(r.kernelRestart, r.staleFiles, r.packages,
		r.lastRun, r.runSuccess, r.buildInfo)
	return r
}

// SetBuildInfo pins the build info series.
func (r *Recorder) SetBuildInfo(version, commit string) {
	r.buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Observe records one finished report.
func (r *Recorder) Observe(rep *models.Report) {
	r.kernelRestart.Set(boolValue(rep.KernelRestart))
	r.staleFiles.Set(float64(rep.StaleFiles))

	restartable, nonRestartable := 0, 0
	if rep.Plan != nil {
		restartable = len(rep.Plan.Restartable)
		nonRestartable = len(rep.Plan.NonRestartable)
	}
	r.packages.WithLabelValues("restartable").Set(float64(restartable))
	r.packages.WithLabelValues("non_restartable").Set(float64(nonRestartable))
	r.runSuccess.Set(1)
}

// ObserveFailure records a run that did not produce a report.
func (r *Recorder) ObserveFailure() {
	r.runSuccess.Set(0)
}

// SetLastRun records the run end time.
func (r *Recorder) SetLastRun(t time.Time) {
	r.lastRun.Set(float64(t.Unix()))
}

// Render encodes all registered series in the Prometheus text format.
func (r *Recorder) Render() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var b strings.Builder
	enc := expfmt.NewEncoder(&b, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return b.String(), nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
