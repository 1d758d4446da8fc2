// Package metrics records per-run pipeline metrics in a private Prometheus
// registry and writes them as a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// FileName is the textfile written next to the run summary.
const FileName = "metrics.prom"

// Metrics holds the collectors of one run. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	SourceFetches   *prometheus.CounterVec
	SourceRecords   *prometheus.GaugeVec
	SourceAttempts  *prometheus.GaugeVec
	SourceDuration  *prometheus.GaugeVec
	MalformedFields *prometheus.CounterVec
	Claims          *prometheus.GaugeVec
	Unresolved      prometheus.Gauge
	Conflicted      prometheus.Gauge
	Exports         *prometheus.CounterVec
	StageDuration   *prometheus.GaugeVec
	LastRun         prometheus.Gauge
}

// New creates the run metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodeclaim_source_fetch_total",
			Help: "Source fetch outcomes by source and status",
		}, []string{"source", "kind", "status"}),
		SourceRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lodeclaim_source_records",
			Help: "Raw records parsed from each source",
		}, []string{"source"}),
		SourceAttempts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lodeclaim_source_fetch_attempts",
			Help: "HTTP attempts spent on each source, retries included",
		}, []string{"source"}),
		SourceDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lodeclaim_source_fetch_duration_seconds",
			Help: "Wall time spent fetching and parsing each source",
		}, []string{"source"}),
		MalformedFields: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodeclaim_malformed_fields_total",
			Help: "Fields dropped during normalization because they failed to parse",
		}, []string{"source"}),
		Claims: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lodeclaim_claims",
			Help: "Reconciled claims by lifecycle state",
		}, []string{"state"}),
		Unresolved: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lodeclaim_unresolved_records",
			Help: "Records without a derivable claim id",
		}),
		Conflicted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lodeclaim_conflicted_claims",
			Help: "Claims flagged for review after an unresolvable field conflict",
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lodeclaim_export_total",
			Help: "Export sink results",
		}, []string{"sink", "result"}),
		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lodeclaim_stage_duration_seconds",
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lodeclaim_last_run_timestamp_seconds",
			Help: "Unix time the run finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records one source outcome.
func (m *Metrics) ObserveFetch(o model.FetchOutcome) {
	if m == nil {
		return
	}
	m.SourceFetches.WithLabelValues(o.SourceID, string(o.Kind), string(o.Status)).Inc()
	if o.Status == model.FetchSkipped {
		return
	}
	m.SourceRecords.WithLabelValues(o.SourceID).Set(float64(o.Records))
	m.SourceAttempts.WithLabelValues(o.SourceID).Set(float64(o.Attempts))
	m.SourceDuration.WithLabelValues(o.SourceID).Set(o.Duration.Seconds())
}

// AddMalformed records malformed field counts keyed by source id.
func (m *Metrics) AddMalformed(bySource map[string]int) {
	if m == nil {
		return
	}
	for src, n := range bySource {
		m.MalformedFields.WithLabelValues(src).Add(float64(n))
	}
}

// SetReconciled records the reconcile stage result.
func (m *Metrics) SetReconciled(unresolved, conflicted int) {
	if m == nil {
		return
	}
	m.Unresolved.Set(float64(unresolved))
	m.Conflicted.Set(float64(conflicted))
}

// SetLifecycle records the lifecycle distribution. Every state is set, zero included.
func (m *Metrics) SetLifecycle(byName map[string]int) {
	if m == nil {
		return
	}
	for _, s := range model.AllLifecycleStates {
		m.Claims.WithLabelValues(s.String()).Set(float64(byName[s.String()]))
	}
}

// ObserveExport records one export sink result.
func (m *Metrics) ObserveExport(o model.ExportOutcome) {
	if m == nil {
		return
	}
	result := "ok"
	if o.Error != "" {
		result = "error"
	}
	m.Exports.WithLabelValues(o.Sink, result).Inc()
}

// ObserveStage records the duration of a pipeline stage since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Set(time.Since(start).Seconds())
}

// WriteTextfile stamps the finish time and writes every metric to path.
func (m *Metrics) WriteTextfile(path string, finished time.Time) error {
	if m == nil {
		return nil
	}
	m.LastRun.Set(float64(finished.Unix()))
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
