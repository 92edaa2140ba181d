// Package monitoring exports run and job store metrics for Prometheus.
// The batch submitter exits after one sweep, so metrics are written in the node_exporter
// textfile collector format instead of being served.
package monitoring

import (
	"fmt"
	"time"

	"hattivatti/core/models"
	"hattivatti/core/pipeline"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hattivatti"

// Store states reported by hattivatti_store_jobs
const (
	StoreStateInvalid   = "invalid"
	StoreStatePending   = "pending"
	StoreStateStaged    = "staged"
	StoreStateSubmitted = "submitted"
)

// MetricsExporter collects the metrics of one run
type MetricsExporter struct {
	registry *prometheus.Registry

	messages *prometheus.GaugeVec
	jobs     *prometheus.GaugeVec
	stored   *prometheus.GaugeVec
	dryRun   prometheus.Gauge
	lastRun  prometheus.Gauge
}

// NewMetricsExporter creates an exporter with its own registry
func NewMetricsExporter() *MetricsExporter {
	me := &MetricsExporter{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_messages",
			Help:      "Queue messages handled by the last run, by outcome",
		}, []string{"outcome"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_jobs",
			Help:      "Eligible jobs handled by the last run, by outcome",
		}, []string{"outcome"}),
		stored: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_jobs",
			Help:      "Jobs in the store, by state",
		}, []string{"state"}),
		dryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_dry_run",
			Help:      "1 if the last run was a dry run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	me.registry.MustRegister(me.messages, me.jobs, me.stored, me.dryRun, me.lastRun)
	return me
}

// Record sets the metrics from a run summary and the store contents after finalize
func (me *MetricsExporter) Record(summary *pipeline.Summary, jobs []models.Job, dryRun bool, finished time.Time) {
	me.messages.WithLabelValues("listed").Set(float64(summary.Listed))
	me.messages.WithLabelValues("ingested").Set(float64(summary.Ingested))
	me.messages.WithLabelValues("invalid").Set(float64(summary.Invalid))
	me.messages.WithLabelValues("duplicate").Set(float64(summary.Duplicates))

	me.jobs.WithLabelValues("rendered").Set(float64(summary.Rendered))
	me.jobs.WithLabelValues("submitted").Set(float64(summary.Submitted))
	me.jobs.WithLabelValues("failed").Set(float64(summary.Failed))

	counts := map[string]int{
		StoreStateInvalid:   0,
		StoreStatePending:   0,
		StoreStateStaged:    0,
		StoreStateSubmitted: 0,
	}
	for i := range jobs {
		counts[StoreState(&jobs[i])]++
	}
	for state, n := range counts {
		me.stored.WithLabelValues(state).Set(float64(n))
	}

	if dryRun {
		me.dryRun.Set(1)
	} else {
		me.dryRun.Set(0)
	}
	me.lastRun.Set(float64(finished.Unix()))
}

// WriteFile atomically writes the metrics to path for the textfile collector
func (me *MetricsExporter) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, me.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// StoreState classifies a stored job by its furthest state
func StoreState(job *models.Job) string {
	switch {
	case job.Submitted:
		return StoreStateSubmitted
	case job.Staged:
		return StoreStateStaged
	case job.Valid:
		return StoreStatePending
	default:
		return StoreStateInvalid
	}
}
