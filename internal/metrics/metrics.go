// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "confingest"

// Metrics holds the pipeline collectors. A Metrics built with New(false)
// records nothing and serves 404.
type Metrics struct {
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	timeouts       prometheus.Counter
	stanzasWritten prometheus.Counter
	recordsWritten *prometheus.CounterVec
	defects        *prometheus.CounterVec
	linesSkipped   prometheus.Counter
	bytesExtracted prometheus.Counter
	activeJobs     prometheus.Gauge
	queuedJobs     prometheus.Gauge
	batchesSkipped *prometheus.CounterVec
	registry       *prometheus.Registry
}

// New creates the collectors on a private registry.
func New(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Job attempts by final state and error class",
			},
			[]string{"state", "class"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job attempts in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"state"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_retries_scheduled_total",
				Help:      "Retries scheduled by error class",
			},
			[]string{"class"},
		),
		timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_timeouts_total",
				Help:      "Attempts failed by stale heartbeat or wall-clock limit",
			},
		),
		stanzasWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stanzas_written_total",
				Help:      "Generic stanza rows inserted",
			},
		),
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_written_total",
				Help:      "Typed record rows inserted by family",
			},
			[]string{"family"},
		),
		defects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "projection_defects_total",
				Help:      "Stanzas whose projection failed, by family",
			},
			[]string{"family"},
		),
		linesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conf_lines_skipped_total",
				Help:      "Unrecognised .conf lines skipped by the parser",
			},
		),
		bytesExtracted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_bytes_extracted_total",
				Help:      "Bytes written while extracting archives",
			},
		),
		batchesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_skipped_total",
				Help:      "Batch writes skipped because the job already had rows",
			},
			[]string{"table"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Job attempts currently running",
			},
		),
		queuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_jobs",
				Help:      "Jobs waiting for a worker",
			},
		),
	}

	registry.MustRegister(
		m.jobsFinished,
		m.jobDuration,
		m.retries,
		m.timeouts,
		m.stanzasWritten,
		m.recordsWritten,
		m.defects,
		m.linesSkipped,
		m.bytesExtracted,
		m.batchesSkipped,
		m.activeJobs,
		m.queuedJobs,
	)
	return m
}

// Job Metrics

// JobStarted marks an attempt as running.
func (m *Metrics) JobStarted() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished records the end of an attempt. class is empty on success.
func (m *Metrics) JobFinished(state, class string, d time.Duration) {
	if m.jobsFinished == nil {
		return
	}
	m.jobsFinished.WithLabelValues(state, class).Inc()
	m.jobDuration.WithLabelValues(state).Observe(d.Seconds())
	m.activeJobs.Dec()
}

// RetryScheduled records a retry for a failed attempt of the given class.
func (m *Metrics) RetryScheduled(class string) {
	if m.retries == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

// Timeout records an attempt failed for time.
func (m *Metrics) Timeout() {
	if m.timeouts == nil {
		return
	}
	m.timeouts.Inc()
}

// Pipeline Metrics

// StanzasWritten adds n inserted stanza rows.
func (m *Metrics) StanzasWritten(n int) {
	if m.stanzasWritten == nil {
		return
	}
	m.stanzasWritten.Add(float64(n))
}

// RecordsWritten adds n inserted rows of family.
func (m *Metrics) RecordsWritten(family string, n int) {
	if m.recordsWritten == nil {
		return
	}
	m.recordsWritten.WithLabelValues(family).Add(float64(n))
}

// ProjectionDefect records one stanza that failed to project.
func (m *Metrics) ProjectionDefect(family string) {
	if m.defects == nil {
		return
	}
	m.defects.WithLabelValues(family).Inc()
}

// LinesSkipped adds n skipped .conf lines.
func (m *Metrics) LinesSkipped(n int) {
	if m.linesSkipped == nil {
		return
	}
	m.linesSkipped.Add(float64(n))
}

// BytesExtracted adds n extracted bytes.
func (m *Metrics) BytesExtracted(n int64) {
	if m.bytesExtracted == nil {
		return
	}
	m.bytesExtracted.Add(float64(n))
}

// BatchSkipped records an idempotent skip on table.
func (m *Metrics) BatchSkipped(table string) {
	if m.batchesSkipped == nil {
		return
	}
	m.batchesSkipped.WithLabelValues(table).Inc()
}

// System Metrics

// SetQueuedJobs sets the number of jobs waiting for a worker.
func (m *Metrics) SetQueuedJobs(n int) {
	if m.queuedJobs == nil {
		return
	}
	m.queuedJobs.Set(float64(n))
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
