package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry               *prometheus.Registry
	jobsTotal              *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
	activeJobs             prometheus.Gauge
	batchesTotal           prometheus.Counter
	samplesTotal           prometheus.Counter
	bytesWrittenTotal      prometheus.Counter
	transformFailuresTotal prometheus.Counter
	computeTimeMSTotal     prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kronos_worker_jobs_total",
			Help: "Total dataset jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kronos_worker_job_duration_seconds",
			Help:    "Wall time spent preparing all batches of a job.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kronos_worker_active_jobs",
			Help: "Current number of jobs holding a processing slot.",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kronos_worker_batches_emitted_total",
			Help: "Total minibatches encoded and written.",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kronos_usage_samples_processed_total",
			Help: "Total samples transformed into emitted batches.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kronos_usage_bytes_written_total",
			Help: "Total feature and label bytes written.",
		}),
		transformFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kronos_worker_transform_failures_total",
			Help: "Total jobs aborted by a failing sample transform.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kronos_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.batchesTotal,
		m.samplesTotal,
		m.bytesWrittenTotal,
		m.transformFailuresTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
