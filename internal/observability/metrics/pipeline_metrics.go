package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PhaseIngest         = "ingest"
	PhaseValidation     = "validation"
	PhaseVOP            = "vop"
	PhaseBilling        = "billing"
	PhaseReconciliation = "reconciliation"
)

// PipelineMetrics captures phase-job health signals on the default
// Prometheus registry, scraped by the /metrics endpoint.
type PipelineMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobErrors       *prometheus.CounterVec
	chunksProcessed *prometheus.CounterVec
	rowsProcessed   *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	lockWait        *prometheus.HistogramVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry
// using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "sepa-recovery"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &PipelineMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recovery_pipeline_job_runs_total",
			Help:        "Phase job runs by phase and result.",
			ConstLabels: constLabels,
		}, []string{"phase", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "recovery_pipeline_job_duration_seconds",
			Help:        "Phase job wall time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"phase"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recovery_pipeline_job_errors_total",
			Help:        "Phase job errors by phase and error class.",
			ConstLabels: constLabels,
		}, []string{"phase", "error_type"}),
		chunksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recovery_pipeline_chunks_total",
			Help:        "Dispatched chunks by queue and result.",
			ConstLabels: constLabels,
		}, []string{"queue", "result"}),
		rowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recovery_pipeline_rows_total",
			Help:        "Rows processed by phase and outcome.",
			ConstLabels: constLabels,
		}, []string{"phase", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "recovery_pipeline_queue_depth",
			Help:        "Buffered tasks per named queue.",
			ConstLabels: constLabels,
		}, []string{"queue"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "recovery_pipeline_lock_wait_seconds",
			Help:        "Wall time spent waiting on shared locks.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"resource"}),
	}

	for _, collector := range []prometheus.Collector{
		m.jobRuns, m.jobDuration, m.jobErrors, m.chunksProcessed,
		m.rowsProcessed, m.queueDepth, m.lockWait,
	} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}

// ObserveJobRun records one finished phase job.
func (m *PipelineMetrics) ObserveJobRun(phase, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(phase, result).Inc()
	m.jobDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// ObserveJobError records one phase job failure.
func (m *PipelineMetrics) ObserveJobError(phase, errorType string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(phase, errorType).Inc()
}

// ObserveChunk records one drained chunk.
func (m *PipelineMetrics) ObserveChunk(queue, result string) {
	if m == nil {
		return
	}
	m.chunksProcessed.WithLabelValues(queue, result).Inc()
}

// ObserveRows records n rows handled by a phase with one outcome.
func (m *PipelineMetrics) ObserveRows(phase, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsProcessed.WithLabelValues(phase, outcome).Add(float64(n))
}

// SetQueueDepth publishes the buffered task count of one queue.
func (m *PipelineMetrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveLockWait records time spent acquiring a shared lock.
func (m *PipelineMetrics) ObserveLockWait(resource string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(elapsed.Seconds())
}
