package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics captures ingestion stage health signals.
type PipelineMetrics struct {
	stageProcessed *prometheus.CounterVec
	stageFailed    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

// SchedulerMetrics captures periodic job health signals.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var (
	pipelineOnce  sync.Once
	pipelineInst  *PipelineMetrics
	schedulerOnce sync.Once
	schedulerInst *SchedulerMetrics
)

// Pipeline returns the process-wide pipeline metrics.
func Pipeline() *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineInst = &PipelineMetrics{
			stageProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stardust",
				Subsystem: "pipeline",
				Name:      "stage_processed_total",
				Help:      "Deliveries processed per ingestion stage.",
			}, []string{"stage", "outcome"}),
			stageFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stardust",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Stage failures by class (terminal or transient).",
			}, []string{"stage", "class"}),
			stageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stardust",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Stage handler execution time.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"stage"}),
		}
	})
	return pipelineInst
}

// Scheduler returns the process-wide scheduler metrics.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerInst = &SchedulerMetrics{
			jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stardust",
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Scheduled job executions.",
			}, []string{"job"}),
			jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stardust",
				Subsystem: "scheduler",
				Name:      "job_errors_total",
				Help:      "Scheduled job failures.",
			}, []string{"job"}),
			jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stardust",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job execution time.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job"}),
		}
	})
	return schedulerInst
}

func (m *PipelineMetrics) IncStageProcessed(stage, outcome string) {
	m.stageProcessed.WithLabelValues(stage, outcome).Inc()
}

func (m *PipelineMetrics) IncStageFailed(stage, class string) {
	m.stageFailed.WithLabelValues(stage, class).Inc()
}

func (m *PipelineMetrics) ObserveStageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
