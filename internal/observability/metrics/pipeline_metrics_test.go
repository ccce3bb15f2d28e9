package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsSingleton(t *testing.T) {
	ResetPipelineMetricsForTest()
	t.Cleanup(ResetPipelineMetricsForTest)

	first := PipelineWithConfig(Config{ServiceName: "sepa-recovery", Environment: "test"})
	second := Pipeline()
	if first != second {
		t.Fatalf("expected the same registry instance")
	}
}

func TestPipelineMetricsObserversDoNotPanic(t *testing.T) {
	ResetPipelineMetricsForTest()
	t.Cleanup(ResetPipelineMetricsForTest)

	m := newPipelineMetrics(prometheus.NewRegistry(), Config{ServiceName: "sepa-recovery", Environment: "test"})
	m.ObserveJobRun("billing", "ok", 120*time.Millisecond)
	m.ObserveJobError("billing", "db")
	m.ObserveChunk("billing", "ok")
	m.ObserveRows("validation", "invalid", 3)
	m.SetQueueDepth("billing", 2)
	m.ObserveLockWait("billing_dispatch", 5*time.Millisecond)

	var nilMetrics *PipelineMetrics
	nilMetrics.ObserveJobRun("billing", "ok", time.Second)
	nilMetrics.ObserveChunk("billing", "ok")
}
