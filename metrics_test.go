package eventcore

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusEventObserverRecordsSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusEventObserver(reg)

	o.ObserveEventSuccess("agent_heartbeat", 10*time.Millisecond)
	o.ObserveEventFailure("agent_heartbeat", 5*time.Millisecond, errTestFailure)

	if got := testutil.ToFloat64(o.total.WithLabelValues("agent_heartbeat", "success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(o.total.WithLabelValues("agent_heartbeat", "failure")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
}

func TestPrometheusBackgroundTaskObserverRecordsStartedAndDone(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusBackgroundTaskObserver(reg)

	o.ObserveBgtaskStarted("export")
	o.ObserveBgtaskDone("export", TaskDone, 2*time.Second, "")
	o.ObserveBgtaskDone("export", TaskFailed, time.Second, DefaultErrorCode)

	if got := testutil.ToFloat64(o.started.WithLabelValues("export")); got != 1 {
		t.Errorf("expected 1 started, got %v", got)
	}
	if got := testutil.ToFloat64(o.done.WithLabelValues("export", string(TaskDone), "none")); got != 1 {
		t.Errorf("expected 1 done with error_code=none, got %v", got)
	}
	if got := testutil.ToFloat64(o.done.WithLabelValues("export", string(TaskFailed), string(DefaultErrorCode))); got != 1 {
		t.Errorf("expected 1 failed with the default error code, got %v", got)
	}
}

var errTestFailure = &testFailureError{}

type testFailureError struct{}

func (*testFailureError) Error() string { return "boom" }
