package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCallEnd(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCallStart()
	m.RecordCallStart()
	m.RecordCallEnd(false, 12)
	m.RecordCallEnd(true, 3)

	if got := testutil.ToFloat64(m.CallsTotal); got != 2 {
		t.Errorf("calls_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CallsActive); got != 0 {
		t.Errorf("calls_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.CallsCompleted); got != 1 {
		t.Errorf("calls_completed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CallsFailed); got != 1 {
		t.Errorf("calls_failed_total = %v, want 1", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("call.transcripts", "final", nil, 0.01)
	m.RecordKafkaPublish("call.transcripts", "final", errors.New("broker down"), 0.5)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("call.transcripts", "final")); got != 2 {
		t.Errorf("kafka_publish_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("call.transcripts", "final")); got != 1 {
		t.Errorf("kafka_publish_errors_total = %v, want 1", got)
	}
}

func TestRecordFrames(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFrames(5, 3)
	m.RecordFrames(2, 0)
	m.RecordFrameDropped("mock")

	if got := testutil.ToFloat64(m.FramesEmitted); got != 7 {
		t.Errorf("frames emitted = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.SilentFrames); got != 3 {
		t.Errorf("silent frames = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.BridgeFramesDropped.WithLabelValues("mock")); got != 1 {
		t.Errorf("dropped frames = %v, want 1", got)
	}
}
