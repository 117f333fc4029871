package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionGauge(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(3 * time.Second)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("active_sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionEvents.WithLabelValues("opened")); got != 2 {
		t.Fatalf("session_events_total{opened} = %v, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.FrameDropped("decode")
	m.UpstreamError("unavailable")
	m.ObserveConnectLatency(time.Second)
}

func TestFrameDropped(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.FrameDropped("stale_turn")
	m.FrameDropped("stale_turn")
	if got := testutil.ToFloat64(m.DroppedFrames.WithLabelValues("stale_turn")); got != 2 {
		t.Fatalf("dropped_frames_total{stale_turn} = %v, want 2", got)
	}
}
