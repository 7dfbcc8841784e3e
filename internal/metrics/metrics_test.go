package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatal("metric is neither counter nor gauge")
	return 0
}

func TestCounters(t *testing.T) {
	before := value(t, outcomes.WithLabelValues("Revoked"))
	Outcome("Revoked")
	if got := value(t, outcomes.WithLabelValues("Revoked")); got != before+1 {
		t.Errorf("outcomes = %v, want %v", got, before+1)
	}

	Head(1234)
	if got := value(t, headHeight); got != 1234 {
		t.Errorf("head = %v, want 1234", got)
	}

	before = value(t, announcementsSeen.WithLabelValues("unsafe"))
	Announcement(false)
	if got := value(t, announcementsSeen.WithLabelValues("unsafe")); got != before+1 {
		t.Errorf("unsafe announcements = %v, want %v", got, before+1)
	}

	SidecarRequest("GET", "/blocks/latest", 200, 10*time.Millisecond)
	if got := value(t, sidecarRequests.WithLabelValues("GET", "/blocks/latest", "200")); got < 1 {
		t.Errorf("sidecar requests = %v, want >= 1", got)
	}
}
