package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.CyclesTotal == nil {
		t.Error("CyclesTotal is nil")
	}
	if m.NotificationsTotal == nil {
		t.Error("NotificationsTotal is nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	SetGlobal(nil)
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
}

func TestObserveCycle(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	finished := time.Unix(1700000000, 0)
	ObserveCycle("success", "done", 2*time.Second, finished)
	ObserveCycle("error", "fetch", time.Second, finished)
	ObserveCycle("success", "done", time.Second, finished)

	counter, err := m.CyclesTotal.GetMetricWithLabelValues("success", "done")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}

	if got := testutil.ToFloat64(m.LastCycleTimestamp); got != 1700000000 {
		t.Errorf("LastCycleTimestamp = %f", got)
	}
	if got := testutil.CollectAndCount(m.CycleDurationSeconds); got != 1 {
		t.Errorf("CycleDurationSeconds series = %d, want 1", got)
	}
}

func TestSetServer(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetServer(48, 64, 3, 7)

	if got := testutil.ToFloat64(m.PlayersCurrent); got != 48 {
		t.Errorf("PlayersCurrent = %f, want 48", got)
	}
	if got := testutil.ToFloat64(m.PlayersMax); got != 64 {
		t.Errorf("PlayersMax = %f, want 64", got)
	}
	if got := testutil.ToFloat64(m.QueueLength); got != 3 {
		t.Errorf("QueueLength = %f, want 3", got)
	}
	if got := testutil.ToFloat64(m.WindowSamples); got != 7 {
		t.Errorf("WindowSamples = %f, want 7", got)
	}
}

func TestIncCounters(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncUpstreamRequests("servers", "success")
	IncUpstreamRequests("servers", "success")
	IncNotifications("low_players", "discord", "success")
	IncNotifications("low_players", "mail", "error")
	IncProfileUpdates("avatar", "success")

	if got := testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("servers", "success")); got != 2 {
		t.Errorf("upstream requests = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("low_players", "mail", "error")); got != 1 {
		t.Errorf("mail errors = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProfileUpdatesTotal.WithLabelValues("avatar", "success")); got != 1 {
		t.Errorf("avatar updates = %f, want 1", got)
	}
}

func TestGlobalNilSafe(t *testing.T) {
	SetGlobal(nil)

	// These should not panic when global is nil
	ObserveCycle("success", "done", time.Second, time.Now())
	SetServer(1, 2, 3, 4)
	IncUpstreamRequests("servers", "error")
	IncNotifications("server_up", "discord", "success")
	IncProfileUpdates("presence", "error")
}
