package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prom.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.SetConnectionState("CONNECTED")
	pr.IncReconnect("watchdog")
	pr.ObserveFetch("songs", 150*time.Millisecond, FetchSuccess)
	pr.ObserveFetch("songs", 0, FetchCircuitOpen)
	pr.IncDroppedRows("songs", 2)
	pr.SetCircuitState("collection:songs", "OPEN")
	pr.IncMutation("requests", false)

	mfs := gather(t, reg)

	state := mfs["gigsync_connection_state"]
	if state == nil {
		t.Fatal("connection_state not exported")
	}
	for _, m := range state.GetMetric() {
		want := 0.0
		if m.GetLabel()[0].GetValue() == "CONNECTED" {
			want = 1
		}
		if got := m.GetGauge().GetValue(); got != want {
			t.Errorf("connection_state{%s} = %v, want %v", m.GetLabel()[0].GetValue(), got, want)
		}
	}

	results := mfs["gigsync_fetch_results_total"]
	if results == nil || len(results.GetMetric()) != 2 {
		t.Fatalf("fetch_results_total = %v, want 2 series", results)
	}

	hist := mfs["gigsync_fetch_duration_seconds"]
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Error("circuit-open fast fails must not be observed as read durations")
	}

	if got := mfs["gigsync_dropped_rows_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("dropped_rows_total = %v, want 2", got)
	}
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncReconnect("manual")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `gigsync_reconnects_total{reason="manual"} 1`) {
		t.Errorf("body missing reconnect counter:\n%s", rec.Body.String())
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Error("OrNoop(nil) is not NoopRecorder")
	}
}
