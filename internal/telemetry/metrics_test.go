package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not registered", name)
	return nil
}

func TestMetricsNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsConfig{Subsystem: "server", Registry: reg})

	m.PacketsReceived.Inc()
	m.Remotes.Set(3)

	if got := findFamily(t, reg, "mayhem_server_packets_received_total").GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("packets_received_total = %v, want 1", got)
	}
	if got := findFamily(t, reg, "mayhem_server_remotes").GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("remotes = %v, want 3", got)
	}
}

func TestMetricsDropLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsConfig{Registry: reg})

	m.Drop(DropRateLimited)
	m.Drop(DropRateLimited)
	m.Drop(DropMismatch)

	want := map[string]float64{
		DropRateLimited: 2,
		DropMismatch:    1,
	}
	mf := findFamily(t, reg, "mayhem_drops_total")
	if len(mf.GetMetric()) != len(want) {
		t.Fatalf("got %d label sets, want %d", len(mf.GetMetric()), len(want))
	}
	for _, metric := range mf.GetMetric() {
		var reason string
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "reason" {
				reason = lp.GetValue()
			}
		}
		if got := metric.GetCounter().GetValue(); got != want[reason] {
			t.Errorf("drops{reason=%q} = %v, want %v", reason, got, want[reason])
		}
	}
}

func TestMetricsTickHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsConfig{Registry: reg})

	m.TickDuration.Observe(0.003)
	m.TickDuration.Observe(0.050)

	h := findFamily(t, reg, "mayhem_tick_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
}
