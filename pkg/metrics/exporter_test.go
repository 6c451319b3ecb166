package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/downfa11-org/raftlog/pkg/metrics"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveAppend(t *testing.T) {
	initialEntries := getCounterValue(metrics.EntriesAppended)
	initialLatency := getHistogramCount(metrics.AppendLatency)

	metrics.ObserveAppend(0.01)
	metrics.ObserveAppend(0.02)

	if got := getCounterValue(metrics.EntriesAppended); got != initialEntries+2 {
		t.Fatalf("EntriesAppended = %v, want %v", got, initialEntries+2)
	}
	if got := getHistogramCount(metrics.AppendLatency); got != initialLatency+2 {
		t.Fatalf("AppendLatency count = %v, want %v", got, initialLatency+2)
	}
}

func TestCommitGauges(t *testing.T) {
	metrics.CommitsOpen.Set(3)
	m := &dto.Metric{}
	_ = metrics.CommitsOpen.Write(m)
	if m.GetGauge().GetValue() != 3 {
		t.Fatalf("CommitsOpen = %v, want 3", m.GetGauge().GetValue())
	}
}
