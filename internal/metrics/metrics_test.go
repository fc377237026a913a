package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue reads a counter from the default registry. labels must match
// every label of the series.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecordConnection(t *testing.T) {
	before := counterValue(t, "autoproxy_connections_total", map[string]string{"path": "fallback", "result": "ok"})
	up := counterValue(t, "autoproxy_bytes_total", map[string]string{"direction": "client_to_upstream"})
	down := counterValue(t, "autoproxy_bytes_total", map[string]string{"direction": "upstream_to_client"})

	RecordConnection("fallback", "ok", 10, 2000)

	if got := counterValue(t, "autoproxy_connections_total", map[string]string{"path": "fallback", "result": "ok"}); got != before+1 {
		t.Fatalf("connections=%v want %v", got, before+1)
	}
	if got := counterValue(t, "autoproxy_bytes_total", map[string]string{"direction": "client_to_upstream"}); got != up+10 {
		t.Fatalf("client_to_upstream=%v want %v", got, up+10)
	}
	if got := counterValue(t, "autoproxy_bytes_total", map[string]string{"direction": "upstream_to_client"}); got != down+2000 {
		t.Fatalf("upstream_to_client=%v want %v", got, down+2000)
	}
}

func TestRegisterCacheSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	if err := RegisterCacheSize(reg, func() int { return n }); err != nil {
		t.Fatal(err)
	}
	if err := RegisterCacheSize(reg, func() int { return n }); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	n = 7
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 1 || mfs[0].GetName() != "autoproxy_cache_entries" {
		t.Fatalf("unexpected metrics: %v", mfs)
	}
	if got := mfs[0].GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Fatalf("cache_entries=%v want 7", got)
	}
}
