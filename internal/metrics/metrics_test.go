package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	DownloadsTotal.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed")); got < 1 {
		t.Fatalf("expected completed counter >= 1, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "vod_cache_downloads_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("vod_cache_downloads_total not registered")
	}
}

func TestRegisterTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustRegister to panic on duplicate registration")
		}
	}()
	Register(reg)
}
