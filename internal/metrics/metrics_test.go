package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("tor-proxy")
	IncStart("tor-proxy")
	IncRestart("crawl-worker")
	IncStop("web-worker")
	RecordProbeResult("i2p-proxy", "console", "healthy")
	SetBootPhase("readiness-gate", []string{"init", "readiness-gate", "steady-state"})
	SetServiceReady("tor", true)
	SetServiceReady("i2p", false)
	SetReseedEndpoints(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"veild_role_starts_total":        false,
		"veild_role_restarts_total":      false,
		"veild_role_stops_total":         false,
		"veild_probe_results_total":      false,
		"veild_bootstrap_phase":          false,
		"veild_readiness_service_ready":  false,
		"veild_reseed_working_endpoints": false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServes(t *testing.T) {
	if Handler() == nil {
		t.Fatalf("Handler returned nil")
	}
}
