package reseed

import (
	"context"
	"errors"
	"testing"

	"github.com/hollowtree/veild/internal/probe"
)

// scriptedProber answers per-URL and records probe order.
type scriptedProber struct {
	reachable map[string]bool
	badURLs   map[string]bool
	order     []string
}

func (s *scriptedProber) Probe(_ context.Context, rawURL string) (probe.Outcome, error) {
	s.order = append(s.order, rawURL)
	if s.badURLs[rawURL] {
		return probe.OutcomeUntested, errors.New("malformed URL")
	}
	if s.reachable[rawURL] {
		return probe.OutcomeReachable, nil
	}
	return probe.OutcomeUnreachable, nil
}

func discovery(p Prober, candidates []string, quota int) *Discovery {
	return &Discovery{Candidates: candidates, Quota: quota, Prober: p}
}

func TestDiscover_QuotaEarlyStop(t *testing.T) {
	candidates := []string{"https://a/", "https://b/", "https://c/", "https://d/", "https://e/"}
	p := &scriptedProber{reachable: map[string]bool{
		"https://a/": true, "https://b/": true, "https://c/": true, "https://d/": true,
	}}
	got := discovery(p, candidates, 3).Discover(context.Background())
	want := []string{"https://a/", "https://b/", "https://c/"}
	assertEndpoints(t, got, want)
	if len(p.order) != 3 {
		t.Fatalf("probed %d candidates, want early stop at 3", len(p.order))
	}
}

func TestDiscover_PriorityOrderPreserved(t *testing.T) {
	candidates := []string{"https://a/", "https://b/", "https://c/", "https://d/"}
	p := &scriptedProber{reachable: map[string]bool{
		"https://b/": true, "https://d/": true,
	}}
	got := discovery(p, candidates, 3).Discover(context.Background())
	assertEndpoints(t, got, []string{"https://b/", "https://d/"})
}

func TestDiscover_AllUnreachableFallsBack(t *testing.T) {
	// 8 priority endpoints, none reachable: the 2-entry fallback list
	// must come back unchanged.
	p := &scriptedProber{}
	got := discovery(p, DefaultCandidates, DefaultQuota).Discover(context.Background())
	assertEndpoints(t, got, FallbackEndpoints)
	if len(p.order) != len(DefaultCandidates) {
		t.Fatalf("probed %d, want full list %d", len(p.order), len(DefaultCandidates))
	}
}

func TestDiscover_NeverEmpty(t *testing.T) {
	p := &scriptedProber{}
	got := discovery(p, nil, 3).Discover(context.Background())
	if len(got) == 0 {
		t.Fatalf("Discover returned an empty endpoint set")
	}
}

func TestDiscover_MalformedCandidateSkipped(t *testing.T) {
	candidates := []string{"://bad", "https://good/"}
	p := &scriptedProber{
		badURLs:   map[string]bool{"://bad": true},
		reachable: map[string]bool{"https://good/": true},
	}
	got := discovery(p, candidates, 1).Discover(context.Background())
	assertEndpoints(t, got, []string{"https://good/"})
}

func TestDiscover_CancelledContextFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProber{reachable: map[string]bool{"https://a/": true}}
	got := discovery(p, []string{"https://a/"}, 1).Discover(ctx)
	assertEndpoints(t, got, FallbackEndpoints)
}

func TestJoin(t *testing.T) {
	got := Join([]string{"https://a/", "https://b/"})
	if got != "https://a/,https://b/" {
		t.Fatalf("Join = %q", got)
	}
	if Join(nil) != "" {
		t.Fatalf("Join(nil) should be empty string")
	}
}

func assertEndpoints(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("endpoints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("endpoints[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}
