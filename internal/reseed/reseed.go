// Package reseed builds a working peer-bootstrap endpoint set for the I2P
// daemon. A router with an empty netDb needs at least one reachable reseed
// mirror, and which mirrors answer varies by network position, so the set
// is discovered at boot instead of hard-coded.
package reseed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hollowtree/veild/internal/probe"
)

// DefaultQuota bounds discovery latency: probing stops as soon as this many
// working mirrors are found instead of exhausting the whole list.
const DefaultQuota = 3

// DefaultCandidates is the priority-ordered mirror list. Order matters:
// earlier entries have historically been the most reliable.
var DefaultCandidates = []string{
	"https://reseed.diva.exchange/",
	"https://reseed.i2pgit.org/",
	"https://i2p.novg.net/",
	"https://reseed.memcpy.io/",
	"https://i2pseed.creativecowpat.net:8443/",
	"https://reseed.onion.im/",
	"https://reseed.atomike.ninja/",
	"https://banana.incognet.io/",
}

// FallbackEndpoints is substituted when discovery finds nothing reachable.
// The daemon must always receive a non-empty bootstrap set; handing it an
// empty reseed.urls would disable reseeding entirely.
var FallbackEndpoints = []string{
	"https://reseed.i2p-projekt.de/",
	"https://reseed.memcpy.io/",
}

// Candidate is one mirror under test. Constructed fresh per discovery run,
// never persisted.
type Candidate struct {
	URL     string
	Rank    int
	Outcome probe.Outcome
}

// Prober abstracts probe.EndpointProbe so discovery can be tested without
// the network, and so the real prober can be swapped for one routed through
// the Tor daemon during cross-bootstrap recovery.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (probe.Outcome, error)
}

// Discovery probes a prioritized candidate list and accumulates reachable
// endpoints up to a quota.
type Discovery struct {
	Candidates []string
	Quota      int
	Budget     time.Duration // total wall-clock budget; zero means unbounded
	Prober     Prober
	Logger     *slog.Logger
}

// New returns a Discovery over the default mirror list using the given
// prober.
func New(p Prober, logger *slog.Logger) *Discovery {
	return &Discovery{
		Candidates: DefaultCandidates,
		Quota:      DefaultQuota,
		Budget:     2 * time.Minute,
		Prober:     p,
		Logger:     logger,
	}
}

// Discover probes candidates in priority order, stopping early at the
// quota. It returns reachable endpoints in original priority order, or the
// fixed fallback set when nothing answered; the result is never empty.
// All diagnostics go to the logger so a caller can pipe the return value
// straight into a config template.
func (d *Discovery) Discover(ctx context.Context) []string {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	quota := d.Quota
	if quota <= 0 {
		quota = DefaultQuota
	}
	if d.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Budget)
		defer cancel()
	}

	candidates := make([]Candidate, len(d.Candidates))
	for i, u := range d.Candidates {
		candidates[i] = Candidate{URL: u, Rank: i}
	}

	working := make([]string, 0, quota)
	for i := range candidates {
		if ctx.Err() != nil {
			log.Warn("reseed discovery budget exhausted", "probed", i, "found", len(working))
			break
		}
		c := &candidates[i]
		outcome, err := d.Prober.Probe(ctx, c.URL)
		if err != nil {
			log.Warn("skipping malformed reseed candidate", "url", c.URL, "err", err)
			c.Outcome = probe.OutcomeUnreachable
			continue
		}
		c.Outcome = outcome
		log.Debug("reseed candidate probed", "url", c.URL, "rank", c.Rank, "outcome", outcome.String())
		if outcome == probe.OutcomeReachable {
			working = append(working, c.URL)
			if len(working) >= quota {
				log.Info("reseed quota reached", "quota", quota, "probed", i+1)
				break
			}
		}
	}

	if len(working) == 0 {
		log.Warn("no reachable reseed mirrors; using fallback set", "fallback", len(FallbackEndpoints))
		return append([]string(nil), FallbackEndpoints...)
	}
	log.Info("reseed discovery complete", "endpoints", len(working))
	return working
}

// Join renders an endpoint list the way i2pd's reseed.urls key expects it.
// Deterministic given the same probe outcomes.
func Join(endpoints []string) string {
	return strings.Join(endpoints, ",")
}
