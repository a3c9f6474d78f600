// Package probe implements the two probing layers of the supervisor:
// generic endpoint reachability tests used by reseed discovery, and
// protocol-aware readiness probes run against the managed daemons.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Outcome is the result of probing one candidate endpoint.
type Outcome int

const (
	OutcomeUntested Outcome = iota
	OutcomeReachable
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReachable:
		return "reachable"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "untested"
	}
}

// partialReadCap bounds the fallback GET body read. Reseed mirrors serve
// multi-megabyte router bundles; a reachability test needs only proof that
// bytes flow.
const partialReadCap = 1024

// EndpointProbe tests whether a candidate network endpoint answers HTTP at
// all. It never returns an error for network failure, only for a malformed
// URL, which is a programming-contract violation on the caller's side.
type EndpointProbe struct {
	client *http.Client
}

// NewEndpointProbe builds a probe with independent connect and total
// timeouts. Transport is optional; when nil, direct dialing is used.
func NewEndpointProbe(connectTimeout, totalTimeout time.Duration, transport http.RoundTripper) *EndpointProbe {
	if transport == nil {
		transport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: totalTimeout,
			DisableKeepAlives:     true,
		}
	}
	return &EndpointProbe{
		client: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
		},
	}
}

// Probe attempts a metadata-only HEAD request first; when that fails it
// falls back to a partial-body GET, because some reseed mirrors reject
// HEAD but serve bodies fine.
func (p *EndpointProbe) Probe(ctx context.Context, rawURL string) (Outcome, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return OutcomeUntested, fmt.Errorf("probe: malformed URL %q: %w", rawURL, err)
	}
	if p.tryHead(ctx, rawURL) {
		return OutcomeReachable, nil
	}
	if p.tryPartialGet(ctx, rawURL) {
		return OutcomeReachable, nil
	}
	return OutcomeUnreachable, nil
}

func (p *EndpointProbe) tryHead(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return acceptableStatus(resp.StatusCode)
}

func (p *EndpointProbe) tryPartialGet(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", partialReadCap-1))
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if !acceptableStatus(resp.StatusCode) {
		return false
	}
	// Drain a capped slice of the body to prove bytes actually flow.
	_, err = io.CopyN(io.Discard, resp.Body, partialReadCap)
	return err == nil || err == io.EOF
}

// acceptableStatus treats any non-server-error response as proof of life.
// Mirrors answer 200, 206, 403, or a redirect depending on path; all of
// those mean something is listening and speaking HTTP.
func acceptableStatus(code int) bool {
	return code >= 200 && code < 500
}
