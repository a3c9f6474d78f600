package probe

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Result is the final verdict of a readiness probe loop.
type Result int

const (
	Unhealthy Result = iota
	Healthy
)

func (r Result) String() string {
	if r == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// Kind selects the protocol-aware readiness test for a service.
type Kind int

const (
	// KindPortBound passes when the process is alive and its TCP port
	// accepts connections.
	KindPortBound Kind = iota
	// KindConsole passes when an HTTP GET against a local console returns
	// a body large enough and free of unhealthy keywords.
	KindConsole
	// KindCapability passes when a request routed through the daemon
	// reaches a known external target. The strongest kind: it proves the
	// daemon's core function, not merely that it is listening.
	KindCapability
)

func (k Kind) String() string {
	switch k {
	case KindPortBound:
		return "port-bound"
	case KindConsole:
		return "console"
	case KindCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// consoleBodyCap bounds console body reads; router consoles serve small
// pages and anything beyond proves the point.
const consoleBodyCap = 512 * 1024

// Check is one readiness probe: a kind plus its attempt budget. A failed
// attempt sleeps Interval and retries; only exhausting Attempts yields
// Unhealthy. Grace delays the first attempt entirely, because probing a
// daemon that is still allocating resources produces noisy false negatives
// that should not count against the budget.
type Check struct {
	Role     string
	Kind     Kind
	Grace    time.Duration
	Interval time.Duration
	Attempts int
	Timeout  time.Duration

	// KindPortBound
	Addr  string
	Alive func() bool

	// KindConsole
	URL            string
	MinBytes       int
	UnhealthyWords []string

	// KindCapability
	Proxy  ProxyEndpoint
	Target string

	Logger *slog.Logger

	// sleep is injectable for tests; nil means context-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration) bool
}

// Run executes the probe loop. It returns Healthy on the first attempt that
// satisfies the kind's full condition and Unhealthy after the budget is
// exhausted or the context is cancelled. Probe failure is never an error.
func (c Check) Run(ctx context.Context) Result {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = ctxSleep
	}
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	if c.Grace > 0 {
		log.Info("readiness grace period", "role", c.Role, "kind", c.Kind.String(), "grace", c.Grace)
		if !sleep(ctx, c.Grace) {
			return Unhealthy
		}
	}

	for i := 1; i <= attempts; i++ {
		if ctx.Err() != nil {
			return Unhealthy
		}
		if c.attempt(ctx) {
			log.Info("readiness probe passed", "role", c.Role, "kind", c.Kind.String(), "attempt", i)
			return Healthy
		}
		log.Debug("readiness probe attempt failed", "role", c.Role, "kind", c.Kind.String(), "attempt", i, "budget", attempts)
		if i < attempts {
			if !sleep(ctx, c.Interval) {
				return Unhealthy
			}
		}
	}
	log.Warn("readiness probe exhausted attempt budget", "role", c.Role, "kind", c.Kind.String(), "attempts", attempts)
	return Unhealthy
}

func (c Check) attempt(ctx context.Context) bool {
	switch c.Kind {
	case KindPortBound:
		return c.attemptPortBound(ctx)
	case KindConsole:
		return c.attemptConsole(ctx)
	case KindCapability:
		return c.attemptCapability(ctx)
	default:
		return false
	}
}

func (c Check) attemptPortBound(ctx context.Context) bool {
	if c.Alive != nil && !c.Alive() {
		return false
	}
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c Check) attemptConsole(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, consoleBodyCap))
	if err != nil {
		return false
	}
	if n, ok := ParseRouterCount(string(body)); ok && c.Logger != nil {
		c.Logger.Debug("console router count", "role", c.Role, "routers", n)
	}
	if len(body) < c.MinBytes {
		// A near-empty console page means the router is still initializing.
		return false
	}
	lower := strings.ToLower(string(body))
	for _, w := range c.UnhealthyWords {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return false
		}
	}
	return true
}

func (c Check) attemptCapability(ctx context.Context) bool {
	client, err := c.Proxy.HTTPClient(c.Timeout)
	if err != nil {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.Target, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.CopyN(io.Discard, resp.Body, partialReadCap)
	return true
}

// ctxSleep sleeps for d or until ctx is done; it reports whether the full
// duration elapsed.
func ctxSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
