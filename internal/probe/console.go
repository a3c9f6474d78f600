package probe

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// routerCountRe matches the known-router figure the i2pd console renders,
// e.g. "127 known routers" or "Routers: 42".
var routerCountRe = regexp.MustCompile(`(?i)(?:routers?\D{0,10}(\d+)|(\d+)\s+(?:known\s+)?routers?)`)

// ParseRouterCount extracts the known-router count from console HTML.
// Returns false when the page carries no recognizable figure.
func ParseRouterCount(body string) (int, bool) {
	m := routerCountRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ConsoleRouterCount fetches the console netdb page and parses the
// known-router count. Any network failure reports false; the caller
// treats an unreadable console as no progress signal, not an error.
func ConsoleRouterCount(ctx context.Context, url string, timeout time.Duration) (int, bool) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, consoleBodyCap))
	if err != nil {
		return 0, false
	}
	return ParseRouterCount(string(body))
}
