package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// instantSleep advances nothing and records sleep requests.
func instantSleep(calls *[]time.Duration) func(context.Context, time.Duration) bool {
	return func(ctx context.Context, d time.Duration) bool {
		*calls = append(*calls, d)
		return ctx.Err() == nil
	}
}

func TestCheck_PortBound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	tests := []struct {
		name  string
		addr  string
		alive func() bool
		want  Result
	}{
		{"listening and alive", ln.Addr().String(), func() bool { return true }, Healthy},
		{"process dead", ln.Addr().String(), func() bool { return false }, Unhealthy},
		{"port closed", "127.0.0.1:1", func() bool { return true }, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []time.Duration
			c := Check{
				Role:     "tor-proxy",
				Kind:     KindPortBound,
				Addr:     tt.addr,
				Alive:    tt.alive,
				Attempts: 2,
				Interval: time.Minute,
				Timeout:  time.Second,
				sleep:    instantSleep(&calls),
			}
			if got := c.Run(context.Background()); got != tt.want {
				t.Fatalf("Run = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_Console(t *testing.T) {
	tests := []struct {
		name string
		body string
		min  int
		bad  []string
		want Result
	}{
		{"healthy console", strings.Repeat("router console ok ", 20), 100, []string{"shutting down"}, Healthy},
		{"body too short", "i2p", 100, nil, Unhealthy},
		{"unhealthy keyword", strings.Repeat("x", 200) + " Router SHUTTING DOWN now", 100, []string{"shutting down"}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var calls []time.Duration
			c := Check{
				Role:           "i2p-proxy",
				Kind:           KindConsole,
				URL:            srv.URL,
				MinBytes:       tt.min,
				UnhealthyWords: tt.bad,
				Attempts:       3,
				Interval:       30 * time.Second,
				Timeout:        time.Second,
				sleep:          instantSleep(&calls),
			}
			if got := c.Run(context.Background()); got != tt.want {
				t.Fatalf("Run = %v, want %v", got, tt.want)
			}
			if tt.want == Unhealthy && len(calls) != 2 {
				// 3 attempts means 2 inter-attempt sleeps; a short body must
				// not end the loop early.
				t.Fatalf("sleep calls = %d, want 2", len(calls))
			}
		})
	}
}

func TestCheck_GracePeriodDelaysFirstAttempt(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		_, _ = w.Write([]byte(strings.Repeat("ok ", 100)))
	}))
	defer srv.Close()

	var calls []time.Duration
	c := Check{
		Role:     "i2p-proxy",
		Kind:     KindConsole,
		URL:      srv.URL,
		MinBytes: 10,
		Grace:    2 * time.Minute,
		Attempts: 1,
		Timeout:  time.Second,
		sleep:    instantSleep(&calls),
	}
	if got := c.Run(context.Background()); got != Healthy {
		t.Fatalf("Run = %v, want healthy", got)
	}
	if len(calls) == 0 || calls[0] != 2*time.Minute {
		t.Fatalf("grace period not slept before first attempt: %v", calls)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestCheck_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := Check{
		Role:     "tor-proxy",
		Kind:     KindPortBound,
		Addr:     "127.0.0.1:1",
		Attempts: 5,
		Timeout:  time.Second,
	}
	if got := c.Run(ctx); got != Unhealthy {
		t.Fatalf("cancelled probe must be unhealthy, got %v", got)
	}
}

func TestCheck_CapabilityThroughHTTPProxy(t *testing.T) {
	// A plain HTTP server acts as a degenerate HTTP proxy: it answers
	// every absolute-URI request itself, which is exactly what the probe
	// needs to observe a completed round trip.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("proxied"))
	}))
	defer srv.Close()

	c := Check{
		Role:     "i2p-proxy",
		Kind:     KindCapability,
		Proxy:    ProxyEndpoint{Scheme: ProxyHTTP, Addr: strings.TrimPrefix(srv.URL, "http://")},
		Target:   "http://203.0.113.9/ip",
		Attempts: 1,
		Timeout:  2 * time.Second,
	}
	if got := c.Run(context.Background()); got != Healthy {
		t.Fatalf("capability probe through proxy = %v, want healthy", got)
	}
}

func TestCheck_CapabilityProxyDown(t *testing.T) {
	var calls []time.Duration
	c := Check{
		Role:     "tor-proxy",
		Kind:     KindCapability,
		Proxy:    ProxyEndpoint{Scheme: ProxySOCKS5, Addr: "127.0.0.1:1"},
		Target:   "http://203.0.113.9/ip",
		Attempts: 2,
		Interval: 15 * time.Second,
		Timeout:  500 * time.Millisecond,
		sleep:    instantSleep(&calls),
	}
	if got := c.Run(context.Background()); got != Unhealthy {
		t.Fatalf("Run = %v, want unhealthy with proxy down", got)
	}
	if len(calls) != 1 {
		t.Fatalf("sleep calls = %d, want 1 between 2 attempts", len(calls))
	}
}
