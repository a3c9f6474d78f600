package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRouterCount(t *testing.T) {
	tests := []struct {
		name string
		body string
		n    int
		ok   bool
	}{
		{"known routers phrasing", "<b>Netdb</b><br>127 known routers, 40 floodfills", 127, true},
		{"label phrasing", "Routers:&nbsp;42<br>Floodfills: 7", 42, true},
		{"bare routers", "3 routers", 3, true},
		{"no figure", "<html>shutting down</html>", 0, false},
		{"empty body", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := ParseRouterCount(tt.body)
			if ok != tt.ok || n != tt.n {
				t.Fatalf("ParseRouterCount = (%d, %v), want (%d, %v)", n, ok, tt.n, tt.ok)
			}
		})
	}
}

func TestConsoleRouterCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("netdb: 88 known routers"))
	}))
	defer srv.Close()

	n, ok := ConsoleRouterCount(context.Background(), srv.URL, time.Second)
	if !ok || n != 88 {
		t.Fatalf("ConsoleRouterCount = (%d, %v), want (88, true)", n, ok)
	}
}

func TestConsoleRouterCountUnreachable(t *testing.T) {
	if n, ok := ConsoleRouterCount(context.Background(), "http://127.0.0.1:1/netdb", 500*time.Millisecond); ok {
		t.Fatalf("unreachable console reported a count: %d", n)
	}
}
