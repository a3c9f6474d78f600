package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyScheme selects how capability-proof traffic is routed through a
// managed daemon.
type ProxyScheme string

const (
	ProxySOCKS5 ProxyScheme = "socks5" // tor's SocksPort
	ProxyHTTP   ProxyScheme = "http"   // i2pd's httpproxy tunnel
)

// ProxyEndpoint identifies the local proxy surface a daemon exposes.
type ProxyEndpoint struct {
	Scheme ProxyScheme
	Addr   string // host:port, e.g. "127.0.0.1:9050"
}

// HTTPClient builds an HTTP client whose traffic is routed through the
// daemon's proxy. TLS verification stays off: requests may terminate at
// hidden services with self-signed certificates, and the capability proof
// cares about transit, not certificate chains.
func (e ProxyEndpoint) HTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // proxied targets include hidden services
		},
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  true,
	}

	switch e.Scheme {
	case ProxySOCKS5:
		dialer, err := proxy.SOCKS5("tcp", e.Addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("probe: socks5 dialer for %s: %w", e.Addr, err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialWithContext(ctx, dialer, network, addr)
		}
	case ProxyHTTP:
		u, err := url.Parse("http://" + e.Addr)
		if err != nil {
			return nil, fmt.Errorf("probe: http proxy address %s: %w", e.Addr, err)
		}
		transport.Proxy = http.ProxyURL(u)
	default:
		return nil, fmt.Errorf("probe: unknown proxy scheme %q", e.Scheme)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// EndpointTransport returns a transport for endpoint probing, routed
// through the given proxy when non-nil. A nil via (or an unusable proxy
// address) yields nil, which EndpointProbe replaces with its direct
// default transport.
func EndpointTransport(via *ProxyEndpoint) http.RoundTripper {
	if via == nil {
		return nil
	}
	c, err := via.HTTPClient(0)
	if err != nil {
		return nil
	}
	return c.Transport
}

// dialWithContext adapts proxy.Dialer to context cancellation. When the
// context fires first the in-flight dial is abandoned; its goroutine closes
// the connection if one eventually materializes.
func dialWithContext(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		select {
		case ch <- dialResult{conn, err}:
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
	select {
	case res := <-ch:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
