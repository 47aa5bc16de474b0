package resolver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DialContext dials addr, resolving its host through the pinned resolver first.
// It can be used as http.Transport.DialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	d := &net.Dialer{Timeout: r.timeout}
	if net.ParseIP(host) != nil {
		return d.DialContext(ctx, network, addr)
	}

	a, err := r.Resolve(ctx, host, "A", Options{})
	if err != nil {
		return nil, err
	}

	var lastErr error = fmt.Errorf("%w: %s", ErrNoAddresses, host)
	for _, ip := range ExtractIPs(a) {
		if net.ParseIP(ip) == nil {
			continue
		}
		conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// HTTPClient returns a client whose connections are resolved through the pinned resolver.
// TLS to the target host is verified normally.
func (r *Resolver) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         r.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
