package ingest

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Transport defaults.
const (
	DefaultConnectTimeout        = 10 * time.Second
	DefaultExpectContinueTimeout = 5 * time.Second
)

// TransportConfig configures the PutMedia HTTP transport.
type TransportConfig struct {
	// ConnectTimeout bounds the TCP dial and the TLS handshake. It does not
	// bound the upload, which runs until the body is exhausted or the request
	// context ends.
	ConnectTimeout time.Duration

	// ExpectContinueTimeout is how long to wait for "100 Continue" before
	// streaming the body anyway.
	ExpectContinueTimeout time.Duration

	// TLSClientConfig overrides the TLS settings.
	TLSClientConfig *tls.Config

	// DialContext overrides the dialer. When set, proxies are not used.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewTransport returns an HTTP/1.1-only transport for PutMedia. The ingest
// endpoint expects a single chunked HTTP/1.1 request per connection, so the
// HTTP/2 upgrade is disabled.
func NewTransport(cfg TransportConfig) *http.Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ExpectContinueTimeout <= 0 {
		cfg.ExpectContinueTimeout = DefaultExpectContinueTimeout
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       cfg.TLSClientConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          make(map[string]func(string, *tls.Conn) http.RoundTripper),
		DisableCompression:    true,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
	}

	if cfg.DialContext != nil {
		t.Proxy = nil
		t.DialContext = cfg.DialContext
	} else {
		t.DialContext = (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}

	return t
}

// NewHTTPClient returns a client over NewTransport. The client has no overall
// timeout.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	return &http.Client{Transport: NewTransport(cfg)}
}
