// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpx builds the hardened HTTP clients used for health and protocol probes.
package httpx

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 8
	defaultMaxIdleConnsPerHost   = 2
)

type options struct {
	insecureTLS bool
	tracing     bool
}

// Option customises NewClient.
type Option func(*options)

// WithInsecureTLS accepts self-signed certificates. Streaming hosts generate
// their own certificate on first start, so the HTTPS probe needs this.
func WithInsecureTLS(enabled bool) Option {
	return func(o *options) { o.insecureTLS = enabled }
}

// WithTracing wraps the transport so every request becomes a client span
// under the caller's stage span.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracing = enabled }
}

// NewClient returns a hardened HTTP client for probes against the runtime.
// Redirects are not followed and no proxy is consulted.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	dialTimeout := min(timeout, defaultDialTimeout)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
	if o.insecureTLS {
		// #nosec G402 -- the probed host is a local, freshly started test runtime
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}
	}

	var rt http.RoundTripper = transport
	if o.tracing {
		rt = otelhttp.NewTransport(transport,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "probe " + r.Method + " " + r.URL.Path
			}),
		)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
