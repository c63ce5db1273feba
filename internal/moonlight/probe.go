// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package moonlight speaks the small part of the Moonlight/GameStream
// protocol the harness needs: server metadata, pairing initiation and an
// RTSP reachability check. Certificate exchange and PIN entry are not
// implemented.
package moonlight

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/platform/httpx"
	"github.com/helixml/hyprmoon/internal/poll"
	"github.com/helixml/hyprmoon/internal/telemetry"
)

const (
	maxBodyBytes = 1 << 20
	pairPhrase   = "getservercert"
)

// Pairing statuses.
const (
	PairingInitiated    = "initiated"
	PairingNotInitiated = "not_initiated"
)

// ProbeError reports that no endpoint produced usable metadata.
type ProbeError struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server metadata: %s after %d attempts: %v", e.Reason, e.Attempts, e.Err)
	}
	return fmt.Sprintf("server metadata: %s after %d attempts", e.Reason, e.Attempts)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Target is where the streaming service is reachable.
type Target struct {
	Host      string
	HTTPPort  int
	HTTPSPort int
}

type endpoint struct {
	scheme string
	port   int
}

func (t Target) endpoints() []endpoint {
	return []endpoint{{"http", t.HTTPPort}, {"https", t.HTTPSPort}}
}

func (t Target) url(ep endpoint, path string) string {
	return ep.scheme + "://" + net.JoinHostPort(t.Host, strconv.Itoa(ep.port)) + path
}

// PairingSession is the observable result of a pairing attempt.
type PairingSession struct {
	ClientID           string `json:"client_id"`
	DeviceName         string `json:"device_name"`
	Phrase             string `json:"phrase"`
	Status             string `json:"status"`
	SessionKeyObtained bool   `json:"session_key_obtained"`
	Scheme             string `json:"scheme,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// Initiated reports whether the service accepted the pairing request.
func (s PairingSession) Initiated() bool { return s.Status == PairingInitiated }

// NewClientID returns a fresh pairing client identifier: 32 upper-case hex digits.
func NewClientID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Probe runs protocol checks against one streaming service.
type Probe struct {
	opts   config.ProbeConfig
	client *http.Client
	tracer trace.Tracer
}

// NewProbe returns a Probe configured by opts.
func NewProbe(opts config.ProbeConfig) *Probe {
	return &Probe{
		opts:   opts,
		client: httpx.NewClient(opts.RequestTimeout, httpx.WithInsecureTLS(opts.InsecureTLS), httpx.WithTracing(true)),
		tracer: telemetry.Tracer(telemetry.TracerName),
	}
}

// FetchServerMetadata polls /serverinfo over http then https until one
// answers with a well-formed document or the budget is exhausted.
func (p *Probe) FetchServerMetadata(ctx context.Context, t Target) (*ServerMetadata, error) {
	logger := log.WithComponentFromContext(ctx, "moonlight")

	var found *ServerMetadata
	attempts, err := poll.Until(ctx, poll.Options{
		Name:     "serverinfo",
		Interval: p.opts.Interval,
		Budget:   p.opts.MetadataTimeout,
	}, func(ctx context.Context) (bool, error) {
		var lastErr error
		for _, ep := range t.endpoints() {
			md, err := p.fetchOnce(ctx, t, ep)
			if err == nil {
				found = md
				return true, nil
			}
			lastErr = err
		}
		return false, lastErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProbeError{Reason: "interrupted", Attempts: attempts, Err: err}
		}
		logger.Warn().Err(err).Int("attempts", attempts).Str(log.FieldEvent, "moonlight.metadata_failed").Msg("no server metadata")
		return nil, &ProbeError{Reason: "no_response", Attempts: attempts, Err: err}
	}

	logger.Info().
		Str(log.FieldEvent, "moonlight.metadata").
		Str("hostname", found.Hostname).
		Str("scheme", found.Scheme).
		Int("attempts", attempts).
		Msg("server metadata obtained")
	return found, nil
}

func (p *Probe) fetchOnce(ctx context.Context, t Target, ep endpoint) (*ServerMetadata, error) {
	u := t.url(ep, "/serverinfo")
	ctx, span := p.tracer.Start(ctx, "moonlight.serverinfo")
	defer span.End()

	status, body, err := p.get(ctx, u)
	span.SetAttributes(telemetry.ProbeAttributes(ep.scheme, u, status)...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", u, status)
	}
	md, err := ParseServerInfo(body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	md.Scheme = ep.scheme
	md.Port = ep.port
	return md, nil
}

// AttemptPairing sends the pairing request over http then https. It never
// returns an error: failures yield a not_initiated session with a reason.
func (p *Probe) AttemptPairing(ctx context.Context, t Target, clientID string) PairingSession {
	logger := log.WithComponentFromContext(ctx, "moonlight").With().Str(log.FieldClientID, clientID).Logger()
	session := PairingSession{
		ClientID:   clientID,
		DeviceName: p.opts.DeviceName,
		Phrase:     pairPhrase,
		Status:     PairingNotInitiated,
	}

	q := url.Values{}
	q.Set("uniqueid", clientID)
	q.Set("devicename", p.opts.DeviceName)
	q.Set("updateState", "1")
	q.Set("phrase", pairPhrase)

	var reasons []string
	for _, ep := range t.endpoints() {
		u := t.url(ep, "/pair") + "?" + q.Encode()
		reqCtx, cancel := context.WithTimeout(ctx, p.opts.PairingTimeout)
		status, body, err := p.get(reqCtx, u)
		cancel()

		if err != nil {
			reasons = append(reasons, ep.scheme+": "+err.Error())
			continue
		}
		if status < 200 || status > 299 {
			reasons = append(reasons, fmt.Sprintf("%s: status %d", ep.scheme, status))
			continue
		}

		paired, cert := parsePairResponse(body)
		session.Status = PairingInitiated
		session.Scheme = ep.scheme
		session.SessionKeyObtained = paired || cert
		session.Reason = ""
		logger.Info().
			Str(log.FieldEvent, "moonlight.pairing_initiated").
			Str("scheme", ep.scheme).
			Bool("session_key", session.SessionKeyObtained).
			Msg("pairing initiated")
		return session
	}

	session.Reason = strings.Join(reasons, "; ")
	if session.Reason == "" {
		session.Reason = "no endpoint attempted"
	}
	logger.Warn().Str(log.FieldEvent, "moonlight.pairing_failed").Str(log.FieldReason, session.Reason).Msg("pairing not initiated")
	return session
}

func (p *Probe) get(ctx context.Context, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "hyprmoon-verify")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// requestTimeout is shared by the HTTP and RTSP probes.
func (p *Probe) requestTimeout() time.Duration {
	if p.opts.RequestTimeout > 0 {
		return p.opts.RequestTimeout
	}
	return 10 * time.Second
}
