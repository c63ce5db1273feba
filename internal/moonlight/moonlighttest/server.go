// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package moonlighttest provides an in-process fake streaming service that
// answers the metadata, pairing and stream endpoints over HTTP and HTTPS.
package moonlighttest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Server is a fake streaming service.
type Server struct {
	HTTP  *httptest.Server
	HTTPS *httptest.Server

	mu               sync.Mutex
	hostname         string
	jsonInfo         bool
	serverInfoStatus int
	unavailableFor   int
	httpDisabled     bool
	paired           bool
	stream           []byte
	infoHits         int
	pairQueries      []url.Values
}

// Option configures a Server.
type Option func(*Server)

// WithHostname sets the reported hostname. An empty hostname makes the
// document malformed.
func WithHostname(name string) Option { return func(s *Server) { s.hostname = name } }

// WithJSON answers /serverinfo with JSON instead of XML.
func WithJSON() Option { return func(s *Server) { s.jsonInfo = true } }

// WithServerInfoStatus forces the /serverinfo status code.
func WithServerInfoStatus(code int) Option { return func(s *Server) { s.serverInfoStatus = code } }

// WithUnavailableFor answers the first n /serverinfo requests with 503.
func WithUnavailableFor(n int) Option { return func(s *Server) { s.unavailableFor = n } }

// WithHTTPDisabled makes the plain HTTP listener answer 404 everywhere.
func WithHTTPDisabled() Option { return func(s *Server) { s.httpDisabled = true } }

// WithPaired makes /pair report <paired>1</paired>.
func WithPaired() Option { return func(s *Server) { s.paired = true } }

// WithStream serves data on GET /stream.
func WithStream(data []byte) Option { return func(s *Server) { s.stream = data } }

// New starts the fake on loopback HTTP and HTTPS listeners, closed at test end.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{hostname: "Hyprland", serverInfoStatus: http.StatusOK}
	for _, opt := range opts {
		opt(s)
	}

	s.HTTP = httptest.NewServer(s.router(false))
	s.HTTPS = httptest.NewTLSServer(s.router(true))
	t.Cleanup(func() {
		s.HTTP.Close()
		s.HTTPS.Close()
	})
	return s
}

func (s *Server) router(tls bool) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			disabled := s.httpDisabled && !tls
			s.mu.Unlock()
			if disabled {
				http.NotFound(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/serverinfo", s.handleServerInfo)
	r.Get("/pair", s.handlePair)
	r.Get("/stream", s.handleStream)
	return r
}

func (s *Server) handleServerInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.infoHits++
	hits := s.infoHits
	status := s.serverInfoStatus
	if hits <= s.unavailableFor {
		status = http.StatusServiceUnavailable
	}
	hostname, jsonInfo := s.hostname, s.jsonInfo
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if jsonInfo {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"hostname":%q,"appversion":"7.1.431.1","GfeVersion":"3.27.0.120","uniqueid":"f1e2d3c4","state":"SUNSHINE_STATE_READY","PairStatus":0,"ServerCodecModeSupport":259}`, hostname)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><root status_code="200">`+
		`<hostname>%s</hostname><appversion>7.1.431.1</appversion><GfeVersion>3.27.0.120</GfeVersion>`+
		`<uniqueid>f1e2d3c4</uniqueid><MaxLumaPixelsHEVC>1869449984</MaxLumaPixelsHEVC>`+
		`<ServerCodecModeSupport>259</ServerCodecModeSupport><state>SUNSHINE_STATE_READY</state></root>`, hostname)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pairQueries = append(s.pairQueries, r.URL.Query())
	paired := s.paired
	s.mu.Unlock()

	if r.URL.Query().Get("uniqueid") == "" {
		http.Error(w, "missing uniqueid", http.StatusBadRequest)
		return
	}
	flag := "0"
	if paired {
		flag = "1"
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><root status_code="200"><paired>%s</paired></root>`, flag)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data := s.stream
	s.mu.Unlock()
	if data == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(data)
}

// Host is the loopback address both listeners use.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.HTTP.Listener.Addr().String())
	return host
}

// HTTPPort is the plain HTTP port.
func (s *Server) HTTPPort() int { return port(s.HTTP) }

// HTTPSPort is the TLS port.
func (s *Server) HTTPSPort() int { return port(s.HTTPS) }

// ServerInfoHits returns how many /serverinfo requests were served.
func (s *Server) ServerInfoHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoHits
}

// PairQueries returns the query strings of every /pair request.
func (s *Server) PairQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.pairQueries...)
}

func port(srv *httptest.Server) int {
	_, p, _ := net.SplitHostPort(srv.Listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}
