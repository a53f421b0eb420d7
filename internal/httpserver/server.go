// Package httpserver is the directory daemon's read-only status endpoint.
package httpserver

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/config"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// Per-peer request budget.
const (
	peerRate  = 10
	peerBurst = 50
)

// SessionLister is the part of the directory store the server reads.
// *session.Manager implements it.
type SessionLister interface {
	List() []*session.Session
}

// Server serves /health and /sessions.
type Server struct {
	listen   config.ListenConfig
	tls      config.TLSConfig
	version  string
	sessions SessionLister

	mux        *http.ServeMux
	limiter    *clientLimiter
	httpServer *http.Server
}

// NewServer builds the server. A nil sessions reports an empty directory.
func NewServer(cfg *config.Config, sessions SessionLister, version string) *Server {
	s := &Server{
		listen:   cfg.Listen,
		tls:      cfg.TLS,
		version:  version,
		sessions: sessions,
		mux:      http.NewServeMux(),
		limiter:  newClientLimiter(peerRate, peerBurst),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/sessions", s.handleSessions)

	s.httpServer = &http.Server{
		Addr:              s.listen.HTTP,
		Handler:           chain(s.mux, securityHeaders, s.limiter.middleware, recoverPanics, accessLog),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.tls.Enabled {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return s
}

// Handler returns the mux wrapped in every middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks until the server stops. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.listen.HTTP, "tls", s.tls.Enabled)
	if s.tls.Enabled {
		return s.httpServer.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	s.limiter.stop()
	return s.httpServer.Shutdown(ctx)
}
