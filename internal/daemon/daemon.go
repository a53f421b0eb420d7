// Package daemon orchestrates the components of the session directory daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/config"
	"github.com/al-bashkir/session-rendezvous/internal/httpserver"
	"github.com/al-bashkir/session-rendezvous/internal/ipc"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// Daemon represents the main daemon process that coordinates all components.
type Daemon struct {
	cfg        *config.Config
	sessionMgr *session.Manager
	httpServer *httpserver.Server
	ipcServer  *ipc.Server
}

// New creates a new daemon with all components initialized.
func New(cfg *config.Config, version string) *Daemon {
	sessionMgr := session.NewManager(session.Config{
		SessionTTL:          cfg.SessionTTL(),
		MaxSessions:         cfg.Directory.MaxSessions,
		MaxSessionsPerOwner: cfg.Directory.MaxSessionsPerOwner,
		MaxResults:          cfg.Directory.MaxResults,
	})

	slog.Info("session directory initialized",
		"ttl", cfg.SessionTTL(),
		"max_sessions", cfg.Directory.MaxSessions,
		"max_results", cfg.Directory.MaxResults,
	)

	httpServer := httpserver.NewServer(cfg, sessionMgr, version)

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	ipcServer := ipc.NewServer(cfg.Listen.Socket, NewHandler(sessionMgr))

	slog.Info("IPC server initialized",
		"socket", cfg.Listen.Socket,
	)

	return &Daemon{
		cfg:        cfg,
		sessionMgr: sessionMgr,
		httpServer: httpServer,
		ipcServer:  ipcServer,
	}
}

// Run starts all daemon components and blocks until ctx is done or a
// shutdown signal is received.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting session directory daemon")

	// Start IPC server synchronously to catch startup errors
	if err := d.ipcServer.Start(ctx); err != nil {
		d.sessionMgr.Stop()
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			if stopErr := d.ipcServer.Stop(); stopErr != nil {
				slog.Error("error stopping IPC server after HTTP server startup failure", "error", stopErr)
			}
			d.sessionMgr.Stop()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.ipcServer.Stop(); err != nil {
		slog.Error("error stopping IPC server", "error", err)
	}

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	d.sessionMgr.Stop()

	slog.Info("daemon shutdown complete", "sessions_dropped", d.sessionMgr.Count())
	return nil
}
