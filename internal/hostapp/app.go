// Package hostapp runs a rendezvous controller as a headless host
// application: it logs the local user in, hosts or finds a session, and
// reports the connect address once the handshake has converged.
package hostapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/config"
	"github.com/al-bashkir/session-rendezvous/internal/directory"
	"github.com/al-bashkir/session-rendezvous/internal/eventloop"
	"github.com/al-bashkir/session-rendezvous/internal/identity"
	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
	"github.com/al-bashkir/session-rendezvous/internal/oidc"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

// Mode selects what Handshake does after login.
type Mode string

const (
	ModeHost Mode = "host"
	ModeFind Mode = "find"
)

// ErrHandshakeTimeout is returned when the handshake does not converge
// within the configured handshake timeout.
var ErrHandshakeTimeout = errors.New("handshake timed out")

const (
	pollInterval = 100 * time.Millisecond
	closeTimeout = 5 * time.Second
)

// Outcome describes a converged handshake.
type Outcome struct {
	Role        string
	SessionName string
	SessionID   string
	Address     string
}

// Options carries the collaborators an App cannot build from config alone.
type Options struct {
	Credentials rendezvous.Credentials
	Backend     identity.Backend
	Transport   directory.Transport
	// Out receives status messages; nil discards them.
	Out    io.Writer
	Logger *slog.Logger
}

// App owns one controller and the loop it runs on.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	loop    *eventloop.Loop
	ids     *identity.Client
	dir     *directory.Client
	ctrl    *rendezvous.Controller
	console *Console

	login            bool
	handshakeTimeout time.Duration
	pollInterval     time.Duration

	loopDone  chan struct{}
	closeOnce sync.Once
}

// New wires the controller to the identity backend and the directory and
// starts its event loop. Call Close when done.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Backend == nil {
		return nil, errors.New("identity backend is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("directory transport is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loop := eventloop.New()
	ids := identity.NewClient(opts.Backend, loop, cfg.LoginTimeout())
	dir := directory.New(opts.Transport, ids, loop, directory.Options{
		HostAddress: cfg.Session.HostAddress,
		Timeout:     cfg.RequestTimeout(),
		Logger:      logger,
	})
	console := NewConsole(opts.Out, logger)

	ctrlCfg := rendezvous.Config{
		SessionName:      cfg.Session.Name,
		Keyword:          cfg.Session.Keyword,
		MaxPlayers:       cfg.Session.MaxPlayers,
		MaxSearchResults: cfg.Session.MaxSearchResults,
		LocalUser:        rendezvous.LocalUser(cfg.Client.LocalUser),
		Credentials:      opts.Credentials,
		HostLevel:        cfg.Session.HostLevel,
		LobbyLevel:       cfg.Session.LobbyLevel,
		RequireLogin:     cfg.Session.RequireLogin,
	}
	ctrl, err := rendezvous.New(ctrlCfg, rendezvous.Deps{
		Identity: ids,
		Sessions: dir,
		Levels:   console,
		Travel:   console,
	}, rendezvous.Options{Logger: logger, Status: console.Notify})
	if err != nil {
		dir.Close()
		return nil, err
	}

	a := &App{
		cfg:              cfg,
		logger:           logger,
		loop:             loop,
		ids:              ids,
		dir:              dir,
		ctrl:             ctrl,
		console:          console,
		login:            cfg.Session.RequireLogin || opts.Credentials.ID != "" || opts.Credentials.Token != "",
		handshakeTimeout: cfg.HandshakeTimeout(),
		pollInterval:     pollInterval,
		loopDone:         make(chan struct{}),
	}

	go func() {
		defer close(a.loopDone)
		_ = loop.Run(context.Background())
	}()

	return a, nil
}

// Console returns the level loader and traveler the controller drives.
func (a *App) Console() *Console { return a.console }

// Handshake logs in (when credentials are configured or login is required)
// and then hosts or finds a session. It returns once the hosted level is
// open or the client has traveled, or fails on the first controller error.
// The travel file, when configured, is written either way.
func (a *App) Handshake(ctx context.Context, mode Mode) (Outcome, error) {
	if mode != ModeHost && mode != ModeFind {
		return Outcome{}, fmt.Errorf("unknown mode %q", mode)
	}

	ctx, cancel := context.WithTimeout(ctx, a.handshakeTimeout)
	defer cancel()

	out, err := a.handshake(ctx, mode)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrHandshakeTimeout, a.handshakeTimeout)
		}
		a.logger.Warn("handshake failed", "mode", string(mode), "error", err)
		if path := a.cfg.Client.TravelFile; path != "" {
			if werr := WriteTravelFailure(path, err.Error()); werr != nil {
				a.logger.Error("failed to write travel file", "error", werr)
			}
		}
		return Outcome{}, err
	}

	a.logger.Info("handshake complete",
		"mode", string(mode),
		"session_id", logsanitize.Sanitize(out.SessionID),
		"address", logsanitize.Sanitize(out.Address),
	)

	if path := a.cfg.Client.TravelFile; path != "" {
		if err := WriteTravelFile(path, out.Role, out.SessionName, out.Address); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (a *App) handshake(ctx context.Context, mode Mode) (Outcome, error) {
	if a.login {
		if err := a.loop.Do(ctx, a.ctrl.Login); err != nil {
			return Outcome{}, err
		}
		err := a.await(ctx, func() (bool, error) {
			switch a.ctrl.LoginState() {
			case rendezvous.LoggedIn:
				return true, nil
			case rendezvous.NotLoggedIn:
				if err := a.ctrl.Err(); err != nil {
					return false, err
				}
				return false, rendezvous.ErrAuthentication
			}
			return false, nil
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	if mode == ModeHost {
		return a.host(ctx)
	}
	return a.find(ctx)
}

func (a *App) host(ctx context.Context) (Outcome, error) {
	var dispatched bool
	var err error
	if derr := a.loop.Do(ctx, func() {
		dispatched = a.ctrl.HostSession()
		err = a.ctrl.Err()
	}); derr != nil {
		return Outcome{}, derr
	}
	if !dispatched {
		if err == nil {
			err = rendezvous.ErrSessionCreate
		}
		return Outcome{}, err
	}

	err = a.await(ctx, func() (bool, error) {
		switch a.ctrl.SessionState() {
		case rendezvous.SessionActive:
			return true, nil
		case rendezvous.NoSession:
			return false, a.failure(rendezvous.ErrSessionCreate)
		}
		return false, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Role:        RoleHost,
		SessionName: a.cfg.Session.Name,
		Address:     a.cfg.Session.HostAddress,
	}
	if rec, ok := a.dir.Record(a.cfg.Session.Name); ok {
		out.SessionID = rec.ID
	}
	return out, nil
}

func (a *App) find(ctx context.Context) (Outcome, error) {
	if err := a.loop.Do(ctx, a.ctrl.FindSession); err != nil {
		return Outcome{}, err
	}

	var attempt rendezvous.ConnectionAttempt
	err := a.await(ctx, func() (bool, error) {
		attempt = a.ctrl.Attempt()
		switch {
		case attempt.State == rendezvous.AttemptTraveled:
			return true, nil
		case attempt.State == rendezvous.AttemptFailed:
			return false, a.failure(rendezvous.ErrSessionJoin)
		case a.ctrl.SessionState() == rendezvous.NoSession:
			if err := a.ctrl.Err(); err != nil {
				return false, err
			}
		}
		return false, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Role:        RoleClient,
		SessionName: a.cfg.Session.Name,
		SessionID:   attempt.SessionID,
		Address:     attempt.Address,
	}, nil
}

// failure returns the controller's last error, or fallback. Loop only.
func (a *App) failure(fallback error) error {
	if err := a.ctrl.Err(); err != nil {
		return err
	}
	return fallback
}

// Leave destroys or leaves the session and waits until the directory has
// acknowledged it.
func (a *App) Leave(ctx context.Context) error {
	if err := a.loop.Do(ctx, a.ctrl.KillSession); err != nil {
		return err
	}
	return a.await(ctx, func() (bool, error) {
		return a.ctrl.SessionState() == rendezvous.NoSession, nil
	})
}

// Close leaves any session still held and shuts the controller down.
// Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var active bool
		if err := a.loop.Do(ctx, func() {
			active = a.ctrl.SessionState() != rendezvous.NoSession
		}); err == nil && active {
			if err := a.Leave(ctx); err != nil {
				a.logger.Warn("leaving session on close failed", "error", err)
			}
		}

		if err := a.loop.Do(ctx, a.ctrl.Close); err != nil {
			a.logger.Debug("controller close skipped", "error", err)
		}
		a.loop.Stop()
		<-a.loopDone
		a.dir.Close()
		a.ids.Logout(rendezvous.LocalUser(a.cfg.Client.LocalUser))
	})
}

// await evaluates check on the loop until it reports done, returns an
// error, or ctx ends. Console activity triggers an early re-check.
func (a *App) await(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		var done bool
		var err error
		if derr := a.loop.Do(ctx, func() { done, err = check() }); derr != nil {
			return derr
		}
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-a.console.changed():
		}
	}
}

// NewBackend builds the identity backend selected by cfg.Provider.
// The OIDC provider performs discovery against the issuer.
func NewBackend(ctx context.Context, cfg *config.IdentityConfig) (identity.Backend, error) {
	switch cfg.Provider {
	case config.ProviderStatic:
		users := make([]identity.StaticUser, 0, len(cfg.StaticUsers))
		for _, u := range cfg.StaticUsers {
			users = append(users, identity.StaticUser(u))
		}
		return identity.NewStaticBackend(users), nil
	case config.ProviderOIDC, "":
		p, err := oidc.NewProvider(ctx, &cfg.OIDC)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Provider)
	}
}
