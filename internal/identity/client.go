// Package identity is the login adapter between a rendezvous controller
// and an authentication backend.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/eventloop"
	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

// DefaultLoginTimeout bounds a single Authenticate call.
const DefaultLoginTimeout = 30 * time.Second

// ErrInvalidCredentials is returned by backends that reject the login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is an authenticated user as reported by a backend.
type Identity struct {
	UserID      rendezvous.UserID
	DisplayName string
	// Expiry is zero when the identity does not expire.
	Expiry time.Time
}

// Backend authenticates credentials. Implementations must honor ctx.
type Backend interface {
	Authenticate(ctx context.Context, creds rendezvous.Credentials) (*Identity, error)
}

type account struct {
	identity *Identity
	pending  bool
}

// Client tracks login state per local user and runs logins on background
// goroutines, posting each completion exactly once through the dispatcher.
type Client struct {
	backend  Backend
	dispatch eventloop.Dispatcher
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	users map[rendezvous.LocalUser]*account
}

// NewClient creates a Client. A zero timeout selects DefaultLoginTimeout.
func NewClient(backend Backend, dispatch eventloop.Dispatcher, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	return &Client{
		backend:  backend,
		dispatch: dispatch,
		timeout:  timeout,
		now:      time.Now,
		users:    make(map[rendezvous.LocalUser]*account),
	}
}

// Status reports the login state of user. An expired identity counts as
// not logged in.
func (c *Client) Status(user rendezvous.LocalUser) rendezvous.LoginState {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.users[user]
	switch {
	case !ok:
		return rendezvous.NotLoggedIn
	case acct.pending:
		return rendezvous.LoggingIn
	case c.valid(acct.identity):
		return rendezvous.LoggedIn
	default:
		return rendezvous.NotLoggedIn
	}
}

// UserID returns the identity of a logged-in user.
func (c *Client) UserID(user rendezvous.LocalUser) (rendezvous.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.users[user]
	if !ok || !c.valid(acct.identity) {
		return "", false
	}
	return acct.identity.UserID, true
}

// Login starts an asynchronous login. It returns false, without calling
// done, if a login for user is already outstanding.
func (c *Client) Login(user rendezvous.LocalUser, creds rendezvous.Credentials, done func(rendezvous.LoginResult)) bool {
	c.mu.Lock()
	acct, ok := c.users[user]
	if !ok {
		acct = &account{}
		c.users[user] = acct
	}
	if acct.pending {
		c.mu.Unlock()
		slog.Debug("login already outstanding", "local_user", int(user))
		return false
	}
	acct.pending = true
	c.mu.Unlock()

	complete := eventloop.Once(c.dispatch, "login", done)

	go func() {
		result := c.authenticate(creds)

		c.mu.Lock()
		acct.pending = false
		if result.OK {
			acct.identity = result.identity
		}
		c.mu.Unlock()

		complete(result.LoginResult)
	}()

	return true
}

// Logout forgets the identity of user.
func (c *Client) Logout(user rendezvous.LocalUser) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acct, ok := c.users[user]; ok && !acct.pending {
		delete(c.users, user)
	}
}

type authResult struct {
	rendezvous.LoginResult
	identity *Identity
}

func (c *Client) authenticate(creds rendezvous.Credentials) (res authResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("identity backend panicked", "panic", r)
			res = authResult{LoginResult: rendezvous.LoginResult{Err: fmt.Errorf("identity backend panic: %v", r)}}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := c.now()
	id, err := c.backend.Authenticate(ctx, creds)
	if err != nil {
		slog.Warn("authentication failed",
			"login", logsanitize.Sanitize(creds.ID),
			"type", creds.Type,
			"error", err,
		)
		return authResult{LoginResult: rendezvous.LoginResult{Err: err}}
	}
	if id == nil || id.UserID == "" {
		return authResult{LoginResult: rendezvous.LoginResult{Err: errors.New("backend returned no user id")}}
	}

	slog.Info("authentication succeeded",
		"user_id", logsanitize.Sanitize(string(id.UserID)),
		"duration", c.now().Sub(start),
	)
	return authResult{
		LoginResult: rendezvous.LoginResult{OK: true, UserID: id.UserID},
		identity:    id,
	}
}

// valid must be called with c.mu held.
func (c *Client) valid(id *Identity) bool {
	if id == nil {
		return false
	}
	return id.Expiry.IsZero() || c.now().Before(id.Expiry)
}
