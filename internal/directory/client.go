// Package directory is the session adapter between a rendezvous controller
// and the directory daemon.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/al-bashkir/session-rendezvous/internal/eventloop"
	"github.com/al-bashkir/session-rendezvous/internal/ipc"
	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// DefaultRequestTimeout bounds a single directory request.
const DefaultRequestTimeout = 10 * time.Second

// Transport sends one request to the directory. *ipc.Client implements it.
type Transport interface {
	Send(ctx context.Context, req *ipc.Request) (*ipc.Response, error)
}

// UserResolver maps a local user to its authenticated identity.
// *identity.Client implements it.
type UserResolver interface {
	UserID(user rendezvous.LocalUser) (rendezvous.UserID, bool)
}

// Options configures a Client.
type Options struct {
	// HostAddress is the connect string published for hosted sessions.
	HostAddress string
	// Timeout bounds each request; zero selects DefaultRequestTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

type role int

const (
	roleHost role = iota + 1
	roleMember
)

func (r role) String() string {
	if r == roleHost {
		return "host"
	}
	return "member"
}

// namedSession is one entry of the local table.
type namedSession struct {
	role   role
	userID string
	record *session.Session

	// pending is set while the create or join request is in flight.
	pending bool
	// released is called once the pending request finishes, when Destroy
	// was requested in the meantime.
	released func(bool)
}

// Client implements rendezvous.SessionProvider against the directory daemon.
// Requests run on background goroutines; every completion is posted exactly
// once through the dispatcher.
type Client struct {
	transport   Transport
	users       UserResolver
	dispatch    eventloop.Dispatcher
	hostAddress string
	timeout     time.Duration
	logger      *slog.Logger
	guestID     string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*namedSession
}

// New creates a Client. users may be nil, in which case every request is
// made under a per-client guest identity.
func New(transport Transport, users UserResolver, dispatch eventloop.Dispatcher, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport:   transport,
		users:       users,
		dispatch:    dispatch,
		hostAddress: opts.HostAddress,
		timeout:     opts.Timeout,
		logger:      opts.Logger.With("component", "directory"),
		guestID:     "guest-" + uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*namedSession),
	}
}

// Close aborts in-flight requests. Their completions still fire, with failure.
func (c *Client) Close() {
	c.cancel()
}

// Record returns a copy of the directory record behind a named session.
func (c *Client) Record(name string) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.sessions[name]
	if !ok || entry.record == nil {
		return nil, false
	}
	rec := *entry.record
	rec.Members = append([]string(nil), entry.record.Members...)
	return &rec, true
}

// Create publishes a hosted session. It returns false if name is already
// in the local table.
func (c *Client) Create(user rendezvous.LocalUser, name string, settings rendezvous.SessionSettings, done func(name string, ok bool)) bool {
	userID := c.userID(user)

	c.mu.Lock()
	if _, exists := c.sessions[name]; exists {
		c.mu.Unlock()
		c.logger.Warn("session name already in use", "name", logsanitize.Sanitize(name))
		return false
	}
	c.sessions[name] = &namedSession{role: roleHost, userID: userID, pending: true}
	c.mu.Unlock()

	complete := eventloop.Once(c.dispatch, "create_session", func(ok bool) { done(name, ok) })

	wire := toWireSettings(settings)
	go func() {
		resp, err := c.send(&ipc.Request{
			Type:        ipc.MessageTypeCreateSession,
			UserID:      userID,
			Name:        name,
			HostAddress: c.hostAddress,
			Settings:    &wire,
		})
		if err == nil && resp.Session == nil {
			err = errors.New("create response without session")
		}
		if err != nil {
			c.logger.Warn("create session failed", "name", logsanitize.Sanitize(name), "error", err)
			c.forget(name)
			complete(false)
			return
		}

		c.logger.Info("session published", "name", logsanitize.Sanitize(name), "session_id", resp.Session.ID)
		complete(c.settle(name, resp.Session))
	}()

	return true
}

// Search lists joinable sessions. The caller's own sessions are excluded.
func (c *Client) Search(user rendezvous.LocalUser, filter rendezvous.SearchFilter, done func(ok bool, results []rendezvous.SearchResult)) bool {
	type outcome struct {
		ok      bool
		results []rendezvous.SearchResult
	}
	complete := eventloop.Once(c.dispatch, "find_sessions", func(o outcome) { done(o.ok, o.results) })

	wire := toWireFilter(filter, c.userID(user))
	go func() {
		resp, err := c.send(&ipc.Request{
			Type:   ipc.MessageTypeFindSessions,
			UserID: wire.ExcludeOwner,
			Filter: &wire,
		})
		if err != nil {
			c.logger.Warn("find sessions failed", "keyword", logsanitize.Sanitize(filter.Keyword), "error", err)
			complete(outcome{})
			return
		}

		results := make([]rendezvous.SearchResult, 0, len(resp.Sessions))
		for _, s := range resp.Sessions {
			if s == nil {
				continue
			}
			results = append(results, toSearchResult(s))
			if filter.MaxResults > 0 && len(results) == filter.MaxResults {
				break
			}
		}
		c.logger.Debug("find sessions completed", "keyword", logsanitize.Sanitize(filter.Keyword), "count", len(results))
		complete(outcome{ok: true, results: results})
	}()

	return true
}

// Join adds the local user to a discovered session and stores it under
// name. A name already in the local table completes with AlreadyInSession.
func (c *Client) Join(user rendezvous.LocalUser, name string, result rendezvous.SearchResult, done func(name string, result rendezvous.JoinResult)) bool {
	complete := eventloop.Once(c.dispatch, "join_session", func(r rendezvous.JoinResult) { done(name, r) })
	userID := c.userID(user)

	c.mu.Lock()
	if _, exists := c.sessions[name]; exists {
		c.mu.Unlock()
		complete(rendezvous.JoinAlreadyInSession)
		return true
	}
	c.sessions[name] = &namedSession{role: roleMember, userID: userID, pending: true}
	c.mu.Unlock()

	go func() {
		resp, err := c.send(&ipc.Request{
			Type:      ipc.MessageTypeJoinSession,
			UserID:    userID,
			SessionID: result.SessionID,
		})
		if err == nil && resp.Session == nil {
			err = errors.New("join response without session")
		}
		if err != nil {
			res := joinResultFor(err)
			c.logger.Warn("join session failed", "session_id", logsanitize.Sanitize(result.SessionID), "result", res.String(), "error", err)
			c.forget(name)
			complete(res)
			return
		}

		if !c.settle(name, resp.Session) {
			complete(rendezvous.JoinUnknownError)
			return
		}
		c.logger.Info("joined session", "name", logsanitize.Sanitize(name), "session_id", resp.Session.ID)
		complete(rendezvous.JoinSuccess)
	}()

	return true
}

// ResolveConnectAddress returns the host address of a settled session.
func (c *Client) ResolveConnectAddress(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.sessions[name]
	if !ok || entry.pending || entry.record == nil || entry.record.HostAddress == "" {
		return "", false
	}
	return entry.record.HostAddress, true
}

// Destroy removes name from the local table and releases the directory
// record: hosts destroy it, members leave it. An unknown name completes
// with false. While the create or join request is still in flight the
// release happens once it finishes.
func (c *Client) Destroy(name string, done func(name string, ok bool)) bool {
	complete := eventloop.Once(c.dispatch, "destroy_session", func(ok bool) { done(name, ok) })

	c.mu.Lock()
	entry, ok := c.sessions[name]
	switch {
	case !ok:
		c.mu.Unlock()
		c.logger.Debug("destroy of unknown session", "name", logsanitize.Sanitize(name))
		complete(false)
		return true
	case entry.pending:
		entry.released = complete
		c.mu.Unlock()
		return true
	}
	delete(c.sessions, name)
	c.mu.Unlock()

	go func() { complete(c.release(name, entry)) }()
	return true
}

// settle records the directory's answer for a pending entry. If Destroy
// was called in the meantime, the record is released instead and settle
// reports false.
func (c *Client) settle(name string, rec *session.Session) bool {
	c.mu.Lock()
	entry, ok := c.sessions[name]
	if !ok {
		c.mu.Unlock()
		return false
	}
	entry.record = rec
	entry.pending = false
	released := entry.released
	if released != nil {
		delete(c.sessions, name)
	}
	c.mu.Unlock()

	if released == nil {
		return true
	}
	released(c.release(name, entry))
	return false
}

// forget drops a pending entry whose request failed. A Destroy waiting on
// it completes with false.
func (c *Client) forget(name string) {
	c.mu.Lock()
	entry, ok := c.sessions[name]
	if ok {
		delete(c.sessions, name)
	}
	c.mu.Unlock()

	if ok && entry.released != nil {
		entry.released(false)
	}
}

func (c *Client) release(name string, entry *namedSession) bool {
	if entry.record == nil {
		return false
	}

	req := &ipc.Request{
		UserID:    entry.userID,
		SessionID: entry.record.ID,
	}
	if entry.role == roleHost {
		req.Type = ipc.MessageTypeDestroySession
	} else {
		req.Type = ipc.MessageTypeLeaveSession
	}

	if _, err := c.send(req); err != nil {
		c.logger.Warn("release session failed",
			"name", logsanitize.Sanitize(name),
			"role", entry.role.String(),
			"session_id", entry.record.ID,
			"error", err)
		return false
	}
	c.logger.Info("session released", "name", logsanitize.Sanitize(name), "role", entry.role.String())
	return true
}

// send performs one request and folds error responses into the error.
func (c *Client) send(req *ipc.Request) (*ipc.Response, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) userID(user rendezvous.LocalUser) string {
	if c.users != nil {
		if id, ok := c.users.UserID(user); ok {
			return string(id)
		}
	}
	return c.guestID
}

func joinResultFor(err error) rendezvous.JoinResult {
	var respErr *ipc.ResponseError
	if !errors.As(err, &respErr) {
		return rendezvous.JoinUnknownError
	}
	switch respErr.Code {
	case ipc.CodeNotFound:
		return rendezvous.JoinSessionDoesNotExist
	case ipc.CodeSessionFull:
		return rendezvous.JoinSessionIsFull
	case ipc.CodeAlreadyMember:
		return rendezvous.JoinAlreadyInSession
	default:
		return rendezvous.JoinUnknownError
	}
}
