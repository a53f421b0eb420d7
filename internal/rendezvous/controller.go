package rendezvous

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
)

// operation kinds, each with its own generation counter
type operation int

const (
	opLogin operation = iota
	opCreate
	opFind
	opJoin
	opDestroy
	opCount
)

var operationNames = [opCount]string{"login", "create_session", "find_sessions", "join_session", "destroy_session"}

// liveness is shared by every callback a controller hands out.
// Once killed, late completions are dropped without touching the controller.
type liveness struct {
	alive atomic.Bool
}

// ticket binds a completion to the controller instance and the operation
// generation that issued it.
type ticket struct {
	op    operation
	gen   uint64
	token *liveness
}

type role int

const (
	roleNone role = iota
	roleHost
	roleMember
)

// Deps are the external collaborators of a Controller.
type Deps struct {
	Identity IdentityProvider
	Sessions SessionProvider
	Levels   LevelLoader
	Travel   Traveler
}

// Options are optional Controller settings.
type Options struct {
	Logger *slog.Logger
	// Status receives short user-facing messages (on-screen notifications).
	Status func(msg string)
}

// Controller sequences login and session lifecycle calls.
// It is not safe for concurrent use; see the package doc.
type Controller struct {
	cfg    Config
	deps   Deps
	log    *slog.Logger
	status func(string)

	token *liveness
	gens  [opCount]uint64

	loginState   LoginState
	userID       UserID
	sessionState SessionState
	role         role
	search       SearchState
	attempt      ConnectionAttempt
	lastErr      error
}

// New creates a controller. Every dependency is required.
func New(cfg Config, deps Deps, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if deps.Identity == nil || deps.Sessions == nil {
		return nil, errors.New("identity and session providers are required")
	}
	if deps.Levels == nil || deps.Travel == nil {
		return nil, errors.New("level loader and traveler are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    logger.With("session_name", cfg.SessionName, "local_user", int(cfg.LocalUser)),
		status: opts.Status,
		token:  &liveness{},
	}
	c.token.alive.Store(true)
	return c, nil
}

// LoginState returns the controller's view of the local user's login.
func (c *Controller) LoginState() LoginState { return c.loginState }

// UserID returns the identity stored by the last successful login.
func (c *Controller) UserID() UserID { return c.userID }

// SessionState returns the session sub-state.
func (c *Controller) SessionState() SessionState { return c.sessionState }

// Attempt returns the latest connection attempt.
func (c *Controller) Attempt() ConnectionAttempt { return c.attempt }

// Search returns a copy of the cached search state.
func (c *Controller) Search() SearchState {
	s := c.search
	s.Results = append([]SearchResult(nil), c.search.Results...)
	return s
}

// Err returns the failure of the most recent attempt, or nil.
func (c *Controller) Err() error { return c.lastErr }

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool { return !c.token.alive.Load() }

// Login starts an asynchronous login unless the user is already logged in
// or a login is already outstanding.
func (c *Controller) Login() {
	if c.Closed() {
		return
	}

	if c.deps.Identity.Status(c.cfg.LocalUser) == LoggedIn {
		c.loginState = LoggedIn
		c.notify("Login Status: %s", LoggedIn)
		return
	}
	if c.loginState == LoggingIn {
		c.log.Debug("login already in progress")
		return
	}

	t := c.begin(opLogin)
	c.loginState = LoggingIn
	c.lastErr = nil

	accepted := c.deps.Identity.Login(c.cfg.LocalUser, c.cfg.Credentials, func(res LoginResult) {
		c.onLoginComplete(t, res)
	})
	if !accepted {
		if c.current(t) {
			c.loginState = NotLoggedIn
			c.lastErr = fmt.Errorf("%w: request rejected", ErrAuthentication)
		}
		c.log.Warn("login request rejected by identity provider")
		c.notify("Login: Fail")
		return
	}

	c.notify("Login Status: %s", c.loginState)
}

func (c *Controller) onLoginComplete(t ticket, res LoginResult) {
	if !c.accept(t) {
		return
	}

	if !res.OK || res.UserID == "" {
		c.loginState = NotLoggedIn
		err := res.Err
		if err == nil {
			err = errors.New("no user id returned")
		}
		c.lastErr = fmt.Errorf("%w: %w", ErrAuthentication, err)
		c.log.Warn("login failed", "error", err)
		c.notify("Login: Fail")
		return
	}

	c.userID = res.UserID
	c.loginState = LoggedIn
	c.log.Info("login complete", "user_id", logsanitize.Sanitize(string(res.UserID)))
	c.notify("Login Status: %s", LoggedIn)
}

// HostSession asks the session provider to create and advertise the
// session. It returns true if the request was dispatched; whether the
// session actually went live is only known from the completion.
func (c *Controller) HostSession() bool {
	if c.Closed() {
		return false
	}
	if err := c.checkLogin(); err != nil {
		c.fail(err, "create session rejected", "CreateSession: Fail")
		return false
	}
	if c.sessionState != NoSession {
		c.fail(fmt.Errorf("%w (%s)", ErrSessionBusy, c.sessionState), "create session rejected", "CreateSession: Fail")
		return false
	}

	t := c.begin(opCreate)
	c.sessionState = Hosting
	c.lastErr = nil

	accepted := c.deps.Sessions.Create(c.cfg.LocalUser, c.cfg.SessionName, c.cfg.hostSettings(), func(name string, ok bool) {
		c.onCreateComplete(t, name, ok)
	})
	if !accepted {
		if c.current(t) {
			c.sessionState = NoSession
		}
		c.fail(fmt.Errorf("%w: request not dispatched", ErrSessionCreate), "create session request rejected", "CreateSession: Fail")
		return false
	}
	return true
}

func (c *Controller) onCreateComplete(t ticket, name string, ok bool) {
	if !c.accept(t) {
		return
	}
	if name != c.cfg.SessionName {
		c.log.Warn("create completion for another session name ignored", "name", logsanitize.Sanitize(name))
		return
	}

	if !ok {
		c.sessionState = NoSession
		c.fail(ErrSessionCreate, "create session failed", "CreateSession: Fail")
		return
	}

	c.sessionState = SessionActive
	c.role = roleHost
	c.log.Info("session created, entering hosted level", "level", c.cfg.HostLevel)
	c.notify("CreateSession: Success")
	c.deps.Levels.OpenLevel(c.cfg.HostLevel, ListenOption)
}

// FindSession searches for sessions advertising the configured keyword and
// joins the first result. A new call supersedes any search still in flight.
func (c *Controller) FindSession() {
	if c.Closed() {
		return
	}
	if err := c.checkLogin(); err != nil {
		c.fail(err, "find session rejected", "Find Session: Fail")
		return
	}
	if c.sessionState != NoSession && c.sessionState != Searching {
		c.fail(fmt.Errorf("%w (%s)", ErrSessionBusy, c.sessionState), "find session rejected", "Find Session: Fail")
		return
	}

	t := c.begin(opFind)
	c.search = SearchState{Phase: SearchInFlight, Generation: t.gen}
	c.sessionState = Searching
	c.lastErr = nil

	accepted := c.deps.Sessions.Search(c.cfg.LocalUser, c.cfg.searchFilter(), func(ok bool, results []SearchResult) {
		c.onFindComplete(t, ok, results)
	})
	if !accepted && c.current(t) {
		c.search = SearchState{}
		c.sessionState = NoSession
		c.fail(fmt.Errorf("%w: request not dispatched", ErrSessionSearch), "find session request rejected", "Find Session: Fail")
	}
}

func (c *Controller) onFindComplete(t ticket, ok bool, results []SearchResult) {
	if !c.accept(t) {
		return
	}

	if !ok {
		c.search = SearchState{}
		c.sessionState = NoSession
		c.fail(ErrSessionSearch, "find session failed", "Find Session: Fail")
		return
	}

	c.search = SearchState{
		Phase:      SearchReady,
		Generation: t.gen,
		Results:    append([]SearchResult(nil), results...),
	}
	c.sessionState = NoSession
	c.notify("Find Session: Success")
	c.log.Info("find session complete", "results", len(results))

	if len(results) == 0 {
		c.lastErr = ErrNoResults
		c.notify("No session found.")
		return
	}

	if err := c.JoinSession(c.search.Results[0]); err != nil {
		c.log.Warn("join after search not started", "error", err)
	}
}

// JoinSession joins one result of the current search. It rejects invalid
// or stale results and refuses to start a second join while one is pending.
func (c *Controller) JoinSession(result SearchResult) error {
	if c.Closed() {
		return ErrClosed
	}
	if !result.Valid() {
		c.log.Warn("join rejected: invalid session")
		c.notify("Invalid session.")
		return ErrInvalidResult
	}
	if c.attempt.State == AttemptPending {
		c.log.Warn("join rejected: attempt already pending", "pending_session_id", c.attempt.SessionID)
		return ErrJoinPending
	}
	if err := c.checkLogin(); err != nil {
		c.fail(err, "join rejected", "Join Session: Fail")
		return err
	}
	if c.sessionState != NoSession && c.sessionState != Searching {
		err := fmt.Errorf("%w (%s)", ErrSessionBusy, c.sessionState)
		c.fail(err, "join rejected", "Join Session: Fail")
		return err
	}
	if !c.search.contains(result) {
		c.log.Warn("join rejected: stale search result", "session_id", logsanitize.Sanitize(result.SessionID))
		return ErrStaleResult
	}

	t := c.begin(opJoin)
	c.attempt = ConnectionAttempt{State: AttemptPending, SessionID: result.SessionID}
	c.sessionState = Joining
	c.lastErr = nil

	accepted := c.deps.Sessions.Join(c.cfg.LocalUser, c.cfg.SessionName, result, func(name string, jr JoinResult) {
		c.onJoinComplete(t, name, jr)
	})
	if !accepted {
		err := fmt.Errorf("%w: request not dispatched", ErrSessionJoin)
		if c.current(t) {
			c.attempt.State = AttemptFailed
			c.attempt.Result = JoinUnknownError
			c.sessionState = NoSession
		}
		c.fail(err, "join session request rejected", "Join Session: Fail")
		return err
	}

	c.log.Info("join session requested", "session_id", logsanitize.Sanitize(result.SessionID))
	return nil
}

func (c *Controller) onJoinComplete(t ticket, name string, jr JoinResult) {
	if !c.accept(t) {
		return
	}
	if name != c.cfg.SessionName {
		c.log.Warn("join completion for another session name ignored", "name", logsanitize.Sanitize(name))
		return
	}

	c.attempt.Result = jr
	if jr != JoinSuccess {
		c.attempt.State = AttemptFailed
		c.sessionState = NoSession
		c.fail(&JoinError{Result: jr}, "join session failed", "Join Session: Fail")
		return
	}

	address, ok := c.deps.Sessions.ResolveConnectAddress(c.cfg.SessionName)
	if !ok || address == "" {
		c.attempt.State = AttemptFailed
		c.attempt.Result = JoinCouldNotRetrieveAddress
		c.sessionState = NoSession
		c.fail(&JoinError{Result: JoinCouldNotRetrieveAddress}, "join session: could not resolve connect address", "Join Session: Fail")
		// The provider still holds the joined session; free the slot.
		c.release()
		return
	}

	c.attempt.State = AttemptResolved
	c.attempt.Address = address
	c.sessionState = SessionActive
	c.role = roleMember

	c.log.Info("join session: traveling", "address", logsanitize.Sanitize(address))
	c.notify("Join Session: Success")
	c.deps.Travel.ClientTravel(address)
	c.attempt.State = AttemptTraveled
}

// KillSession destroys the session slot and always returns to the lobby
// level, whether or not the destroy succeeds.
func (c *Controller) KillSession() {
	if c.Closed() {
		return
	}

	// Anything still in flight belongs to the session being left.
	c.begin(opCreate)
	c.begin(opFind)
	c.begin(opJoin)
	c.search = SearchState{}
	c.attempt = ConnectionAttempt{}
	c.role = roleNone

	t := c.begin(opDestroy)
	c.sessionState = Leaving

	accepted := c.deps.Sessions.Destroy(c.cfg.SessionName, func(name string, ok bool) {
		c.onDestroyComplete(t, name, ok)
	})
	if !accepted && c.current(t) {
		c.sessionState = NoSession
		c.log.Warn("destroy session request rejected, leaving anyway")
	}

	c.deps.Levels.OpenLevel(c.cfg.LobbyLevel, "")
}

func (c *Controller) onDestroyComplete(t ticket, name string, ok bool) {
	if !c.accept(t) {
		return
	}
	if !ok {
		c.log.Warn("destroy session failed, ignored", "name", logsanitize.Sanitize(name))
	} else {
		c.log.Info("session destroyed", "name", logsanitize.Sanitize(name))
	}
	c.sessionState = NoSession
}

// Close tears the controller down. Completions that arrive afterwards are
// dropped, and a session this controller still holds is destroyed.
func (c *Controller) Close() {
	if !c.token.alive.CompareAndSwap(true, false) {
		return
	}

	switch c.sessionState {
	case Hosting, Joining, SessionActive:
		c.deps.Sessions.Destroy(c.cfg.SessionName, func(string, bool) {})
	}
	c.log.Debug("controller closed", "session_state", c.sessionState.String())
}

// release drops the provider's hold on the session slot without leaving
// the current level.
func (c *Controller) release() {
	c.deps.Sessions.Destroy(c.cfg.SessionName, func(name string, ok bool) {
		if c.token.alive.Load() && !ok {
			c.log.Debug("release of session slot failed", "name", logsanitize.Sanitize(name))
		}
	})
}

func (c *Controller) begin(op operation) ticket {
	c.gens[op]++
	return ticket{op: op, gen: c.gens[op], token: c.token}
}

func (c *Controller) current(t ticket) bool {
	return t.token.alive.Load() && c.gens[t.op] == t.gen
}

// accept reports whether a completion should be acted on.
func (c *Controller) accept(t ticket) bool {
	if !t.token.alive.Load() {
		return false
	}
	if c.gens[t.op] != t.gen {
		c.log.Debug("stale completion discarded",
			"operation", operationNames[t.op],
			"generation", t.gen,
			"current", c.gens[t.op],
		)
		return false
	}
	return true
}

func (c *Controller) checkLogin() error {
	if !c.cfg.RequireLogin || c.loginState == LoggedIn {
		return nil
	}
	return ErrNotLoggedIn
}

func (c *Controller) fail(err error, logMsg, statusMsg string) {
	c.lastErr = err
	c.log.Warn(logMsg, "error", err)
	c.notify("%s", statusMsg)
}

func (c *Controller) notify(format string, args ...any) {
	if c.status == nil {
		return
	}
	c.status(fmt.Sprintf(format, args...))
}
