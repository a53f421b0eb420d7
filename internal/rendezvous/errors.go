package rendezvous

import "errors"

var (
	ErrAuthentication = errors.New("rendezvous: authentication failed")
	ErrSessionCreate  = errors.New("rendezvous: session create failed")
	ErrSessionSearch  = errors.New("rendezvous: session search failed")
	ErrNoResults      = errors.New("rendezvous: no session found")
	ErrSessionJoin    = errors.New("rendezvous: session join failed")
	ErrSessionDestroy = errors.New("rendezvous: session destroy failed")

	ErrNotLoggedIn   = errors.New("rendezvous: local user is not logged in")
	ErrSessionBusy   = errors.New("rendezvous: session slot already in use")
	ErrJoinPending   = errors.New("rendezvous: a join is already pending")
	ErrInvalidResult = errors.New("rendezvous: invalid session")
	ErrStaleResult   = errors.New("rendezvous: search result is not from the current search")
	ErrClosed        = errors.New("rendezvous: controller closed")
)

// JoinError carries the provider's join result.
type JoinError struct {
	Result JoinResult
}

func (e *JoinError) Error() string {
	return "rendezvous: session join failed: " + e.Result.String()
}

func (e *JoinError) Unwrap() error {
	return ErrSessionJoin
}
