// Package ipc is the directory's request/response protocol: one JSON
// request and one JSON response per Unix socket connection.
package ipc

import "github.com/al-bashkir/session-rendezvous/internal/session"

// MessageType represents the type of IPC message
type MessageType string

const (
	MessageTypeCreateSession  MessageType = "create_session"
	MessageTypeFindSessions   MessageType = "find_sessions"
	MessageTypeJoinSession    MessageType = "join_session"
	MessageTypeLeaveSession   MessageType = "leave_session"
	MessageTypeDestroySession MessageType = "destroy_session"
	MessageTypeListSessions   MessageType = "list_sessions"

	// MessageTypeResponse is the type of every reply.
	MessageTypeResponse MessageType = "response"
)

// Valid reports whether t is a request type the directory understands.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeCreateSession, MessageTypeFindSessions, MessageTypeJoinSession,
		MessageTypeLeaveSession, MessageTypeDestroySession, MessageTypeListSessions:
		return true
	}
	return false
}

// Request is sent from a directory client to the daemon.
// Which fields are used depends on Type.
type Request struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`

	// UserID is the authenticated identity of the caller.
	UserID string `json:"user_id,omitempty"`

	// create_session
	Name        string            `json:"name,omitempty"`
	HostAddress string            `json:"host_address,omitempty"`
	Settings    *session.Settings `json:"settings,omitempty"`

	// find_sessions
	Filter *session.Filter `json:"filter,omitempty"`

	// join_session, leave_session, destroy_session
	SessionID string `json:"session_id,omitempty"`
}

// Response is sent from the daemon back to the client.
type Response struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Status    string      `json:"status"` // "ok" or "error"
	Code      ErrorCode   `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`

	Session  *session.Session   `json:"session,omitempty"`
	Sessions []*session.Session `json:"sessions,omitempty"`
}

// ResponseStatus constants
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrorCode is the machine-readable failure reason of an error response.
type ErrorCode string

const (
	CodeNotFound       ErrorCode = "not_found"
	CodeExists         ErrorCode = "exists"
	CodeAlreadyMember  ErrorCode = "already_member"
	CodeNotMember      ErrorCode = "not_member"
	CodeSessionFull    ErrorCode = "session_full"
	CodeNotOwner       ErrorCode = "not_owner"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeLimitExceeded  ErrorCode = "limit_exceeded"
	CodeInternal       ErrorCode = "internal"
)
