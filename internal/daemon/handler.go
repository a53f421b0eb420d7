package daemon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/al-bashkir/session-rendezvous/internal/ipc"
	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// NewHandler returns the IPC handler serving directory requests from mgr.
//
// Host addresses are only returned to the owner on create and to members
// on join; search and list results carry none.
func NewHandler(mgr *session.Manager) ipc.RequestHandler {
	return func(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
		return handleRequest(mgr, req), nil
	}
}

func handleRequest(mgr *session.Manager, req *ipc.Request) *ipc.Response {
	log := slog.With(
		"type", string(req.Type),
		"request_id", logsanitize.Sanitize(req.RequestID),
		"user_id", logsanitize.Sanitize(req.UserID),
	)

	switch req.Type {
	case ipc.MessageTypeCreateSession:
		if req.Settings == nil {
			return invalid("settings are required")
		}
		s, err := mgr.Create(req.UserID, req.Name, req.HostAddress, *req.Settings)
		if err != nil {
			log.Warn("create session rejected", "name", logsanitize.Sanitize(req.Name), "error", err)
			return errorResponse(err)
		}
		log.Info("session created", "session_id", s.ID, "name", logsanitize.Sanitize(s.Name), "keyword", logsanitize.Sanitize(s.Settings.Keyword))
		return &ipc.Response{Status: ipc.StatusOK, Session: s}

	case ipc.MessageTypeFindSessions:
		var f session.Filter
		if req.Filter != nil {
			f = *req.Filter
		}
		found := mgr.Search(f)
		log.Debug("sessions found", "keyword", logsanitize.Sanitize(f.Keyword), "count", len(found))
		return &ipc.Response{Status: ipc.StatusOK, Sessions: withoutAddresses(found)}

	case ipc.MessageTypeJoinSession:
		s, err := mgr.Join(req.SessionID, req.UserID)
		if err != nil {
			log.Info("join rejected", "session_id", logsanitize.Sanitize(req.SessionID), "error", err)
			return errorResponse(err)
		}
		log.Info("session joined", "session_id", s.ID, "members", len(s.Members))
		return &ipc.Response{Status: ipc.StatusOK, Session: s}

	case ipc.MessageTypeLeaveSession:
		if err := mgr.Leave(req.SessionID, req.UserID); err != nil {
			return errorResponse(err)
		}
		log.Info("session left", "session_id", logsanitize.Sanitize(req.SessionID))
		return &ipc.Response{Status: ipc.StatusOK}

	case ipc.MessageTypeDestroySession:
		if err := mgr.Destroy(req.SessionID, req.UserID); err != nil {
			log.Warn("destroy rejected", "session_id", logsanitize.Sanitize(req.SessionID), "error", err)
			return errorResponse(err)
		}
		log.Info("session destroyed", "session_id", logsanitize.Sanitize(req.SessionID))
		return &ipc.Response{Status: ipc.StatusOK}

	case ipc.MessageTypeListSessions:
		return &ipc.Response{Status: ipc.StatusOK, Sessions: withoutAddresses(mgr.List())}

	default:
		return invalid("unknown request type")
	}
}

func withoutAddresses(in []*session.Session) []*session.Session {
	for _, s := range in {
		s.HostAddress = ""
	}
	return in
}

func invalid(msg string) *ipc.Response {
	return &ipc.Response{Status: ipc.StatusError, Code: ipc.CodeInvalidRequest, Error: msg}
}

// errorResponse maps store errors to wire codes.
func errorResponse(err error) *ipc.Response {
	code := ipc.CodeInternal
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = ipc.CodeNotFound
	case errors.Is(err, session.ErrExists):
		code = ipc.CodeExists
	case errors.Is(err, session.ErrAlreadyMember):
		code = ipc.CodeAlreadyMember
	case errors.Is(err, session.ErrNotMember):
		code = ipc.CodeNotMember
	case errors.Is(err, session.ErrFull):
		code = ipc.CodeSessionFull
	case errors.Is(err, session.ErrNotOwner):
		code = ipc.CodeNotOwner
	case errors.Is(err, session.ErrInvalid):
		code = ipc.CodeInvalidRequest
	case errors.Is(err, session.ErrLimitExceeded):
		code = ipc.CodeLimitExceeded
	}
	return &ipc.Response{Status: ipc.StatusError, Code: code, Error: err.Error()}
}
