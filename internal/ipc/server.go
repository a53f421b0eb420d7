package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RequestHandler answers one directory request. A returned error is sent
// to the client as an internal error response.
type RequestHandler func(ctx context.Context, req *Request) (*Response, error)

// maxRequestSize bounds a single decoded request.
const maxRequestSize = 64 << 10

// Server listens on a Unix socket for directory requests.
type Server struct {
	socketPath  string
	listener    net.Listener
	handler     RequestHandler
	readTimeout time.Duration
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
	mu          sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(socketPath string, handler RequestHandler) *Server {
	return &Server{
		socketPath:  socketPath,
		handler:     handler,
		readTimeout: 10 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

// Start starts the IPC server
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// Owner and group only. Clients run as members of the daemon's group.
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("IPC server started", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		slog.Warn("failed to set connection deadline", "error", err)
	}

	var req Request
	resp := s.dispatch(ctx, conn, &req)
	resp.Type = MessageTypeResponse
	resp.RequestID = req.RequestID

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Error("failed to send response", "type", req.Type, "error", err)
		return
	}
	slog.Debug("response sent", "type", req.Type, "status", resp.Status, "code", resp.Code)
}

// dispatch decodes one request into req and returns the reply to send.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, req *Request) *Response {
	if err := json.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(req); err != nil {
		slog.Error("failed to decode request", "error", err)
		*req = Request{}
		return errorResponse(CodeInvalidRequest, "invalid request format")
	}
	if !req.Type.Valid() {
		slog.Error("invalid request type", "type", sanitizeIPCValue(string(req.Type)))
		return errorResponse(CodeInvalidRequest, "invalid request type")
	}

	slog.Debug("request received",
		"type", req.Type,
		"request_id", sanitizeIPCValue(req.RequestID),
		"user_id", sanitizeIPCValue(req.UserID),
		"session_id", sanitizeIPCValue(req.SessionID),
	)

	resp, err := s.handler(ctx, req)
	switch {
	case err != nil:
		slog.Error("handler error", "type", req.Type, "error", err)
		return errorResponse(CodeInternal, err.Error())
	case resp == nil:
		return errorResponse(CodeInternal, "empty response")
	}
	return resp
}

func errorResponse(code ErrorCode, msg string) *Response {
	return &Response{Status: StatusError, Code: code, Error: msg}
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file. Calling it again is a no-op.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("stopping IPC server")
		close(s.stopChan)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				slog.Warn("failed to close listener", "error", err)
			}
		}
		s.mu.Unlock()

		s.wg.Wait()

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove socket file", "error", err)
		}

		slog.Info("IPC server stopped")
	})
	return nil
}
