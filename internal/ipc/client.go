package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client talks to the directory daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Send delivers req and waits for the daemon's response. A request ID is
// assigned when req has none. An error response from the daemon is
// returned as a *Response, not as an error; see Response.Err.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	resp, err := exchange(conn, req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Type != MessageTypeResponse:
		return nil, fmt.Errorf("invalid response type: %s", resp.Type)
	case resp.RequestID != "" && resp.RequestID != req.RequestID:
		return nil, fmt.Errorf("response for request %s, want %s", resp.RequestID, req.RequestID)
	}
	return resp, nil
}

// dial connects and bounds the whole exchange by ctx's deadline, or by the
// client timeout when ctx has none.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}
	return conn, nil
}

func exchange(conn net.Conn, req *Request) (*Response, error) {
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// SetTimeout sets the connection timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// ResponseError is an error response from the daemon.
type ResponseError struct {
	Code    ErrorCode
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return "directory error: " + string(e.Code)
	}
	return fmt.Sprintf("directory error (%s): %s", e.Code, e.Message)
}

// Err returns a *ResponseError for an error response, nil otherwise.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &ResponseError{Code: r.Code, Message: r.Error}
}
