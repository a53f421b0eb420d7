package ipc_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/al-bashkir/session-rendezvous/internal/ipc"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// ExampleServer shows the daemon side: a handler answering directory requests.
func ExampleServer() {
	tmpDir, err := os.MkdirTemp("", "ipc-example-")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "directory.sock")

	handler := func(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
		switch req.Type {
		case ipc.MessageTypeFindSessions:
			return &ipc.Response{Status: ipc.StatusOK}, nil
		default:
			return &ipc.Response{Status: ipc.StatusError, Code: ipc.CodeInvalidRequest}, nil
		}
	}

	server := ipc.NewServer(socketPath, handler)
	if err := server.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = server.Stop() }()

	fmt.Println("IPC server running")

	// Output:
	// IPC server running
}

// ExampleClient shows a host publishing its session record.
func ExampleClient() {
	tmpDir, err := os.MkdirTemp("", "ipc-example-")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "directory.sock")

	handler := func(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
		return &ipc.Response{
			Status:  ipc.StatusOK,
			Session: &session.Session{Name: req.Name, HostAddress: req.HostAddress},
		}, nil
	}

	server := ipc.NewServer(socketPath, handler)
	if err := server.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = server.Stop() }()

	client := ipc.NewClient(socketPath)
	resp, err := client.Send(context.Background(), &ipc.Request{
		Type:        ipc.MessageTypeCreateSession,
		UserID:      "player-1",
		Name:        "SessionName",
		HostAddress: "127.0.0.1:7777",
		Settings:    &session.Settings{NumPublicConnections: 4, Keyword: "Custom"},
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := resp.Err(); err != nil {
		fmt.Println("create failed:", err)
		return
	}
	fmt.Printf("session %s published at %s\n", resp.Session.Name, resp.Session.HostAddress)

	// Output:
	// session SessionName published at 127.0.0.1:7777
}
