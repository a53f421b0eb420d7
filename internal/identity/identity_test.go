package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/al-bashkir/session-rendezvous/internal/eventloop"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

type backendFunc func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error)

func (f backendFunc) Authenticate(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
	return f(ctx, creds)
}

func waitResult(t *testing.T, ch <-chan rendezvous.LoginResult) rendezvous.LoginResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for login completion")
		return rendezvous.LoginResult{}
	}
}

func devBackend() *StaticBackend {
	return NewStaticBackend([]StaticUser{
		{Login: "alice", Token: "pw-alice", UserID: "U1", DisplayName: "Alice"},
		{Login: "bob", Token: "pw-bob"},
	})
}

func TestLoginSuccess(t *testing.T) {
	c := NewClient(devBackend(), eventloop.Inline{}, 0)

	if got := c.Status(0); got != rendezvous.NotLoggedIn {
		t.Fatalf("Status = %s, want NotLoggedIn", got)
	}

	results := make(chan rendezvous.LoginResult, 1)
	if !c.Login(0, rendezvous.Credentials{Type: "password", ID: "alice", Token: "pw-alice"}, func(r rendezvous.LoginResult) {
		results <- r
	}) {
		t.Fatal("Login returned false")
	}

	res := waitResult(t, results)
	if !res.OK || res.UserID != "U1" {
		t.Errorf("result = %+v, want OK U1", res)
	}
	if got := c.Status(0); got != rendezvous.LoggedIn {
		t.Errorf("Status = %s, want LoggedIn", got)
	}
	if id, ok := c.UserID(0); !ok || id != "U1" {
		t.Errorf("UserID = (%q, %v), want (U1, true)", id, ok)
	}
	if got := c.Status(1); got != rendezvous.NotLoggedIn {
		t.Errorf("other local user Status = %s, want NotLoggedIn", got)
	}
}

func TestLoginFailure(t *testing.T) {
	c := NewClient(devBackend(), eventloop.Inline{}, 0)

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{ID: "alice", Token: "wrong"}, func(r rendezvous.LoginResult) { results <- r })

	res := waitResult(t, results)
	if res.OK {
		t.Error("expected failed login")
	}
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("Err = %v, want ErrInvalidCredentials", res.Err)
	}
	if got := c.Status(0); got != rendezvous.NotLoggedIn {
		t.Errorf("Status = %s, want NotLoggedIn", got)
	}
}

func TestLoginOneOutstanding(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	backend := backendFunc(func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
		calls.Add(1)
		<-release
		return &Identity{UserID: "U1"}, nil
	})
	c := NewClient(backend, eventloop.Inline{}, 0)

	var completions atomic.Int32
	results := make(chan rendezvous.LoginResult, 2)
	done := func(r rendezvous.LoginResult) {
		completions.Add(1)
		results <- r
	}

	if !c.Login(0, rendezvous.Credentials{}, done) {
		t.Fatal("first Login returned false")
	}
	if got := c.Status(0); got != rendezvous.LoggingIn {
		t.Errorf("Status = %s, want LoggingIn", got)
	}
	if c.Login(0, rendezvous.Credentials{}, done) {
		t.Error("second Login returned true while first is outstanding")
	}

	// Other local users are independent.
	other := make(chan rendezvous.LoginResult, 1)
	if !c.Login(1, rendezvous.Credentials{}, func(r rendezvous.LoginResult) { other <- r }) {
		t.Error("Login for another local user returned false")
	}

	close(release)
	waitResult(t, results)
	waitResult(t, other)

	time.Sleep(50 * time.Millisecond)
	if n := completions.Load(); n != 1 {
		t.Errorf("completions = %d, want 1", n)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestLoginTimeout(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewClient(backend, eventloop.Inline{}, 50*time.Millisecond)

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{}, func(r rendezvous.LoginResult) { results <- r })

	res := waitResult(t, results)
	if res.OK || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("result = %+v, want deadline exceeded", res)
	}
	if got := c.Status(0); got != rendezvous.NotLoggedIn {
		t.Errorf("Status = %s, want NotLoggedIn", got)
	}
}

func TestLoginBackendPanic(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
		panic("boom")
	})
	c := NewClient(backend, eventloop.Inline{}, 0)

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{}, func(r rendezvous.LoginResult) { results <- r })

	res := waitResult(t, results)
	if res.OK || res.Err == nil {
		t.Errorf("result = %+v, want failure", res)
	}
	// The user can try again.
	if !c.Login(0, rendezvous.Credentials{}, func(rendezvous.LoginResult) {}) {
		t.Error("Login after panic returned false")
	}
}

func TestLoginEmptyUserID(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
		return &Identity{}, nil
	})
	c := NewClient(backend, eventloop.Inline{}, 0)

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{}, func(r rendezvous.LoginResult) { results <- r })

	if res := waitResult(t, results); res.OK {
		t.Errorf("result = %+v, want failure", res)
	}
}

func TestLoginExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	backend := backendFunc(func(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
		return &Identity{UserID: "U1", Expiry: now.Add(time.Hour)}, nil
	})
	c := NewClient(backend, eventloop.Inline{}, 0)
	c.now = func() time.Time { return now }

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{}, func(r rendezvous.LoginResult) { results <- r })
	waitResult(t, results)

	if got := c.Status(0); got != rendezvous.LoggedIn {
		t.Fatalf("Status = %s, want LoggedIn", got)
	}

	c.mu.Lock()
	c.now = func() time.Time { return now.Add(2 * time.Hour) }
	c.mu.Unlock()

	if got := c.Status(0); got != rendezvous.NotLoggedIn {
		t.Errorf("Status after expiry = %s, want NotLoggedIn", got)
	}
	if _, ok := c.UserID(0); ok {
		t.Error("UserID returned an expired identity")
	}
}

func TestLogout(t *testing.T) {
	c := NewClient(devBackend(), eventloop.Inline{}, 0)

	results := make(chan rendezvous.LoginResult, 1)
	c.Login(0, rendezvous.Credentials{ID: "bob", Token: "pw-bob"}, func(r rendezvous.LoginResult) { results <- r })
	if res := waitResult(t, results); res.UserID != "bob" {
		t.Errorf("UserID = %q, want bob (defaulted from login)", res.UserID)
	}

	c.Logout(0)
	if got := c.Status(0); got != rendezvous.NotLoggedIn {
		t.Errorf("Status after Logout = %s, want NotLoggedIn", got)
	}
}

func TestLoginOnEventLoop(t *testing.T) {
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	c := NewClient(devBackend(), loop, 0)

	var status rendezvous.LoginState
	results := make(chan rendezvous.LoginResult, 1)
	err := loop.Do(ctx, func() {
		c.Login(0, rendezvous.Credentials{ID: "alice", Token: "pw-alice"}, func(r rendezvous.LoginResult) {
			// Runs on the loop; the account is already updated.
			status = c.Status(0)
			results <- r
		})
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if res := waitResult(t, results); !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if status != rendezvous.LoggedIn {
		t.Errorf("Status seen by completion = %s, want LoggedIn", status)
	}
}

func TestStaticBackend(t *testing.T) {
	b := devBackend()

	tests := []struct {
		name    string
		creds   rendezvous.Credentials
		wantID  rendezvous.UserID
		wantErr bool
	}{
		{"password", rendezvous.Credentials{Type: "password", ID: "alice", Token: "pw-alice"}, "U1", false},
		{"developer", rendezvous.Credentials{Type: "developer", ID: "alice", Token: "pw-alice"}, "U1", false},
		{"default type", rendezvous.Credentials{ID: "bob", Token: "pw-bob"}, "bob", false},
		{"wrong token", rendezvous.Credentials{ID: "alice", Token: "pw-bob"}, "", true},
		{"unknown login", rendezvous.Credentials{ID: "carol", Token: "x"}, "", true},
		{"unsupported type", rendezvous.Credentials{Type: "id_token", Token: "eyJ"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := b.Authenticate(context.Background(), tt.creds)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.UserID != tt.wantID {
				t.Errorf("UserID = %q, want %q", id.UserID, tt.wantID)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Authenticate(ctx, rendezvous.Credentials{ID: "alice", Token: "pw-alice"}); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled ctx err = %v, want context.Canceled", err)
	}
}
