package identity

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

// StaticUser is a fixed developer account.
type StaticUser struct {
	Login       string `yaml:"login"`
	Token       string `yaml:"token"`
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
}

// StaticBackend authenticates against a fixed account list. It is meant
// for local development and tests.
type StaticBackend struct {
	users map[string]StaticUser
}

// NewStaticBackend indexes users by login. Users without a UserID are
// assigned their login.
func NewStaticBackend(users []StaticUser) *StaticBackend {
	b := &StaticBackend{users: make(map[string]StaticUser, len(users))}
	for _, u := range users {
		if u.UserID == "" {
			u.UserID = u.Login
		}
		b.users[u.Login] = u
	}
	return b
}

// Authenticate accepts "password" and "developer" credentials.
func (b *StaticBackend) Authenticate(ctx context.Context, creds rendezvous.Credentials) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch creds.Type {
	case "", "password", "developer":
	default:
		return nil, fmt.Errorf("static backend: unsupported credential type %q", creds.Type)
	}

	u, ok := b.users[creds.ID]
	if !ok || subtle.ConstantTimeCompare([]byte(creds.Token), []byte(u.Token)) != 1 {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		UserID:      rendezvous.UserID(u.UserID),
		DisplayName: u.DisplayName,
	}, nil
}
