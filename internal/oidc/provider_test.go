package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/al-bashkir/session-rendezvous/internal/config"
	"github.com/al-bashkir/session-rendezvous/internal/eventloop"
	"github.com/al-bashkir/session-rendezvous/internal/identity"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

const testClientID = "test-client"

// testIssuer is a minimal OIDC issuer: discovery, JWKS and a token
// endpoint supporting the password grant.
type testIssuer struct {
	URL       string
	key       *rsa.PrivateKey
	passwords map[string]string
	roles     []string
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ti := &testIssuer{
		key:       key,
		passwords: map[string]string{"alice": "pw-alice"},
		roles:     []string{"player"},
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/test/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"issuer":                                ti.URL,
				"authorization_endpoint":                ti.URL + "/auth",
				"token_endpoint":                        ti.URL + "/token",
				"jwks_uri":                              ti.URL + "/keys",
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})

		case "/realms/test/keys":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
				Key:       &key.PublicKey,
				KeyID:     "k1",
				Algorithm: string(jose.RS256),
				Use:       "sig",
			}}})

		case "/realms/test/token":
			ti.handleToken(t, w, r)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	ti.URL = ts.URL + "/realms/test"
	return ti
}

func (ti *testIssuer) handleToken(t *testing.T, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	username := r.PostForm.Get("username")
	if r.PostForm.Get("grant_type") != "password" || ti.passwords[username] != r.PostForm.Get("password") || username == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": ti.sign(t, ti.key, map[string]interface{}{
			"realm_access": map[string]interface{}{"roles": ti.roles},
		}),
		"id_token":   ti.sign(t, ti.key, ti.idClaims(username, time.Hour)),
		"token_type": "Bearer",
		"expires_in": 300,
	})
}

func (ti *testIssuer) idClaims(username string, ttl time.Duration) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss":                ti.URL,
		"aud":                testClientID,
		"sub":                "user-" + username,
		"preferred_username": username,
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
	}
}

func (ti *testIssuer) sign(t *testing.T, key *rsa.PrivateKey, claims map[string]interface{}) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: "k1"}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	raw, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return raw
}

func (ti *testIssuer) config() *config.OIDCConfig {
	return &config.OIDCConfig{
		Issuer:        ti.URL,
		ClientID:      testClientID,
		Scopes:        []string{"openid"},
		RoleClaim:     "realm_access.roles",
		UsernameClaim: "preferred_username",
		UserIDClaim:   "sub",
	}
}

func newTestProvider(t *testing.T, ti *testIssuer, mutate func(*config.OIDCConfig)) *Provider {
	t.Helper()

	cfg := ti.config()
	if mutate != nil {
		mutate(cfg)
	}

	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return p
}

func TestNewProvider(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	if got := p.oauth2Config.Endpoint.TokenURL; got != ti.URL+"/token" {
		t.Fatalf("token URL = %q, want %q", got, ti.URL+"/token")
	}
	if p.oauth2Config.ClientID != testClientID {
		t.Fatalf("client_id = %q, want %q", p.oauth2Config.ClientID, testClientID)
	}
}

func TestNewProvider_DiscoveryFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	_, err := NewProvider(context.Background(), &config.OIDCConfig{
		Issuer:   ts.URL + "/realms/test",
		ClientID: testClientID,
		Scopes:   []string{"openid"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestAuthenticatePassword(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, func(c *config.OIDCConfig) {
		c.RequiredRoles = []string{"player"}
	})

	id, err := p.Authenticate(context.Background(), rendezvous.Credentials{
		Type: "password", ID: "alice", Token: "pw-alice",
	})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if id.UserID != "user-alice" {
		t.Errorf("UserID = %q, want user-alice", id.UserID)
	}
	if id.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want alice", id.DisplayName)
	}
	if id.Expiry.IsZero() || !id.Expiry.After(time.Now()) {
		t.Errorf("Expiry = %v, want a future time", id.Expiry)
	}
}

func TestAuthenticatePasswordRejected(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	_, err := p.Authenticate(context.Background(), rendezvous.Credentials{
		Type: "password", ID: "alice", Token: "wrong",
	})
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticatePasswordRequiresLogin(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	_, err := p.Authenticate(context.Background(), rendezvous.Credentials{Type: "password", Token: "pw"})
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateMissingRole(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, func(c *config.OIDCConfig) {
		c.RequiredRoles = []string{"game-admin"}
	})

	_, err := p.Authenticate(context.Background(), rendezvous.Credentials{
		Type: "password", ID: "alice", Token: "pw-alice",
	})
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if !strings.Contains(err.Error(), "does not have required roles") {
		t.Errorf("err = %v, want role failure", err)
	}
}

func TestAuthenticateIDToken(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	raw := ti.sign(t, ti.key, ti.idClaims("bob", time.Hour))

	tests := []struct {
		name    string
		creds   rendezvous.Credentials
		wantID  rendezvous.UserID
		wantErr bool
	}{
		{
			name:   "token only",
			creds:  rendezvous.Credentials{Type: "id_token", Token: raw},
			wantID: "user-bob",
		},
		{
			name:   "matching login",
			creds:  rendezvous.Credentials{Type: "id_token", ID: "bob", Token: raw},
			wantID: "user-bob",
		},
		{
			name:    "login mismatch",
			creds:   rendezvous.Credentials{Type: "id_token", ID: "alice", Token: raw},
			wantErr: true,
		},
		{
			name:    "empty token",
			creds:   rendezvous.Credentials{Type: "id_token"},
			wantErr: true,
		},
		{
			name:    "garbage token",
			creds:   rendezvous.Credentials{Type: "id_token", Token: "not-a-jwt"},
			wantErr: true,
		},
		{
			name:    "unsupported type",
			creds:   rendezvous.Credentials{Type: "developer", ID: "bob", Token: raw},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := p.Authenticate(context.Background(), tt.creds)
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
}

func TestAuthenticateIDTokenRejected(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	expiredClaims := ti.idClaims("bob", -time.Hour)
	wrongAudience := ti.idClaims("bob", time.Hour)
	wrongAudience["aud"] = "another-client"

	tests := []struct {
		name string
		raw  string
	}{
		{"bad signature", ti.sign(t, otherKey, ti.idClaims("bob", time.Hour))},
		{"expired", ti.sign(t, ti.key, expiredClaims)},
		{"wrong audience", ti.sign(t, ti.key, wrongAudience)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), rendezvous.Credentials{Type: "id_token", Token: tt.raw})
			if !errors.Is(err, identity.ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestAuthenticateCustomUserIDClaim(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, func(c *config.OIDCConfig) {
		c.UserIDClaim = "preferred_username"
	})

	id, err := p.Authenticate(context.Background(), rendezvous.Credentials{
		Type: "password", ID: "alice", Token: "pw-alice",
	})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if id.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", id.UserID)
	}
}

func TestProviderAsIdentityBackend(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti, nil)

	client := identity.NewClient(p, eventloop.Inline{}, 5*time.Second)

	results := make(chan rendezvous.LoginResult, 1)
	if !client.Login(0, rendezvous.Credentials{Type: "password", ID: "alice", Token: "pw-alice"}, func(r rendezvous.LoginResult) {
		results <- r
	}) {
		t.Fatal("Login returned false")
	}

	select {
	case res := <-results:
		if !res.OK || res.UserID != "user-alice" {
			t.Fatalf("result = %+v, want OK user-alice", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for login")
	}

	if got := client.Status(0); got != rendezvous.LoggedIn {
		t.Errorf("Status = %s, want LoggedIn", got)
	}
}
