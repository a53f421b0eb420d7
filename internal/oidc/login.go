package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/al-bashkir/session-rendezvous/internal/auth"
	"github.com/al-bashkir/session-rendezvous/internal/identity"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

// Authenticate implements identity.Backend.
//
// Password credentials are exchanged with the token endpoint using the
// resource owner password grant; the returned ID token must name the same
// user. ID token credentials are verified directly.
func (p *Provider) Authenticate(ctx context.Context, creds rendezvous.Credentials) (*identity.Identity, error) {
	var (
		idToken  *oidc.IDToken
		claims   Claims
		expected string
		err      error
	)

	switch creds.Type {
	case auth.TypePassword, "":
		if creds.ID == "" {
			return nil, fmt.Errorf("%w: login is required for the password grant", identity.ErrInvalidCredentials)
		}
		idToken, claims, err = p.passwordLogin(ctx, creds.ID, creds.Token)
		expected = creds.ID

	case auth.TypeIDToken:
		idToken, claims, err = p.verify(ctx, creds.Token)
		expected = creds.ID // optional; empty skips the username check

	default:
		return nil, fmt.Errorf("unsupported credential type %q", creds.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := p.validator.ValidateToken(claims, expected); err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
	}

	userID, err := p.validator.UserID(claims)
	if err != nil {
		return nil, err
	}

	displayName, _ := claims.String(p.validator.cfg.UsernameClaim)

	return &identity.Identity{
		UserID:      rendezvous.UserID(userID),
		DisplayName: displayName,
		Expiry:      idToken.Expiry,
	}, nil
}

// passwordLogin runs the password grant and verifies the returned ID token.
func (p *Provider) passwordLogin(ctx context.Context, login, password string) (*oidc.IDToken, Claims, error) {
	token, err := p.oauth2Config.PasswordCredentialsToken(ctx, login, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, nil, identity.ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to request token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, fmt.Errorf("no id_token in token response")
	}

	idToken, claims, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, err
	}

	// Keycloak puts realm_access and resource_access in the access token,
	// not the ID token.
	mergeAccessTokenClaims(token.AccessToken, claims)

	return idToken, claims, nil
}

func (p *Provider) verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, Claims, error) {
	if rawIDToken == "" {
		return nil, nil, fmt.Errorf("%w: empty id token", identity.ErrInvalidCredentials)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to verify ID token: %v", identity.ErrInvalidCredentials, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return idToken, claims, nil
}

// mergeAccessTokenClaims decodes a JWT access token's payload and merges
// role-related claims into the destination claims map.
// Only claims not already present in dst are merged (ID token takes precedence).
// Errors are logged and ignored: access tokens may be opaque.
func mergeAccessTokenClaims(accessToken string, dst map[string]interface{}) {
	if accessToken == "" {
		return
	}

	atClaims, err := decodeJWTPayload(accessToken)
	if err != nil {
		slog.Debug("could not decode access token as JWT (may be opaque)", "error", err)
		return
	}

	mergeKeys := []string{"resource_access", "realm_access", "groups"}

	for _, key := range mergeKeys {
		if _, exists := dst[key]; !exists {
			if val, ok := atClaims[key]; ok {
				dst[key] = val
				slog.Debug("merged claim from access token", "claim", key)
			}
		}
	}
}

// decodeJWTPayload extracts and decodes the payload (second segment) of a JWT.
// The signature is NOT checked; the access token arrives on the same
// verified token response as the ID token.
func decodeJWTPayload(token string) (map[string]interface{}, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a valid JWT: expected 3 parts, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	return claims, nil
}
