package oidc

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

// makeTestJWT builds a fake JWT (header.payload.signature) with the given claims payload.
func makeTestJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + encodedPayload + ".fakesignature"
}

func TestDecodeJWTPayload(t *testing.T) {
	t.Run("valid JWT", func(t *testing.T) {
		token := makeTestJWT(t, map[string]interface{}{
			"sub":  "user123",
			"name": "Test User",
		})

		claims, err := decodeJWTPayload(token)
		if err != nil {
			t.Fatalf("decodeJWTPayload failed: %v", err)
		}

		if claims["sub"] != "user123" {
			t.Errorf("expected sub=user123, got %v", claims["sub"])
		}
		if claims["name"] != "Test User" {
			t.Errorf("expected name=Test User, got %v", claims["name"])
		}
	})

	t.Run("not a JWT", func(t *testing.T) {
		if _, err := decodeJWTPayload("not-a-jwt"); err == nil {
			t.Error("expected error for non-JWT token")
		}
	})

	t.Run("invalid base64 payload", func(t *testing.T) {
		if _, err := decodeJWTPayload("header.!!!invalid!!!.signature"); err == nil {
			t.Error("expected error for invalid base64 payload")
		}
	})

	t.Run("invalid JSON payload", func(t *testing.T) {
		badPayload := base64.RawURLEncoding.EncodeToString([]byte("not json"))
		if _, err := decodeJWTPayload("header." + badPayload + ".signature"); err == nil {
			t.Error("expected error for invalid JSON payload")
		}
	})
}

func TestMergeAccessTokenClaims(t *testing.T) {
	t.Run("merges role claims from access token", func(t *testing.T) {
		accessToken := makeTestJWT(t, map[string]interface{}{
			"sub": "user123",
			"resource_access": map[string]interface{}{
				"rendezvous": map[string]interface{}{
					"roles": []interface{}{"host", "player"},
				},
			},
			"realm_access": map[string]interface{}{
				"roles": []interface{}{"default-roles"},
			},
		})

		dst := map[string]interface{}{
			"sub":                "user123",
			"preferred_username": "testuser",
		}

		mergeAccessTokenClaims(accessToken, dst)

		roles, err := Claims(dst).Strings("resource_access.rendezvous.roles")
		if err != nil {
			t.Fatalf("expected resource_access to be merged: %v", err)
		}
		if len(roles) != 2 {
			t.Errorf("expected 2 roles, got %d", len(roles))
		}

		if _, ok := dst["realm_access"]; !ok {
			t.Error("expected realm_access to be merged")
		}

		if dst["preferred_username"] != "testuser" {
			t.Error("ID token claims should be preserved")
		}
	})

	t.Run("does not overwrite existing ID token claims", func(t *testing.T) {
		accessToken := makeTestJWT(t, map[string]interface{}{
			"realm_access": map[string]interface{}{
				"roles": []interface{}{"from-access-token"},
			},
		})

		dst := map[string]interface{}{
			"realm_access": map[string]interface{}{
				"roles": []interface{}{"from-id-token"},
			},
		}

		mergeAccessTokenClaims(accessToken, dst)

		roles, _ := Claims(dst).Strings("realm_access.roles")
		if len(roles) != 1 || roles[0] != "from-id-token" {
			t.Errorf("expected ID token claim to be preserved, got %v", roles)
		}
	})

	t.Run("handles empty access token", func(t *testing.T) {
		dst := map[string]interface{}{"sub": "user"}
		mergeAccessTokenClaims("", dst)
		if len(dst) != 1 {
			t.Error("dst should not be modified for empty token")
		}
	})

	t.Run("handles opaque access token gracefully", func(t *testing.T) {
		dst := map[string]interface{}{"sub": "user"}
		mergeAccessTokenClaims("opaque-token-no-dots", dst)
		if len(dst) != 1 {
			t.Error("dst should not be modified for opaque token")
		}
	})
}
