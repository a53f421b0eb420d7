package oidc

import (
	"fmt"
	"slices"
	"strings"

	"github.com/al-bashkir/session-rendezvous/internal/config"
)

// Claims is a decoded token payload. Paths use dot notation for nested
// objects, e.g. "realm_access.roles".
type Claims map[string]interface{}

func (c Claims) lookup(path string) (interface{}, error) {
	var current interface{} = map[string]interface{}(c)
	for i, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claim path '%s' not found at level %d (%s)", path, i, part)
		}
		if current, ok = m[part]; !ok {
			return nil, fmt.Errorf("claim '%s' not found in path '%s'", part, path)
		}
	}
	return current, nil
}

// String returns the string claim at path.
func (c Claims) String(path string) (string, error) {
	value, err := c.lookup(path)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("claim '%s' is not a string", path)
	}
	return s, nil
}

// Strings returns the string array claim at path. Non-string entries are
// skipped.
func (c Claims) Strings(path string) ([]string, error) {
	value, err := c.lookup(path)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("claim '%s' is not a string array", path)
	}
}

// Validator applies the checks go-oidc leaves to the application:
// the username match, required roles and the user ID claim.
// Signature, issuer, audience and expiry are verified before it runs.
type Validator struct {
	cfg *config.OIDCConfig
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *config.OIDCConfig) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateToken checks the username claim against expectedUsername (an
// empty value skips the check) and then the required roles.
func (v *Validator) ValidateToken(claims Claims, expectedUsername string) error {
	if expectedUsername != "" {
		username, err := claims.String(v.cfg.UsernameClaim)
		if err != nil {
			return fmt.Errorf("username claim '%s' not found: %w", v.cfg.UsernameClaim, err)
		}
		if username != expectedUsername {
			return fmt.Errorf("username mismatch: expected '%s', got '%s'", expectedUsername, username)
		}
	}

	return v.ValidateRoles(claims)
}

// ValidateRoles requires at least one of the configured roles.
// It is a no-op when none are configured.
func (v *Validator) ValidateRoles(claims Claims) error {
	if len(v.cfg.RequiredRoles) == 0 {
		return nil
	}

	roles, err := claims.Strings(v.cfg.RoleClaim)
	if err != nil {
		return fmt.Errorf("failed to extract roles: %w", err)
	}

	if slices.ContainsFunc(v.cfg.RequiredRoles, func(r string) bool { return slices.Contains(roles, r) }) {
		return nil
	}
	return fmt.Errorf("user does not have required roles: %v (user roles: %v)", v.cfg.RequiredRoles, roles)
}

// UserID returns the value of the user ID claim ("sub" unless configured).
func (v *Validator) UserID(claims Claims) (string, error) {
	claim := v.cfg.UserIDClaim
	if claim == "" {
		claim = "sub"
	}

	id, err := claims.String(claim)
	if err != nil {
		return "", fmt.Errorf("user id claim '%s' not found: %w", claim, err)
	}
	if id == "" {
		return "", fmt.Errorf("user id claim '%s' is empty", claim)
	}
	return id, nil
}
