// Package auth collects login credentials for the local user from the
// environment and from a credentials file.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
)

// Environment variables read by FromEnv.
const (
	EnvType     = "RENDEZVOUS_AUTH_TYPE"
	EnvLogin    = "RENDEZVOUS_AUTH_LOGIN"
	EnvPassword = "RENDEZVOUS_AUTH_PASSWORD"
)

// Credential types understood by the identity backends.
const (
	TypePassword  = "password"
	TypeIDToken   = "id_token"
	TypeDeveloper = "developer"
)

// ErrNoCredentials is returned when neither source yields a login.
var ErrNoCredentials = errors.New("no credentials provided")

// FromEnv reads credentials from RENDEZVOUS_AUTH_* variables.
// Missing variables yield empty fields.
func FromEnv() rendezvous.Credentials {
	return rendezvous.Credentials{
		Type:  strings.TrimSpace(os.Getenv(EnvType)),
		ID:    strings.TrimSpace(os.Getenv(EnvLogin)),
		Token: os.Getenv(EnvPassword),
	}
}

// Load merges credentials from the environment and, when path is not
// empty, from a credentials file. Values in the file win.
// The type defaults to "password", or "id_token" when only a token is given.
func Load(path string) (rendezvous.Credentials, error) {
	creds := FromEnv()

	if path != "" {
		login, secret, err := readCredentialsFile(path)
		if err != nil {
			return rendezvous.Credentials{}, err
		}
		creds.ID = login
		if secret != "" {
			creds.Token = secret
		}
	}

	if creds.Type == "" {
		creds.Type = TypePassword
		if creds.ID == "" && creds.Token != "" {
			creds.Type = TypeIDToken
		}
	}

	if err := Validate(creds); err != nil {
		return rendezvous.Credentials{}, err
	}
	return creds, nil
}

// Validate checks that creds carries what its type needs.
func Validate(creds rendezvous.Credentials) error {
	switch creds.Type {
	case TypePassword, TypeDeveloper:
		if creds.ID == "" {
			return fmt.Errorf("%w: login is required for %s credentials", ErrNoCredentials, creds.Type)
		}
	case TypeIDToken:
		if creds.Token == "" {
			return fmt.Errorf("%w: token is required for id_token credentials", ErrNoCredentials)
		}
	default:
		return fmt.Errorf("unsupported credential type %q", creds.Type)
	}
	return nil
}

// readCredentialsFile reads a two-line credentials file:
//
//	Line 1: login
//	Line 2: password or token (may be empty)
func readCredentialsFile(path string) (login, secret string, err error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat credentials file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", "", fmt.Errorf("credentials file %s must not be accessible by group or others (mode %04o)", cleanPath, info.Mode().Perm())
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path from operator config
	if err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	login = strings.TrimSpace(lines[0])
	if len(lines) >= 2 {
		secret = strings.TrimSpace(lines[1])
	}

	if login == "" {
		return "", "", fmt.Errorf("login is empty in credentials file")
	}

	return login, secret, nil
}
