// Package oidc logs players in against an OpenID Connect issuer without a
// browser: either a resource-owner password grant or a pre-issued ID token.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/al-bashkir/session-rendezvous/internal/config"
)

// Provider is an identity.Backend backed by an OIDC issuer.
type Provider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	validator    *Validator
}

// NewProvider runs discovery against cfg.Issuer. The returned verifier
// checks signature, issuer, audience (cfg.ClientID) and expiry.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	discovered, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Issuer, err)
	}

	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     discovered.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier:  discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		validator: NewValidator(cfg),
	}, nil
}
