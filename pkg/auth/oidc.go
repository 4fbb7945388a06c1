package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier validates bearer ID tokens against a configured issuer
// and extracts the caller identity from the token claims.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier performs issuer discovery and returns a verifier that
// checks signature, issuer, expiry and audience.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

// Verify validates rawToken and returns the identity it carries.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to verify token: %w", err)
	}

	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return identityFromClaims(idToken.Subject, claims.PreferredUsername, claims.Email), nil
}

// identityFromClaims picks a username for the token. preferred_username
// wins, then the local part of the email, then the subject claim.
func identityFromClaims(sub, preferredUsername, email string) Identity {
	username := preferredUsername
	if username == "" && email != "" {
		username = email[:strings.IndexByte(email+"@", '@')]
	}
	if username == "" {
		username = sub
	}
	return Identity{Username: username, Email: email}
}
