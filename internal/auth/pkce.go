package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	verifierBytes = 32
	stateBytes    = 16
)

// PKCEChallenge is the per-attempt secret material. It is created when a
// sign-in starts and consumed by exactly one callback.
type PKCEChallenge struct {
	Verifier  string
	Challenge string
	State     string
}

// NewPKCEChallenge draws a fresh verifier and state from crypto/rand.
func NewPKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := randomURLString(verifierBytes)
	if err != nil {
		return nil, newError(KindPKCEGenerationFailed, "", err)
	}
	state, err := randomURLString(stateBytes)
	if err != nil {
		return nil, newError(KindPKCEGenerationFailed, "", err)
	}
	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

func randomURLString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// oauthConfig describes the GitLab application for golang.org/x/oauth2.
func oauthConfig(baseURL, clientID, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  baseURL + "/oauth/authorize",
			TokenURL: baseURL + "/oauth/token",
		},
	}
}

// AuthorizationURL builds the /oauth/authorize URL for this challenge.
func (p *PKCEChallenge) AuthorizationURL(baseURL, clientID, redirectURI string, scopes []string) string {
	cfg := oauthConfig(baseURL, clientID, redirectURI, scopes)
	return cfg.AuthCodeURL(p.State, oauth2.S256ChallengeOption(p.Verifier))
}

// ParseCallback extracts the authorization code from the redirect URL. The
// returned state must equal p.State; a mismatch fails even when a code is
// present.
func (p *PKCEChallenge) ParseCallback(callbackURL string) (string, error) {
	if strings.TrimSpace(callbackURL) == "" {
		return "", newError(KindNoCallbackURL, "", nil)
	}
	u, err := url.Parse(strings.TrimSpace(callbackURL))
	if err != nil {
		return "", newError(KindInvalidCallbackURL, "", err)
	}
	q := u.Query()
	if len(q) == 0 {
		return "", newError(KindInvalidCallbackURL, "", nil)
	}

	if oauthErr := q.Get("error"); oauthErr != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Unknown error"
		}
		return "", newError(KindOAuthError, fmt.Sprintf("%s: %s", oauthErr, desc), nil)
	}

	if q.Get("state") != p.State {
		return "", newError(KindStateMismatch, "", nil)
	}

	code := q.Get("code")
	if code == "" {
		return "", newError(KindNoAuthorizationCode, "", nil)
	}
	return code, nil
}
