package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPKCEChallengeIsS256OfVerifier(t *testing.T) {
	for i := 0; i < 20; i++ {
		p, err := NewPKCEChallenge()
		require.NoError(t, err)

		sum := sha256.Sum256([]byte(p.Verifier))
		require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), p.Challenge)

		// 32 bytes -> 43 chars, 16 bytes -> 22 chars
		require.Len(t, p.Verifier, 43)
		require.Len(t, p.State, 22)
	}
}

func TestPKCEChallengesAreUnique(t *testing.T) {
	seenVerifiers := map[string]bool{}
	seenStates := map[string]bool{}
	for i := 0; i < 100; i++ {
		p, err := NewPKCEChallenge()
		require.NoError(t, err)
		require.False(t, seenVerifiers[p.Verifier], "verifier repeated")
		require.False(t, seenStates[p.State], "state repeated")
		seenVerifiers[p.Verifier] = true
		seenStates[p.State] = true
	}
}

func TestAuthorizationURL(t *testing.T) {
	p := &PKCEChallenge{Verifier: "v", Challenge: "c", State: "s123"}

	raw := p.AuthorizationURL("https://gitlab.example.com", "client-1", DefaultRedirectURI, DefaultScopes)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "gitlab.example.com", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, DefaultRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "api read_user", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "s123", q.Get("state"))

	sum := sha256.Sum256([]byte("v"))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
}

func TestParseCallback(t *testing.T) {
	p := &PKCEChallenge{State: "expected"}

	tests := []struct {
		name     string
		callback string
		wantCode string
		wantErr  error
	}{
		{"valid", DefaultRedirectURI + "?code=abc&state=expected", "abc", nil},
		{"state mismatch with valid code", DefaultRedirectURI + "?code=abc&state=forged", "", ErrStateMismatch},
		{"missing state", DefaultRedirectURI + "?code=abc", "", ErrStateMismatch},
		{"missing code", DefaultRedirectURI + "?state=expected", "", ErrNoAuthorizationCode},
		{"provider error", DefaultRedirectURI + "?error=access_denied&error_description=denied&state=expected", "", ErrOAuth},
		{"no query", DefaultRedirectURI, "", ErrInvalidCallbackURL},
		{"empty", "", "", ErrNoCallbackURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := p.ParseCallback(tt.callback)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantCode, code)
		})
	}
}

func TestErrorKindsHaveDistinctMessages(t *testing.T) {
	seen := map[string]ErrorKind{}
	for kind := KindInvalidConfiguration; kind <= KindNetworkError; kind++ {
		msg := kind.String()
		prev, dup := seen[msg]
		require.False(t, dup, "kinds %d and %d share message %q", prev, kind, msg)
		seen[msg] = kind
	}
}
