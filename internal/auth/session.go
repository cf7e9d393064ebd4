// Package auth implements the GitLab OAuth 2.0 + PKCE session: sign-in through
// an interactive authorizer, code exchange, refresh-token rotation, expiry
// monitoring and sign-out.
//
// The session fails closed. A refresh that fails signs the session out
// immediately; there is no partially authenticated state.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/duochat/internal/credstore"
	"github.com/duochat/internal/state"
)

const (
	// DefaultRedirectURI is registered with the GitLab OAuth application.
	DefaultRedirectURI = "com.gitlabduochat://oauth/callback"

	// RefreshWindow is how close to expiry RefreshIfNeeded starts refreshing
	// and the monitor raises the expiring-soon flag.
	RefreshWindow = 300 * time.Second
	// ProactiveRefreshWindow is how close to expiry the monitor refreshes on
	// its own.
	ProactiveRefreshWindow = 60 * time.Second
	// DefaultMonitorInterval is the expiry monitor period.
	DefaultMonitorInterval = 60 * time.Second
)

// DefaultScopes is the fixed scope set requested at sign-in.
var DefaultScopes = []string{"api", "read_user"}

// Status is the session state machine.
type Status int

const (
	SignedOut Status = iota
	Authenticating
	SignedIn
)

func (s Status) String() string {
	switch s {
	case SignedOut:
		return "signed_out"
	case Authenticating:
		return "authenticating"
	case SignedIn:
		return "signed_in"
	}
	return "unknown"
}

// Snapshot is the observable view of the session.
type Snapshot struct {
	Status       Status
	ExpiringSoon bool
	Expiry       time.Time
	BaseURL      string
	LastError    error
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	HTTPClient      *http.Client
	Authorizer      Authorizer
	RedirectURI     string
	Scopes          []string
	MonitorInterval time.Duration
	Now             func() time.Time
}

// Session owns the token state. Components that need credentials hold the
// session through a narrow interface and never own it.
type Session struct {
	store           credstore.Store
	authorizer      Authorizer
	httpClient      *http.Client
	redirectURI     string
	callbackScheme  string
	scopes          []string
	monitorInterval time.Duration
	now             func() time.Time

	mu           sync.Mutex
	status       Status
	tokens       *TokenState
	pkce         *PKCEChallenge
	cancelAuth   context.CancelFunc
	expiringSoon bool
	lastErr      error

	// refreshMu serializes refresh grants so a rotated refresh token is never
	// used twice.
	refreshMu sync.Mutex

	obs *state.Store[Snapshot]
}

// NewSession creates a session and restores any persisted credentials.
func NewSession(store credstore.Store, opts Options) *Session {
	s := &Session{
		store:           store,
		authorizer:      opts.Authorizer,
		httpClient:      opts.HTTPClient,
		redirectURI:     opts.RedirectURI,
		scopes:          opts.Scopes,
		monitorInterval: opts.MonitorInterval,
		now:             opts.Now,
		obs:             state.New(Snapshot{}),
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if s.redirectURI == "" {
		s.redirectURI = DefaultRedirectURI
	}
	if len(s.scopes) == 0 {
		s.scopes = DefaultScopes
	}
	if s.monitorInterval <= 0 {
		s.monitorInterval = DefaultMonitorInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if u, err := url.Parse(s.redirectURI); err == nil {
		s.callbackScheme = u.Scheme
	}

	s.mu.Lock()
	s.restoreLocked()
	s.publishLocked()
	s.mu.Unlock()
	return s
}

// SignIn runs the full PKCE authorization-code flow against baseURL.
func (s *Session) SignIn(ctx context.Context, baseURL, clientID string) error {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	clientID = strings.TrimSpace(clientID)

	s.mu.Lock()
	if s.status == Authenticating {
		s.mu.Unlock()
		return newError(KindAlreadyAuthenticating, "", nil)
	}
	if err := validateConfig(baseURL, clientID); err != nil {
		s.lastErr = err
		s.publishLocked()
		s.mu.Unlock()
		return err
	}
	if s.authorizer == nil {
		s.mu.Unlock()
		return newError(KindAuthSessionStartFailed, "no authorizer configured", nil)
	}

	pkce, err := NewPKCEChallenge()
	if err != nil {
		s.lastErr = err
		s.publishLocked()
		s.mu.Unlock()
		return err
	}

	authCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.status = Authenticating
	s.pkce = pkce
	s.cancelAuth = cancel
	s.lastErr = nil
	s.publishLocked()
	s.mu.Unlock()

	log.Info().Str("gitlab_url", baseURL).Msg("Starting GitLab sign-in")

	tokens, err := s.authorize(authCtx, baseURL, clientID, pkce)

	s.mu.Lock()
	defer s.mu.Unlock()

	// SignOut during the attempt discards the challenge; whatever came back
	// belongs to a cancelled attempt.
	if s.pkce != pkce {
		return newError(KindUserCancelled, "", err)
	}
	s.pkce = nil
	s.cancelAuth = nil

	if err != nil {
		log.Warn().Err(err).Msg("GitLab sign-in failed")
		s.lastErr = err
		if s.tokens != nil {
			s.status = SignedIn
		} else {
			s.status = SignedOut
		}
		s.publishLocked()
		return err
	}

	s.tokens = tokens
	s.status = SignedIn
	s.expiringSoon = false
	s.storeCredentialsLocked()
	s.publishLocked()

	log.Info().Time("expiry", tokens.Expiry).Msg("GitLab sign-in succeeded")
	return nil
}

func validateConfig(baseURL, clientID string) error {
	if clientID == "" {
		return newError(KindInvalidConfiguration, "missing client id", nil)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return newError(KindInvalidConfiguration, "invalid GitLab URL", err)
	}
	return nil
}

func (s *Session) authorize(ctx context.Context, baseURL, clientID string, pkce *PKCEChallenge) (*TokenState, error) {
	authURL := pkce.AuthorizationURL(baseURL, clientID, s.redirectURI, s.scopes)

	callback, err := s.authorizer.Authorize(ctx, authURL, s.callbackScheme)
	if err != nil {
		return nil, classifyAuthorizerError(ctx, err)
	}

	code, err := pkce.ParseCallback(callback)
	if err != nil {
		return nil, err
	}

	resp, err := s.exchangeCode(ctx, baseURL, clientID, code, pkce.Verifier)
	if err != nil {
		return nil, err
	}

	return &TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expiry:       resp.expiry(s.now()),
		BaseURL:      baseURL,
		ClientID:     clientID,
	}, nil
}

func classifyAuthorizerError(ctx context.Context, err error) error {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return newError(KindUserCancelled, "", err)
	}
	return newError(KindAuthSessionFailed, "", err)
}

// SignOut cancels any in-flight authorization and clears every persisted and
// in-memory credential.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutLocked(nil)
	log.Info().Msg("Signed out of GitLab")
}

func (s *Session) signOutLocked(cause error) {
	if s.cancelAuth != nil {
		s.cancelAuth()
		s.cancelAuth = nil
	}
	s.clearStoredCredentialsLocked()
	s.tokens = nil
	s.pkce = nil
	s.status = SignedOut
	s.expiringSoon = false
	s.lastErr = cause
	s.publishLocked()
}

// RefreshIfNeeded refreshes when the access token expires within
// RefreshWindow and a refresh token exists. A failed refresh signs the
// session out and returns the refresh error.
func (s *Session) RefreshIfNeeded(ctx context.Context) error {
	_, err := s.refreshWhen(ctx, func(remaining time.Duration) bool {
		return remaining < RefreshWindow
	})
	return err
}

// refreshWhen performs a refresh grant if a refresh token exists and cond
// accepts the remaining lifetime. It reports whether a grant was attempted.
func (s *Session) refreshWhen(ctx context.Context, cond func(remaining time.Duration) bool) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	current := s.tokens
	if current == nil || current.RefreshToken == "" || !cond(current.Expiry.Sub(s.now())) {
		s.mu.Unlock()
		return false, nil
	}
	snapshot := *current
	s.mu.Unlock()

	resp, err := s.refreshGrant(ctx, snapshot.BaseURL, snapshot.ClientID, snapshot.RefreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens != current {
		// signed out or re-signed-in while the grant was in flight
		return true, err
	}
	if err != nil {
		log.Error().Err(err).Msg("Token refresh failed, signing out")
		s.signOutLocked(err)
		return true, err
	}

	updated := snapshot
	updated.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		updated.RefreshToken = resp.RefreshToken
	}
	updated.Expiry = resp.expiry(s.now())
	s.tokens = &updated
	s.expiringSoon = false
	s.storeCredentialsLocked()
	s.publishLocked()

	log.Info().Time("expiry", updated.Expiry).Msg("Access token refreshed successfully")
	return true, nil
}

// AccessToken returns the current bearer token, or "" when signed out.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return ""
	}
	return s.tokens.AccessToken
}

// BaseURL returns the GitLab instance URL of the signed-in session.
func (s *Session) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return ""
	}
	return s.tokens.BaseURL
}

// Status returns the current state machine position.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsAuthenticated reports whether a usable access token is held.
func (s *Session) IsAuthenticated() bool {
	return s.Status() == SignedIn
}

// Snapshot returns the current observable view.
func (s *Session) Snapshot() Snapshot {
	return s.obs.Get()
}

// Subscribe streams snapshots on every change.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	return s.obs.Subscribe()
}

func (s *Session) publishLocked() {
	snap := Snapshot{
		Status:       s.status,
		ExpiringSoon: s.expiringSoon,
		LastError:    s.lastErr,
	}
	if s.tokens != nil {
		snap.Expiry = s.tokens.Expiry
		snap.BaseURL = s.tokens.BaseURL
	}
	s.obs.Set(snap)
}

func (s *Session) restoreLocked() {
	get := func(key string) string {
		v, _, err := s.store.Get(key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to read stored credential")
		}
		return v
	}

	access := get(credstore.KeyAccessToken)
	expiry, _ := time.Parse(time.RFC3339, get(credstore.KeyTokenExpiry))
	if access == "" || expiry.IsZero() || !expiry.After(s.now()) {
		s.clearStoredCredentialsLocked()
		return
	}

	s.tokens = &TokenState{
		AccessToken:  access,
		RefreshToken: get(credstore.KeyRefreshToken),
		Expiry:       expiry,
		BaseURL:      get(credstore.KeyGitLabURL),
		ClientID:     get(credstore.KeyClientID),
	}
	s.status = SignedIn
	log.Debug().Time("expiry", expiry).Msg("Restored stored GitLab credentials")
}

func (s *Session) storeCredentialsLocked() {
	t := s.tokens
	values := map[string]string{
		credstore.KeyAccessToken: t.AccessToken,
		credstore.KeyGitLabURL:   t.BaseURL,
		credstore.KeyClientID:    t.ClientID,
		credstore.KeyTokenExpiry: t.Expiry.UTC().Format(time.RFC3339),
	}
	for key, value := range values {
		if err := s.store.Set(key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to store credential")
		}
	}
	if t.RefreshToken != "" {
		if err := s.store.Set(credstore.KeyRefreshToken, t.RefreshToken); err != nil {
			log.Error().Err(err).Msg("Failed to store refresh token")
		}
	} else if err := s.store.Delete(credstore.KeyRefreshToken); err != nil {
		log.Error().Err(err).Msg("Failed to delete stale refresh token")
	}
}

func (s *Session) clearStoredCredentialsLocked() {
	for _, key := range []string{
		credstore.KeyAccessToken,
		credstore.KeyRefreshToken,
		credstore.KeyGitLabURL,
		credstore.KeyClientID,
		credstore.KeyTokenExpiry,
	} {
		if err := s.store.Delete(key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to delete stored credential")
		}
	}
}
