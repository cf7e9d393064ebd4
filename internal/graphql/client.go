// Package graphql executes single GraphQL queries and mutations against the
// GitLab /api/graphql endpoint.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/duochat/internal/capture"
)

const userAgent = "GitLabDuoChat/1.0"

// Credentials is the client's view of the auth session. The session owns the
// tokens; the client only looks them up per call.
type Credentials interface {
	AccessToken() string
	BaseURL() string
	RefreshIfNeeded(ctx context.Context) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	// RequestsPerSecond enables client-side rate limiting when > 0.
	RequestsPerSecond float64
	Burst             int
}

// Client executes GraphQL documents with the session's bearer token.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a GraphQL client bound to the given credentials.
func NewClient(creds Credentials, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{creds: creds, httpClient: httpClient}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message   string `json:"message"`
		Locations []struct {
			Line   int `json:"line"`
			Column int `json:"column"`
		} `json:"locations,omitempty"`
		Path []any `json:"path,omitempty"`
	} `json:"errors"`
}

// Execute runs document with variables and decodes the data member into out
// (which may be nil). A 401 triggers a refresh check on the session and is
// reported as ErrAuthenticationExpired; the call itself is not retried.
func (c *Client) Execute(ctx context.Context, document string, variables map[string]any, out any) error {
	token, baseURL := c.creds.AccessToken(), c.creds.BaseURL()
	if token == "" || baseURL == "" {
		return ErrNotAuthenticated
	}

	if variables == nil {
		variables = map[string]any{}
	}
	payload, err := json.Marshal(request{Query: document, Variables: variables})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestEncoding, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/graphql", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestEncoding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	log.Debug().Str("document", abbreviate(document, 100)).Int("variables", len(variables)).Msg("Executing GraphQL request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	capture.WriteJSON("graphql", map[string]any{
		"query":     document,
		"variables": variables,
		"status":    resp.StatusCode,
		"response":  json.RawMessage(validJSONOrNull(body)),
	})

	log.Debug().Int("status", resp.StatusCode).Msg("GraphQL response")

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.creds.RefreshIfNeeded(ctx); err != nil {
			log.Warn().Err(err).Msg("Token refresh after 401 failed")
		}
		return ErrAuthenticationExpired
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &DecodeError{Err: err}
	}

	if len(env.Errors) > 0 {
		messages := make([]string, 0, len(env.Errors))
		authFailure := false
		for _, e := range env.Errors {
			messages = append(messages, e.Message)
			if isAuthMessage(e.Message) {
				authFailure = true
			}
		}
		if authFailure {
			return ErrAuthenticationExpired
		}
		return &GraphQLError{Messages: messages}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return &DecodeError{Err: errors.New("response carried no data")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func validJSONOrNull(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
