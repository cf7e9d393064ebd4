package conversation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duochat/internal/graphql"
)

func TestUserMessageIsDistinctPerKind(t *testing.T) {
	seen := make(map[string]ErrorKind)
	for kind := KindNotAuthenticated; kind <= KindResponseTimeout; kind++ {
		msg := UserMessage(&Error{Kind: kind, Detail: "raw server text"})
		assert.NotContains(t, msg, "raw server text")
		if prev, dup := seen[msg]; dup {
			t.Errorf("kinds %d and %d share message %q", prev, kind, msg)
		}
		seen[msg] = kind
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"auth expired", fmt.Errorf("load: %w", graphql.ErrAuthenticationExpired), "Authentication expired. Please sign in again."},
		{"wrapped auth expired", wrap(KindLoadThreadsFailed, graphql.ErrAuthenticationExpired), "Authentication expired. Please sign in again."},
		{"not authenticated", graphql.ErrNotAuthenticated, KindNotAuthenticated.String()},
		{"network", &graphql.NetworkError{Err: errors.New("dial tcp")}, "Network error. Check your connection and try again."},
		{"http", &graphql.HTTPError{Status: 502, Body: "<html>"}, "GitLab returned HTTP 502."},
		{"decode", &graphql.DecodeError{Err: errors.New("eof")}, "Invalid response from server."},
		{"graphql", &graphql.GraphQLError{Messages: []string{"boom"}}, "GitLab rejected the request."},
		{"store error", ErrDeleteThreadFailed, KindDeleteThreadFailed.String()},
		{"other", errors.New("weird"), "Unknown error."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := &graphql.HTTPError{Status: 500}
	err := wrap(KindLoadMessagesFailed, cause)

	assert.ErrorIs(t, err, ErrLoadMessagesFailed)
	assert.NotErrorIs(t, err, ErrLoadThreadsFailed)

	var httpErr *graphql.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.Status)
}

func TestWrapReportsMissingSession(t *testing.T) {
	err := wrap(KindSendMessageFailed, graphql.ErrNotAuthenticated)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, err, graphql.ErrNotAuthenticated)
}
