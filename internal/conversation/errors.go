package conversation

import (
	"errors"
	"fmt"

	"github.com/duochat/internal/graphql"
)

// ErrorKind classifies conversation store failures.
type ErrorKind int

const (
	KindNotAuthenticated ErrorKind = iota + 1
	KindFeatureDisabled
	KindUserNotFound
	KindFetchUserFailed
	KindLoadThreadsFailed
	KindLoadMessagesFailed
	KindSendMessageFailed
	KindDeleteThreadFailed
	KindResponseTimeout
)

var kindMessages = map[ErrorKind]string{
	KindNotAuthenticated:   "Not authenticated. Please sign in again.",
	KindFeatureDisabled:    "Duo Chat is not enabled for your account.",
	KindUserNotFound:       "User information not found.",
	KindFetchUserFailed:    "Failed to fetch user.",
	KindLoadThreadsFailed:  "Failed to load conversations.",
	KindLoadMessagesFailed: "Failed to load messages.",
	KindSendMessageFailed:  "Failed to send message.",
	KindDeleteThreadFailed: "Failed to delete conversation.",
	KindResponseTimeout:    "Duo Chat did not answer in time.",
}

func (k ErrorKind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "Unknown error."
}

// Error is a store failure. Err, when set, is the underlying GraphQL or
// transport error and stays reachable through errors.Is and errors.As.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

var (
	ErrNotAuthenticated   = &Error{Kind: KindNotAuthenticated}
	ErrFeatureDisabled    = &Error{Kind: KindFeatureDisabled}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrFetchUserFailed    = &Error{Kind: KindFetchUserFailed}
	ErrLoadThreadsFailed  = &Error{Kind: KindLoadThreadsFailed}
	ErrLoadMessagesFailed = &Error{Kind: KindLoadMessagesFailed}
	ErrSendMessageFailed  = &Error{Kind: KindSendMessageFailed}
	ErrDeleteThreadFailed = &Error{Kind: KindDeleteThreadFailed}
	ErrResponseTimeout    = &Error{Kind: KindResponseTimeout}
)

// wrap attaches kind to a GraphQL failure. A missing session is reported as
// NotAuthenticated whatever the operation was.
func wrap(kind ErrorKind, err error) *Error {
	if errors.Is(err, graphql.ErrNotAuthenticated) {
		return &Error{Kind: KindNotAuthenticated, Err: err}
	}
	return &Error{Kind: kind, Err: err}
}

// UserMessage returns the single human-readable message for err. Raw server
// payloads are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, graphql.ErrAuthenticationExpired) {
		return "Authentication expired. Please sign in again."
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}

	var httpErr *graphql.HTTPError
	var gqlErr *graphql.GraphQLError
	var decodeErr *graphql.DecodeError
	var netErr *graphql.NetworkError
	switch {
	case errors.Is(err, graphql.ErrNotAuthenticated):
		return KindNotAuthenticated.String()
	case errors.As(err, &netErr):
		return "Network error. Check your connection and try again."
	case errors.As(err, &httpErr):
		return fmt.Sprintf("GitLab returned HTTP %d.", httpErr.Status)
	case errors.As(err, &decodeErr):
		return "Invalid response from server."
	case errors.As(err, &gqlErr):
		return "GitLab rejected the request."
	}
	return "Unknown error."
}
