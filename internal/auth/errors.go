package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures. Each kind maps to exactly one
// user-facing message.
type ErrorKind int

const (
	KindInvalidConfiguration ErrorKind = iota + 1
	KindAlreadyAuthenticating
	KindPKCEGenerationFailed
	KindUserCancelled
	KindAuthSessionFailed
	KindAuthSessionStartFailed
	KindNoCallbackURL
	KindInvalidCallbackURL
	KindStateMismatch
	KindOAuthError
	KindNoAuthorizationCode
	KindTokenRequestEncodingFailed
	KindInvalidResponse
	KindTokenExchangeFailed
	KindTokenRefreshFailed
	KindNetworkError
)

var kindMessages = map[ErrorKind]string{
	KindInvalidConfiguration:       "Invalid GitLab URL or configuration",
	KindAlreadyAuthenticating:      "Authentication is already in progress",
	KindPKCEGenerationFailed:       "Failed to generate PKCE parameters",
	KindUserCancelled:              "Authentication was cancelled by user",
	KindAuthSessionFailed:          "Authentication session failed",
	KindAuthSessionStartFailed:     "Failed to start authentication session",
	KindNoCallbackURL:              "No callback URL received",
	KindInvalidCallbackURL:         "Invalid callback URL format",
	KindStateMismatch:              "Security state mismatch detected",
	KindOAuthError:                 "OAuth error",
	KindNoAuthorizationCode:        "No authorization code received",
	KindTokenRequestEncodingFailed: "Failed to encode token request",
	KindInvalidResponse:            "Invalid response from server",
	KindTokenExchangeFailed:        "Token exchange failed",
	KindTokenRefreshFailed:         "Token refresh failed",
	KindNetworkError:               "Network error",
}

func (k ErrorKind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "Unknown authentication error"
}

// Error is an authentication failure with its kind and optional detail.
type Error struct {
	Kind   ErrorKind
	Detail string
	err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.err == nil
}

func newError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidConfiguration   = &Error{Kind: KindInvalidConfiguration}
	ErrAlreadyAuthenticating  = &Error{Kind: KindAlreadyAuthenticating}
	ErrPKCEGenerationFailed   = &Error{Kind: KindPKCEGenerationFailed}
	ErrUserCancelled          = &Error{Kind: KindUserCancelled}
	ErrAuthSessionFailed      = &Error{Kind: KindAuthSessionFailed}
	ErrAuthSessionStartFailed = &Error{Kind: KindAuthSessionStartFailed}
	ErrNoCallbackURL          = &Error{Kind: KindNoCallbackURL}
	ErrInvalidCallbackURL     = &Error{Kind: KindInvalidCallbackURL}
	ErrStateMismatch          = &Error{Kind: KindStateMismatch}
	ErrOAuth                  = &Error{Kind: KindOAuthError}
	ErrNoAuthorizationCode    = &Error{Kind: KindNoAuthorizationCode}
	ErrTokenRequestEncoding   = &Error{Kind: KindTokenRequestEncodingFailed}
	ErrInvalidResponse        = &Error{Kind: KindInvalidResponse}
	ErrTokenExchangeFailed    = &Error{Kind: KindTokenExchangeFailed}
	ErrTokenRefreshFailed     = &Error{Kind: KindTokenRefreshFailed}
	ErrNetwork                = &Error{Kind: KindNetworkError}
)
