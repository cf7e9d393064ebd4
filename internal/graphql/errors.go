package graphql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotAuthenticated means no access token was available for the call.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAuthenticationExpired means the server rejected the token, either
	// with HTTP 401 or inside a 200 GraphQL error payload.
	ErrAuthenticationExpired = errors.New("authentication expired")
	// ErrRequestEncoding means the request body could not be built.
	ErrRequestEncoding = errors.New("failed to encode request data")
)

// HTTPError is a non-200 response from the GraphQL endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Status, e.Body)
}

// GraphQLError carries every message of a non-empty errors array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "GraphQL error: " + strings.Join(e.Messages, ", ")
}

// DecodeError means the response body was not the expected JSON shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure before any response arrived.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// authKeywords mark GraphQL error messages that are really token problems.
var authKeywords = []string{"token", "unauthorized", "authorization"}

func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range authKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
