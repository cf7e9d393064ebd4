// Package credstore holds secrets (OAuth tokens) and the small amount of
// session metadata that travels with them.
package credstore

import "errors"

// Keys used by the auth session.
const (
	KeyAccessToken  = "gitlab_access_token"
	KeyRefreshToken = "gitlab_refresh_token"
	KeyGitLabURL    = "gitlab_url"
	KeyClientID     = "gitlab_client_id"
	KeyTokenExpiry  = "gitlab_token_expiry"
)

// ErrInsecurePermissions is returned when the credential directory is
// readable or writable by group or others.
var ErrInsecurePermissions = errors.New("credential directory has insecure permissions")

// Store is a get/set/delete key-value store for secret strings.
type Store interface {
	// Get returns the value and whether the key was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}
