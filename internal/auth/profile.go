package auth

import (
	"context"
	"errors"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// ErrNotSignedIn is returned by FetchProfile when there is no access token.
var ErrNotSignedIn = errors.New("not signed in")

// Profile is the signed-in GitLab account as reported by the REST API.
type Profile struct {
	ID        int
	Username  string
	Name      string
	Email     string
	AvatarURL string
	WebURL    string
}

// FetchProfile looks up the account behind the current access token.
func (s *Session) FetchProfile(ctx context.Context) (*Profile, error) {
	token, baseURL := s.AccessToken(), s.BaseURL()
	if token == "" {
		return nil, ErrNotSignedIn
	}

	client, err := gitlab.NewOAuthClient(token,
		gitlab.WithBaseURL(baseURL+"/api/v4"),
		gitlab.WithHTTPClient(s.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	user, _, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GitLab user info: %w", err)
	}

	return &Profile{
		ID:        user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		WebURL:    user.WebURL,
	}, nil
}
