package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultExpiresIn applies when the token endpoint omits expires_in.
const defaultExpiresIn = 7200

type (
	tokenRequest struct {
		ClientID     string `json:"client_id"`
		Code         string `json:"code"`
		GrantType    string `json:"grant_type"`
		RedirectURI  string `json:"redirect_uri"`
		CodeVerifier string `json:"code_verifier"`
	}
	refreshTokenRequest struct {
		ClientID     string `json:"client_id"`
		GrantType    string `json:"grant_type"`
		RefreshToken string `json:"refresh_token"`
	}
	tokenResponse struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    *int   `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	tokenErrorResponse struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
)

// TokenState is the live credential set. AccessToken is non-empty for as long
// as the session is signed in.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	BaseURL      string
	ClientID     string
}

func (r tokenResponse) expiry(now time.Time) time.Time {
	expiresIn := defaultExpiresIn
	if r.ExpiresIn != nil {
		expiresIn = *r.ExpiresIn
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}

// postToken sends a JSON grant to {base}/oauth/token. failKind selects whether
// HTTP and parse failures surface as exchange or refresh errors.
func (s *Session) postToken(ctx context.Context, baseURL string, body any, failKind ErrorKind) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(KindTokenRequestEncodingFailed, "", err)
	}

	tokenEndpoint := baseURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(KindInvalidConfiguration, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("endpoint", tokenEndpoint).Msg("Making GitLab token request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindNetworkError, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetworkError, "failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errData tokenErrorResponse
		if json.Unmarshal(respBody, &errData) == nil && errData.Error != "" {
			detail := errData.ErrorDescription
			if detail == "" {
				detail = errData.Error
			}
			return nil, newError(failKind, detail, nil)
		}
		return nil, newError(failKind, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	var tokenData tokenResponse
	if err := json.Unmarshal(respBody, &tokenData); err != nil {
		return nil, newError(failKind, "failed to parse token response", err)
	}
	if tokenData.AccessToken == "" {
		return nil, newError(failKind, "token response carried no access_token", nil)
	}

	log.Debug().
		Str("token_type", tokenData.TokenType).
		Bool("has_refresh_token", tokenData.RefreshToken != "").
		Msg("Parsed token response")

	return &tokenData, nil
}

func (s *Session) exchangeCode(ctx context.Context, baseURL, clientID, code, verifier string) (*tokenResponse, error) {
	return s.postToken(ctx, baseURL, tokenRequest{
		ClientID:     clientID,
		Code:         code,
		GrantType:    "authorization_code",
		RedirectURI:  s.redirectURI,
		CodeVerifier: verifier,
	}, KindTokenExchangeFailed)
}

func (s *Session) refreshGrant(ctx context.Context, baseURL, clientID, refreshToken string) (*tokenResponse, error) {
	return s.postToken(ctx, baseURL, refreshTokenRequest{
		ClientID:     clientID,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	}, KindTokenRefreshFailed)
}
