package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Refresh exchanges a refresh token for a new token pair. A rejected refresh
// token (expired, revoked or already rotated) fails with
// ErrInvalidCredentials. When the server does not rotate the refresh token,
// the one presented is returned again.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	const op = "refresh"

	if refreshToken == "" {
		return nil, &APIError{Op: op, Message: "no refresh token", Kind: ErrInvalidCredentials}
	}

	status, body, err := c.post(ctx, op, "/auth/refresh-token", url.Values{"refreshToken": {refreshToken}}, nil)
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		e := failure(op, status, body)
		if status == http.StatusBadRequest || status == http.StatusNotFound {
			e.Kind = ErrInvalidCredentials
		}
		return nil, e
	}

	env, err := decodeEnvelope[TokenData](op, status, body)
	if err != nil {
		return nil, err
	}
	if env.Data.Token == "" {
		return nil, &APIError{Op: op, StatusCode: status, Message: "response carries no access token", Kind: ErrServerError}
	}

	tokens := &Tokens{
		AccessToken:  env.Data.Token,
		RefreshToken: env.Data.RefreshToken,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}
