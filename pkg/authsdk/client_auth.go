package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Login authenticates with email and password.
//
// Fails with ErrOTPRequired when the account has not confirmed its OTP yet
// (the server says so in its message) and ErrInvalidCredentials when the
// credentials are rejected.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	const op = "login"
	email = strings.TrimSpace(email)

	status, body, err := c.post(ctx, op, "/auth/login", nil, LoginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		return nil, loginFailure(failure(op, status, body))
	}

	env, err := decodeEnvelope[LoginData](op, status, body)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, loginFailure(&APIError{Op: op, StatusCode: status, Message: env.Message})
	}
	if env.Data.Token == "" {
		return nil, &APIError{Op: op, StatusCode: status, Message: "response carries no access token", Kind: ErrServerError}
	}

	name := env.Data.Fullname
	if name == "" {
		name = env.Data.Name
	}

	return &LoginResult{
		User: User{
			ID:    string(env.Data.ID),
			Name:  name,
			Email: email,
			Role:  env.Data.Role,
		},
		Tokens: Tokens{
			AccessToken:  env.Data.Token,
			RefreshToken: env.Data.RefreshToken,
		},
	}, nil
}

// loginFailure narrows a failed login: an OTP message wins, any other
// client error means the credentials were not accepted.
func loginFailure(e *APIError) *APIError {
	switch {
	case isOTPMessage(e.Message):
		e.Kind = ErrOTPRequired
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		e.Kind = ErrServerError
	default:
		e.Kind = ErrInvalidCredentials
	}
	return e
}

// Register creates a passenger account. The form is validated locally first;
// a rejected form never reaches the server. The account still has to confirm
// an OTP before it can log in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	const op = "register"

	if err := req.Validate(); err != nil {
		return err
	}

	status, body, err := c.post(ctx, op, "/auth/register", url.Values{"role": {"PASSENGER"}}, RegisterBody{
		Email:           strings.TrimSpace(req.Email),
		Fullname:        strings.TrimSpace(req.Name),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return err
	}

	if !isSuccess(status) {
		e := failure(op, status, body)
		if e.Kind == ErrInvalidCredentials {
			e.Kind = ErrValidationFailed
		}
		return e
	}

	env, err := decodeEnvelope[any](op, status, body)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Op: op, StatusCode: status, Message: env.Message, Kind: ErrValidationFailed}
	}

	return nil
}
