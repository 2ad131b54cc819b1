package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// ForgotPassword starts a password reset for email and returns whatever the
// server acknowledges with (a reset token in development setups, otherwise a
// human readable acknowledgement). Calls are throttled client-side.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	const op = "forgot password"

	errs := make(map[string]string)
	validateEmail(errs, "email", email)
	if len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}

	if err := throttle(ctx, op, c.forgotLimiter); err != nil {
		return "", err
	}

	status, body, err := c.post(ctx, op, "/auth/forgot-password", url.Values{"email": {strings.TrimSpace(email)}}, nil)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) {
		return "", failure(op, status, body)
	}

	return ackMessage(body), nil
}

// ResetPassword sets a new password using the token from ForgotPassword.
// An unknown or expired token fails with ErrInvalidCredentials.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "reset password"

	errs := make(map[string]string)
	if strings.TrimSpace(token) == "" {
		errs["token"] = requiredReason
	}
	validateNewPassword(errs, newPassword, newPassword)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}

	status, body, err := c.post(ctx, op, "/auth/reset-password", url.Values{
		"token":       {strings.TrimSpace(token)},
		"newPassword": {newPassword},
	}, nil)
	if err != nil {
		return err
	}

	if !isSuccess(status) {
		e := failure(op, status, body)
		if status == http.StatusNotFound || status == http.StatusGone {
			e.Kind = ErrInvalidCredentials
		}
		return e
	}

	return nil
}
