package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// RequestOTP asks the server to (re)send a confirmation code to email.
// Calls are throttled client-side.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	const op = "request otp"

	errs := make(map[string]string)
	validateEmail(errs, "email", email)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}

	if err := throttle(ctx, op, c.otpLimiter); err != nil {
		return err
	}

	status, body, err := c.post(ctx, op, "/auth/request-otp", url.Values{"email": {strings.TrimSpace(email)}}, nil)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return failure(op, status, body)
	}

	return nil
}

// ConfirmOTP confirms the account behind email with code. A rejected code
// returns false with ErrOTPInvalid.
func (c *Client) ConfirmOTP(ctx context.Context, email, code string) (bool, error) {
	const op = "confirm otp"

	code = strings.TrimSpace(code)
	if code == "" {
		return false, &ValidationError{Fields: map[string]string{"otp": requiredReason}}
	}

	status, body, err := c.post(ctx, op, "/auth/confirm-otp", url.Values{
		"email": {strings.TrimSpace(email)},
		"otp":   {code},
	}, nil)
	if err != nil {
		return false, err
	}

	if !isSuccess(status) {
		e := failure(op, status, body)
		if status < 500 && status != http.StatusTooManyRequests {
			e.Kind = ErrOTPInvalid
		}
		return false, e
	}

	env, err := decodeEnvelope[any](op, status, body)
	if err != nil {
		return false, err
	}
	if !env.Success {
		return false, &APIError{Op: op, StatusCode: status, Message: env.Message, Kind: ErrOTPInvalid}
	}

	return true, nil
}
