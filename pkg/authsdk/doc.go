/*
Package authsdk is the client for the KombiPay identity API.

# Overview

Client is a stateless request/response wrapper over the /auth endpoints:
login, registration, OTP request and confirmation, password reset and token
refresh. It holds no session. Tokens returned by Login and Refresh are handed
to the caller, normally a session.Manager, which owns persistence and the
session lifecycle.

	client := authsdk.NewClient("https://api.kombipay.example/api")

	res, err := client.Login(ctx, "a@x.com", "secret")
	switch {
	case errors.Is(err, authsdk.ErrOTPRequired):
		// account not confirmed yet, run the OTP flow for this email
	case errors.Is(err, authsdk.ErrInvalidCredentials):
		// wrong email or password
	case err != nil:
		return err
	}
	fmt.Println(res.User.Role, res.AccessToken != "")

# Error Taxonomy

Every failure matches exactly one sentinel with errors.Is:

  - ErrInvalidCredentials: credentials or refresh token rejected
  - ErrOTPRequired: the account must confirm an OTP before logging in
  - ErrOTPInvalid: the OTP code was rejected
  - ErrValidationFailed: the request was rejected as invalid
  - ErrNetworkUnavailable: the request never produced an HTTP response
  - ErrServerError: 5xx, rate limiting, or an unreadable response body
  - ErrAuthExpired: only returned by the session request pipeline

HTTP failures are reported as *APIError, client-side form checks as
*ValidationError; both unwrap to their sentinel.

# Throttling

RequestOTP and ForgotPassword send e-mail on the server side, so they are
throttled client-side (WithOTPRateLimit). A throttled call blocks until it is
allowed or its context ends.

# Thread Safety

Client has no mutable state after construction and is safe for concurrent use.
*/
package authsdk
