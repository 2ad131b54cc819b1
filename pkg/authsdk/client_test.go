package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at handler with throttling disabled.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, WithOTPRateLimit(0, 0))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/auth/login", r.URL.Path)

			var body LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "ada@example.com", body.Email)
			require.Equal(t, "hunter22", body.Password)

			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"id":           42,
					"token":        "access-1",
					"refreshToken": "refresh-1",
					"role":         "PASSENGER",
					"fullname":     "Ada Lovelace",
				},
			})
		})

		res, err := client.Login(context.Background(), " ada@example.com ", "hunter22")
		require.NoError(t, err)
		require.Equal(t, "42", res.User.ID)
		require.Equal(t, "Ada Lovelace", res.User.Name)
		require.Equal(t, "ada@example.com", res.User.Email)
		require.Equal(t, "PASSENGER", res.User.Role)
		require.Equal(t, "access-1", res.AccessToken)
		require.Equal(t, "refresh-1", res.RefreshToken)
	})

	cases := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"otp not confirmed", http.StatusUnauthorized, map[string]any{"success": false, "message": "Account not verified, please confirm OTP"}, ErrOTPRequired},
		{"otp in lowercase", http.StatusBadRequest, map[string]any{"success": false, "message": "please verify otp first"}, ErrOTPRequired},
		{"wrong password", http.StatusUnauthorized, map[string]any{"success": false, "message": "Bad credentials"}, ErrInvalidCredentials},
		{"bad request", http.StatusBadRequest, map[string]any{"success": false, "message": "invalid"}, ErrInvalidCredentials},
		{"unknown user", http.StatusNotFound, map[string]any{"success": false, "message": "user not found"}, ErrInvalidCredentials},
		{"server failure", http.StatusInternalServerError, map[string]any{"success": false, "message": "boom"}, ErrServerError},
		{"success false", http.StatusOK, map[string]any{"success": false, "message": "Bad credentials"}, ErrInvalidCredentials},
		{"no token", http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "1"}}, ErrServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})

			_, err := client.Login(context.Background(), "ada@example.com", "hunter22")
			require.ErrorIs(t, err, tc.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tc.status, apiErr.StatusCode)
		})
	}
}

func TestLoginNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url)
	_, err := client.Login(context.Background(), "ada@example.com", "hunter22")
	require.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestLoginCancelledIsNotNetworkFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Login(ctx, "ada@example.com", "hunter22")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrNetworkUnavailable))
}

func TestRegister(t *testing.T) {
	t.Parallel()

	valid := RegisterRequest{
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
	}

	t.Run("sends passenger role", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/register", r.URL.Path)
			require.Equal(t, "PASSENGER", r.URL.Query().Get("role"))

			var body RegisterBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "Ada Lovelace", body.Fullname)
			require.Equal(t, "hunter22", body.ConfirmPassword)

			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "registered"})
		})

		require.NoError(t, client.Register(context.Background(), valid))
	})

	t.Run("validation never reaches the server", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})

		req := valid
		req.ConfirmPassword = "hunter23"
		req.Email = "not-an-email"

		err := client.Register(context.Background(), req)
		require.ErrorIs(t, err, ErrValidationFailed)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Contains(t, vErr.Fields, "confirmPassword")
		require.Contains(t, vErr.Fields, "email")
		require.Zero(t, calls.Load())
	})

	t.Run("email taken", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "Email already in use"})
		})

		err := client.Register(context.Background(), valid)
		require.ErrorIs(t, err, ErrValidationFailed)
		require.Contains(t, err.Error(), "Email already in use")
	})
}

func TestRegisterRequestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{"missing name", RegisterRequest{Email: "a@b.co", Password: "secret", ConfirmPassword: "secret"}, "name"},
		{"missing email", RegisterRequest{Name: "A", Password: "secret", ConfirmPassword: "secret"}, "email"},
		{"short password", RegisterRequest{Name: "A", Email: "a@b.co", Password: "12345", ConfirmPassword: "12345"}, "password"},
		{"mismatch", RegisterRequest{Name: "A", Email: "a@b.co", Password: "secret", ConfirmPassword: "secreT"}, "confirmPassword"},
		{"display name email", RegisterRequest{Name: "A", Email: "Ada <a@b.co>", Password: "secret", ConfirmPassword: "secret"}, "email"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.req.Validate()
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Contains(t, vErr.Fields, tc.field)
		})
	}

	require.NoError(t, RegisterRequest{Name: "A", Email: "a@b.co", Password: "secret", ConfirmPassword: "secret"}.Validate())
}

func TestConfirmOTP(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/confirm-otp", r.URL.Path)
			require.Equal(t, "ada@example.com", r.URL.Query().Get("email"))
			require.Equal(t, "123456", r.URL.Query().Get("otp"))
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		})

		ok, err := client.ConfirmOTP(context.Background(), "ada@example.com", "123456")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid OTP"})
		})

		ok, err := client.ConfirmOTP(context.Background(), "ada@example.com", "000000")
		require.ErrorIs(t, err, ErrOTPInvalid)
		require.False(t, ok)
	})

	t.Run("rejected with 200", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "expired"})
		})

		ok, err := client.ConfirmOTP(context.Background(), "ada@example.com", "000000")
		require.ErrorIs(t, err, ErrOTPInvalid)
		require.False(t, ok)
	})
}

func TestRequestOTPThrottled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, WithOTPRateLimit(time.Hour, 1))
	require.NoError(t, client.RequestOTP(context.Background(), "ada@example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.RequestOTP(ctx, "ada@example.com")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestForgotAndResetPassword(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/forgot-password":
			writeJSON(w, http.StatusOK, "reset-token-1")
		case "/auth/reset-password":
			if r.URL.Query().Get("token") != "reset-token-1" {
				writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "unknown token"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "password updated"})
		default:
			http.NotFound(w, r)
		}
	})

	ack, err := client.ForgotPassword(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "reset-token-1", ack)

	require.NoError(t, client.ResetPassword(context.Background(), "reset-token-1", "newsecret"))

	err = client.ResetPassword(context.Background(), "bogus", "newsecret")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = client.ResetPassword(context.Background(), "reset-token-1", "short")
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestAckMessage(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"token-1"`:                         "token-1",
		`{"success":true,"data":"token-2"}`: "token-2",
		`{"success":true,"message":"sent"}`: "sent",
		"check your inbox":                  "check your inbox",
	}
	for body, want := range cases {
		require.Equal(t, want, ackMessage([]byte(body)), body)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	t.Run("rotates", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/refresh-token", r.URL.Path)
			require.Equal(t, "refresh-1", r.URL.Query().Get("refreshToken"))
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"token": "access-2", "refreshToken": "refresh-2"},
			})
		})

		tokens, err := client.Refresh(context.Background(), "refresh-1")
		require.NoError(t, err)
		require.Equal(t, &Tokens{AccessToken: "access-2", RefreshToken: "refresh-2"}, tokens)
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"token": "access-2"}})
		})

		tokens, err := client.Refresh(context.Background(), "refresh-1")
		require.NoError(t, err)
		require.Equal(t, "refresh-1", tokens.RefreshToken)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "refresh token expired"})
		})

		_, err := client.Refresh(context.Background(), "refresh-1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()

		client := NewClient("http://127.0.0.1:0")
		_, err := client.Refresh(context.Background(), "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-key"))
	require.NoError(t, err)

	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	_, ok = TokenExpiry("opaque-token")
	require.False(t, ok)

	_, ok = TokenExpiry("")
	require.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "42"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = TokenExpiry(noExp)
	require.False(t, ok)
}
