package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/kombipay/pkg/httpx"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

const minPasswordLength = 6

type authHandler struct {
	backend *Backend
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(w http.ResponseWriter, code int, msg string, data any) {
	httpx.WriteJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginData struct {
	ID           int64  `json:"id"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
	Fullname     string `json:"fullname"`
	Message      string `json:"message"`
	Status       string `json:"status"`
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc, pair, err := h.backend.Login(body.Email, body.Password)
	switch {
	case errors.Is(err, ErrNotVerified):
		httpx.WriteFailure(w, http.StatusUnauthorized, "Account not verified, please confirm OTP")
		return
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteFailure(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		log.Error("login failed", "err", err)
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpx.NoCache(w)
	ok(w, http.StatusOK, "Login successful", loginData{
		ID:           acc.ID,
		Token:        pair.Access,
		RefreshToken: pair.Refresh,
		Role:         acc.Role,
		Fullname:     acc.Fullname,
		Message:      acc.Fullname,
		Status:       "ACTIVE",
	})
}

type registerBody struct {
	Email           string `json:"email"`
	Fullname        string `json:"fullname"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	role := r.URL.Query().Get("role")
	if role != "PASSENGER" {
		httpx.WriteFailure(w, http.StatusBadRequest, "Unsupported role")
		return
	}

	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch {
	case strings.TrimSpace(body.Email) == "" || strings.TrimSpace(body.Fullname) == "":
		httpx.WriteFailure(w, http.StatusBadRequest, "Email and full name are required")
		return
	case len(body.Password) < minPasswordLength:
		httpx.WriteFailure(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	case body.Password != body.ConfirmPassword:
		httpx.WriteFailure(w, http.StatusBadRequest, "Passwords do not match")
		return
	}

	acc, err := h.backend.Register(strings.TrimSpace(body.Fullname), body.Email, body.Password, role)
	switch {
	case errors.Is(err, ErrEmailTaken):
		httpx.WriteFailure(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		log.Error("register failed", "err", err)
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok(w, http.StatusCreated, "Registered, check your email for the OTP", map[string]any{
		"id":    acc.ID,
		"email": acc.Email,
	})
}

func (h *authHandler) requestOTP(w http.ResponseWriter, r *http.Request) {
	err := h.backend.SendOTP(r.URL.Query().Get("email"))
	switch {
	case errors.Is(err, ErrUnknownAccount):
		httpx.WriteFailure(w, http.StatusNotFound, "Account not found")
		return
	case err != nil:
		slogx.FromContext(r.Context()).Error("send otp failed", "err", err)
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok(w, http.StatusOK, "OTP sent", nil)
}

func (h *authHandler) confirmOTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	err := h.backend.ConfirmOTP(q.Get("email"), q.Get("otp"))
	switch {
	case errors.Is(err, ErrUnknownAccount):
		httpx.WriteFailure(w, http.StatusNotFound, "Account not found")
		return
	case errors.Is(err, ErrInvalidOTP):
		httpx.WriteFailure(w, http.StatusBadRequest, "Invalid or expired OTP")
		return
	case err != nil:
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok(w, http.StatusOK, "Account verified", true)
}

func (h *authHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	token, err := h.backend.ForgotPassword(r.URL.Query().Get("email"))
	if err != nil {
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Development backends hand the reset token straight back
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, token)
}

func (h *authHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if len(q.Get("newPassword")) < minPasswordLength {
		httpx.WriteFailure(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	err := h.backend.ResetPassword(q.Get("token"), q.Get("newPassword"))
	switch {
	case errors.Is(err, ErrInvalidReset):
		httpx.WriteFailure(w, http.StatusNotFound, "Invalid or expired reset token")
		return
	case err != nil:
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok(w, http.StatusOK, "Password updated", nil)
}

type tokenData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (h *authHandler) refreshToken(w http.ResponseWriter, r *http.Request) {
	pair, err := h.backend.Refresh(r.URL.Query().Get("refreshToken"))
	switch {
	case errors.Is(err, ErrInvalidRefresh):
		httpx.WriteFailure(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	case err != nil:
		slogx.FromContext(r.Context()).Error("refresh failed", "err", err)
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpx.NoCache(w)
	ok(w, http.StatusOK, "", tokenData{Token: pair.Access, RefreshToken: pair.Refresh})
}
