package authsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ============================================================================
// Public Types
// ============================================================================

// User is the authenticated passenger. It is replaced wholesale on login and
// never patched field by field.
type User struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Role    string   `json:"role"`
	Balance *float64 `json:"balance,omitempty"`
}

// Tokens is an access/refresh token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is a successful login.
type LoginResult struct {
	User User
	Tokens
}

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

// ============================================================================
// Wire Types
// ============================================================================

// Envelope is the response wrapper used by every endpoint of the API.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginData is the data field of a login response.
type LoginData struct {
	ID           FlexID `json:"id"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
	Fullname     string `json:"fullname,omitempty"`
	Name         string `json:"name,omitempty"`
	Message      string `json:"message,omitempty"`
	Status       string `json:"status,omitempty"`
}

// RegisterBody is the body of POST /auth/register.
type RegisterBody struct {
	Email           string `json:"email"`
	Fullname        string `json:"fullname"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// TokenData is the data field of a refresh-token response.
type TokenData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// FlexID decodes an identifier sent either as a JSON number or a string.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("authsdk: id is neither string nor number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}
