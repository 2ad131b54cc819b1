package authsdk

import (
	"net/mail"
	"strings"
)

const (
	requiredReason    = "required"
	minPasswordLength = 6
)

// Validate checks the registration form. It returns a *ValidationError
// listing every rejected field, or nil.
func (r RegisterRequest) Validate() error {
	errs := make(map[string]string)

	if strings.TrimSpace(r.Name) == "" {
		errs["name"] = requiredReason
	} else if len(strings.TrimSpace(r.Name)) > 100 {
		errs["name"] = "too long (max 100)"
	}

	validateEmail(errs, "email", r.Email)
	validateNewPassword(errs, r.Password, r.ConfirmPassword)

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: errs}
}

func validateEmail(errs map[string]string, field, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs[field] = requiredReason
		return
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		errs[field] = "must be a valid email address"
	}
}

func validateNewPassword(errs map[string]string, password, confirm string) {
	switch {
	case password == "":
		errs["password"] = requiredReason
	case len(password) < minPasswordLength:
		errs["password"] = "too short (min 6)"
	case len(password) > 128:
		errs["password"] = "too long (max 128)"
	}

	if password != confirm {
		errs["confirmPassword"] = "passwords do not match"
	}
}
