package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/httpx"
)

type passengerHandler struct {
	backend *Backend
}

// account resolves the authenticated account or writes the failure.
func (h *passengerHandler) account(w http.ResponseWriter, r *http.Request) (Account, bool) {
	sub, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteFailure(w, http.StatusUnauthorized, "Unauthorized")
		return Account{}, false
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		httpx.WriteFailure(w, http.StatusUnauthorized, "Unauthorized")
		return Account{}, false
	}

	acc, err := h.backend.Account(id)
	if err != nil {
		httpx.WriteFailure(w, http.StatusUnauthorized, "Unauthorized")
		return Account{}, false
	}
	return acc, true
}

func (h *passengerHandler) me(w http.ResponseWriter, r *http.Request) {
	acc, found := h.account(w, r)
	if !found {
		return
	}

	ok(w, http.StatusOK, "", map[string]any{
		"id":       acc.ID,
		"fullname": acc.Fullname,
		"email":    acc.Email,
		"role":     acc.Role,
		"balance":  acc.Balance,
	})
}

func (h *passengerHandler) activity(w http.ResponseWriter, r *http.Request) {
	acc, found := h.account(w, r)
	if !found {
		return
	}

	items := acc.Activity
	if items == nil {
		items = []ActivityItem{}
	}
	ok(w, http.StatusOK, "", items)
}

type payBody struct {
	Code string `json:"code"`
}

type paymentData struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *passengerHandler) pay(w http.ResponseWriter, r *http.Request) {
	acc, found := h.account(w, r)
	if !found {
		return
	}

	var body payBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Code) == "" {
		httpx.WriteFailure(w, http.StatusBadRequest, "A scanned code is required")
		return
	}

	item, balance, err := h.backend.Pay(acc.ID, body.Code)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		httpx.WriteFailure(w, http.StatusPaymentRequired, "Insufficient balance")
		return
	case err != nil:
		httpx.WriteFailure(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok(w, http.StatusOK, "Payment accepted", paymentData{
		ID:        item.ID,
		Amount:    item.Amount,
		Balance:   balance,
		CreatedAt: item.CreatedAt,
	})
}
