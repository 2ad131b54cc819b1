// Package kombiapi is the authenticated passenger API of KombiPay. Every call
// goes through a session.Pipeline, so it carries the session's access token
// and survives token expiry transparently.
package kombiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
)

// Requester sends an authenticated request. *session.Pipeline implements it.
type Requester interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL string
	r       Requester
}

func New(baseURL string, r Requester) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		r:       r,
	}
}

// Profile is the passenger as the API reports it, balance included.
type Profile = authsdk.User

// Payment is the receipt of a scanned fare.
type Payment struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity is one entry of the passenger's history.
type Activity struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type profileData struct {
	ID       authsdk.FlexID `json:"id"`
	Fullname string         `json:"fullname"`
	Email    string         `json:"email"`
	Role     string         `json:"role"`
	Balance  *float64       `json:"balance"`
}

// Me returns the logged in passenger's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var data profileData
	if err := c.call(ctx, "me", http.MethodGet, "/passenger/me", nil, &data); err != nil {
		return nil, err
	}
	return &Profile{
		ID:      string(data.ID),
		Name:    data.Fullname,
		Email:   data.Email,
		Role:    data.Role,
		Balance: data.Balance,
	}, nil
}

// Pay submits a scanned QR code. The code is passed through as is.
func (c *Client) Pay(ctx context.Context, code string) (*Payment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &authsdk.ValidationError{Fields: map[string]string{"code": "required"}}
	}

	var p Payment
	if err := c.call(ctx, "pay", http.MethodPost, "/payments", map[string]string{"code": code}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Activity returns the passenger's history, newest first.
func (c *Client) Activity(ctx context.Context) ([]Activity, error) {
	var items []Activity
	if err := c.call(ctx, "activity", http.MethodGet, "/passenger/activity", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// call sends one request and decodes the data field of the envelope into out.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kombiapi: %s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kombiapi: %s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.r.Do(ctx, req)
	if err != nil {
		// Only failures on the wire are network failures; the http.Client
		// reports those as *url.Error.
		var uerr *url.Error
		if ctx.Err() == nil && errors.As(err, &uerr) {
			return fmt.Errorf("%w: %s: %w", authsdk.ErrNetworkUnavailable, op, err)
		}
		return fmt.Errorf("kombiapi: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: failed to read response body: %w", authsdk.ErrNetworkUnavailable, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return authsdk.ResponseError(op, resp.StatusCode, data)
	}

	env := authsdk.Envelope[json.RawMessage]{}
	if err := json.Unmarshal(data, &env); err != nil {
		return &authsdk.APIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response: " + err.Error(), Kind: authsdk.ErrServerError}
	}
	if !env.Success {
		return &authsdk.APIError{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Kind: authsdk.ErrServerError}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &authsdk.APIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode data: " + err.Error(), Kind: authsdk.ErrServerError}
		}
	}
	return nil
}
