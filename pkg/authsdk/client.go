package authsdk

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/slogx"
	"golang.org/x/time/rate"
)

// DefaultBaseURL matches the development backend.
const DefaultBaseURL = "http://localhost:8080/api"

// Default client-side throttle for endpoints that trigger e-mails.
const (
	DefaultOTPInterval = 30 * time.Second
	DefaultOTPBurst    = 3
)

// Client is a stateless client for the identity endpoints of the API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	otpLimiter    *rate.Limiter
	forgotLimiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The caller owns its transport,
// so no logging transport is installed.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for the client's own logs and transport.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithOTPRateLimit sets the throttle for RequestOTP and ForgotPassword.
// A zero interval disables throttling.
func WithOTPRateLimit(interval time.Duration, burst int) Option {
	return func(c *Client) {
		if interval <= 0 {
			c.otpLimiter, c.forgotLimiter = nil, nil
			return
		}
		c.otpLimiter = rate.NewLimiter(rate.Every(interval), burst)
		c.forgotLimiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. "https://host/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		otpLimiter:    rate.NewLimiter(rate.Every(DefaultOTPInterval), DefaultOTPBurst),
		forgotLimiter: rate.NewLimiter(rate.Every(DefaultOTPInterval), DefaultOTPBurst),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: slogx.NewTransport(nil, c.logger),
		}
	}

	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying HTTP client, so authenticated API calls
// can share its transport.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }
