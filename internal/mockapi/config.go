package mockapi

import (
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/httpx"
	"github.com/aussiebroadwan/kombipay/pkg/jwtx"
)

type Config struct {
	BasePath string // Route prefix (default: /api)
	Issuer   string // Access token issuer (default: kombipay-mock)
	Secret   []byte // HS256 secret, at least 32 bytes (default: random per process)
	Pepper   string // Password pepper (default: none)

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 7d)
	ResetTTL   time.Duration // Password reset token lifetime (default: 30m)
	OTPPeriod  time.Duration // OTP step (default: 5m)

	StartingBalance float64 // Balance of new accounts (default: 20)
	Fare            float64 // Flat fare charged per scan (default: 1.5)

	AuthLimit      httpx.RateLimitConfig // Per-IP limit on /auth (default: httpx.StrictLimit)
	PassengerLimit httpx.RateLimitConfig // Per-user limit on passenger routes (default: httpx.ModerateLimit)

	// CheapHashing lowers the Argon2id cost. Tests only.
	CheapHashing bool
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:        "/api",
		Issuer:          "kombipay-mock",
		AccessTTL:       jwtx.DefaultAccessTokenTTL,
		RefreshTTL:      7 * 24 * time.Hour,
		ResetTTL:        30 * time.Minute,
		OTPPeriod:       5 * time.Minute,
		StartingBalance: 20,
		Fare:            1.5,
		AuthLimit:       httpx.StrictLimit,
		PassengerLimit:  httpx.ModerateLimit,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = def.BasePath
	}
	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = def.AccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = def.RefreshTTL
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = def.ResetTTL
	}
	if c.OTPPeriod < time.Second {
		c.OTPPeriod = def.OTPPeriod
	}
	if c.StartingBalance == 0 {
		c.StartingBalance = def.StartingBalance
	}
	if c.Fare <= 0 {
		c.Fare = def.Fare
	}
	if c.AuthLimit.RequestsPerWindow <= 0 {
		c.AuthLimit = def.AuthLimit
	}
	if c.PassengerLimit.RequestsPerWindow <= 0 {
		c.PassengerLimit = def.PassengerLimit
	}
	return c
}
