// Package mockapi is an in-process fake of the KombiPay backend: identity
// endpoints under /auth and the passenger endpoints the app calls. It backs
// the tests and the local development server.
package mockapi

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/cryptox"
	"github.com/aussiebroadwan/kombipay/pkg/idx"
	"github.com/aussiebroadwan/kombipay/pkg/jwtx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotVerified        = errors.New("account not verified")
	ErrInvalidOTP         = errors.New("invalid otp")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrInvalidReset       = errors.New("invalid reset token")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrInsufficientFunds  = errors.New("insufficient balance")
)

// Account is a registered passenger.
type Account struct {
	ID           int64
	Fullname     string
	Email        string
	Role         string
	PasswordHash string
	OTPSecret    string
	Confirmed    bool
	Balance      float64
	Activity     []ActivityItem
}

// ActivityItem is one entry of an account's history.
type ActivityItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type refreshRecord struct {
	accountID int64
	expiresAt time.Time
}

type resetRecord struct {
	accountID int64
	expiresAt time.Time
}

// Backend holds the state of the fake API. It is safe for concurrent use.
type Backend struct {
	cfg    Config
	hasher *cryptox.Hasher
	tokens *jwtx.HS256
	skew   atomic.Int64 // nanoseconds added to the wall clock

	mu       sync.Mutex
	nextID   int64
	accounts map[string]*Account // by lower-cased email
	refresh  map[string]refreshRecord
	resets   map[string]resetRecord
	outbox   map[string]string // last OTP code per lower-cased email

	refreshCalls atomic.Int64
}

func newBackend(cfg Config, tokens *jwtx.HS256) *Backend {
	hasher := cryptox.NewHasher(cfg.Pepper)
	if cfg.CheapHashing {
		hasher.Memory, hasher.Iterations = 1024, 1
	}

	return &Backend{
		cfg:      cfg,
		hasher:   hasher,
		tokens:   tokens,
		nextID:   1,
		accounts: make(map[string]*Account),
		refresh:  make(map[string]refreshRecord),
		resets:   make(map[string]resetRecord),
		outbox:   make(map[string]string),
	}
}

func (b *Backend) now() time.Time {
	return time.Now().Add(time.Duration(b.skew.Load()))
}

// Advance moves the backend clock forward by d, expiring tokens and codes
// without sleeping.
func (b *Backend) Advance(d time.Duration) {
	b.skew.Add(int64(d))
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an unconfirmed passenger account and sends its first OTP.
func (b *Backend) Register(fullname, email, password, role string) (*Account, error) {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      b.cfg.Issuer,
		AccountName: email,
		Period:      uint(b.cfg.OTPPeriod / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.accounts[emailKey(email)]; ok {
		return nil, ErrEmailTaken
	}

	acc := &Account{
		ID:           b.nextID,
		Fullname:     fullname,
		Email:        strings.TrimSpace(email),
		Role:         role,
		PasswordHash: hash,
		OTPSecret:    key.Secret(),
		Balance:      b.cfg.StartingBalance,
	}
	b.nextID++
	b.accounts[emailKey(email)] = acc

	if err := b.sendOTPLocked(acc); err != nil {
		return nil, err
	}
	snapshot := *acc
	return &snapshot, nil
}

// SendOTP issues a fresh code for an account into the outbox.
func (b *Backend) SendOTP(email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[emailKey(email)]
	if !ok {
		return ErrUnknownAccount
	}
	return b.sendOTPLocked(acc)
}

func (b *Backend) sendOTPLocked(acc *Account) error {
	code, err := totp.GenerateCodeCustom(acc.OTPSecret, b.now(), b.otpOpts())
	if err != nil {
		return err
	}
	b.outbox[emailKey(acc.Email)] = code
	return nil
}

func (b *Backend) otpOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(b.cfg.OTPPeriod / time.Second),
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// LastOTP returns the last code sent to email.
func (b *Backend) LastOTP(email string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	code, ok := b.outbox[emailKey(email)]
	return code, ok
}

// ConfirmOTP marks the account confirmed when code is valid.
func (b *Backend) ConfirmOTP(email, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[emailKey(email)]
	if !ok {
		return ErrUnknownAccount
	}

	valid, err := totp.ValidateCustom(strings.TrimSpace(code), acc.OTPSecret, b.now(), b.otpOpts())
	if err != nil || !valid {
		return ErrInvalidOTP
	}

	acc.Confirmed = true
	delete(b.outbox, emailKey(email))
	return nil
}

// TokenPair is what login and refresh hand out.
type TokenPair struct {
	Access  string
	Refresh string
}

// Login checks credentials and issues a token pair.
func (b *Backend) Login(email, password string) (*Account, TokenPair, error) {
	b.mu.Lock()
	acc, ok := b.accounts[emailKey(email)]
	var hash string
	if ok {
		hash = acc.PasswordHash
	}
	b.mu.Unlock()
	if !ok {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	// Argon2 runs outside the lock
	if err := b.hasher.Verify(password, hash); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !acc.Confirmed {
		return nil, TokenPair{}, ErrNotVerified
	}

	pair, err := b.issueLocked(acc)
	if err != nil {
		return nil, TokenPair{}, err
	}
	snapshot := *acc
	return &snapshot, pair, nil
}

// issueLocked mints a new access token and a new opaque refresh token.
func (b *Backend) issueLocked(acc *Account) (TokenPair, error) {
	now := b.now()
	claims := jwtx.NewAccessClaims(
		strconv.FormatInt(acc.ID, 10),
		acc.Role,
		acc.Email,
		b.cfg.Issuer,
		b.cfg.AccessTTL,
		now,
	)
	access, err := b.tokens.Sign(claims)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return TokenPair{}, err
	}
	b.refresh[cryptox.FingerprintToken(refresh)] = refreshRecord{
		accountID: acc.ID,
		expiresAt: now.Add(b.cfg.RefreshTTL),
	}

	return TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh rotates a refresh token: the presented one is consumed and a new
// pair is issued.
func (b *Backend) Refresh(refreshToken string) (TokenPair, error) {
	b.refreshCalls.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	fp := cryptox.FingerprintToken(refreshToken)
	rec, ok := b.refresh[fp]
	if !ok {
		return TokenPair{}, ErrInvalidRefresh
	}
	delete(b.refresh, fp)

	if b.now().After(rec.expiresAt) {
		return TokenPair{}, ErrInvalidRefresh
	}

	acc := b.accountByIDLocked(rec.accountID)
	if acc == nil {
		return TokenPair{}, ErrInvalidRefresh
	}
	return b.issueLocked(acc)
}

// RefreshCalls counts refresh attempts, rejected ones included.
func (b *Backend) RefreshCalls() int64 {
	return b.refreshCalls.Load()
}

// RevokeAll drops every outstanding refresh token.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh = make(map[string]refreshRecord)
}

// ForgotPassword issues a reset token for email. Unknown emails get a token
// that resets nothing, so the response does not reveal accounts.
func (b *Backend) ForgotPassword(email string) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if acc, ok := b.accounts[emailKey(email)]; ok {
		b.resets[cryptox.FingerprintToken(token)] = resetRecord{
			accountID: acc.ID,
			expiresAt: b.now().Add(b.cfg.ResetTTL),
		}
	}
	return token, nil
}

// ResetPassword sets a new password using a reset token. Outstanding refresh
// tokens of the account are revoked.
func (b *Backend) ResetPassword(token, newPassword string) error {
	hash, err := b.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fp := cryptox.FingerprintToken(token)
	rec, ok := b.resets[fp]
	if !ok || b.now().After(rec.expiresAt) {
		return ErrInvalidReset
	}
	delete(b.resets, fp)

	acc := b.accountByIDLocked(rec.accountID)
	if acc == nil {
		return ErrInvalidReset
	}
	acc.PasswordHash = hash

	for k, r := range b.refresh {
		if r.accountID == acc.ID {
			delete(b.refresh, k)
		}
	}
	return nil
}

// Account returns a copy of the account with the given id.
func (b *Backend) Account(id int64) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc := b.accountByIDLocked(id)
	if acc == nil {
		return Account{}, ErrUnknownAccount
	}
	snapshot := *acc
	snapshot.Activity = append([]ActivityItem(nil), acc.Activity...)
	return snapshot, nil
}

// Pay charges the flat fare for a scanned code.
func (b *Backend) Pay(id int64, code string) (ActivityItem, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc := b.accountByIDLocked(id)
	if acc == nil {
		return ActivityItem{}, 0, ErrUnknownAccount
	}
	if acc.Balance < b.cfg.Fare {
		return ActivityItem{}, acc.Balance, ErrInsufficientFunds
	}

	acc.Balance -= b.cfg.Fare
	item := ActivityItem{
		ID:          idx.New().String(),
		Kind:        "PAYMENT",
		Amount:      b.cfg.Fare,
		Description: "Fare " + code,
		CreatedAt:   b.now().UTC(),
	}
	// Newest first
	acc.Activity = append([]ActivityItem{item}, acc.Activity...)
	return item, acc.Balance, nil
}

func (b *Backend) accountByIDLocked(id int64) *Account {
	for _, acc := range b.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

// verifyAccess validates an access token and returns its subject.
func (b *Backend) verifyAccess(token string) (string, error) {
	claims, err := b.tokens.WithClock(b.now).Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
