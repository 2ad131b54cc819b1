package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
)

// AuthClient is the part of authsdk.Client the Manager drives.
type AuthClient interface {
	Login(ctx context.Context, email, password string) (*authsdk.LoginResult, error)
	Register(ctx context.Context, req authsdk.RegisterRequest) error
	RequestOTP(ctx context.Context, email string) error
	ConfirmOTP(ctx context.Context, email, code string) (bool, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// errSuperseded marks a refresh result that belongs to an older generation.
var errSuperseded = errors.New("session: superseded by a newer session")

// Manager is the session state machine. It is safe for concurrent use.
//
// In-memory state and the Store are updated together under one lock: when a
// store write fails the transition is abandoned and the previous state stays
// in place.
type Manager struct {
	client    AuthClient
	store     Store
	logger    *slog.Logger
	observers []Observer

	mu           sync.Mutex
	state        State
	session      Session
	pendingEmail string
	generation   uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers an observer. It may be given more than once.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// NewManager creates a Manager in the Anonymous state. Call Hydrate to load
// a stored session.
func NewManager(client AuthClient, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		state:  StateAnonymous,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// ============================================================================
// Queries
// ============================================================================

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns a copy of the logged in user, or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.User == nil {
		return nil
	}
	u := cloneUser(*m.session.User)
	return &u
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// PendingEmail returns the email waiting for OTP confirmation, if any.
func (m *Manager) PendingEmail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingEmail
}

// Snapshot returns the state together with a copy of the session and the
// pending email, read at one instant.
func (m *Manager) Snapshot() (State, Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, Snapshot{Session: m.session.clone(), PendingEmail: m.pendingEmail}
}

func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// ============================================================================
// Lifecycle
// ============================================================================

// Hydrate loads the stored session. Corrupt or partial data is not fatal:
// the Manager falls back to Anonymous and wipes the store, and only a failure
// to wipe it is returned. Any other load error leaves both the state and the
// store untouched and is returned, so a store that is briefly unreachable
// never loses a valid session.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	from := m.state

	snap, err := m.store.Load(ctx)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		m.mu.Unlock()
		return fmt.Errorf("session: load stored session: %w", err)
	}

	var clearErr error
	if err != nil {
		m.logger.WarnContext(ctx, "stored session corrupt, starting anonymous", "error", err)
		snap = Snapshot{}
		if clearErr = m.store.Clear(ctx); clearErr != nil {
			m.logger.ErrorContext(ctx, "failed to clear corrupt session", "error", clearErr)
		}
	}

	m.generation++
	m.session = snap.Session.clone()
	m.pendingEmail = ""
	switch {
	case snap.Authenticated():
		m.state = StateAuthenticated
	case snap.PendingEmail != "":
		m.state = StatePendingOTP
		m.pendingEmail = snap.PendingEmail
	default:
		m.state = StateAnonymous
	}
	to := m.state
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "session hydrated", "state", to)
	m.emit(stateChange(from, to)...)

	if clearErr != nil {
		return fmt.Errorf("session: clear corrupt session: %w", clearErr)
	}
	return nil
}

// Login authenticates and, on success, replaces the current session
// wholesale. When the account still needs OTP confirmation the Manager moves
// to PendingOTP, records only the email and returns authsdk.ErrOTPRequired.
func (m *Manager) Login(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)

	res, err := m.client.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, authsdk.ErrOTPRequired) {
			if perr := m.enterPendingOTP(ctx, email); perr != nil {
				return nil, perr
			}
			return nil, err
		}
		m.emit(EventLoginFailed{Err: err})
		return nil, err
	}

	user := cloneUser(res.User)
	next := Session{
		User:         &user,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}

	m.mu.Lock()
	if err := m.store.Save(ctx, Snapshot{Session: next}); err != nil {
		m.mu.Unlock()
		err = fmt.Errorf("session: persist login: %w", err)
		m.emit(EventLoginFailed{Err: err})
		return nil, err
	}
	from := m.state
	m.generation++
	m.session = next
	m.pendingEmail = ""
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "logged in", "user_id", user.ID, "role", user.Role)
	m.emit(append(stateChange(from, StateAuthenticated), EventLoginSucceeded{User: cloneUser(user)})...)

	out := cloneUser(user)
	return &out, nil
}

func (m *Manager) enterPendingOTP(ctx context.Context, email string) error {
	m.mu.Lock()
	if err := m.store.Save(ctx, Snapshot{PendingEmail: email}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session: persist pending email: %w", err)
	}
	from := m.state
	if from.hasCredentials() {
		m.generation++
	}
	m.session = Session{}
	m.pendingEmail = email
	m.state = StatePendingOTP
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "login needs otp confirmation")
	m.emit(append(stateChange(from, StatePendingOTP), EventOTPRequired{Email: email})...)
	return nil
}

// Register creates an account. The state does not change: the account must
// confirm its OTP and then log in.
func (m *Manager) Register(ctx context.Context, req authsdk.RegisterRequest) error {
	if err := m.client.Register(ctx, req); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "account registered")
	return nil
}

// RequestOTP asks for a new confirmation code. An empty email means the
// pending one.
func (m *Manager) RequestOTP(ctx context.Context, email string) error {
	return m.client.RequestOTP(ctx, m.otpEmail(email))
}

// ConfirmOTP confirms an account. When it confirms the pending account the
// Manager leaves PendingOTP for Anonymous: the user still has to log in. A
// rejected code leaves the state untouched. An empty email means the pending
// one.
func (m *Manager) ConfirmOTP(ctx context.Context, email, code string) (bool, error) {
	email = m.otpEmail(email)

	ok, err := m.client.ConfirmOTP(ctx, email, code)
	if err != nil || !ok {
		return ok, err
	}

	m.mu.Lock()
	if m.state != StatePendingOTP || !strings.EqualFold(m.pendingEmail, email) {
		m.mu.Unlock()
		return true, nil
	}
	if err := m.store.Clear(ctx); err != nil {
		m.mu.Unlock()
		return true, fmt.Errorf("session: clear pending email: %w", err)
	}
	m.pendingEmail = ""
	m.state = StateAnonymous
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "otp confirmed")
	m.emit(stateChange(StatePendingOTP, StateAnonymous)...)
	return true, nil
}

func (m *Manager) otpEmail(email string) string {
	if email = strings.TrimSpace(email); email != "" {
		return email
	}
	return m.PendingEmail()
}

// ForgotPassword starts a password reset. It does not touch the session.
func (m *Manager) ForgotPassword(ctx context.Context, email string) (string, error) {
	return m.client.ForgotPassword(ctx, email)
}

// ResetPassword completes a password reset. It does not touch the session.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.client.ResetPassword(ctx, token, newPassword)
}

// Logout moves any state to Anonymous and clears the store. It is
// idempotent. An outstanding refresh still resolves, but its result is
// discarded.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if err := m.store.Clear(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session: clear session: %w", err)
	}
	from := m.state
	m.generation++
	m.session = Session{}
	m.pendingEmail = ""
	m.state = StateAnonymous
	m.mu.Unlock()

	if from == StateAnonymous {
		return nil
	}

	m.logger.InfoContext(ctx, "logged out", "from", from)
	m.emit(append(stateChange(from, StateAnonymous), EventLoggedOut{})...)
	return nil
}

// ============================================================================
// Pipeline hooks
// ============================================================================

// credentials returns the access token requests should carry and the
// generation it belongs to. The token is empty unless a user is logged in.
func (m *Manager) credentials() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.hasCredentials() {
		return "", m.generation
	}
	return m.session.AccessToken, m.generation
}

// refreshStart is the outcome of beginRefresh.
type refreshStart struct {
	refreshToken string
	// rotated is set when the access token already moved past the stale one;
	// no refresh is needed and the request continues with rotated.
	rotated string
	events  []Event
}

// beginRefresh moves Authenticated to Refreshing for generation gen, unless
// the access token is no longer stale. It reports false when gen has ended.
// The returned events must be emitted by the caller once it holds no locks.
func (m *Manager) beginRefresh(gen uint64, stale string) (refreshStart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || !m.state.hasCredentials() {
		return refreshStart{}, false
	}
	if m.session.AccessToken != stale {
		return refreshStart{rotated: m.session.AccessToken}, true
	}

	from := m.state
	m.state = StateRefreshing
	return refreshStart{
		refreshToken: m.session.RefreshToken,
		events:       stateChange(from, StateRefreshing),
	}, true
}

// completeRefresh stores a refreshed token pair for generation gen. A stale
// generation yields errSuperseded. When the new pair cannot be persisted the
// session is expired.
func (m *Manager) completeRefresh(ctx context.Context, gen uint64, tokens authsdk.Tokens) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return errSuperseded
	}

	next := m.session
	next.AccessToken = tokens.AccessToken
	next.RefreshToken = tokens.RefreshToken

	if err := m.store.Save(ctx, Snapshot{Session: next}); err != nil {
		m.mu.Unlock()
		err = fmt.Errorf("session: persist refreshed tokens: %w", err)
		m.expire(ctx, gen, err)
		return err
	}

	from := m.state
	m.session = next
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "session refreshed", "generation", gen)
	m.emit(stateChange(from, StateAuthenticated)...)
	return nil
}

// expire ends the session of generation gen after a failed refresh or a
// token that kept being rejected. The state becomes Anonymous even if the
// store cannot be cleared. A stale generation yields errSuperseded.
func (m *Manager) expire(ctx context.Context, gen uint64, cause error) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return errSuperseded
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to clear expired session", "error", err)
	}
	from := m.state
	m.generation++
	m.session = Session{}
	m.pendingEmail = ""
	m.state = StateAnonymous
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "session expired", "error", cause)
	m.emit(append(stateChange(from, StateAnonymous), EventSessionExpired{})...)
	return nil
}

func (m *Manager) emit(events ...Event) {
	for _, e := range events {
		for _, o := range m.observers {
			o.OnEvent(e)
		}
	}
}

func stateChange(from, to State) []Event {
	if from == to {
		return nil
	}
	return []Event{EventStateChanged{From: from, To: to}}
}
