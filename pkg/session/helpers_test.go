package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/aussiebroadwan/kombipay/pkg/session/store/memory"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
	"github.com/stretchr/testify/require"
)

// fakeClient answers Manager calls with canned results.
type fakeClient struct {
	mu sync.Mutex

	loginResult *authsdk.LoginResult
	loginErr    error
	confirmOK   bool
	confirmErr  error

	confirmedEmails []string
}

func (f *fakeClient) Login(ctx context.Context, email, password string) (*authsdk.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	res := *f.loginResult
	res.User.Email = email
	return &res, nil
}

func (f *fakeClient) Register(ctx context.Context, req authsdk.RegisterRequest) error {
	return req.Validate()
}

func (f *fakeClient) RequestOTP(ctx context.Context, email string) error { return nil }

func (f *fakeClient) ConfirmOTP(ctx context.Context, email, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmedEmails = append(f.confirmedEmails, email)
	return f.confirmOK, f.confirmErr
}

func (f *fakeClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	return "ack", nil
}

func (f *fakeClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	return nil
}

func (f *fakeClient) setLogin(res *authsdk.LoginResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginResult, f.loginErr = res, err
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) OnEvent(e session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

func (r *recorder) count(match func(session.Event) bool) int {
	n := 0
	for _, e := range r.all() {
		if match(e) {
			n++
		}
	}
	return n
}

func isExpired(e session.Event) bool {
	_, ok := e.(session.EventSessionExpired)
	return ok
}

func loginResult(access, refresh string) *authsdk.LoginResult {
	return &authsdk.LoginResult{
		User:   authsdk.User{ID: "1", Name: "Ada", Role: "PASSENGER"},
		Tokens: authsdk.Tokens{AccessToken: access, RefreshToken: refresh},
	}
}

type fixture struct {
	client  *fakeClient
	store   *memory.Store
	events  *recorder
	manager *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		client: &fakeClient{loginResult: loginResult("T1", "R1"), confirmOK: true},
		store:  memory.New(),
		events: &recorder{},
	}
	f.manager = session.NewManager(f.client, f.store,
		session.WithLogger(slogx.Discard()),
		session.WithObserver(f.events),
	)
	return f
}

// loggedIn returns a fixture already Authenticated with access/refresh.
func loggedIn(t *testing.T, access, refresh string) *fixture {
	t.Helper()

	f := newFixture(t)
	f.client.setLogin(loginResult(access, refresh), nil)
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, f.manager.State())
	return f
}
