package session_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/aussiebroadwan/kombipay/pkg/session/store/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// tokenServer accepts requests bearing one of the valid tokens and answers
// 401 otherwise.
type tokenServer struct {
	*httptest.Server

	mu     sync.Mutex
	valid  map[string]bool
	seen   []string
	bodies []string
	unauth atomic.Int32

	// hold, when set, keeps the first holdN requests until all of them
	// have arrived.
	holdN   int
	arrived int
	hold    chan struct{}
}

// holdFirst makes the first n requests wait for each other, so all of them
// are sent with the token that was current before any refresh.
func (ts *tokenServer) holdFirst(n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.holdN = n
	ts.hold = make(chan struct{})
}

func newTokenServer(t *testing.T, valid ...string) *tokenServer {
	t.Helper()

	ts := &tokenServer{valid: make(map[string]bool)}
	for _, v := range valid {
		ts.valid[v] = true
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		body, _ := io.ReadAll(r.Body)

		ts.mu.Lock()
		ts.seen = append(ts.seen, token)
		ts.bodies = append(ts.bodies, string(body))
		ok := ts.valid[token]
		var wait chan struct{}
		if ts.hold != nil && ts.arrived < ts.holdN {
			ts.arrived++
			wait = ts.hold
			if ts.arrived == ts.holdN {
				close(ts.hold)
			}
		}
		ts.mu.Unlock()

		if wait != nil {
			<-wait
		}

		if !ok {
			ts.unauth.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) tokens() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.seen...)
}

// refresher counts calls and answers with a fixed outcome, optionally
// holding every call until release is closed.
type refresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	tokens  *authsdk.Tokens
	err     error
	seen    chan string
}

func newRefresher(tokens *authsdk.Tokens, err error) *refresher {
	return &refresher{
		started: make(chan struct{}, 16),
		tokens:  tokens,
		err:     err,
		seen:    make(chan string, 16),
	}
}

func (r *refresher) Refresh(ctx context.Context, refreshToken string) (*authsdk.Tokens, error) {
	r.calls.Add(1)
	r.seen <- refreshToken
	r.started <- struct{}{}
	if r.release != nil {
		<-r.release
	} else {
		// Give concurrent requests time to pile up on the ticket
		time.Sleep(20 * time.Millisecond)
	}
	if r.err != nil {
		return nil, r.err
	}
	t := *r.tokens
	return &t, nil
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestRetryAfterRefreshUsesNewToken(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	resp, err := p.Do(context.Background(), get(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{"T1", "T2"}, srv.tokens())
	require.Equal(t, "R1", <-ref.seen)
	require.Equal(t, int32(1), ref.calls.Load())

	snap, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T2", snap.AccessToken)
	require.Equal(t, "R2", snap.RefreshToken)
	require.Equal(t, session.StateAuthenticated, f.manager.State())

	require.Equal(t, 1, f.events.count(func(e session.Event) bool {
		sc, ok := e.(session.EventStateChanged)
		return ok && sc.To == session.StateRefreshing
	}))
}

func TestRefreshPersistFailureExpires(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	boom := errors.New("disk full")
	f.store.FailNext(memory.OpSave, boom)

	_, err := p.Do(context.Background(), get(t, srv.URL))
	require.ErrorIs(t, err, authsdk.ErrAuthExpired)
	require.ErrorIs(t, err, boom)

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.True(t, f.manager.Session().Empty())
	require.Empty(t, f.store.Raw())
	require.Equal(t, []string{"T1"}, srv.tokens())
	require.Equal(t, 1, f.events.count(isExpired))
}

func TestConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	t.Parallel()

	const n = 25

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	srv.holdFirst(n)
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Do(context.Background(), get(t, srv.URL))
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
	}
	require.Equal(t, int32(1), ref.calls.Load())
	require.Equal(t, int32(n), srv.unauth.Load())

	// n first attempts with T1, n retries with T2
	counts := map[string]int{}
	for _, tok := range srv.tokens() {
		counts[tok]++
	}
	require.Equal(t, map[string]int{"T1": n, "T2": n}, counts)
	require.Equal(t, "T2", f.manager.Session().AccessToken)
}

func TestConcurrentRefreshFailureExpiresEveryone(t *testing.T) {
	t.Parallel()

	const n = 10

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t)
	srv.holdFirst(n)
	ref := newRefresher(nil, &authsdk.APIError{Op: "refresh", StatusCode: 401, Kind: authsdk.ErrInvalidCredentials})
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Do(context.Background(), get(t, srv.URL))
			if err == nil {
				_ = resp.Body.Close()
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, authsdk.ErrAuthExpired)
	}
	require.Equal(t, int32(1), ref.calls.Load())
	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Empty(t, f.store.Raw())
	require.Equal(t, 1, f.events.count(isExpired))
}

func TestStillUnauthorizedAfterRetry(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t) // rejects everything
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	_, err := p.Do(context.Background(), get(t, srv.URL))
	require.ErrorIs(t, err, authsdk.ErrAuthExpired)

	require.Equal(t, int32(1), ref.calls.Load())
	require.Equal(t, []string{"T1", "T2"}, srv.tokens())
	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Empty(t, f.store.Raw())
}

func TestLogoutDuringRefreshWins(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	ref.release = make(chan struct{})
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	done := make(chan error, 1)
	go func() {
		resp, err := p.Do(context.Background(), get(t, srv.URL))
		if err == nil {
			_ = resp.Body.Close()
		}
		done <- err
	}()

	<-ref.started
	require.Equal(t, session.StateRefreshing, f.manager.State())
	require.NoError(t, f.manager.Logout(context.Background()))
	close(ref.release)

	err := <-done
	require.ErrorIs(t, err, authsdk.ErrAuthExpired)

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.True(t, f.manager.Session().Empty())
	require.Empty(t, f.store.Raw())
	require.Equal(t, 0, f.events.count(isExpired))
}

func TestNewLoginDuringRefreshIsNotReplayed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2", "T9")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	ref.release = make(chan struct{})
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	done := make(chan error, 1)
	go func() {
		resp, err := p.Do(ctx, get(t, srv.URL))
		if err == nil {
			_ = resp.Body.Close()
		}
		done <- err
	}()

	<-ref.started
	require.NoError(t, f.manager.Logout(ctx))
	f.client.setLogin(loginResult("T9", "R9"), nil)
	_, err := f.manager.Login(ctx, "b@x.com", "pw")
	require.NoError(t, err)
	close(ref.release)

	err = <-done
	require.ErrorIs(t, err, authsdk.ErrSessionReplaced)
	require.False(t, errors.Is(err, authsdk.ErrAuthExpired))

	// The new session is untouched and the request was never resent with it
	require.Equal(t, session.StateAuthenticated, f.manager.State())
	require.Equal(t, "T9", f.manager.Session().AccessToken)
	require.Equal(t, "T9", f.store.Raw()[session.KeyAccessToken])
	require.Equal(t, []string{"T1"}, srv.tokens())
}

func TestLateUnauthorizedRetriesWithoutRefresh(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")

	arrived := make(chan struct{})
	hold := make(chan struct{})
	var slowOnce sync.Once
	var refreshedCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if r.URL.Path == "/slow" && token == "T1" {
			slowOnce.Do(func() { close(arrived) })
			<-hold
		}
		if token != "T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		refreshedCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	slow := make(chan error, 1)
	go func() {
		resp, err := p.Do(context.Background(), get(t, srv.URL+"/slow"))
		if err == nil {
			_ = resp.Body.Close()
		}
		slow <- err
	}()
	<-arrived

	// A second request triggers and completes the refresh
	resp, err := p.Do(context.Background(), get(t, srv.URL+"/fast"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, int32(1), ref.calls.Load())

	// The slow request now receives its 401 for the stale T1
	close(hold)
	require.NoError(t, <-slow)

	require.Equal(t, int32(1), ref.calls.Load())
	require.Equal(t, int32(2), refreshedCalls.Load())
}

func TestNonAuthorizationFailuresUntouched(t *testing.T) {
	t.Parallel()

	t.Run("server error", func(t *testing.T) {
		t.Parallel()

		f := loggedIn(t, "T1", "R1")
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}))
		t.Cleanup(srv.Close)

		ref := newRefresher(&authsdk.Tokens{AccessToken: "T2"}, nil)
		p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

		resp, err := p.Do(context.Background(), get(t, srv.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "boom", string(body))
		require.Zero(t, ref.calls.Load())
		require.Equal(t, session.StateAuthenticated, f.manager.State())
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()

		f := loggedIn(t, "T1", "R1")
		boom := errors.New("connection reset")
		ref := newRefresher(&authsdk.Tokens{AccessToken: "T2"}, nil)
		p := session.NewPipeline(f.manager, ref.Refresh, doerFunc(func(*http.Request) (*http.Response, error) {
			return nil, boom
		}))

		_, err := p.Do(context.Background(), get(t, "http://api.invalid/passenger/me"))
		require.ErrorIs(t, err, boom)
		require.False(t, errors.Is(err, authsdk.ErrAuthExpired))
		require.Zero(t, ref.calls.Load())
	})

	t.Run("anonymous 401", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		srv := newTokenServer(t, "T2")
		ref := newRefresher(&authsdk.Tokens{AccessToken: "T2"}, nil)
		p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

		resp, err := p.Do(context.Background(), get(t, srv.URL))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, []string{""}, srv.tokens())
		require.Zero(t, ref.calls.Load())
	})
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestBodyReplayedOnRetry(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/payments", strings.NewReader(`{"code":"QR-1"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Do(context.Background(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, []string{`{"code":"QR-1"}`, `{"code":"QR-1"}`}, srv.bodies)

	// The caller's request was not touched
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestProactiveRefresh(t *testing.T) {
	t.Parallel()

	expiring, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Second)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	t.Run("refreshes before sending", func(t *testing.T) {
		t.Parallel()

		f := loggedIn(t, expiring, "R1")
		srv := newTokenServer(t, "T2")
		ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
		p := session.NewPipeline(f.manager, ref.Refresh, srv.Client(), session.WithProactiveRefresh(30*time.Second))

		resp, err := p.Do(context.Background(), get(t, srv.URL))
		require.NoError(t, err)
		_ = resp.Body.Close()

		require.Equal(t, []string{"T2"}, srv.tokens())
		require.Zero(t, srv.unauth.Load())
		require.Equal(t, int32(1), ref.calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		f := loggedIn(t, expiring, "R1")
		srv := newTokenServer(t, expiring)
		ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
		p := session.NewPipeline(f.manager, ref.Refresh, srv.Client(), session.WithProactiveRefresh(0))

		resp, err := p.Do(context.Background(), get(t, srv.URL))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Zero(t, ref.calls.Load())
	})
}

func TestCancelledCallerDoesNotStrandRefresh(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")
	srv := newTokenServer(t, "T2")
	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	ref.release = make(chan struct{})
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, get(t, srv.URL))
		done <- err
	}()

	<-ref.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(ref.release)

	// The refresh still lands for the next caller
	require.Eventually(t, func() bool {
		return f.manager.State() == session.StateAuthenticated && f.manager.Session().AccessToken == "T2"
	}, time.Second, 5*time.Millisecond)

	resp, err := p.Do(context.Background(), get(t, srv.URL))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, int32(1), ref.calls.Load())
}

func TestRequestIDStableAcrossRetry(t *testing.T) {
	t.Parallel()

	f := loggedIn(t, "T1", "R1")

	var mu sync.Mutex
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-ID"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)

	ref := newRefresher(&authsdk.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil)
	p := session.NewPipeline(f.manager, ref.Refresh, srv.Client())

	resp, err := p.Do(context.Background(), get(t, srv.URL))
	require.NoError(t, err)
	_ = resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	require.NotEmpty(t, ids[0])
	require.Equal(t, ids[0], ids[1])
}
