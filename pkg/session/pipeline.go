package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
	"github.com/aussiebroadwan/kombipay/pkg/idx"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

// Defaults for a Pipeline.
const (
	DefaultRefreshTimeout = 15 * time.Second
	DefaultRefreshSkew    = 30 * time.Second
)

// Doer sends an HTTP request. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RefreshFunc exchanges a refresh token for a new pair, typically
// (*authsdk.Client).Refresh.
type RefreshFunc func(ctx context.Context, refreshToken string) (*authsdk.Tokens, error)

// Pipeline sends authenticated requests for a Manager.
//
// A request is sent with the current access token. If the server answers 401
// the request joins the refresh ticket of the current generation, starting
// it if none is in flight, and is retried once with the refreshed token.
// Only one refresh runs at a time; every request waiting on a ticket sees
// the same outcome. A failed refresh, or a refreshed token that is still
// rejected, ends the session and fails with authsdk.ErrAuthExpired. A
// request whose session was replaced by a new login while it waited fails
// with authsdk.ErrSessionReplaced and is not resent.
type Pipeline struct {
	manager *Manager
	refresh RefreshFunc
	doer    Doer
	logger  *slog.Logger

	refreshTimeout time.Duration
	skew           time.Duration
	now            func() time.Time

	mu      sync.Mutex
	current *ticket
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithRefreshTimeout bounds a single refresh call. The refresh does not
// inherit the cancellation of the request that started it.
func WithRefreshTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.refreshTimeout = d }
}

// WithProactiveRefresh refreshes before sending when the access token is a
// JWT that expires within d. Zero disables it.
func WithProactiveRefresh(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.skew = d }
}

// NewPipeline creates a pipeline. A nil doer means http.DefaultClient.
func NewPipeline(manager *Manager, refresh RefreshFunc, doer Doer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		manager:        manager,
		refresh:        refresh,
		doer:           doer,
		refreshTimeout: DefaultRefreshTimeout,
		skew:           DefaultRefreshSkew,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.doer == nil {
		p.doer = http.DefaultClient
	}
	if p.logger == nil {
		p.logger = manager.logger
	}
	return p
}

// Do sends req with the session's credentials. The caller's request is never
// modified; its body is read once and replayed on retry. Responses other
// than a 401 to an authenticated request, and transport errors, are returned
// untouched.
func (p *Pipeline) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("session: buffer request body: %w", err)
	}
	reqID := req.Header.Get(slogx.RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
	}

	token, gen := p.manager.credentials()
	attempt := 0
	if token != "" {
		var refreshed bool
		token, refreshed, err = p.preflight(ctx, gen, token)
		if err != nil {
			return nil, err
		}
		if refreshed {
			attempt = 1
		}
	}

	for ; ; attempt++ {
		resp, err := p.send(ctx, req, body, token, reqID)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || token == "" {
			return resp, nil
		}
		drain(resp)

		if attempt >= 1 {
			// A fresh token was rejected too. Only the session the request
			// started in is ended.
			cause := errors.New("refreshed access token rejected")
			if err := p.manager.expire(ctx, gen, cause); errors.Is(err, errSuperseded) {
				return nil, p.replaced()
			}
			return nil, fmt.Errorf("%w: %v", authsdk.ErrAuthExpired, cause)
		}

		token, err = p.renew(ctx, gen, token)
		if err != nil {
			return nil, err
		}
	}
}

// preflight waits for an in-flight refresh, or starts one when the token is
// about to expire, before the first send. It reports whether the request
// already went through a refresh.
func (p *Pipeline) preflight(ctx context.Context, gen uint64, token string) (string, bool, error) {
	if t := p.inflight(gen); t != nil {
		next, err := p.await(ctx, t)
		return next, true, err
	}

	if p.skew <= 0 {
		return token, false, nil
	}
	exp, ok := authsdk.TokenExpiry(token)
	if !ok || p.now().Add(p.skew).Before(exp) {
		return token, false, nil
	}

	p.logger.DebugContext(ctx, "access token about to expire, refreshing", "expires_at", exp)
	next, err := p.renew(ctx, gen, token)
	return next, true, err
}

// renew returns an access token of generation gen newer than stale. When
// the session already moved past stale no refresh is started; otherwise the
// request joins or starts the ticket of gen.
func (p *Pipeline) renew(ctx context.Context, gen uint64, stale string) (string, error) {
	current, cur := p.manager.credentials()
	switch {
	case cur != gen:
		return "", p.replaced()
	case current == "":
		return "", fmt.Errorf("%w: not logged in", authsdk.ErrAuthExpired)
	case current != stale:
		return current, nil
	}

	return p.await(ctx, p.ticketFor(ctx, gen, stale))
}

// await blocks until t resolves or ctx ends.
func (p *Pipeline) await(ctx context.Context, t *ticket) (string, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch {
	case t.err == nil:
		return t.accessToken, nil
	case errors.Is(t.err, errSuperseded):
		return "", p.replaced()
	default:
		return "", fmt.Errorf("%w: %w", authsdk.ErrAuthExpired, t.err)
	}
}

// replaced is the error for a request whose session ended while it was in
// flight. A request never continues with another session's credentials.
func (p *Pipeline) replaced() error {
	if current, _ := p.manager.credentials(); current != "" {
		return authsdk.ErrSessionReplaced
	}
	return fmt.Errorf("%w: session ended during request", authsdk.ErrAuthExpired)
}

func (p *Pipeline) send(ctx context.Context, req *http.Request, body []byte, token, reqID string) (*http.Response, error) {
	out := req.Clone(ctx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}

	out.Header.Set(slogx.RequestIDHeader, reqID)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}

	return p.doer.Do(out)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// drain discards and closes a response that is about to be retried so the
// connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
