package session

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/kombipay/pkg/idx"
)

// ticket is one refresh call shared by every request that needs it. The
// outcome fields are written once, before done is closed.
type ticket struct {
	id         idx.ID
	generation uint64
	done       chan struct{}

	accessToken string
	err         error
}

func resolvedTicket(accessToken string, err error) *ticket {
	t := &ticket{done: make(chan struct{}), accessToken: accessToken, err: err}
	close(t.done)
	return t
}

// inflight returns the unresolved ticket of generation gen, if any.
func (p *Pipeline) inflight(gen uint64) *ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.generation == gen {
		return p.current
	}
	return nil
}

// ticketFor joins the in-flight ticket of generation gen or starts a new one
// for a request rejected with the stale access token. A ticket that finished
// in the meantime leaves a rotated token behind, which is handed back without
// a second refresh. A new ticket waits for a still running ticket of an older
// generation, so at most one refresh call is ever on the wire.
func (p *Pipeline) ticketFor(ctx context.Context, gen uint64, stale string) *ticket {
	p.mu.Lock()
	if p.current != nil && p.current.generation == gen {
		t := p.current
		p.mu.Unlock()
		return t
	}

	start, ok := p.manager.beginRefresh(gen, stale)
	switch {
	case !ok:
		p.mu.Unlock()
		return resolvedTicket("", errSuperseded)
	case start.rotated != "":
		p.mu.Unlock()
		return resolvedTicket(start.rotated, nil)
	}

	t := &ticket{
		id:         idx.New(),
		generation: gen,
		done:       make(chan struct{}),
	}
	prev := p.current
	p.current = t
	p.mu.Unlock()

	p.manager.emit(start.events...)
	go p.run(context.WithoutCancel(ctx), t, prev, start.refreshToken)
	return t
}

// run performs the refresh call of t and publishes its outcome.
func (p *Pipeline) run(ctx context.Context, t, prev *ticket, refreshToken string) {
	if prev != nil {
		<-prev.done
	}

	logger := p.logger.With("ticket_id", t.id.String(), "generation", t.generation)
	logger.DebugContext(ctx, "refresh started")

	rctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
	tokens, err := p.refresh(rctx, refreshToken)
	cancel()

	switch {
	case err != nil:
		logger.WarnContext(ctx, "refresh failed", "error", err)
		if xerr := p.manager.expire(ctx, t.generation, err); errors.Is(xerr, errSuperseded) {
			err = errSuperseded
		}
		t.err = err
	default:
		if cerr := p.manager.completeRefresh(ctx, t.generation, *tokens); cerr != nil {
			t.err = cerr
		} else {
			t.accessToken = tokens.AccessToken
		}
	}

	if errors.Is(t.err, errSuperseded) {
		logger.DebugContext(ctx, "refresh result discarded, session replaced")
	}

	p.mu.Lock()
	if p.current == t {
		p.current = nil
	}
	p.mu.Unlock()
	close(t.done)
}
