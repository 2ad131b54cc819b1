package mockapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/kombipay/pkg/cryptox"
	"github.com/aussiebroadwan/kombipay/pkg/httpx"
	"github.com/aussiebroadwan/kombipay/pkg/jwtx"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

// Server routes the fake API onto a Backend.
type Server struct {
	*Backend

	Mux         *http.ServeMux
	middlewares []httpx.Middleware
	logger      *slog.Logger
}

// New builds a server with every route registered.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(cryptox.MustGenerateToken(cryptox.TokenSize256))
	}
	tokens, err := jwtx.NewHS256(cfg.Secret, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("mockapi: %w", err)
	}

	s := &Server{
		Backend: newBackend(cfg, tokens),
		Mux:     http.NewServeMux(),
		logger:  logger,
	}

	// Set default middleware chain
	s.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(logger),
	}

	s.registerAuth()
	s.registerPassenger()
	return s, nil
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.Chain(s.Mux, s.middlewares...).ServeHTTP(w, r)
}

func (s *Server) registerAuth() {
	h := &authHandler{backend: s.Backend}
	limit := httpx.RateLimitByIP(s.cfg.AuthLimit)
	base := s.cfg.BasePath

	// All identity endpoints share one strict per-IP budget
	s.Mux.Handle("POST "+base+"/auth/login", httpx.Chain(http.HandlerFunc(h.login), limit))
	s.Mux.Handle("POST "+base+"/auth/register", httpx.Chain(http.HandlerFunc(h.register), limit))
	s.Mux.Handle("POST "+base+"/auth/request-otp", httpx.Chain(http.HandlerFunc(h.requestOTP), limit))
	s.Mux.Handle("POST "+base+"/auth/confirm-otp", httpx.Chain(http.HandlerFunc(h.confirmOTP), limit))
	s.Mux.Handle("POST "+base+"/auth/forgot-password", httpx.Chain(http.HandlerFunc(h.forgotPassword), limit))
	s.Mux.Handle("POST "+base+"/auth/reset-password", httpx.Chain(http.HandlerFunc(h.resetPassword), limit))
	s.Mux.Handle("POST "+base+"/auth/refresh-token", httpx.Chain(http.HandlerFunc(h.refreshToken), limit))
}

func (s *Server) registerPassenger() {
	h := &passengerHandler{backend: s.Backend}
	base := s.cfg.BasePath

	secured := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.BearerAuth(s.Backend.verifyAccess),
			httpx.RateLimitByUser(s.cfg.PassengerLimit),
		)
	}

	s.Mux.Handle("GET "+base+"/passenger/me", secured(h.me))
	s.Mux.Handle("GET "+base+"/passenger/activity", secured(h.activity))
	s.Mux.Handle("POST "+base+"/payments", secured(h.pay))
}
