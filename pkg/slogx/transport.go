package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/idx"
)

// Transport is an http.RoundTripper that tags each outgoing request with a
// RequestIDHeader and logs the exchange. Headers and bodies are never logged,
// they carry credentials.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	logger := t.Logger
	if logger == nil {
		logger = FromContext(req.Context())
	}

	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		// RoundTrippers must not modify the caller's request
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, reqID)
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	attrs := []any{
		"req_id", reqID,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		logger.Warn("http_client_request", append(attrs, "error", err)...)
		return nil, err
	}

	logger.Debug("http_client_request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
