package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

// TokenVerifier validates a bearer token and returns its subject.
type TokenVerifier func(token string) (subject string, err error)

// BearerAuth rejects requests without a valid bearer token with 401 and
// stores the token subject in the request context.
func BearerAuth(verify TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			subject, err := verify(raw)
			if err != nil {
				log.Debug("bearer token rejected", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			ctx = contextWithUserID(ctx, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithUserID(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, CtxKeyUserID, subject)
}

// RFC 6750-compliant challenge header plus the API failure envelope.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteFailure(w, http.StatusUnauthorized, desc)
}
