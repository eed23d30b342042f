package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	apierrors "github.com/CodexShaper-Devs/license-sub000/internal/errors"
)

// AdminAuth guards administrative routes with a static bearer token. When
// no token is configured every administrative request is refused.
func AdminAuth(token string, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "admin_auth"))
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			presented, ok := bearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "missing admin credentials",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", ClientIP(r)),
				)
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				logger.WarnContext(ctx, "invalid admin token",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", ClientIP(r)),
				)
				apierrors.WriteError(w, apierrors.New(http.StatusForbidden, "FORBIDDEN", "Invalid administrative credentials"))
				return
			}

			a := actor.FromContext(ctx)
			a.Type = actor.TypeAdmin
			a.ID = "admin"
			a.RequestID = GetRequestID(ctx)
			next.ServeHTTP(w, r.WithContext(actor.WithActor(ctx, a)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
