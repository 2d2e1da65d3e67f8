package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sourcingflow/apperr"
	"sourcingflow/auth"
	"sourcingflow/logger"
)

type contextKey string

const ctxKeyPrincipal contextKey = "principal"

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok
}

// accessLog attaches a request-scoped logger and writes one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.log.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		r = r.WithContext(logger.WithContext(r.Context(), log))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// authenticate resolves the bearer token into a Principal. Every engine route
// sits behind it.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthorized))
			return
		}
		principal, err := s.auth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := withPrincipal(r.Context(), principal)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(
			zap.String("tenant_id", principal.TenantID),
			zap.String("user_id", principal.UserID),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects principals outside roles with 403.
func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeError(w, r, apperr.ErrUnauthorized)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, fmt.Errorf("%w: role %s may not perform this action", apperr.ErrForbidden, p.Role))
		})
	}
}

// uuidParam answers 404 when the named path parameter is not a UUID. Every
// row id is database generated, so such a value cannot name anything. It must
// be mounted inline (Group or With) so the parameter is already routed.
func uuidParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := uuid.Parse(chi.URLParam(r, name)); err != nil {
				writeError(w, r, fmt.Errorf("%w: no such resource", apperr.ErrNotFound))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var internalRoles = []auth.Role{auth.RoleBuyer, auth.RoleAdmin}

func internalOnly() func(http.Handler) http.Handler {
	return requireRole(internalRoles...)
}

func actorOf(p auth.Principal) string {
	return p.UserID
}
