package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/httputil"
	"github.com/localguide/reviews/pkg/logger"
)

type claimsKey struct{}

// Claims is what a validated bearer token says about the caller.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

func bearerToken(r *http.Request) (string, *apperrors.AppError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperrors.Unauthorized("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || token == "" || !strings.EqualFold(scheme, "bearer") {
		return "", apperrors.Unauthorized("invalid authorization header format")
	}
	return token, nil
}

// Auth rejects requests without a valid bearer token. Accepted claims are
// stored on the context and the request logger gains an actor attribute.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, appErr := bearerToken(r)
			if appErr != nil {
				httputil.WriteError(w, r, appErr, nil)
				return
			}

			claims, err := validate(token)
			if err != nil {
				logger.FromContext(ctx).WarnContext(ctx, "token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), nil)
				return
			}

			reqLogger := logger.FromContext(ctx).With(slog.String("actor", claims.Subject))
			ctx = context.WithValue(ctx, claimsKey{}, *claims)
			ctx = logger.NewContext(logger.WithActor(ctx, claims.Subject), reqLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only when Auth accepted a token
// carrying one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := slices.Clone(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !slices.Contains(allowed, claims.Role) {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the claims stored by Auth.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

func SubjectFromContext(ctx context.Context) string {
	c, _ := ClaimsFromContext(ctx)
	return c.Subject
}

func RoleFromContext(ctx context.Context) string {
	c, _ := ClaimsFromContext(ctx)
	return c.Role
}
