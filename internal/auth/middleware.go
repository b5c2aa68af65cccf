package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

type Middleware struct {
	*transport.BaseHandler
	tokens TokenValidator
}

func NewMiddleware(tokens TokenValidator, lg *slog.Logger) *Middleware {
	return &Middleware{
		BaseHandler: transport.NewBaseHandler(lg),
		tokens:      tokens,
	}
}

// Authenticate requires a valid bearer token and puts the user id and
// permissions on the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractTokenFromHeader(r)
		if token == "" {
			m.Logger.Warn("auth middleware: missing authorization token", "path", r.URL.Path)
			m.WriteAppError(w, internal.ErrInvalidToken)
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			m.Logger.Warn("token validation failed", "error", err, "path", r.URL.Path)
			m.WriteAppError(w, internal.ErrInvalidToken)
			return
		}

		ctx := internal.ContextWithUserID(r.Context(), claims.UserID)
		ctx = internal.ContextWithPermissions(ctx, claims.Permissions)
		ctx = logger.With(ctx, "user_id", claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects requests whose token lacks any of the given
// permissions. It must run after Authenticate.
func (m *Middleware) RequirePermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := internal.UserIDFromContext(r.Context())
			if userID == "" {
				m.WriteAppError(w, internal.ErrInvalidToken)
				return
			}

			granted := internal.PermissionsFromContext(r.Context())
			for _, required := range permissions {
				for _, p := range granted {
					if p == required {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			m.Logger.Warn("access denied: insufficient permissions",
				"user_id", userID,
				"required_permissions", permissions,
				"user_permissions", granted)
			m.WriteAppError(w, internal.ErrForbidden)
		})
	}
}
