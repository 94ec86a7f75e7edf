package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/helmdesk/helmdesk/internal/platform/httpx"
	"github.com/helmdesk/helmdesk/internal/shared"
)

// PermissionChecker is the authorization check every privileged route runs.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, roleName, accessName string) error
}

// Middleware wires the per-request authorization check for HTTP handlers.
type Middleware struct {
	Checker PermissionChecker
	Logger  *slog.Logger
}

// Require guards a route with a statically declared capability name. The
// request must already carry verified token claims; anything short of an
// explicit ALLOWED grant is rejected.
func (m Middleware) Require(accessName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := shared.ClaimsFromContext(r.Context())
			if claims == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if err := m.Checker.CheckPermission(r.Context(), claims.RoleName, accessName); err != nil {
				if m.Logger != nil {
					m.Logger.Warn("permission check failed",
						slog.String("role", claims.RoleName),
						slog.String("access", accessName),
						slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
