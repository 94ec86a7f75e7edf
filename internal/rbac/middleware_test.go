package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmdesk/helmdesk/internal/shared"
)

type stubChecker struct {
	err      error
	role     string
	access   string
	requests int
}

func (s *stubChecker) CheckPermission(ctx context.Context, roleName, accessName string) error {
	s.role = roleName
	s.access = accessName
	s.requests++
	return s.err
}

func runGuarded(t *testing.T, checker PermissionChecker, claims *shared.Claims) *httptest.ResponseRecorder {
	t.Helper()

	mw := Middleware{Checker: checker}
	handler := mw.Require("app-settings.list")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	if claims != nil {
		req = req.WithContext(shared.ContextWithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireWithoutClaims(t *testing.T) {
	checker := &stubChecker{}
	rec := runGuarded(t, checker, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, checker.requests, "the check must not run for anonymous requests")
}

func TestRequireAllowed(t *testing.T) {
	checker := &stubChecker{}
	rec := runGuarded(t, checker, &shared.Claims{Identity: "u1", RoleName: "ADMIN"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ADMIN", checker.role)
	assert.Equal(t, "app-settings.list", checker.access)
}

func TestRequireDenied(t *testing.T) {
	checker := &stubChecker{err: shared.ErrForbidden}
	rec := runGuarded(t, checker, &shared.Claims{Identity: "u1", RoleName: "ADMIN"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireUnknownCapabilityFailsClosed(t *testing.T) {
	checker := &stubChecker{err: shared.ErrNotFound}
	rec := runGuarded(t, checker, &shared.Claims{Identity: "u1", RoleName: "ADMIN"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
