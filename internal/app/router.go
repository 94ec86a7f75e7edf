package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helmdesk/helmdesk/internal/rbac"
	"github.com/helmdesk/helmdesk/internal/session"
	"github.com/helmdesk/helmdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionHandler *session.Handler
	SessionService *session.Service
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	JobsHandler    *jobs.Handler
}

// NewRouter assembles the HTTP routing tree. Auth endpoints are public; every
// catalog route sits behind bearer authentication plus its declared capability.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		p.SessionHandler.MountPublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(p.SessionService, p.Logger))
			p.SessionHandler.MountPrivateRoutes(r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(p.SessionService, p.Logger))
		p.RBACHandler.MountRoutes(r, p.RBACMiddleware)
	})

	if p.JobsHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			p.JobsHandler.MountRoutes(r)
		})
	}

	return r
}
