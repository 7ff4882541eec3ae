package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/socivy/rebel/internal/auth"
	"github.com/socivy/rebel/internal/pkg/httputil"
)

// SetupRoutes builds the router. With a nil authManager the content view is
// closed to everyone.
func SetupRoutes(h *Handlers, authManager *auth.Manager, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.HealthCheck)

	// Mailgun posts here; requests carry no session.
	r.Post("/event", h.HandleEvent)

	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
	}

	r.Group(func(r chi.Router) {
		if authManager != nil {
			r.Use(authManager.RequireSuperuser)
		} else {
			r.Use(denyAll)
		}
		r.Get("/content/{mailID}", h.GetContent)
		if h.suppressions != nil {
			r.Get("/suppressions/{email}", h.GetSuppression)
		}
	})

	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusForbidden, "forbidden")
	})
}
