package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
)

type RouterDeps struct {
	Store       *StoreHandler
	Uploads     *UploadHandler
	Auth        *AuthHandler
	AdminOrders *AdminOrderHandler
	Users       *UserHandler
	Tokens      *auth.TokenManager
	// Ping checks the database for /health. Nil skips the check.
	Ping func(ctx context.Context) error
}

// NewRouter mounts every route of the store. Admin routes require an
// ADMIN or SUPERADMIN session; account administration requires SUPERADMIN.
func NewRouter(deps RouterDeps) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler(deps.Ping))

	deps.Store.RegisterRoutes(router)
	deps.Uploads.RegisterRoutes(router)
	deps.Auth.RegisterRoutes(router)

	router.Route("/api/admin", func(admin chi.Router) {
		admin.Use(deps.Tokens.Require(auth.AdminRoles...))

		deps.AdminOrders.RegisterRoutes(admin)
		deps.Users.RegisterSettingsRoutes(admin)

		admin.Group(func(super chi.Router) {
			super.Use(deps.Tokens.Require(auth.RoleSuperAdmin))
			deps.Users.RegisterRoutes(super)
		})
	})

	return router
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
