package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"calculator-api/internal/config"
	"calculator-api/internal/handler"
	"calculator-api/internal/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Health *handler.HealthHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health.Health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", h.Auth.Register)
			auth.Post("/login", h.Auth.Login)
			auth.Post("/token", h.Auth.Token)
			auth.Post("/refresh", h.Auth.Refresh)
			auth.With(authMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
		})

		api.Route("/users/me", func(me chi.Router) {
			me.Use(authMiddleware.RequireAuth)
			me.Get("/", h.User.Me)
			me.Put("/", h.User.UpdateMe)
			me.Put("/password", h.User.ChangePassword)
		})
	})

	return r
}
