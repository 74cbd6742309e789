package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mcardoso/auth-api/internal/api/auth"
)

// Config contains the dependencies needed for the router setup.
type Config struct {
	AuthHandler            *auth.HandlerImpl
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter wires the application routes. Server-wide middleware (request
// id, logger, recoverer) is applied before mounting this router in main.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong")) //nolint:errcheck
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.RefreshTokens)
			r.Post("/auth/logout", cfg.AuthHandler.Logout)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)
			r.Get("/auth/me", cfg.AuthHandler.GetCurrentUser)
		})
	})

	return r
}
