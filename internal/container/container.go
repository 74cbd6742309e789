package container

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api/auth"
)

// Container holds all application dependencies.
type Container struct {
	Config      *config.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	AuthRepo    auth.AuthRepo
	AuthService auth.AuthService
	AuthHandler *auth.HandlerImpl
}

// NewContainer wires repositories, services and handlers on top of an
// established database pool.
func NewContainer(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *Container {
	authRepo := auth.NewPostgresAuthRepo(pool, logger)
	authService := auth.NewAuthService(authRepo, cfg, logger)
	authHandler := auth.NewAuthHandlerImpl(authService, logger, cfg.Mode == "development")

	return &Container{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		AuthRepo:    authRepo,
		AuthService: authService,
		AuthHandler: authHandler,
	}
}
