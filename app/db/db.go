package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxuuid "github.com/vgarvardt/pgx-google-uuid/v5"

	"github.com/mcardoso/auth-api/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxPingAttempts = 5

// ConnectionURL builds the postgresql:// URL used by both the pool and the
// migration runner.
func ConnectionURL(cfg config.DatabaseConfig) string {
	query := url.Values{}
	query.Set("sslmode", cfg.SSLMode)
	query.Set("timezone", "utc")

	connURL := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Path:     cfg.DB,
		RawQuery: query.Encode(),
	}
	return connURL.String()
}

// RunMigrations applies all pending migrations from the embedded filesystem.
func RunMigrations(databaseURL string, logger *slog.Logger) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Error closing migration source", slog.Any("error", srcErr))
		}
		if dbErr != nil {
			logger.Warn("Error closing migration database connection", slog.Any("error", dbErr))
		}
	}()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, vErr := m.Version()
	switch {
	case vErr != nil:
		logger.Warn("Could not determine migration version", slog.Any("error", vErr))
	case dirty:
		return fmt.Errorf("database migration state is dirty at version %d", version)
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No new migrations to apply", slog.Uint64("current_version", uint64(version)))
	default:
		logger.Info("Database migrations applied", slog.Uint64("version", uint64(version)))
	}
	return nil
}

// Init creates the pgxpool connection pool with uuid support registered on
// every connection.
func Init(connectionURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing db config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed creating db pool: %w", err)
	}

	logger.Info("Database connection pool initialized")
	return pool, nil
}

// WaitForDB pings the pool with backoff until it answers or attempts run out.
func WaitForDB(ctx context.Context, pgpool *pgxpool.Pool, logger *slog.Logger) bool {
	for attempt := 1; attempt <= maxPingAttempts; attempt++ {
		if err := pgpool.Ping(ctx); err == nil {
			logger.InfoContext(ctx, "Database connection successful")
			return true
		} else if attempt < maxPingAttempts {
			wait := time.Duration(attempt) * 200 * time.Millisecond
			logger.WarnContext(ctx, "Database ping failed, retrying...",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return false
			}
		}
	}
	logger.ErrorContext(ctx, "Database connection failed after multiple retries")
	return false
}
