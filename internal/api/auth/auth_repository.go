package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcardoso/auth-api/app/observability/metrics"
	"github.com/mcardoso/auth-api/internal/api"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo defines the persistence contract for users and refresh tokens.
// Lookup methods return api.ErrNotFound (wrapped) when no row matches.
type AuthRepo interface {
	CreateUser(ctx context.Context, email, hashedPassword, username string, profilePicture *string) (*User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, params UpdateProfileParams) (*User, error)
	SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error

	CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	// DeleteRefreshToken is idempotent: deleting an absent token is not an error.
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
	// RotateRefreshToken deletes the consumed token and stores its replacement
	// in one transaction.
	RotateRefreshToken(ctx context.Context, oldToken string, userID uuid.UUID, newToken string, expiresAt time.Time) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// PgxPool is the subset of pgxpool.Pool the repository uses. pgxmock
// implements it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool PgxPool
}

func NewPostgresAuthRepo(pgpool PgxPool, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = "id, email, password, username, is_active, profile_picture, created_at, updated_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Username, &u.IsActive, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", api.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// recordDBError counts unexpected database failures. Expected outcomes like
// no-rows or unique violations are not errors from the database's side.
func recordDBError(ctx context.Context, table string) {
	metrics.Get().DBQueryErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// conflictField maps a unique violation to the offending column so the caller
// can report which field collided.
func conflictField(pgErr *pgconn.PgError) string {
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return "email"
	case strings.Contains(pgErr.ConstraintName, "username"):
		return "username"
	case strings.Contains(pgErr.ConstraintName, "token"):
		return "token"
	default:
		return pgErr.ConstraintName
	}
}

func (r *PostgresAuthRepo) CreateUser(ctx context.Context, email, hashedPassword, username string, profilePicture *string) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "CreateUser"), slog.String("email", email))

	query := `
        INSERT INTO users (email, password, username, profile_picture)
        VALUES ($1, $2, $3, $4)
        RETURNING ` + userColumns

	var u User
	err := r.pgpool.QueryRow(ctx, query, email, hashedPassword, username, profilePicture).
		Scan(&u.ID, &u.Email, &u.Password, &u.Username, &u.IsActive, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The advisory pre-checks in the service can race; the unique
			// constraint is the authority.
			l.WarnContext(ctx, "Duplicate user insert", slog.String("field", conflictField(pgErr)))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Unique violation")
			return nil, fmt.Errorf("user with this %s already exists: %w", conflictField(pgErr), api.ErrConflict)
		}
		l.ErrorContext(ctx, "Failed to insert user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		recordDBError(ctx, "users")
		return nil, fmt.Errorf("database error creating user: %w", err)
	}

	span.SetStatus(codes.Ok, "User created")
	l.InfoContext(ctx, "User created", slog.String("userID", u.ID.String()))
	return &u, nil
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	row := r.pgpool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID)
	return scanUser(row)
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pgpool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	return scanUser(row)
}

func (r *PostgresAuthRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := r.pgpool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
	return scanUser(row)
}

func (r *PostgresAuthRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, params UpdateProfileParams) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "UpdateProfile", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	query := `
        UPDATE users
        SET username        = COALESCE($2, username),
            profile_picture = COALESCE($3, profile_picture),
            updated_at      = now()
        WHERE id = $1
        RETURNING ` + userColumns

	row := r.pgpool.QueryRow(ctx, query, userID, params.Username, params.ProfilePicture)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Unique violation")
			return nil, fmt.Errorf("user with this %s already exists: %w", conflictField(pgErr), api.ErrConflict)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Profile updated")
	return u, nil
}

func (r *PostgresAuthRepo) SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error {
	tag, err := r.pgpool.Exec(ctx,
		"UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1",
		userID, active)
	if err != nil {
		return fmt.Errorf("database error updating user state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user: %w", api.ErrNotFound)
	}
	return nil
}

func (r *PostgresAuthRepo) CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateRefreshToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "refresh_tokens"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx,
		"INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)",
		userID, token, expiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		recordDBError(ctx, "refresh_tokens")
		return fmt.Errorf("store refresh token: %w", err)
	}
	span.SetStatus(codes.Ok, "Refresh token stored")
	return nil
}

func (r *PostgresAuthRepo) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var rt RefreshToken
	err := r.pgpool.QueryRow(ctx,
		"SELECT id, token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1",
		token).Scan(&rt.ID, &rt.Token, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", api.ErrNotFound)
		}
		recordDBError(ctx, "refresh_tokens")
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &rt, nil
}

func (r *PostgresAuthRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "No refresh token to delete")
	}
	return nil
}

func (r *PostgresAuthRepo) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "DeleteUserRefreshTokens", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "refresh_tokens"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	span.SetStatus(codes.Ok, "Tokens deleted")
	r.logger.InfoContext(ctx, "Deleted user refresh tokens",
		slog.String("userID", userID.String()),
		slog.Int64("count", tag.RowsAffected()),
	)
	return nil
}

func (r *PostgresAuthRepo) RotateRefreshToken(ctx context.Context, oldToken string, userID uuid.UUID, newToken string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "RotateRefreshToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "refresh_tokens"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "BEGIN failed")
		return fmt.Errorf("rotate refresh token: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, "DELETE FROM refresh_tokens WHERE token = $1", oldToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return fmt.Errorf("rotate refresh token: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else consumed it between the lookup and now. Single-use wins.
		span.SetStatus(codes.Error, "Token already consumed")
		return fmt.Errorf("refresh token: %w", api.ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)",
		userID, newToken, expiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		recordDBError(ctx, "refresh_tokens")
		return fmt.Errorf("rotate refresh token: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "COMMIT failed")
		return fmt.Errorf("rotate refresh token: commit: %w", err)
	}
	span.SetStatus(codes.Ok, "Token rotated")
	return nil
}

func (r *PostgresAuthRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
