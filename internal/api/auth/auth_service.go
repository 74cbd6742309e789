package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mcardoso/auth-api/app/observability/metrics"
	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService is the authentication and session lifecycle core.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, email, password string) (*AuthResponse, error)
	// RefreshTokens rotates a refresh token: the consumed token is permanently
	// unusable after a successful call.
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	GetCurrentUser(ctx context.Context, userID string) (*User, error)
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

type AuthServiceImpl struct {
	logger *slog.Logger
	repo   AuthRepo
	cfg    *config.Config
	policy PasswordPolicy
}

func NewAuthService(repo AuthRepo, cfg *config.Config, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger: logger,
		repo:   repo,
		cfg:    cfg,
		policy: NewPasswordPolicy(cfg.Auth),
	}
}

// Register creates a new user and issues their first token pair.
func (s *AuthServiceImpl) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	l := s.logger.With(slog.String("method", "Register"), slog.String("email", req.Email))
	start := time.Now()
	defer s.observe(ctx, "register", start)

	if err := s.policy.Validate(req.Password); err != nil {
		return nil, err
	}

	// Advisory pre-checks for field-specific messages. The insert below still
	// maps a unique violation to the same conflict error, so losing the race
	// here is harmless.
	if _, err := s.repo.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("user with this email already exists: %w", api.ErrConflict)
	} else if !errors.Is(err, api.ErrNotFound) {
		l.ErrorContext(ctx, "Email lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("registration failed: %w", api.ErrInternal)
	}
	if _, err := s.repo.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("user with this username already exists: %w", api.ErrConflict)
	} else if !errors.Is(err, api.ErrNotFound) {
		l.ErrorContext(ctx, "Username lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("registration failed: %w", api.ErrInternal)
	}

	hashedPassword, err := HashPassword(req.Password, s.cfg.Auth.BcryptCost)
	if err != nil {
		l.ErrorContext(ctx, "Password hashing failed", slog.Any("error", err))
		return nil, fmt.Errorf("registration failed: %w", api.ErrInternal)
	}

	user, err := s.repo.CreateUser(ctx, req.Email, hashedPassword, req.Username, req.ProfilePicture)
	if err != nil {
		return nil, err
	}

	tokens, err := s.generateTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	l.InfoContext(ctx, "User registered", slog.String("userID", user.ID.String()))
	return &AuthResponse{User: user, Tokens: *tokens}, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown email and
// wrong password are deliberately indistinguishable.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))
	start := time.Now()
	defer s.observe(ctx, "login", start)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("invalid email or password: %w", api.ErrUnauthenticated)
		}
		l.ErrorContext(ctx, "User lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("login failed: %w", api.ErrInternal)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("account is deactivated: %w", api.ErrForbidden)
	}

	if !VerifyPassword(user.Password, password) {
		return nil, fmt.Errorf("invalid email or password: %w", api.ErrUnauthenticated)
	}

	// Login never revokes other sessions; each device holds its own pair.
	tokens, err := s.generateTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	l.InfoContext(ctx, "Login successful", slog.String("userID", user.ID.String()))
	return &AuthResponse{User: user, Tokens: *tokens}, nil
}

// RefreshTokens validates and rotates a refresh token.
func (s *AuthServiceImpl) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := s.logger.With(slog.String("method", "RefreshTokens"))
	start := time.Now()
	defer s.observe(ctx, "refresh", start)

	claims, err := s.parseToken(refreshToken, s.cfg.JWT.RefreshSecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", api.ErrUnauthenticated)
	}

	// A cryptographically valid token may already be rotated or revoked; the
	// store is the authority.
	stored, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("refresh token not found: %w", api.ErrNotFound)
		}
		l.ErrorContext(ctx, "Refresh token lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("token refresh failed: %w", api.ErrInternal)
	}

	// Stored expiry is checked independently of the signature's exp claim.
	if stored.ExpiresAt.Before(time.Now()) {
		if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
			l.WarnContext(ctx, "Failed to delete expired refresh token", slog.Any("error", err))
		}
		return nil, fmt.Errorf("refresh token expired: %w", api.ErrUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", api.ErrUnauthenticated)
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return nil, fmt.Errorf("user not found or inactive: %w", api.ErrNotFound)
	}

	accessToken, newRefreshToken, expiresAt, err := s.mintTokenPair(user)
	if err != nil {
		l.ErrorContext(ctx, "Token minting failed", slog.Any("error", err))
		return nil, fmt.Errorf("token refresh failed: %w", api.ErrInternal)
	}

	if err := s.repo.RotateRefreshToken(ctx, refreshToken, user.ID, newRefreshToken, expiresAt); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("refresh token not found: %w", api.ErrNotFound)
		}
		l.ErrorContext(ctx, "Token rotation failed", slog.Any("error", err))
		return nil, fmt.Errorf("token refresh failed: %w", api.ErrInternal)
	}

	m := metrics.Get()
	m.TokensIssuedTotal.Add(ctx, 1)
	m.TokensRevokedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "rotation")))

	l.InfoContext(ctx, "Tokens rotated", slog.String("userID", user.ID.String()))
	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefreshToken}, nil
}

// Logout deletes the stored refresh token. Absent tokens are not an error.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	start := time.Now()
	defer s.observe(ctx, "logout", start)

	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		s.logger.ErrorContext(ctx, "Logout failed", slog.Any("error", err))
		return fmt.Errorf("logout failed: %w", api.ErrInternal)
	}
	metrics.Get().TokensRevokedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "logout")))
	return nil
}

// LogoutAll revokes every refresh token owned by the user.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID string) error {
	start := time.Now()
	defer s.observe(ctx, "logout_all", start)

	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", api.ErrValidation)
	}
	if err := s.repo.DeleteUserRefreshTokens(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "Logout-all failed", slog.Any("error", err))
		return fmt.Errorf("logout failed: %w", api.ErrInternal)
	}
	metrics.Get().TokensRevokedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "logout_all")))
	return nil
}

// GetCurrentUser looks the user up by id. No side effects.
func (s *AuthServiceImpl) GetCurrentUser(ctx context.Context, userID string) (*User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", api.ErrValidation)
	}
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("user not found: %w", api.ErrNotFound)
		}
		s.logger.ErrorContext(ctx, "User lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("user lookup failed: %w", api.ErrInternal)
	}
	return user, nil
}

// CleanupExpiredTokens removes refresh tokens whose stored expiry has passed.
func (s *AuthServiceImpl) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpiredRefreshTokens(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.Get().TokensRevokedTotal.Add(ctx, deleted, metric.WithAttributes(attribute.String("reason", "expired")))
		s.logger.InfoContext(ctx, "Expired refresh tokens removed", slog.Int64("count", deleted))
	}
	return deleted, nil
}

// generateTokens mints a pair for the user and persists the refresh token.
func (s *AuthServiceImpl) generateTokens(ctx context.Context, user *User) (*TokenPair, error) {
	accessToken, refreshToken, expiresAt, err := s.mintTokenPair(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "Token minting failed", slog.Any("error", err))
		return nil, fmt.Errorf("token generation failed: %w", api.ErrInternal)
	}

	if err := s.repo.CreateRefreshToken(ctx, user.ID, refreshToken, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "Failed to store refresh token", slog.Any("error", err))
		return nil, fmt.Errorf("token generation failed: %w", api.ErrInternal)
	}

	metrics.Get().TokensIssuedTotal.Add(ctx, 1)
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// mintTokenPair signs both tokens. The returned expiry is decoded from the
// refresh token itself so the stored and signed expiries always agree.
func (s *AuthServiceImpl) mintTokenPair(user *User) (accessToken, refreshToken string, expiresAt time.Time, err error) {
	accessToken, err = s.signToken(user, s.cfg.JWT.SecretKey, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err = s.signToken(user, s.cfg.JWT.RefreshSecretKey, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	claims := &api.Claims{}
	if _, _, err = jwt.NewParser().ParseUnverified(refreshToken, claims); err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode refresh token expiry: %w", err)
	}
	return accessToken, refreshToken, claims.ExpiresAt.Time, nil
}

func (s *AuthServiceImpl) signToken(user *User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := api.Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.cfg.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// jti keeps two tokens minted for the same user within one second
			// from colliding on the unique token column.
			ID: uuid.NewString(),
		},
	}
	if s.cfg.JWT.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.JWT.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *AuthServiceImpl) parseToken(tokenString, secret string) (*api.Claims, error) {
	claims := &api.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *AuthServiceImpl) observe(ctx context.Context, operation string, start time.Time) {
	m := metrics.Get()
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.AuthRequestsTotal.Add(ctx, 1, attrs)
	m.AuthDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
}
