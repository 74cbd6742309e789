package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api"
)

type contextKey string

const UserIDKey contextKey = "userID"
const UserEmailKey contextKey = "userEmail"

// Authenticate validates the Bearer access token and stores the caller's
// identity in the request context.
func Authenticate(logger *slog.Logger, jwtCfg config.JWTConfig) func(next http.Handler) http.Handler {
	secretKey := []byte(jwtCfg.SecretKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			l := logger.With(slog.String("middleware", "Authenticate"))

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				l.WarnContext(ctx, "Missing Authorization header")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "bearer") {
				l.WarnContext(ctx, "Invalid Authorization header format")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}

			claims := &api.Claims{}
			token, err := jwt.ParseWithClaims(headerParts[1], claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secretKey, nil
			})
			if err != nil || !token.Valid {
				l.WarnContext(ctx, "Token validation failed", slog.Any("error", err))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if jwtCfg.Issuer != "" && claims.Issuer != jwtCfg.Issuer {
				l.WarnContext(ctx, "Token issuer mismatch", slog.String("actual", claims.Issuer))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid token issuer")
				return
			}

			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext returns the authenticated user's id, if any.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUserEmailFromContext returns the authenticated user's email, if any.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}
