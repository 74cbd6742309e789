package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity record. The password hash never leaves the service:
// json:"-" keeps it out of every response.
type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	Password       string    `json:"-"`
	IsActive       bool      `json:"isActive"`
	ProfilePicture *string   `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RefreshToken is a persisted single-use session credential.
type RefreshToken struct {
	ID        uuid.UUID `json:"id"`
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenPair is an access/refresh token pair as returned to clients.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is the payload returned by register and login.
type AuthResponse struct {
	User   *User     `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// RegisterRequest represents the register request body.
type RegisterRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Username       string  `json:"username"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenRequest represents the refresh request body.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest represents the logout request body.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UpdateProfileParams carries the mutable profile fields; nil means unchanged.
type UpdateProfileParams struct {
	Username       *string `json:"username,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}
