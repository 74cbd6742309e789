package api

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Error kinds returned by the service layer. Handlers map these to HTTP
// status codes with errors.Is; nothing inspects message strings.
var (
	ErrValidation      = errors.New("invalid input")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrNotFound        = errors.New("requested item not found")
	ErrInternal        = errors.New("internal error")
)

// Claims represents the custom claims carried by both access and refresh
// tokens.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"eml"`
	jwt.RegisteredClaims
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
