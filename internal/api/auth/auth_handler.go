package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/mcardoso/auth-api/internal/api"
)

var (
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// HandlerImpl translates HTTP requests into AuthService calls.
type HandlerImpl struct {
	authService AuthService
	logger      *slog.Logger
	devMode     bool
}

func NewAuthHandlerImpl(authService AuthService, logger *slog.Logger, devMode bool) *HandlerImpl {
	return &HandlerImpl{
		authService: authService,
		logger:      logger,
		devMode:     devMode,
	}
}

// statusFromError maps service error kinds to HTTP status codes. notFoundStatus
// varies per endpoint: /me surfaces a real 404, everything else collapses
// not-found into its failure status.
func statusFromError(err error, notFoundStatus int) int {
	switch {
	case errors.Is(err, api.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrForbidden):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrNotFound):
		return notFoundStatus
	default:
		return http.StatusInternalServerError
	}
}

// respondError hides internal failure details unless running in development.
func (h *HandlerImpl) respondError(w http.ResponseWriter, r *http.Request, err error, notFoundStatus int) {
	status := statusFromError(err, notFoundStatus)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Internal error", slog.Any("error", err))
		if !h.devMode {
			message = "internal server error"
		}
	}
	api.ErrorResponse(w, r, status, message)
}

// Register handles POST /auth/register.
func (h *HandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if msg := validateRegisterRequest(req); msg != "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, msg)
		return
	}

	result, err := h.authService.Register(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	api.SuccessResponse(w, r, http.StatusCreated, "User registered successfully", result)
}

// validateRegisterRequest is the boundary's cheap early exit; the service
// enforces the binding password policy.
func validateRegisterRequest(req RegisterRequest) string {
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return "Email, password, and username are required"
	}
	if !emailRegex.MatchString(req.Email) {
		return "Invalid email format"
	}
	if len(req.Password) < 8 {
		return "Password must be at least 8 characters long"
	}
	if len(req.Username) < 3 || len(req.Username) > 50 {
		return "Username must be between 3 and 50 characters"
	}
	if !usernameRegex.MatchString(req.Username) {
		return "Username can only contain letters, numbers, and underscores"
	}
	return ""
}

// Login handles POST /auth/login.
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}
	if !emailRegex.MatchString(req.Email) {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid email format")
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err, http.StatusUnauthorized)
		return
	}

	api.SuccessResponse(w, r, http.StatusOK, "Login successful", result)
}

// RefreshTokens handles POST /auth/refresh.
func (h *HandlerImpl) RefreshTokens(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	tokens, err := h.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		// An unknown token means it was rotated or revoked; to the caller that
		// is an authorization failure, not a 404.
		h.respondError(w, r, err, http.StatusUnauthorized)
		return
	}

	api.SuccessResponse(w, r, http.StatusOK, "Tokens refreshed successfully", tokens)
}

// Logout handles POST /auth/logout.
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	api.SuccessResponse(w, r, http.StatusOK, "Logout successful", nil)
}

// LogoutAll handles POST /auth/logout-all. Requires authentication.
func (h *HandlerImpl) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "User not authenticated")
		return
	}

	if err := h.authService.LogoutAll(r.Context(), userID); err != nil {
		h.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	api.SuccessResponse(w, r, http.StatusOK, "Logged out from all devices successfully", nil)
}

// GetCurrentUser handles GET /auth/me. Requires authentication.
func (h *HandlerImpl) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "User not authenticated")
		return
	}

	user, err := h.authService.GetCurrentUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err, http.StatusNotFound)
		return
	}

	api.SuccessResponse(w, r, http.StatusOK, "User retrieved successfully", user)
}
