package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcardoso/auth-api/internal/api"
)

// MockAuthService is a mock implementation of the AuthService interface.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthResponse), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthResponse), args.Error(1)
}

func (m *MockAuthService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TokenPair), args.Error(1)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockAuthService) GetCurrentUser(ctx context.Context, userID string) (*User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAuthService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func newTestHandler(service AuthService) *HandlerImpl {
	return NewAuthHandlerImpl(service, slog.Default(), false)
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) api.Response {
	t.Helper()
	var resp api.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestRegisterHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		user := &User{ID: uuid.New(), Email: "test@example.com", Username: "testuser", IsActive: true}
		result := &AuthResponse{User: user, Tokens: TokenPair{AccessToken: "access", RefreshToken: "refresh"}}
		mockService.On("Register", mock.Anything, mock.AnythingOfType("RegisterRequest")).Return(result, nil).Once()

		rr := postJSON(t, handler.Register, "/api/v1/auth/register", map[string]string{
			"email":    "test@example.com",
			"password": "Passw0rd!",
			"username": "testuser",
		})

		assert.Equal(t, http.StatusCreated, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.True(t, resp.Success)

		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var auth struct {
			User   map[string]any `json:"user"`
			Tokens map[string]any `json:"tokens"`
		}
		require.NoError(t, json.Unmarshal(data, &auth))
		assert.Equal(t, "access", auth.Tokens["accessToken"])
		assert.Equal(t, "refresh", auth.Tokens["refreshToken"])
		assert.NotContains(t, auth.User, "password")
		mockService.AssertExpectations(t)
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.Register, "/api/v1/auth/register", map[string]string{"email": "test@example.com"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.False(t, resp.Success)
		mockService.AssertNotCalled(t, "Register")
	})

	t.Run("InvalidEmail", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.Register, "/api/v1/auth/register", map[string]string{
			"email":    "not-an-email",
			"password": "Passw0rd!",
			"username": "testuser",
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Register")
	})

	t.Run("UsernameTooShort", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.Register, "/api/v1/auth/register", map[string]string{
			"email":    "test@example.com",
			"password": "Passw0rd!",
			"username": "ab",
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Register")
	})

	t.Run("Conflict", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("Register", mock.Anything, mock.AnythingOfType("RegisterRequest")).
			Return(nil, fmt.Errorf("user with this email already exists: %w", api.ErrConflict)).Once()

		rr := postJSON(t, handler.Register, "/api/v1/auth/register", map[string]string{
			"email":    "taken@example.com",
			"password": "Passw0rd!",
			"username": "testuser",
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.Contains(t, resp.Error, "email already exists")
		mockService.AssertExpectations(t)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Register(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Register")
	})
}

func TestLoginHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		user := &User{ID: uuid.New(), Email: "test@example.com", Username: "testuser", IsActive: true}
		result := &AuthResponse{User: user, Tokens: TokenPair{AccessToken: "access", RefreshToken: "refresh"}}
		mockService.On("Login", mock.Anything, "test@example.com", "Passw0rd!").Return(result, nil).Once()

		rr := postJSON(t, handler.Login, "/api/v1/auth/login", map[string]string{
			"email":    "test@example.com",
			"password": "Passw0rd!",
		})

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.True(t, resp.Success)
		assert.Equal(t, "Login successful", resp.Message)
		mockService.AssertExpectations(t)
	})

	t.Run("InvalidCredentials", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("Login", mock.Anything, "test@example.com", "wrong").Return(nil,
			fmt.Errorf("invalid email or password: %w", api.ErrUnauthenticated)).Once()

		rr := postJSON(t, handler.Login, "/api/v1/auth/login", map[string]string{
			"email":    "test@example.com",
			"password": "wrong",
		})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.Contains(t, resp.Error, "invalid email or password")
		mockService.AssertExpectations(t)
	})

	t.Run("DeactivatedAccount", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("Login", mock.Anything, "inactive@example.com", "Passw0rd!").Return(nil,
			fmt.Errorf("account is deactivated: %w", api.ErrForbidden)).Once()

		rr := postJSON(t, handler.Login, "/api/v1/auth/login", map[string]string{
			"email":    "inactive@example.com",
			"password": "Passw0rd!",
		})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingPassword", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.Login, "/api/v1/auth/login", map[string]string{"email": "test@example.com"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Login")
	})

	t.Run("InternalErrorHidesDetail", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("Login", mock.Anything, "test@example.com", "Passw0rd!").Return(nil,
			fmt.Errorf("connection reset by postgres: %w", api.ErrInternal)).Once()

		rr := postJSON(t, handler.Login, "/api/v1/auth/login", map[string]string{
			"email":    "test@example.com",
			"password": "Passw0rd!",
		})

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.Equal(t, "internal server error", resp.Error)
		mockService.AssertExpectations(t)
	})
}

func TestRefreshTokensHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		pair := &TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}
		mockService.On("RefreshTokens", mock.Anything, "old-refresh").Return(pair, nil).Once()

		rr := postJSON(t, handler.RefreshTokens, "/api/v1/auth/refresh", map[string]string{
			"refreshToken": "old-refresh",
		})

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeEnvelope(t, rr)
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var tokens map[string]any
		require.NoError(t, json.Unmarshal(data, &tokens))
		assert.Equal(t, "new-access", tokens["accessToken"])
		assert.Equal(t, "new-refresh", tokens["refreshToken"])
		mockService.AssertExpectations(t)
	})

	t.Run("UnknownTokenIs401", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("RefreshTokens", mock.Anything, "rotated-away").Return(nil,
			fmt.Errorf("refresh token not found: %w", api.ErrNotFound)).Once()

		rr := postJSON(t, handler.RefreshTokens, "/api/v1/auth/refresh", map[string]string{
			"refreshToken": "rotated-away",
		})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("ExpiredTokenIs401", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("RefreshTokens", mock.Anything, "expired").Return(nil,
			fmt.Errorf("refresh token expired: %w", api.ErrUnauthenticated)).Once()

		rr := postJSON(t, handler.RefreshTokens, "/api/v1/auth/refresh", map[string]string{
			"refreshToken": "expired",
		})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.RefreshTokens, "/api/v1/auth/refresh", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "RefreshTokens")
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		mockService.On("Logout", mock.Anything, "some-token").Return(nil).Once()

		rr := postJSON(t, handler.Logout, "/api/v1/auth/logout", map[string]string{
			"refreshToken": "some-token",
		})

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.Equal(t, "Logout successful", resp.Message)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingToken", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		rr := postJSON(t, handler.Logout, "/api/v1/auth/logout", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Logout")
	})
}

func TestLogoutAllHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		userID := uuid.NewString()
		mockService.On("LogoutAll", mock.Anything, userID).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
		rr := httptest.NewRecorder()
		handler.LogoutAll(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil)
		rr := httptest.NewRecorder()
		handler.LogoutAll(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertNotCalled(t, "LogoutAll")
	})
}

func TestGetCurrentUserHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		user := &User{ID: uuid.New(), Email: "test@example.com", Username: "testuser", IsActive: true}
		mockService.On("GetCurrentUser", mock.Anything, user.ID.String()).Return(user, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, user.ID.String()))
		rr := httptest.NewRecorder()
		handler.GetCurrentUser(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeEnvelope(t, rr)
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "test@example.com", got["email"])
		assert.NotContains(t, got, "password")
		mockService.AssertExpectations(t)
	})

	t.Run("NotFoundIs404", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		userID := uuid.NewString()
		mockService.On("GetCurrentUser", mock.Anything, userID).Return(nil,
			fmt.Errorf("user not found: %w", api.ErrNotFound)).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
		rr := httptest.NewRecorder()
		handler.GetCurrentUser(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		mockService := new(MockAuthService)
		handler := newTestHandler(mockService)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		rr := httptest.NewRecorder()
		handler.GetCurrentUser(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		mockService.AssertNotCalled(t, "GetCurrentUser")
	})
}
