package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api"
)

func TestPasswordPolicyValidate(t *testing.T) {
	policy := NewPasswordPolicy(config.AuthConfig{
		PasswordMinLength: 8,
		RequireUppercase:  true,
		RequireLowercase:  true,
		RequireNumber:     true,
	})

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"Valid", "Passw0rd!", ""},
		{"TooShort", "Pw1a", "at least 8"},
		{"NoUppercase", "passw0rd!", "uppercase"},
		{"NoLowercase", "PASSW0RD!", "lowercase"},
		{"NoDigit", "Password!", "digit"},
		{"Empty", "", "at least 8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPasswordPolicyMinLengthOnly(t *testing.T) {
	// Character-class rules are opt-in.
	policy := NewPasswordPolicy(config.AuthConfig{PasswordMinLength: 8})

	assert.NoError(t, policy.Validate("alllowercase"))
	assert.Error(t, policy.Validate("short"))
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Passw0rd!", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", hash)

	assert.True(t, VerifyPassword(hash, "Passw0rd!"))
	assert.False(t, VerifyPassword(hash, "WrongPassw0rd!"))
}

func TestHashPasswordClampsInvalidCost(t *testing.T) {
	hash, err := HashPassword("Passw0rd!", 0)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "Passw0rd!"))
}
