package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api"
)

// PasswordRule is a single composable password requirement.
type PasswordRule struct {
	Description string
	Check       func(password string) bool
}

// PasswordPolicy is the binding password contract enforced by the service.
// The handler's min-length check is only a cheap early exit of the same rules.
type PasswordPolicy struct {
	rules []PasswordRule
}

// NewPasswordPolicy builds the policy from configuration.
func NewPasswordPolicy(cfg config.AuthConfig) PasswordPolicy {
	minLength := cfg.PasswordMinLength
	if minLength <= 0 {
		minLength = 8
	}

	rules := []PasswordRule{
		{
			Description: fmt.Sprintf("be at least %d characters long", minLength),
			Check:       func(p string) bool { return len(p) >= minLength },
		},
	}
	if cfg.RequireUppercase {
		rules = append(rules, PasswordRule{
			Description: "contain an uppercase letter",
			Check:       func(p string) bool { return strings.ContainsFunc(p, unicode.IsUpper) },
		})
	}
	if cfg.RequireLowercase {
		rules = append(rules, PasswordRule{
			Description: "contain a lowercase letter",
			Check:       func(p string) bool { return strings.ContainsFunc(p, unicode.IsLower) },
		})
	}
	if cfg.RequireNumber {
		rules = append(rules, PasswordRule{
			Description: "contain a digit",
			Check:       func(p string) bool { return strings.ContainsFunc(p, unicode.IsDigit) },
		})
	}
	return PasswordPolicy{rules: rules}
}

// Validate checks the password against every rule and reports all failures.
func (p PasswordPolicy) Validate(password string) error {
	var failed []string
	for _, rule := range p.rules {
		if !rule.Check(password) {
			failed = append(failed, rule.Description)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("password must %s: %w", strings.Join(failed, ", "), api.ErrValidation)
	}
	return nil
}

// HashPassword hashes a plaintext password with the configured bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword compares a bcrypt hash against a plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
