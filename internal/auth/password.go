package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLength = 8

	// MaxPasswordLength bounds bcrypt input, which truncates at 72 bytes
	// anyway.
	MaxPasswordLength = 128
)

// PasswordManager hashes and checks the operator password.
type PasswordManager struct {
	cost      int
	minLength int
}

func NewPasswordManager(cost, minLength int) *PasswordManager {
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	return &PasswordManager{cost: cost, minLength: minLength}
}

func (p *PasswordManager) HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (p *PasswordManager) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength requires minimum length plus three of the
// four character classes.
func (p *PasswordManager) ValidatePasswordStrength(password string) error {
	if len(password) < p.minLength {
		return fmt.Errorf("password must be at least %d characters", p.minLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	classes := 0
	for _, class := range []func(rune) bool{
		unicode.IsUpper,
		unicode.IsLower,
		unicode.IsNumber,
		func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) },
	} {
		for _, r := range password {
			if class(r) {
				classes++
				break
			}
		}
	}
	if classes < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}
	return nil
}

// HashRefreshToken derives the storage key for a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
