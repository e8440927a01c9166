package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	// bcrypt silently truncates beyond 72 bytes.
	maxPasswordLength = 72
	passwordCost      = 10
)

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("password must be at most %d bytes", maxPasswordLength)
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	return err == nil
}

// ValidatePassword enforces the length rules for new passwords.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// IsPasswordError reports whether err came from ValidatePassword.
func IsPasswordError(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) || errors.Is(err, ErrPasswordTooLong)
}
