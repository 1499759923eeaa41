package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength minimal designer password length in bytes.
	MinPasswordLength = 6
	// bcrypt silently ignores everything after 72 bytes.
	maxPasswordBytes = 72
)

// ErrWeakPassword is returned for passwords outside the accepted length.
var ErrWeakPassword = errors.New("weak password")

// ValidatePassword checks the length limits before hashing.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: must be %d to %d bytes", ErrWeakPassword, MinPasswordLength, maxPasswordBytes)
	}
	return nil
}

// HashPassword validates the password and returns its bcrypt hash using DefaultCost.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext candidate.
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
