package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserRepository defines operations for designer account persistence.
type UserRepository interface {
	// GetUserByUsername returns a user by username (case-insensitive). If the user
	// is not found, (nil, ErrUserNotFound) should be returned.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser creates a new user with the supplied data and returns the stored
	// user instance. Caller is expected to pass a bcrypt-hashed password.
	// Implementations must enforce unique usernames and return ErrUserExists on
	// conflict.
	CreateUser(ctx context.Context, username string, passwordHash string, isAdmin bool) (*User, error)

	// UpdateLastLogin stamps a successful login.
	UpdateLastLogin(ctx context.Context, username string) error

	Close() error
}

// Domain-level errors returned by the repository.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidateCredentials validates username and password, returns user if valid.
// Unknown user and wrong password produce the same error.
func ValidateCredentials(ctx context.Context, repo UserRepository, username, password string) (*User, error) {
	user, err := repo.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if err := repo.UpdateLastLogin(ctx, user.Username); err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the administrator account when it is missing.
// An empty password disables the account: nothing is created.
func EnsureAdmin(ctx context.Context, repo UserRepository, username, password string) (created bool, err error) {
	if username == "" || password == "" {
		return false, nil
	}
	if _, err := repo.GetUserByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := repo.CreateUser(ctx, username, hash, true); err != nil {
		if errors.Is(err, ErrUserExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Helper to normalise usernames.
func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
