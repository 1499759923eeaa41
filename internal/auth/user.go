package auth

import "time"

// User represents a designer account. Designers manage room templates;
// IsAdmin additionally allows deleting them.
type User struct {
	ID           uint64    // Unique immutable identifier
	Username     string    // Unique username (case-insensitive)
	PasswordHash string    // bcrypt hashed password (60 chars)
	CreatedAt    time.Time // Account creation timestamp (server time)
	LastLogin    time.Time // Last successful login
	IsAdmin      bool      // Administrative privileges flag
}
