package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryUserRepo is a threadsafe in-memory storage useful for tests & single-instance servers.
// ID counter starts from 1.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // key = lowercase(username)
	nextID uint64
	now    func() time.Time
}

// NewMemoryUserRepo returns an empty repository.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
		now:    time.Now,
	}
}

// GetUserByUsername retrieves user by case-insensitive username.
func (r *MemoryUserRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

// CreateUser inserts a new user if username not present.
func (r *MemoryUserRepo) CreateUser(_ context.Context, username string, passwordHash string, isAdmin bool) (*User, error) {
	key := normalize(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return nil, ErrUserExists
	}

	now := r.now()
	user := &User{
		ID:           r.nextID,
		Username:     key,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.users[key] = user
	cp := *user
	return &cp, nil
}

func (r *MemoryUserRepo) UpdateLastLogin(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[normalize(username)]
	if !ok {
		return ErrUserNotFound
	}
	user.LastLogin = r.now()
	return nil
}

func (r *MemoryUserRepo) Close() error { return nil }
