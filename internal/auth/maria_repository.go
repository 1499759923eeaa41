package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// duplicateEntry код ошибки MySQL при нарушении уникального индекса
const duplicateEntry = 1062

// MariaUserRepo реализует UserRepository для MariaDB.
// Учётные записи дизайнеров хранятся в той же базе, что и игроки.
type MariaUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaUserRepo создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaUserRepo(dsn string) (*MariaUserRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db, now: time.Now}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return repo, nil
}

// createTables создает таблицу дизайнеров, если её нет
func (m *MariaUserRepo) createTables() error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS designers (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(3) NOT NULL,
		last_login DATETIME(3) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу designers: %w", err)
	}
	return nil
}

// GetUserByUsername получает пользователя по имени
func (m *MariaUserRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, password_hash, is_admin, created_at, last_login
			  FROM designers WHERE username = ?`

	var user User
	err := m.db.QueryRowContext(ctx, query, normalize(username)).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return &user, nil
}

// CreateUser создает нового пользователя
func (m *MariaUserRepo) CreateUser(ctx context.Context, username string, passwordHash string, isAdmin bool) (*User, error) {
	lower := normalize(username)
	now := m.now().UTC()

	query := `INSERT INTO designers (username, password_hash, is_admin, created_at, last_login)
			  VALUES (?, ?, ?, ?, ?)`

	result, err := m.db.ExecContext(ctx, query, lower, passwordHash, isAdmin, now, now)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == duplicateEntry {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     lower,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		LastLogin:    now,
	}, nil
}

// UpdateLastLogin обновляет время последнего входа пользователя
func (m *MariaUserRepo) UpdateLastLogin(ctx context.Context, username string) error {
	res, err := m.db.ExecContext(ctx, `UPDATE designers SET last_login = ? WHERE username = ?`,
		m.now().UTC(), normalize(username))
	if err != nil {
		return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Close закрывает подключение к БД
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
