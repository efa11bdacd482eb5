// Package models provides the user and item tables
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apimgr/weatherapi/src/database"
)

// Model errors, matched with errors.Is by the service layer
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User represents an account. Items reference it by id.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserModel handles user database operations
type UserModel struct {
	DB *database.DB
}

// Create inserts a user with an already hashed password
func (m *UserModel) Create(ctx context.Context, login, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	id, err := m.DB.InsertID(ctx,
		"INSERT INTO users (login, password_hash, created_at) VALUES (?, ?, ?)",
		login, passwordHash, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &User{ID: id, Login: login, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetByID retrieves a user by ID
func (m *UserModel) GetByID(ctx context.Context, id int64) (*User, error) {
	return m.getOne(ctx, "SELECT id, login, password_hash, created_at FROM users WHERE id = ?", id)
}

// GetByLogin retrieves a user by login
func (m *UserModel) GetByLogin(ctx context.Context, login string) (*User, error) {
	return m.getOne(ctx, "SELECT id, login, password_hash, created_at FROM users WHERE login = ?", login)
}

// Exists reports whether a login is taken
func (m *UserModel) Exists(ctx context.Context, login string) (bool, error) {
	var count int
	err := m.DB.QueryRowContext(ctx, m.DB.Rebind("SELECT COUNT(*) FROM users WHERE login = ?"), login).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

func (m *UserModel) getOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := m.DB.QueryRowContext(ctx, m.DB.Rebind(query), arg).Scan(
		&user.ID,
		&user.Login,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
