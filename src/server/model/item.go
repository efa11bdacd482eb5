package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apimgr/weatherapi/src/database"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemExists   = errors.New("item already exists")
	ErrOwnerChanged = errors.New("item is no longer owned by the expected user")
)

// Item is owned by exactly one user
type Item struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemModel handles item database operations
type ItemModel struct {
	DB *database.DB
}

// Create inserts an item owned by userID
func (m *ItemModel) Create(ctx context.Context, userID int64, title string) (*Item, error) {
	now := time.Now().UTC()
	id, err := m.DB.InsertID(ctx,
		"INSERT INTO items (title, user_id, created_at) VALUES (?, ?, ?)",
		title, userID, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrItemExists
		}
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return &Item{ID: id, Title: title, UserID: userID, CreatedAt: now}, nil
}

// GetByID retrieves an item by ID
func (m *ItemModel) GetByID(ctx context.Context, id int64) (*Item, error) {
	var item Item
	err := m.DB.QueryRowContext(ctx,
		m.DB.Rebind("SELECT id, title, user_id, created_at FROM items WHERE id = ?"), id,
	).Scan(&item.ID, &item.Title, &item.UserID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// ListByUser returns a user's items ordered by id
func (m *ItemModel) ListByUser(ctx context.Context, userID int64) ([]Item, error) {
	rows, err := m.DB.QueryContext(ctx,
		m.DB.Rebind("SELECT id, title, user_id, created_at FROM items WHERE user_id = ? ORDER BY id"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Title, &item.UserID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes an item
func (m *ItemModel) Delete(ctx context.Context, id int64) error {
	result, err := m.DB.ExecContext(ctx, m.DB.Rebind("DELETE FROM items WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Transfer moves an item from fromOwnerID to toOwnerID. The owner check is
// part of the UPDATE, so of two concurrent transfers only one succeeds.
func (m *ItemModel) Transfer(ctx context.Context, id, fromOwnerID, toOwnerID int64) error {
	result, err := m.DB.ExecContext(ctx,
		m.DB.Rebind("UPDATE items SET user_id = ? WHERE id = ? AND user_id = ?"),
		toOwnerID, id, fromOwnerID)
	if err != nil {
		return fmt.Errorf("failed to transfer item: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := m.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrOwnerChanged
}
