package database

import (
	"context"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever a table definition changes
const SchemaVersion = 1

// Tables: users, items (owned by users), blacklist (revoked tokens, stored
// as SHA-256 hex digests) and scheduler_history.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_task ON scheduler_history(task_name, started_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		id BIGSERIAL PRIMARY KEY,
		token_hash CHAR(64) NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_history (
		id BIGSERIAL PRIMARY KEY,
		task_name TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		status TEXT NOT NULL,
		error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_task ON scheduler_history(task_name, started_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INT PRIMARY KEY,
		applied_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		login VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_items_user (user_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		token_hash CHAR(64) NOT NULL UNIQUE,
		expires_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		task_name VARCHAR(128) NOT NULL,
		started_at DATETIME(6) NOT NULL,
		finished_at DATETIME(6) NOT NULL,
		duration_ms BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		error TEXT NULL,
		KEY idx_history_task (task_name, started_at)
	)`,
}

var mssqlSchema = []string{
	`IF OBJECT_ID(N'schema_version', N'U') IS NULL
	CREATE TABLE schema_version (
		version INT PRIMARY KEY,
		applied_at DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'users', N'U') IS NULL
	CREATE TABLE users (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		login NVARCHAR(255) NOT NULL UNIQUE,
		password_hash NVARCHAR(255) NOT NULL,
		created_at DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'items', N'U') IS NULL
	CREATE TABLE items (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		title NVARCHAR(255) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME2 NOT NULL,
		INDEX idx_items_user (user_id)
	)`,
	`IF OBJECT_ID(N'blacklist', N'U') IS NULL
	CREATE TABLE blacklist (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		token_hash CHAR(64) NOT NULL UNIQUE,
		expires_at DATETIME2 NULL,
		created_at DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'scheduler_history', N'U') IS NULL
	CREATE TABLE scheduler_history (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		task_name NVARCHAR(128) NOT NULL,
		started_at DATETIME2 NOT NULL,
		finished_at DATETIME2 NOT NULL,
		duration_ms BIGINT NOT NULL,
		status NVARCHAR(16) NOT NULL,
		error NVARCHAR(MAX) NULL,
		INDEX idx_history_task (task_name, started_at)
	)`,
}

func (db *DB) schema() []string {
	switch db.Driver {
	case DriverPostgres:
		return postgresSchema
	case DriverMySQL:
		return mysqlSchema
	case DriverMSSQL:
		return mssqlSchema
	default:
		return sqliteSchema
	}
}

// Migrate creates missing tables and records the schema version
func (db *DB) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, TimeoutMigration)
	defer cancel()

	for _, stmt := range db.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var current int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	switch {
	case current == 0:
		_, err = db.ExecContext(ctx, db.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"),
			SchemaVersion, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case current > SchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	return nil
}
