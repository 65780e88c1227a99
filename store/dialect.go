package store

import (
	"context"
	"database/sql"
)

// Dialect abstracts the engine-visible differences between supported SQL
// backends: column introspection, auxiliary DDL, and the upsert form.
// Both shipped dialects use `?` placeholders.
type Dialect interface {
	Name() string
	TableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error)
	AuxiliaryDDL() []string
	UpsertOAuthAccountSQL() string
}

// MySQL is the Dialect for github.com/go-sql-driver/mysql connections.
// The DSN must set parseTime=true.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) TableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position",
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func (MySQL) AuxiliaryDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS remember_tokens (
			token_hash VARCHAR(64) NOT NULL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_remember_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_accounts (
			user_id BIGINT NOT NULL,
			provider VARCHAR(32) NOT NULL,
			provider_id VARCHAR(191) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (provider, provider_id),
			INDEX idx_oauth_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS password_resets (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			email VARCHAR(191) NOT NULL,
			token_hash VARCHAR(64) NOT NULL,
			expires_at BIGINT NOT NULL,
			used_at BIGINT NULL,
			ip_address VARCHAR(45) NOT NULL DEFAULT '',
			user_agent VARCHAR(255) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			UNIQUE KEY uq_reset_token (token_hash),
			INDEX idx_reset_email (email)
		)`,
	}
}

func (MySQL) UpsertOAuthAccountSQL() string {
	return `INSERT INTO oauth_accounts (user_id, provider, provider_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`
}

// SQLite is the Dialect for modernc.org/sqlite connections.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) TableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func (SQLite) AuxiliaryDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS remember_tokens (
			token_hash TEXT NOT NULL PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_remember_user ON remember_tokens (user_id)`,
		`CREATE TABLE IF NOT EXISTS oauth_accounts (
			user_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (provider, provider_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_user ON oauth_accounts (user_id)`,
		`CREATE TABLE IF NOT EXISTS password_resets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			used_at INTEGER NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reset_email ON password_resets (email)`,
	}
}

func (SQLite) UpsertOAuthAccountSQL() string {
	return `INSERT INTO oauth_accounts (user_id, provider, provider_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_id) DO UPDATE SET updated_at = excluded.updated_at`
}
