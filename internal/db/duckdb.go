package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         VARCHAR PRIMARY KEY,
		name       VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		session_id VARCHAR NOT NULL,
		seq        INTEGER NOT NULL,
		role       VARCHAR NOT NULL,
		content    VARCHAR NOT NULL,
		timestamp  VARCHAR NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

// Open opens the DuckDB database at path and ensures the chat schema
// exists. An empty path opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	// DuckDB works best with single connection; an in-memory
	// database is private to its connection anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return db, nil
}
