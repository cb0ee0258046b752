package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps blobs in a single table, on SQLite or Postgres
type SQLStore struct {
	conn    *sql.DB
	queries queries
}

type queries struct {
	schema string
	get    string
	put    string
	delete string
}

var sqliteQueries = queries{
	schema: `
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	get: `SELECT data FROM blobs WHERE key = ?`,
	put: `
		INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
	delete: `DELETE FROM blobs WHERE key = ?`,
}

var postgresQueries = queries{
	schema: `
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	get: `SELECT data FROM blobs WHERE key = $1`,
	put: `
		INSERT INTO blobs (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
	delete: `DELETE FROM blobs WHERE key = $1`,
}

// NewSQLiteStore opens or creates a SQLite database at path (":memory:" works)
func NewSQLiteStore(path string) (*SQLStore, error) {
	conn, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return newSQLStore(conn, sqliteQueries)
}

// NewPostgresStore connects to Postgres
func NewPostgresStore(connStr string) (*SQLStore, error) {
	if connStr == "" {
		return nil, errors.New("postgres store needs a connection string")
	}
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newSQLStore(conn, postgresQueries)
}

func openSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return conn, nil
}

func newSQLStore(conn *sql.DB, q queries) (*SQLStore, error) {
	s := &SQLStore{conn: conn, queries: q}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the blobs table if it doesn't exist
func (s *SQLStore) initSchema() error {
	if _, err := s.conn.Exec(s.queries.schema); err != nil {
		return fmt.Errorf("failed to create blobs table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, s.queries.get, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return data, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.conn.ExecContext(ctx, s.queries.put, key, data); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, s.queries.delete, key); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.conn.Close()
}
