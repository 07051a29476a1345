package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
	"github.com/starford/agencydesk/internal/models"
)

// Dialect holds the driver-specific SQL used by the SQL provider.
type Dialect struct {
	Name   string
	Schema string
	Upsert string
	Select string
	List   string
	Remove string
}

// SQLite is the dialect for github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name: "sqlite3",
	Schema: `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	Upsert: `
		INSERT INTO documents (key, value, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at`,
	Select: `SELECT value FROM documents WHERE key = ?`,
	List:   `SELECT key, length(CAST(value AS BLOB)), checksum, updated_at FROM documents ORDER BY key`,
	Remove: `DELETE FROM documents WHERE key = ?`,
}

// Postgres is the dialect for github.com/lib/pq.
var Postgres = Dialect{
	Name: "postgres",
	Schema: `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	Upsert: `
		INSERT INTO documents (key, value, checksum, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			checksum   = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at`,
	Select: `SELECT value FROM documents WHERE key = $1`,
	List:   `SELECT key, octet_length(value), checksum, updated_at FROM documents ORDER BY key`,
	Remove: `DELETE FROM documents WHERE key = $1`,
}

// SQL implements Provider on a relational table keyed by document key.
type SQL struct {
	conn    *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) a SQLite database and applies the schema.
func OpenSQLite(path string) (*SQL, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	return newSQL(conn, SQLite)
}

// OpenPostgres connects to Postgres and applies the schema.
func OpenPostgres(dsn string) (*SQL, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	return newSQL(conn, Postgres)
}

// NewSQL wraps an existing connection. The schema is applied immediately.
func NewSQL(conn *sql.DB, d Dialect) (*SQL, error) {
	if _, err := conn.Exec(d.Schema); err != nil {
		return nil, fmt.Errorf("storage: apply %s schema: %w", d.Name, err)
	}
	return &SQL{conn: conn, dialect: d}, nil
}

func newSQL(conn *sql.DB, d Dialect) (*SQL, error) {
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", d.Name, err)
	}
	s, err := NewSQL(conn, d)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.conn.Close()
}

func (s *SQL) List() ([]models.DocumentMeta, error) {
	rows, err := s.conn.Query(s.dialect.List)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentMeta
	for rows.Next() {
		var m models.DocumentMeta
		if err := rows.Scan(&m.Key, &m.Size, &m.Checksum, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: list scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQL) Read(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var value string
	err := s.conn.QueryRow(s.dialect.Select, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: read %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *SQL) Write(key string, content []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.conn.Exec(s.dialect.Upsert, key, string(content), checksum.Sum(content), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	res, err := s.conn.Exec(s.dialect.Remove, key)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: delete %s: %w", key, apperr.ErrNotFound)
	}
	return nil
}
