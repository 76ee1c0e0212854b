package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Open opens the SQLite database at path in WAL mode. The caller must import
// a driver registered as "sqlite".
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	return db, nil
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS offline_collections (
  name TEXT PRIMARY KEY,
  data BLOB NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteBackend struct{ db *sql.DB }

func NewSQLiteBackend(db *sql.DB) Backend { return &sqliteBackend{db: db} }

func (b *sqliteBackend) Load(ctx context.Context, name string) ([]byte, error) {
	row := b.db.QueryRowContext(ctx, `SELECT data FROM offline_collections WHERE name=?`, name)
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *sqliteBackend) Save(ctx context.Context, name string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
INSERT INTO offline_collections (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=CURRENT_TIMESTAMP`, name, data)
	return err
}
