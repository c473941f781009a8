package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	createSQLiteTable = `CREATE TABLE IF NOT EXISTS kv_entries (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, key)
)`
	createPostgresTable = `CREATE TABLE IF NOT EXISTS kv_entries (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, key)
)`
	upsertEntry = `INSERT INTO kv_entries (namespace, key, value) VALUES (?, ?, ?)
ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
)

// SQL stores namespaces in a kv_entries table. It works over sqlite and postgres.
type SQL struct {
	db    *sqlx.DB
	owned bool
}

// OpenSQLite opens (creating if needed) a dedicated sqlite file for state.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	kv, err := NewSQL(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	kv.owned = true
	return kv, nil
}

// NewSQL wraps an existing connection and makes sure the table exists.
// The caller keeps ownership of db.
func NewSQL(ctx context.Context, db *sqlx.DB) (*SQL, error) {
	ddl := createSQLiteTable
	if db.DriverName() == "postgres" {
		ddl = createPostgresTable
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Load(ctx context.Context, namespace string) (map[string][]byte, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}
	q := s.db.Rebind(`SELECT key, value FROM kv_entries WHERE namespace = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, namespace); err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *SQL) Put(ctx context.Context, namespace, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertEntry), namespace, key, value); err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM kv_entries WHERE namespace = ? AND key IN (?)`, namespace, keys)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("delete from %s: %w", namespace, err)
	}
	return nil
}

func (s *SQL) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM kv_entries WHERE namespace = ?`), namespace); err != nil {
		return fmt.Errorf("clear %s: %w", namespace, err)
	}
	return nil
}

// Close releases the connection when it was opened by OpenSQLite.
func (s *SQL) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
