package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no store path is configured.
const DefaultPath = "analytics-bridge.db"

var (
	db   *sql.DB
	dbMu sync.Mutex
)

var errNotInitialized = errors.New("db not initialized")

const schema = `
CREATE TABLE IF NOT EXISTS config (
	name TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cli_invocations (
	id TEXT PRIMARY KEY,
	request_id TEXT,
	command TEXT NOT NULL,
	exit_code INTEGER NOT NULL DEFAULT 0,
	error_type TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cli_invocations_created_at ON cli_invocations(created_at);
CREATE INDEX IF NOT EXISTS idx_cli_invocations_request_id ON cli_invocations(request_id);
`

// InitDB opens (creating if needed) the sqlite store at path and applies the
// schema. A second call closes the previous handle first.
func InitDB(path string) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrapf(err, "create store directory %s", dir)
		}
	}

	if db != nil {
		_ = db.Close()
		db = nil
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return errors.Wrapf(err, "open store %s", path)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "apply store schema")
	}
	db = conn
	return nil
}

// CloseDB releases the store handle. Safe to call when not initialized.
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		_ = db.Close()
		db = nil
	}
}

// GetDB returns the raw handle, or nil before InitDB.
func GetDB() *sql.DB {
	dbMu.Lock()
	defer dbMu.Unlock()
	return db
}

// Ping checks the store is reachable.
func Ping(ctx context.Context) error {
	conn := GetDB()
	if conn == nil {
		return errNotInitialized
	}
	return conn.PingContext(ctx)
}
