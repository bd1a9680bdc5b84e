package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrConfigNotFound is returned by GetConfig for a name that was never saved.
var ErrConfigNotFound = errors.New("config not found")

// GetConfig returns the JSON document stored under name.
func GetConfig(ctx context.Context, name string) ([]byte, error) {
	conn := GetDB()
	if conn == nil {
		return nil, errNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("config name is required")
	}

	var data string
	err := conn.QueryRowContext(ctx, `SELECT data FROM config WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", name)
	}
	return []byte(data), nil
}

// SetConfig stores data under name, replacing any previous document.
func SetConfig(ctx context.Context, name string, data []byte) error {
	conn := GetDB()
	if conn == nil {
		return errNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("config name is required")
	}

	_, err := conn.ExecContext(ctx, `
INSERT INTO config(name, data, updated_at)
VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name) DO UPDATE SET
	data = excluded.data,
	updated_at = CURRENT_TIMESTAMP
`, name, string(data))
	if err != nil {
		return errors.Wrapf(err, "write config %s", name)
	}
	return nil
}
