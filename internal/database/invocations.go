package database

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Invocation struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	ErrorType  string `json:"error_type"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

const maxInvocationPage = 500

// LogInvocation appends one audit row and returns its id.
func LogInvocation(ctx context.Context, inv Invocation) (string, error) {
	conn := GetDB()
	if conn == nil {
		return "", errNotInitialized
	}
	inv.Command = strings.TrimSpace(inv.Command)
	if inv.Command == "" {
		return "", errors.New("command is required")
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.DurationMS < 0 {
		inv.DurationMS = 0
	}

	_, err := conn.ExecContext(ctx, `
INSERT INTO cli_invocations(id, request_id, command, exit_code, error_type, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
`, inv.ID, inv.RequestID, inv.Command, inv.ExitCode, inv.ErrorType, inv.DurationMS)
	if err != nil {
		return "", errors.Wrap(err, "insert cli invocation")
	}
	return inv.ID, nil
}

// RecentInvocations returns up to limit rows, newest first.
func RecentInvocations(ctx context.Context, limit int) ([]Invocation, error) {
	conn := GetDB()
	if conn == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 || limit > maxInvocationPage {
		limit = maxInvocationPage
	}

	rows, err := conn.QueryContext(ctx, `
SELECT
	id,
	COALESCE(request_id, ''),
	command,
	exit_code,
	COALESCE(error_type, ''),
	duration_ms,
	COALESCE(created_at, CURRENT_TIMESTAMP)
FROM cli_invocations
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query cli invocations")
	}
	defer rows.Close()

	out := make([]Invocation, 0, limit)
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(
			&inv.ID,
			&inv.RequestID,
			&inv.Command,
			&inv.ExitCode,
			&inv.ErrorType,
			&inv.DurationMS,
			&inv.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan cli invocation")
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
