//go:build unix

package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/clienv"
	"analyticsbridge/internal/database"
	"analyticsbridge/internal/metrics"
	"analyticsbridge/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeCLIScript = `#!/bin/sh
echo "$*" >> "$FAKE_CLI_LOG"
case "$1" in
  migrate) exit 0 ;;
  get) echo '{"message":"Flow not found","error_type":"NotFoundError"}' >&2; exit 65 ;;
  *) printf '{"args":"%s","db":"%s"}' "$*" "$DBNAME" ;;
esac
`

func TestBridgeRunsRealCLI(t *testing.T) {
	withTempDB(t)
	dir := t.TempDir()
	cliPath := filepath.Join(dir, "analytics-cli")
	require.NoError(t, os.WriteFile(cliPath, []byte(fakeCLIScript), 0o700))
	logPath := filepath.Join(dir, "calls.log")
	t.Setenv("FAKE_CLI_LOG", logPath)

	store := metrics.NewStore()
	conns := clienv.Connections{"default": {"default": {Host: "db", Port: "3306", Username: "u", Database: "site"}}}
	gw := analytics.New(analytics.Options{
		Path:     cliPath,
		Resolver: clienv.NewResolver(conns, nil, "", ""),
		Observer: analytics.Observers{store, NewAuditObserver(nil)},
	})

	f := newFixture(t, nil)
	srv, err := NewServer(Deps{
		Config:   testConfig(),
		CLI:      gw,
		Router:   router.New(router.DefaultRoutes(), nil),
		Auth:     auth.NewTokenAuthenticator(testConfig().Auth.Tokens),
		Settings: f.store,
		Metrics:  store,
	})
	require.NoError(t, err)
	f.server = srv

	rec := f.do(http.MethodGet, "/statistics/v1/visitors?page=2", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `{"args":"statistics visitors v1 --page 2","db":"site"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/flow/v1/f-1", "", adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, `{"error":"Flow not found"}`, rec.Body.String())

	calls, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"migrate",
		"statistics visitors v1 --page 2",
		"get flow v1 --flow-uuid f-1",
	}, strings.Split(strings.TrimSpace(string(calls)), "\n"))

	info, err := os.Stat(cliPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	items, err := database.RecentInvocations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "get flow", items[0].Command)
	assert.True(t, strings.HasPrefix(items[0].RequestID, "req_"))

	rec = f.do(http.MethodGet, "/metrics", "", "")
	assert.Contains(t, rec.Body.String(), `analytics_bridge_cli_invocations_total{command="get flow",error_type="NotFoundError",outcome="failure"} 1`)
}
