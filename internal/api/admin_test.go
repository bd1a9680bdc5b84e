package api

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/database"
	"analyticsbridge/internal/settings"
	"analyticsbridge/internal/state"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempDB(t *testing.T) {
	t.Helper()
	database.CloseDB()
	require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "bridge.db")))
	t.Cleanup(database.CloseDB)
}

func TestAdminRequiresPermission(t *testing.T) {
	f := newFixture(t, nil)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/admin/analytics/cli"},
		{http.MethodPost, "/admin/analytics/cli/download"},
		{http.MethodGet, "/admin/analytics/settings"},
		{http.MethodPost, "/admin/analytics/settings"},
		{http.MethodGet, "/admin/analytics/dashboard"},
		{http.MethodGet, "/admin/analytics/invocations"},
	}
	for _, p := range paths {
		for _, token := range []string{"", "viewer-token"} {
			rec := f.do(p.method, p.path, "", token)
			assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", p.method, p.path)
			assert.Equal(t, "Permission denied!", decode(t, rec)["error"])
		}
	}
	assert.Zero(t, f.cli.downloads)
}

func TestAdminLibraryStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.cli.status = state.LibraryStatus{State: state.LibraryExists, Message: "CLI library check: Passed", Version: "2.0.1"}

	rec := f.do(http.MethodGet, "/admin/analytics/cli", "", adminToken)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "exists", body["state"])
	assert.Equal(t, "2.0.1", body["version"])
}

func TestAdminLibraryDownload(t *testing.T) {
	f := newFixture(t, nil)
	f.cli.status = state.LibraryStatus{State: state.LibraryExists}

	rec := f.do(http.MethodPost, "/admin/analytics/cli/download", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Library successfully downloaded.", decode(t, rec)["message"])

	f.cli.downloadErr = errors.New("status 404")
	rec = f.do(http.MethodPost, "/admin/analytics/cli/download", "", adminToken)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Downloading failed: status 404", decode(t, rec)["error"])
	assert.Equal(t, 2, f.cli.downloads)
}

func TestAdminSettings(t *testing.T) {
	f := newFixture(t, nil)
	f.cli.status = state.LibraryStatus{State: state.LibraryMissing, Message: "CLI library is not installed."}

	rec := f.do(http.MethodPost, "/admin/analytics/settings", `{"1st_party_server":"external"}`, adminToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := decode(t, rec)["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, `The "Client ID" can not be empty.`, fields["client_id"])
	assert.Contains(t, fields, "domain")
	assert.Equal(t, settings.Default(), f.store.current, "rejected settings are not saved")

	rec = f.do(http.MethodPost, "/admin/analytics/settings",
		`{"1st_party_server":"internal","client_id":"app","client_secret":"s3cret","license":"LIC"}`, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "The configuration options have been saved.", body["message"])
	library, ok := body["library"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "not_exists", library["state"])
	assert.Equal(t, "LIC", f.store.current.License)

	rec = f.do(http.MethodGet, "/admin/analytics/settings", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	current, ok := decode(t, rec)["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "app", current["client_id"])

	rec = f.do(http.MethodPost, "/admin/analytics/settings", `[1,2]`, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminInvocations(t *testing.T) {
	withTempDB(t)
	f := newFixture(t, nil)

	audit := NewAuditObserver(nil)
	ctx := context.WithValue(context.Background(), requestIDContextKey, "req_test")
	audit.ObserveInvocation(ctx, analytics.Observation{Args: []string{"statistics", "visitors", "v1"}, Duration: 12 * time.Millisecond})
	audit.ObserveInvocation(ctx, analytics.Observation{
		Args:      []string{"get", "flow", "v1"},
		ExitCode:  65,
		ErrorType: analytics.ErrorTypeNotFound,
		Err:       errors.New("Flow not found"),
	})

	rec := f.do(http.MethodGet, "/admin/analytics/invocations?limit=10", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["count"])
	items := body["items"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, "get flow", first["command"])
	assert.Equal(t, "NotFoundError", first["error_type"])
	assert.Equal(t, "req_test", first["request_id"])

	rec = f.do(http.MethodGet, "/admin/analytics/invocations?limit=0", "", adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditObserverMarksAbortedRuns(t *testing.T) {
	withTempDB(t)

	NewAuditObserver(nil).ObserveInvocation(context.Background(), analytics.Observation{
		Args:     []string{"migrate"},
		ExitCode: -1,
		Err:      errors.New("analytics cli timed out after 1s"),
	})

	items, err := database.RecentInvocations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "aborted", items[0].ErrorType)
	assert.Equal(t, "", items[0].RequestID)
}

func TestDashboard(t *testing.T) {
	internal := BuildDashboard("https://www.example.com", "Example", "modules/contrib/aesirx_analytics", settings.Default())
	assert.Equal(t, "https://www.example.com", internal.EndpointURL)
	assert.Equal(t, `[{"name":"Example","domain":"example.com"}]`, internal.DataStream)
	assert.Equal(t, "https://www.example.com/modules/contrib/aesirx_analytics", internal.PublicURL)

	external := BuildDashboard("http://example.com:8080", "", "/modules/a/", settings.Settings{
		FirstPartyServer: settings.ServerExternal,
		Domain:           "https://analytics.example.com/",
	})
	assert.Equal(t, "https://analytics.example.com", external.EndpointURL)
	assert.Equal(t, `[{"name":"example.com:8080","domain":"example.com:8080"}]`, external.DataStream)
	assert.Equal(t, "http://example.com:8080/modules/a", external.PublicURL)

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/admin/analytics/dashboard", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://example.com", decode(t, rec)["endpoint_url"])
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	database.CloseDB()
	f.cli.status = state.LibraryStatus{State: state.LibraryExists}
	rec = f.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	withTempDB(t)
	rec = f.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ready", decode(t, rec)["status"])

	state.UpdateLibraryStatus(state.LibraryStatus{State: state.LibraryMissing})
	rec = f.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.store.current = settings.Settings{FirstPartyServer: settings.ServerExternal}
	rec = f.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "external mode does not need the library")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodGet, "/healthz", "", "")

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `analytics_bridge_http_requests_total{method="GET",route="healthz",status="200"} 1`)
}
