package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"analyticsbridge/internal/analytics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveInvocationLabels(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.ObserveInvocation(ctx, analytics.Observation{Args: []string{"statistics", "visitors", "v1", "--page", "1"}, Duration: 40 * time.Millisecond})
	store.ObserveInvocation(ctx, analytics.Observation{
		Args:      []string{"get", "flow", "v1"},
		ExitCode:  65,
		ErrorType: analytics.ErrorTypeNotFound,
		Err:       errors.New("Flow not found"),
	})
	store.ObserveInvocation(ctx, analytics.Observation{Args: []string{"migrate"}, ExitCode: -1, Err: errors.New("timed out")})

	if got := testutil.ToFloat64(store.invocations.WithLabelValues("statistics visitors", "success", "")); got != 1 {
		t.Fatalf("expected 1 successful statistics run, got %v", got)
	}
	if got := testutil.ToFloat64(store.invocations.WithLabelValues("get flow", "failure", "NotFoundError")); got != 1 {
		t.Fatalf("expected 1 not-found failure, got %v", got)
	}
	if got := testutil.ToFloat64(store.invocations.WithLabelValues("migrate", "aborted", "none")); got != 1 {
		t.Fatalf("expected 1 aborted migrate, got %v", got)
	}
}

func TestHandlerExposesServiceMetrics(t *testing.T) {
	store := NewStore()
	store.IncRequest("statistics", "GET", 200)
	store.IncRequest("statistics", "GET", 200)
	store.IncAuthFailure()
	store.IncRateLimited()
	store.SetLibraryUsable(true)

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	required := []string{
		`analytics_bridge_http_requests_total{method="GET",route="statistics",status="200"} 2`,
		"analytics_bridge_auth_failures_total 1",
		"analytics_bridge_rate_limited_total 1",
		"analytics_bridge_cli_library_usable 1",
		"go_goroutines",
	}
	for _, token := range required {
		if !strings.Contains(out, token) {
			t.Fatalf("expected metric output to contain %q\noutput:\n%s", token, out)
		}
	}
}
