package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func withTempDB(t *testing.T) {
	t.Helper()
	CloseDB()
	if err := InitDB(filepath.Join(t.TempDir(), "store", "bridge.db")); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(CloseDB)
}

func TestUninitializedStoreFails(t *testing.T) {
	CloseDB()
	ctx := context.Background()
	if _, err := GetConfig(ctx, "x"); err == nil {
		t.Fatal("GetConfig on closed store should fail")
	}
	if err := SetConfig(ctx, "x", []byte("{}")); err == nil {
		t.Fatal("SetConfig on closed store should fail")
	}
	if _, err := LogInvocation(ctx, Invocation{Command: "migrate"}); err == nil {
		t.Fatal("LogInvocation on closed store should fail")
	}
	if err := Ping(ctx); err == nil {
		t.Fatal("Ping on closed store should fail")
	}
}

func TestConfigRoundTripAndOverwrite(t *testing.T) {
	withTempDB(t)
	ctx := context.Background()

	if _, err := GetConfig(ctx, "aesirx_analytics.settings"); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}

	if err := SetConfig(ctx, "aesirx_analytics.settings", []byte(`{"client_id":"a"}`)); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := SetConfig(ctx, "aesirx_analytics.settings", []byte(`{"client_id":"b"}`)); err != nil {
		t.Fatalf("SetConfig overwrite: %v", err)
	}

	got, err := GetConfig(ctx, "aesirx_analytics.settings")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if string(got) != `{"client_id":"b"}` {
		t.Fatalf("unexpected config %s", got)
	}

	if err := SetConfig(ctx, "  ", []byte("{}")); err == nil {
		t.Fatal("empty config name should be rejected")
	}
}

func TestInvocationLog(t *testing.T) {
	withTempDB(t)
	ctx := context.Background()

	if _, err := LogInvocation(ctx, Invocation{Command: " "}); err == nil {
		t.Fatal("expected command validation error")
	}

	for _, cmd := range []string{"migrate", "visitor init", "statistics visitors"} {
		if _, err := LogInvocation(ctx, Invocation{
			RequestID:  "req-" + cmd,
			Command:    cmd,
			ExitCode:   65,
			ErrorType:  "NotFoundError",
			DurationMS: -5,
		}); err != nil {
			t.Fatalf("LogInvocation(%s): %v", cmd, err)
		}
	}

	rows, err := RecentInvocations(ctx, 2)
	if err != nil {
		t.Fatalf("RecentInvocations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Command != "statistics visitors" || rows[1].Command != "visitor init" {
		t.Fatalf("unexpected order: %+v", rows)
	}
	if rows[0].ID == "" || rows[0].DurationMS != 0 || rows[0].RequestID != "req-statistics visitors" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestPing(t *testing.T) {
	withTempDB(t)
	if err := Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
