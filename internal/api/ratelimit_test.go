package api

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func staleEntry(seen time.Time) *limiterEntry {
	return &limiterEntry{limiter: rate.NewLimiter(1, 1), failStart: seen, lastSeen: seen}
}

func TestRateLimiterPruneRemovesStaleEntries(t *testing.T) {
	now := time.Now()
	limiter := newRateLimiterWithBounds(2, 10, 10, 10*time.Minute, 10, time.Minute, 1)

	limiter.entries["stale"] = staleEntry(now.Add(-2 * time.Hour))
	blocked := staleEntry(now.Add(-2 * time.Hour))
	blocked.blockedUntil = now.Add(5 * time.Minute)
	limiter.entries["blocked-stale"] = blocked
	limiter.entries["fresh"] = staleEntry(now)

	limiter.pruneLocked(now)

	if _, ok := limiter.entries["stale"]; ok {
		t.Fatal("expected stale entry to be pruned")
	}
	if _, ok := limiter.entries["blocked-stale"]; !ok {
		t.Fatal("expected blocked stale entry to be retained")
	}
	if _, ok := limiter.entries["fresh"]; !ok {
		t.Fatal("expected fresh entry to be retained")
	}
}

func TestRateLimiterPruneCapsEntriesPrefersNonBlockedEviction(t *testing.T) {
	now := time.Now()
	limiter := newRateLimiterWithBounds(2, 10, 10, 10*time.Minute, 2, 24*time.Hour, 1)

	blocked := staleEntry(now.Add(-2 * time.Hour))
	blocked.blockedUntil = now.Add(3 * time.Minute)
	limiter.entries["blocked"] = blocked
	limiter.entries["u-old"] = staleEntry(now.Add(-90 * time.Minute))
	limiter.entries["u-new"] = staleEntry(now.Add(-30 * time.Minute))

	limiter.pruneLocked(now)

	if len(limiter.entries) != 2 {
		t.Fatalf("expected capped entry count 2, got %d", len(limiter.entries))
	}
	if _, ok := limiter.entries["blocked"]; !ok {
		t.Fatal("expected blocked entry to be retained while trimming")
	}
	if _, ok := limiter.entries["u-old"]; ok {
		t.Fatal("expected oldest unblocked entry to be evicted")
	}
	if _, ok := limiter.entries["u-new"]; !ok {
		t.Fatal("expected newer unblocked entry to be retained")
	}
}

func TestRateLimiterAllowTriggersBoundedPrune(t *testing.T) {
	now := time.Now()
	limiter := newRateLimiterWithBounds(2, 10, 10, 10*time.Minute, 2, 24*time.Hour, 1)

	limiter.entries["old-1"] = staleEntry(now.Add(-3 * time.Hour))
	limiter.entries["old-2"] = staleEntry(now.Add(-2 * time.Hour))
	limiter.entries["old-3"] = staleEntry(now.Add(-1 * time.Hour))

	if allowed := limiter.allow("fresh"); !allowed {
		t.Fatal("expected fresh request to be allowed")
	}
	if len(limiter.entries) > limiter.maxEntries {
		t.Fatalf("expected bounded map size <= %d, got %d", limiter.maxEntries, len(limiter.entries))
	}
	if _, ok := limiter.entries["fresh"]; !ok {
		t.Fatal("expected fresh entry to remain after prune")
	}
}

func TestRateLimiterBurstThenRefuse(t *testing.T) {
	limiter := newRateLimiter(0.001, 3, 10, time.Minute)
	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("expected request %d inside burst to pass", i)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("expected request beyond burst to be refused")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatal("expected other client to have its own bucket")
	}
}

func TestRateLimiterDisabledWhenRateIsZero(t *testing.T) {
	limiter := newRateLimiter(0, 1, 10, time.Minute)
	for i := 0; i < 100; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("expected unlimited limiter to allow request %d", i)
		}
	}
}

func TestRateLimiterAuthFailuresBlock(t *testing.T) {
	limiter := newRateLimiter(0, 1, 3, time.Minute)

	if limiter.addAuthFailure("10.0.0.9") || limiter.addAuthFailure("10.0.0.9") {
		t.Fatal("expected no block before the limit")
	}
	limiter.clearAuthFailures("10.0.0.9")
	if limiter.addAuthFailure("10.0.0.9") {
		t.Fatal("expected cleared counter to restart")
	}
	limiter.addAuthFailure("10.0.0.9")
	if !limiter.addAuthFailure("10.0.0.9") {
		t.Fatal("expected third failure to block")
	}
	if limiter.allow("10.0.0.9") {
		t.Fatal("expected blocked client to be refused")
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8080": "127.0.0.1",
		"[::1]:9000":     "::1",
		"10.0.0.3":       "10.0.0.3",
	}
	for in, want := range cases {
		if got := clientIP(in); got != want {
			t.Fatalf("clientIP(%q) = %q, want %q", in, got, want)
		}
	}
}
