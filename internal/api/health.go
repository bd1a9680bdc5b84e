package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"analyticsbridge/internal/database"
	"analyticsbridge/internal/deps"
	"analyticsbridge/internal/state"
)

const defaultMySQLPort = "3306"

// handleHealth is liveness only.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady checks the settings store and, while the internal server is
// active, the CLI library. External dependencies are probed when required.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]interface{}, 4)

	ctx, cancel := context.WithTimeout(r.Context(), s.readinessTimeout())
	defer cancel()

	dbCheck := map[string]interface{}{
		"name":    "database",
		"healthy": true,
		"target":  "sqlite",
	}
	if err := database.Ping(ctx); err != nil {
		dbCheck["healthy"] = false
		dbCheck["error"] = err.Error()
		ready = false
	}
	checks["database"] = dbCheck

	st, err := s.settings.Load(ctx)
	internal := err != nil || st.Internal()
	if internal {
		status := state.GetLibraryStatus()
		if status.CheckedAt == 0 {
			status = s.checkLibrary(r)
		}
		checks["cli_library"] = map[string]interface{}{
			"name":    "cli_library",
			"healthy": status.Usable(),
			"state":   status.State,
			"message": status.Message,
		}
		if !status.Usable() {
			ready = false
		}
	}

	required := s.cfg.Readiness.RequireDependencies
	if required {
		results, healthy := deps.Probe(ctx, s.dependencyConfig())
		for _, res := range results {
			checks[res.Name] = res
		}
		if !healthy {
			ready = false
		}
	}

	payload := map[string]interface{}{
		"status":                "ready",
		"internal_server":       internal,
		"dependencies_required": required,
		"checks":                checks,
	}
	if !ready {
		payload["status"] = "not-ready"
		s.writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) readinessTimeout() time.Duration {
	if t := s.cfg.Readiness.Timeout; t > 0 {
		// Leave headroom for the local checks around the probes.
		return 2 * t
	}
	return 2 * time.Second
}

// dependencyConfig targets the analytics database the CLI will use and the
// proxied site.
func (s *Server) dependencyConfig() deps.Config {
	cfg := deps.Config{
		Required:    true,
		UpstreamURL: s.cfg.Site.Upstream,
		Timeout:     s.cfg.Readiness.Timeout,
	}
	conn, ok := s.cfg.Database.Connections.ConnectionInfo(s.cfg.Database.Key, s.cfg.Database.Target)
	if ok && conn.Host != "" {
		port := conn.Port
		if port == "" {
			port = defaultMySQLPort
		}
		cfg.DatabaseAddr = net.JoinHostPort(conn.Host, port)
	}
	return cfg
}
