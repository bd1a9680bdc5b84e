package api

import (
	"net/http"

	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/router"
	"analyticsbridge/internal/settings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// bridge answers analytics routes from the CLI while the first-party server
// runs internally. Everything else falls through to next.
func (s *Server) bridge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st, err := s.settings.Load(ctx)
		if err != nil {
			s.logger.Warn("load settings failed, assuming internal server", zap.Error(err))
			st = settings.Default()
		}
		if !st.Internal() {
			next.ServeHTTP(w, r)
			return
		}

		path, ok := router.StripBasePath(r.URL.Path, s.cfg.Server.BasePath)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		inner := r.Clone(ctx)
		inner.URL.Path = path
		inner.URL.RawPath = ""

		match, err := s.router.Resolve(inner, auth.FromContext(ctx))
		if errors.Is(err, router.ErrNoRouteMatch) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			setRouteLabel(r, "bridge")
			status, msg := statusFor(err)
			writeBridgeError(w, status, msg)
			return
		}
		setRouteLabel(r, match.Name)

		out, err := s.cli.Invoke(ctx, match.Args, true)
		writeOutcome(w, out, err)
	})
}
