package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/config"
	"analyticsbridge/internal/metrics"
	"analyticsbridge/internal/router"
	"analyticsbridge/internal/settings"
	"analyticsbridge/internal/state"
	"analyticsbridge/internal/visibility"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	authFailLimit      = 10
	authBlockDuration  = 10 * time.Minute
	defaultStopTimeout = 5 * time.Second
)

// CLI is the part of the analytics gateway the HTTP layer drives.
type CLI interface {
	Invoke(ctx context.Context, args []string, ensureExecutable bool) (analytics.Outcome, error)
	Check(ctx context.Context) state.LibraryStatus
	Download(ctx context.Context) error
}

// Deps are the collaborators of a Server. Metrics and Logger may be nil.
type Deps struct {
	Config   config.Config
	CLI      CLI
	Router   *router.Router
	Auth     *auth.TokenAuthenticator
	Settings settings.Store
	Metrics  *metrics.Store
	Logger   *zap.Logger
}

// Server serves the bridge routes, the admin surface and the site fallback.
type Server struct {
	cfg      config.Config
	cli      CLI
	router   *router.Router
	auth     *auth.TokenAuthenticator
	settings settings.Store
	metrics  *metrics.Store
	logger   *zap.Logger
	limiter  *rateLimiter
	aliases  visibility.AliasResolver
	fallback http.Handler
}

func NewServer(d Deps) (*Server, error) {
	if d.CLI == nil || d.Router == nil || d.Settings == nil {
		return nil, errors.New("api: cli, router and settings are required")
	}
	s := &Server{
		cfg:      d.Config,
		cli:      d.CLI,
		router:   d.Router,
		auth:     d.Auth,
		settings: d.Settings,
		metrics:  d.Metrics,
		logger:   d.Logger,
		limiter:  newRateLimiter(d.Config.Server.RateLimit, d.Config.Server.RateBurst, authFailLimit, authBlockDuration),
		aliases:  visibility.Aliases(d.Config.Site.Aliases),
	}
	if s.auth == nil {
		s.auth = auth.NewTokenAuthenticator(nil)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewStore()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	fallback, err := s.newFallback()
	if err != nil {
		return nil, err
	}
	s.fallback = fallback
	return s, nil
}

// Handler returns the full middleware chain: security, then the bridge, then
// the service routes, then the site fallback.
func (s *Server) Handler() http.Handler {
	return s.withSecurity(s.bridge(s.serviceRoutes()))
}

func (s *Server) serviceRoutes() http.Handler {
	root := mux.NewRouter()
	r := root
	if base := s.cfg.Server.BasePath; base != "" {
		r = root.PathPrefix(base).Subrouter()
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet).Name("healthz")
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet).Name("readyz")
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet).Name("metrics")

	admin := r.PathPrefix("/admin/analytics").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/cli", s.handleLibraryStatus).Methods(http.MethodGet).Name("admin.cli")
	admin.HandleFunc("/cli/download", s.handleLibraryDownload).Methods(http.MethodPost).Name("admin.cli.download")
	admin.HandleFunc("/settings", s.handleSettingsGet).Methods(http.MethodGet).Name("admin.settings")
	admin.HandleFunc("/settings", s.handleSettingsSubmit).Methods(http.MethodPost, http.MethodPut).Name("admin.settings.submit")
	admin.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet).Name("admin.dashboard")
	admin.HandleFunc("/invocations", s.handleInvocations).Methods(http.MethodGet).Name("admin.invocations")

	root.NotFoundHandler = s.fallback
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONErrorForRequest(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	// Label service traffic by mux route name.
	root.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
				setRouteLabel(r, route.GetName())
			}
			next.ServeHTTP(w, r)
		})
	})
	return root
}

// StartServer runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	stop, errCh, err := s.Start()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")
	case err := <-errCh:
		return err
	}
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := stop(stopCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Start listens on the configured address and serves in the background. The
// returned channel carries a fatal serve error.
func (s *Server) Start() (func(ctx context.Context) error, <-chan error, error) {
	addr := resolveBindAddr(s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listen on %s", addr)
	}
	if !isLoopback(s.cfg.Server.Host) {
		s.logger.Warn("binding to a non-loopback address", zap.String("addr", addr))
	}
	if len(s.cfg.Auth.Tokens) == 0 {
		s.logger.Warn("no auth tokens configured, protected routes will answer 403")
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.writeTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "serve")
		}
	}()

	stop := func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		return nil
	}
	return stop, errCh, nil
}

// writeTimeout leaves room for a CLI run to finish before the connection is
// cut.
func (s *Server) writeTimeout() time.Duration {
	timeout := 15 * time.Second
	if t := s.cfg.CLI.Timeout; t > 0 && t+5*time.Second > timeout {
		timeout = t + 5*time.Second
	}
	return timeout
}

func resolveBindAddr(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
