package analytics

import (
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"analyticsbridge/internal/clienv"
	"analyticsbridge/internal/sysmon"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	// DefaultVersion is the CLI release the bridge downloads.
	DefaultVersion = "2.0.1"
	// DefaultReleaseBaseURL is where versioned CLI artifacts are published.
	DefaultReleaseBaseURL = "https://github.com/aesirxio/analytics/releases/download"

	migrateCommand = "migrate"
	executableMode = fs.FileMode(0o755)
	defaultTimeout = 30 * time.Second
)

// EnvResolver produces the environment for one CLI run.
type EnvResolver interface {
	Resolve(ctx context.Context) (clienv.Env, error)
}

// Outcome is the captured result of one CLI process.
type Outcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Success  bool
	Duration time.Duration
}

// Observation is reported to the Observer after every process run.
type Observation struct {
	Args      []string
	ExitCode  int
	ErrorType ErrorType
	Duration  time.Duration
	Err       error
}

// Command returns a low-cardinality label for the invoked subcommand: the
// leading arguments up to the first flag, at most two of them.
func (o Observation) Command() string {
	parts := make([]string, 0, 2)
	for _, a := range o.Args {
		if strings.HasPrefix(a, "-") || len(parts) == 2 {
			break
		}
		parts = append(parts, a)
	}
	if len(parts) == 0 {
		if len(o.Args) > 0 {
			return o.Args[0]
		}
		return "none"
	}
	return strings.Join(parts, " ")
}

// Observer receives one Observation per process run.
type Observer interface {
	ObserveInvocation(ctx context.Context, o Observation)
}

// Options configures a Gateway.
type Options struct {
	Path           string
	Version        string
	ReleaseBaseURL string
	// Timeout bounds one process run. Zero uses the default; negative disables it.
	Timeout    time.Duration
	Resolver   EnvResolver
	HTTPClient *http.Client
	// Platform overrides host detection.
	Platform func(ctx context.Context) (sysmon.Platform, error)
	Observer Observer
	Logger   *zap.Logger
}

// Gateway runs the analytics CLI as a child process and classifies the result.
type Gateway struct {
	path           string
	version        string
	releaseBaseURL string
	timeout        time.Duration
	resolver       EnvResolver
	client         *http.Client
	platform       func(ctx context.Context) (sysmon.Platform, error)
	observer       Observer
	logger         *zap.Logger
}

// New returns a Gateway for the CLI at opts.Path.
func New(opts Options) *Gateway {
	g := &Gateway{
		path:           opts.Path,
		version:        opts.Version,
		releaseBaseURL: strings.TrimRight(opts.ReleaseBaseURL, "/"),
		timeout:        opts.Timeout,
		resolver:       opts.Resolver,
		client:         opts.HTTPClient,
		platform:       opts.Platform,
		observer:       opts.Observer,
		logger:         opts.Logger,
	}
	if g.version == "" {
		g.version = DefaultVersion
	}
	if g.releaseBaseURL == "" {
		g.releaseBaseURL = DefaultReleaseBaseURL
	}
	if g.timeout == 0 {
		g.timeout = defaultTimeout
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 5 * time.Minute}
	}
	if g.platform == nil {
		g.platform = sysmon.Detect
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Path returns the CLI location.
func (g *Gateway) Path() string {
	return g.path
}

// PinnedVersion returns the release version Download fetches.
func (g *Gateway) PinnedVersion() string {
	return g.version
}

// Exists reports whether the CLI binary is present.
func (g *Gateway) Exists() bool {
	_, err := os.Stat(g.path)
	return err == nil
}

// Invoke runs the CLI with args and blocks until it exits.
//
// When ensureExecutable is set and the binary mode is not 0755, the mode is
// repaired and, unless args already is the migrate command, migrate runs once
// first (with ensureExecutable off, so it never recurses). A failing migrate
// aborts the call.
func (g *Gateway) Invoke(ctx context.Context, args []string, ensureExecutable bool) (Outcome, error) {
	if g.resolver == nil {
		return Outcome{}, &clienv.ConfigurationError{}
	}
	env, err := g.resolver.Resolve(ctx)
	if err != nil {
		return Outcome{}, err
	}

	info, err := os.Stat(g.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Outcome{}, &MissingBinaryError{Path: g.path}
		}
		return Outcome{}, errors.Wrapf(err, "stat analytics cli %s", g.path)
	}

	if ensureExecutable && info.Mode().Perm() != executableMode {
		g.logger.Info("repairing analytics cli permissions",
			zap.String("path", g.path),
			zap.Stringer("mode", info.Mode().Perm()),
		)
		if err := os.Chmod(g.path, executableMode); err != nil {
			return Outcome{}, errors.Wrapf(err, "chmod analytics cli %s", g.path)
		}
		if !isMigrate(args) {
			if _, err := g.Invoke(ctx, []string{migrateCommand}, false); err != nil {
				return Outcome{}, err
			}
		}
	}

	return g.run(ctx, args, env)
}

func (g *Gateway) run(ctx context.Context, args []string, env clienv.Env) (Outcome, error) {
	runCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, g.path, args...)
	cmd.Env = append(os.Environ(), env.Vars()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	out := Outcome{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	var err error
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		out.Success = true
	case runCtx.Err() != nil && ctx.Err() == nil:
		err = errors.Newf("analytics cli timed out after %s", g.timeout)
	case ctx.Err() != nil:
		err = errors.Wrap(ctx.Err(), "analytics cli run aborted")
	case errors.As(runErr, &exitErr):
		err = classifyFailure(out.ExitCode, out.Stderr)
	default:
		err = errors.Wrap(runErr, "start analytics cli")
	}

	g.observe(ctx, args, out, err)
	return out, err
}

func (g *Gateway) observe(ctx context.Context, args []string, out Outcome, err error) {
	obs := Observation{
		Args:     args,
		ExitCode: out.ExitCode,
		Duration: out.Duration,
		Err:      err,
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		obs.ErrorType = execErr.ErrorType
	}

	fields := []zap.Field{
		zap.String("command", obs.Command()),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration),
	}
	if execErr != nil {
		fields = append(fields, zap.Bool("structured", execErr.Structured()))
	}
	if err != nil {
		g.logger.Warn("analytics cli failed", append(fields, zap.String("error_type", string(obs.ErrorType)), zap.Error(err))...)
	} else {
		g.logger.Debug("analytics cli finished", fields...)
	}

	if g.observer != nil {
		g.observer.ObserveInvocation(ctx, obs)
	}
}

func isMigrate(args []string) bool {
	return len(args) == 1 && args[0] == migrateCommand
}

// Observers fans one Observation out to several observers.
type Observers []Observer

func (m Observers) ObserveInvocation(ctx context.Context, o Observation) {
	for _, obs := range m {
		if obs != nil {
			obs.ObserveInvocation(ctx, o)
		}
	}
}
