package analytics

import (
	"context"
	"regexp"
	"strings"

	"analyticsbridge/internal/state"

	"github.com/cockroachdb/errors"
	goversion "github.com/hashicorp/go-version"
)

var versionPattern = regexp.MustCompile(`v?\d+(\.\d+)+(-[0-9A-Za-z.-]+)?`)

// Version runs the CLI with --version and returns the reported version.
func (g *Gateway) Version(ctx context.Context) (*goversion.Version, error) {
	out, err := g.Invoke(ctx, []string{"--version"}, true)
	if err != nil {
		return nil, err
	}
	return parseVersion(string(out.Stdout))
}

func parseVersion(output string) (*goversion.Version, error) {
	raw := versionPattern.FindString(strings.TrimSpace(output))
	if raw == "" {
		return nil, errors.Newf("no version in analytics cli output %q", strings.TrimSpace(output))
	}
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse analytics cli version %q", raw)
	}
	return v, nil
}

// Check inspects the installed CLI and records the result in the shared
// library status.
func (g *Gateway) Check(ctx context.Context) state.LibraryStatus {
	st := state.LibraryStatus{Pinned: g.version}

	arch, archErr := g.ResolvePlatformArch(ctx)
	st.Arch = arch

	if !g.Exists() {
		if archErr != nil {
			st.State = state.LibraryError
			st.Message = archErr.Error()
		} else {
			st.State = state.LibraryMissing
			st.Message = "CLI library is not installed."
		}
		state.UpdateLibraryStatus(st)
		return state.GetLibraryStatus()
	}

	v, err := g.Version(ctx)
	if err != nil {
		st.State = state.LibraryError
		st.Message = "CLI library check: Failed: " + err.Error()
		state.UpdateLibraryStatus(st)
		return state.GetLibraryStatus()
	}

	st.State = state.LibraryExists
	st.Message = "CLI library check: Passed"
	st.Version = v.String()
	if pinned, err := goversion.NewVersion(g.version); err == nil && v.LessThan(pinned) {
		st.Outdated = true
	}
	state.UpdateLibraryStatus(st)
	return state.GetLibraryStatus()
}
