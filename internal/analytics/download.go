package analytics

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ArtifactURL returns the release URL of the CLI build for arch.
func (g *Gateway) ArtifactURL(arch string) string {
	return g.releaseBaseURL + "/" + g.version + "/analytics-cli-linux-" + arch
}

// Download fetches the pinned CLI build for this host, installs it at the
// configured path with mode 0755 and runs migrate against it.
func (g *Gateway) Download(ctx context.Context) error {
	arch, err := g.ResolvePlatformArch(ctx)
	if err != nil {
		return err
	}

	url := g.ArtifactURL(arch)
	g.logger.Info("downloading analytics cli", zap.String("url", url), zap.String("path", g.path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build download request")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := g.install(resp.Body); err != nil {
		return err
	}

	if _, err := g.Invoke(ctx, []string{migrateCommand}, true); err != nil {
		return errors.Wrap(err, "migrate after download")
	}
	return nil
}

// install writes the artifact next to its destination and renames it into
// place so a concurrent reader never sees a partial binary.
func (g *Gateway) install(r io.Reader) error {
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".analytics-cli-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, "write analytics cli")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, "close analytics cli")
	}
	if err := os.Chmod(tmpName, executableMode); err != nil {
		cleanup()
		return errors.Wrap(err, "chmod analytics cli")
	}
	if err := os.Rename(tmpName, g.path); err != nil {
		cleanup()
		return errors.Wrapf(err, "install analytics cli to %s", g.path)
	}
	return nil
}
