package deps

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const defaultTimeout = 800 * time.Millisecond

// Config lists the external services readiness depends on. Empty targets are
// skipped.
type Config struct {
	Required     bool
	DatabaseAddr string
	UpstreamURL  string
	Timeout      time.Duration
}

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

type probe struct {
	name   string
	target string
	run    func(ctx context.Context, target string) error
}

// Probe checks every configured dependency concurrently. healthy is true when
// all of them answered.
func Probe(ctx context.Context, cfg Config) ([]CheckResult, bool) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var probes []probe
	if cfg.DatabaseAddr != "" {
		probes = append(probes, probe{name: "analytics_database", target: cfg.DatabaseAddr, run: probeTCP})
	}
	if cfg.UpstreamURL != "" {
		probes = append(probes, probe{name: "site_upstream", target: cfg.UpstreamURL, run: probeHTTP})
	}

	results := make([]CheckResult, len(probes))
	var wg sync.WaitGroup
	wg.Add(len(probes))
	for i, p := range probes {
		go func(i int, p probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := CheckResult{Name: p.name, Target: p.target}
			if err := p.run(pctx, p.target); err != nil {
				res.Error = err.Error()
			} else {
				res.Healthy = true
			}
			results[i] = res
		}(i, p)
	}
	wg.Wait()

	healthy := true
	for _, r := range results {
		if !r.Healthy {
			healthy = false
		}
	}
	return results, healthy
}

func probeTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func probeHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errors.Newf("status %d", resp.StatusCode)
	}
	return nil
}
