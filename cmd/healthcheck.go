package cmd

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

const envHealthcheckURL = "ANALYTICS_BRIDGE_HEALTHCHECK_URL"

var healthcheckTimeout time.Duration

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck [url]",
	Short: "Probe a running bridge, for container health checks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		healthURL := resolveHealthcheckURL(args)
		client := &http.Client{Timeout: healthcheckTimeout}
		if err := probeHealth(client, healthURL); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return errors.Newf("healthcheck timed out: %s", healthURL)
			}
			return errors.Wrapf(err, "healthcheck failed (%s)", healthURL)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 2*time.Second, "probe timeout")
}

// resolveHealthcheckURL prefers an explicit argument, then the environment,
// then the configured listen address.
func resolveHealthcheckURL(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if raw := strings.TrimSpace(os.Getenv(envHealthcheckURL)); raw != "" {
		return raw
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + cfg.Server.BasePath + "/healthz"
}

func probeHealth(client *http.Client, healthURL string) error {
	resp, err := client.Get(healthURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("unexpected health status %d", resp.StatusCode)
	}
	return nil
}
