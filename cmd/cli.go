package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Manage the analytics CLI library",
}

var cliExistsCmd = &cobra.Command{
	Use:   "exists",
	Short: "Report whether the library is installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := newGateway(staticLicense{}, nil)
		if !gw.Exists() {
			return errors.Newf("analytics cli not found at %s", gw.Path())
		}
		fmt.Fprintln(cmd.OutOrStdout(), gw.Path())
		return nil
	},
}

var cliCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the installed library against the pinned release",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := newGateway(staticLicense{}, nil).Check(cmd.Context())
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var cliArchCmd = &cobra.Command{
	Use:   "arch",
	Short: "Print the release architecture for this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := newGateway(staticLicense{}, nil)
		arch, err := gw.ResolvePlatformArch(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), arch)
		fmt.Fprintln(cmd.OutOrStdout(), gw.ArtifactURL(arch))
		return nil
	},
}

var cliDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the pinned release and run its migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := newGateway(staticLicense{}, nil)
		if err := gw.Download(cmd.Context()); err != nil {
			return errors.Wrap(err, "Downloading failed")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Library successfully downloaded.")
		return nil
	},
}

var cliRunCmd = &cobra.Command{
	Use:   "run -- [args...]",
	Short: "Run the library with the configured environment and print its output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newGateway(staticLicense{}, nil).Invoke(cmd.Context(), args, true)
		if len(out.Stdout) > 0 {
			_, _ = cmd.OutOrStdout().Write(out.Stdout)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(cliCmd)
	cliCmd.AddCommand(cliExistsCmd, cliCheckCmd, cliArchCmd, cliDownloadCmd, cliRunCmd)
}
