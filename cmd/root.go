package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/clienv"
	"analyticsbridge/internal/config"
	"analyticsbridge/internal/logger"
	"analyticsbridge/internal/settings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     config.Config
	log     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "analytics-bridge",
	Short: "Serve the analytics CLI over HTTP for a site",
	Long: `analytics-bridge downloads and runs the analytics CLI, answers the
analytics HTTP routes from it, and serves the admin settings, library status
and dashboard endpoints of the site integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		l, err := logger.New(logger.Options{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the command tree.
func Execute() error {
	defer func() { _ = log.Sync() }()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// newGateway builds the CLI gateway from the loaded config. The license comes
// from store so saved settings apply to the next run.
func newGateway(store clienv.LicenseSource, observer analytics.Observer) *analytics.Gateway {
	return analytics.New(analytics.Options{
		Path:           cfg.CLI.Path,
		Version:        cfg.CLI.Version,
		ReleaseBaseURL: cfg.CLI.ReleaseBaseURL,
		Timeout:        cfg.CLI.Timeout,
		Resolver:       clienv.NewResolver(cfg.Database.Connections, store, cfg.Database.Key, cfg.Database.Target),
		Observer:       observer,
		Logger:         log.Named("analytics"),
	})
}

// staticLicense serves the license from the config file for commands that do
// not open the settings store.
type staticLicense struct{}

func (staticLicense) License(context.Context) (string, error) {
	return cfg.Settings.License, nil
}

func seedSettings() settings.Settings {
	seed := cfg.Settings
	if seed.FirstPartyServer == "" {
		seed.FirstPartyServer = settings.ServerInternal
	}
	return seed
}
