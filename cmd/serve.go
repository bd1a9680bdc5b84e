package cmd

import (
	"os"
	"path/filepath"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/api"
	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/database"
	"analyticsbridge/internal/metrics"
	"analyticsbridge/internal/router"
	"analyticsbridge/internal/settings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "bind host")
	serveCmd.Flags().Int("port", 0, "bind port")
	serveCmd.Flags().String("base-path", "", "path prefix the site is served under")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.base_path", serveCmd.Flags().Lookup("base-path"))
}

func runServe(cmd *cobra.Command) error {
	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create store directory %s", dir)
		}
	}
	if err := database.InitDB(cfg.Store.Path); err != nil {
		return err
	}
	defer database.CloseDB()

	store := settings.NewDatabaseStore(seedSettings(), log.Named("settings"))
	metricsStore := metrics.NewStore()
	gateway := newGateway(store, analytics.Observers{
		metricsStore,
		api.NewAuditObserver(log.Named("audit")),
	})

	status := gateway.Check(cmd.Context())
	metricsStore.SetLibraryUsable(status.Usable())
	log.Info("cli library checked",
		zap.String("state", status.State),
		zap.String("message", status.Message),
		zap.String("path", gateway.Path()),
	)

	server, err := api.NewServer(api.Deps{
		Config:   cfg,
		CLI:      gateway,
		Router:   router.New(router.DefaultRoutes(), router.RequirePermission(router.AdminPermission)),
		Auth:     auth.NewTokenAuthenticator(cfg.Auth.Tokens),
		Settings: store,
		Metrics:  metricsStore,
		Logger:   log.Named("api"),
	})
	if err != nil {
		return err
	}
	return server.StartServer(cmd.Context())
}
