package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m3rciful/wgbot/core/bootstrap"
	"github.com/m3rciful/wgbot/core/buildinfo"
	corecmd "github.com/m3rciful/wgbot/core/cmd"
	"github.com/m3rciful/wgbot/core/logger"
	coretelegram "github.com/m3rciful/wgbot/core/telegram"
	"github.com/m3rciful/wgbot/internal/app"
	"github.com/m3rciful/wgbot/internal/config"
)

const defaultConfigPath = "config.yaml"

// initLogger is replaced in tests so commands stay quiet.
var initLogger = logger.InitLogger

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "wgbot",
		Short:         "Telegram bot for WG chores and garbage bins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config (default $"+corecmd.DefaultConfigEnvVar+" or "+defaultConfigPath+")")

	cfgPath := func() string { return configPath }
	root.AddCommand(
		newServeCmd(cfgPath),
		newMigrateCmd(cfgPath),
		newClearCallbacksCmd(cfgPath),
		newCollectCmd(cfgPath),
		newDutyCmd(cfgPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), corecmd.Options{
				ConfigPath:        cfgPath(),
				DefaultConfigPath: defaultConfigPath,
				LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
					cfg, err := config.Load(path)
					if err != nil {
						return nil, err
					}
					return cfg, nil
				},
				Bootstrap: func(ctx context.Context, c corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
					cfg, ok := c.(*config.Config)
					if !ok {
						return nil, fmt.Errorf("unexpected config type %T", c)
					}
					return app.New(ctx, cfg, app.Options{})
				},
				RunTelegram: coretelegram.RunTelegram,
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wgbot "+buildinfo.String())
		},
	}
}

// loadOffline reads the config without requiring Telegram settings.
func loadOffline(cfgPath func() string) (*config.Config, error) {
	path, err := corecmd.ResolveConfigPath(cfgPath(), "", defaultConfigPath)
	if err != nil {
		return nil, err
	}
	return config.LoadOffline(path)
}

// withStore bootstraps the database for a maintenance command.
func withStore(ctx context.Context, cfg *config.Config, fn func(res *bootstrap.Result) error) error {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		LoggerInit: initLogger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = res.DB.Close()
		_ = logger.Shutdown()
	}()
	return fn(res)
}

func requireText(name, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}
