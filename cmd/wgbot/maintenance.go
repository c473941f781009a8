package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/wgbot/core/bootstrap"
	"github.com/m3rciful/wgbot/core/persist"
	"github.com/m3rciful/wgbot/core/telegram/callbacks"
	"github.com/m3rciful/wgbot/internal/app"
	"github.com/m3rciful/wgbot/internal/config"
	"github.com/m3rciful/wgbot/internal/flatshare"
	"github.com/m3rciful/wgbot/internal/menu"
)

func newMigrateCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadOffline(cfgPath)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(*bootstrap.Result) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Database.Driver)
				return nil
			})
		},
	}
}

func newClearCallbacksCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-callbacks",
		Short: "Forget every stored inline button",
		Long: "Forget every stored inline button. Run it while the bot is stopped; " +
			"a running bot keeps its own copy and should use /clear instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadOffline(cfgPath)
			if err != nil {
				return err
			}
			if cfg.State.Backend == persist.BackendDatabase {
				return withStore(cmd.Context(), cfg, func(res *bootstrap.Result) error {
					return clearCallbacks(cmd, cfg, persist.WithDB(res.DB))
				})
			}
			return clearCallbacks(cmd, cfg)
		},
	}
}

func clearCallbacks(cmd *cobra.Command, cfg *config.Config, opts ...persist.OpenOption) error {
	ctx := cmd.Context()
	kv, err := persist.Open(ctx, cfg.State.Config, opts...)
	if err != nil {
		return err
	}
	defer kv.Close()

	reg, err := callbacks.NewRegistry[menu.Payload](ctx, kv, app.NamespaceCallbacks, cfg.State.CallbackCapacity)
	if err != nil {
		return err
	}
	n := reg.Len()
	if err := reg.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %d callbacks\n", n)
	return nil
}

func newCollectCmd(cfgPath func() string) *cobra.Command {
	var groupID int64
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Flip the full flag of every bin of a WG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if groupID <= 0 {
				return fmt.Errorf("--group must be a positive WG id")
			}
			cfg, err := loadOffline(cfgPath)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(res *bootstrap.Result) error {
				n, err := flatshare.New(res.DB).ToggleAllBins(cmd.Context(), groupID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "toggled %d bins\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&groupID, "group", 0, "WG id")
	return cmd
}

func newDutyCmd(cfgPath func() string) *cobra.Command {
	var chatID, text string
	cmd := &cobra.Command{
		Use:   "duty",
		Short: "Record a completed duty for an inhabitant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chat, err := requireText("chat", chatID)
			if err != nil {
				return err
			}
			desc, err := requireText("text", text)
			if err != nil {
				return err
			}
			cfg, err := loadOffline(cfgPath)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(res *bootstrap.Result) error {
				if err := flatshare.New(res.DB).RecordCompletedDuty(cmd.Context(), chat, desc); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "duty recorded")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "inhabitant chat id")
	cmd.Flags().StringVar(&text, "text", "", "duty description")
	return cmd
}
