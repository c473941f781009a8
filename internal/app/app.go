// Package app assembles the wgbot runtime from configuration: database,
// session persistence, dialog and menu machines and the Telegram wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wgbot/core/bootstrap"
	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/core/metrics"
	"github.com/m3rciful/wgbot/core/persist"
	coretelegram "github.com/m3rciful/wgbot/core/telegram"
	"github.com/m3rciful/wgbot/core/telegram/callbacks"
	"github.com/m3rciful/wgbot/core/telegram/state"
	"github.com/m3rciful/wgbot/internal/bot"
	"github.com/m3rciful/wgbot/internal/config"
	"github.com/m3rciful/wgbot/internal/dialog"
	"github.com/m3rciful/wgbot/internal/flatshare"
	"github.com/m3rciful/wgbot/internal/menu"
)

// Session namespaces inside the KV backend.
const (
	NamespaceDialogs   = "dialogs"
	NamespaceMenus     = "menus"
	NamespaceCallbacks = "callbacks"
)

// Options lets tests replace the bootstrap pipeline.
type Options struct {
	Bootstrap bootstrap.Options
}

// App owns every long-lived resource of the bot.
type App struct {
	cfg *config.Config

	db *sqlx.DB
	kv persist.KV

	Store     *flatshare.Store
	Dialogs   *state.Store
	Menus     *state.Store
	Callbacks *callbacks.Registry[menu.Payload]
	Bot       *bot.Bot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects storage and builds the machines. Resources opened before a
// failure are closed again.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	bopts := opts.Bootstrap
	bopts.Config = cfg.CoreConfig()
	bopts.Database = cfg.Database
	res, err := bootstrap.Run(ctx, bopts)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, db: res.DB, Store: flatshare.New(res.DB)}
	if err := a.openState(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Bot = bot.New(dialog.New(a.Dialogs, a.Store), menu.New(a.Menus, a.Callbacks, a.Store), a.Callbacks)
	logger.Info(ctx, "app", "app.assembled",
		slog.String("state_backend", cfg.State.Backend),
		slog.String("db_driver", cfg.Database.Driver),
		slog.Int("callbacks", a.Callbacks.Len()),
	)
	return a, nil
}

func (a *App) openState(ctx context.Context) error {
	kv, err := persist.Open(ctx, a.cfg.State.Config, persist.WithDB(a.db))
	if err != nil {
		return fmt.Errorf("app: open state backend: %w", err)
	}
	a.kv = kv

	st := a.cfg.State
	if a.Dialogs, err = state.NewStore(ctx, kv, NamespaceDialogs, st.DialogTTL); err != nil {
		return fmt.Errorf("app: load dialog sessions: %w", err)
	}
	if a.Menus, err = state.NewStore(ctx, kv, NamespaceMenus, st.MenuTTL); err != nil {
		return fmt.Errorf("app: load menu sessions: %w", err)
	}
	if a.Callbacks, err = callbacks.NewRegistry[menu.Payload](ctx, kv, NamespaceCallbacks, st.CallbackCapacity); err != nil {
		return fmt.Errorf("app: load callbacks: %w", err)
	}
	return nil
}

// TelegramRunOptions describes the bot for coretelegram.RunTelegram.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	if err := a.Bot.Register(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}
	core := a.cfg.CoreConfig()
	return coretelegram.RunOptions{
		Config:      core,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(core, func(c tele.Context) error { return a.Bot.SlowDown(c) }),
		Routes:      a.Bot.Routes(reg, core.Telegram.AdminID),
		OnStart: func(ctx context.Context, _ coretelegram.Runtime) error {
			a.Start(ctx)
			return nil
		},
		OnStop: func(context.Context, coretelegram.Runtime) error {
			a.Stop()
			return nil
		},
	}, nil
}

// Start launches the session janitors and the metrics endpoint.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	interval := a.cfg.State.SweepInterval
	for _, s := range []*state.Store{a.Dialogs, a.Menus} {
		a.wg.Add(1)
		go func(s *state.Store) {
			defer a.wg.Done()
			s.Run(ctx, interval)
		}(s)
	}
	if listen := a.cfg.Metrics.Listen; listen != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := metrics.Serve(ctx, listen); err != nil {
				logger.Error(ctx, "app", "metrics.failed", slog.String("err", err.Error()))
			}
		}()
	}
}

// Stop cancels what Start launched and waits for it.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Close releases the state backend and the database.
func (a *App) Close() error {
	a.Stop()
	var errs []error
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
