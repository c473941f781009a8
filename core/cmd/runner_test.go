package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/wgbot/core/config"
	coretelegram "github.com/m3rciful/wgbot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type fakeApp struct {
	closed  bool
	optsErr error
}

func (a *fakeApp) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{Config: &coreconfig.Config{}}, a.optsErr
}

func (a *fakeApp) Close() error {
	a.closed = true
	return nil
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("WGBOT_TEST_CONFIG", "/etc/wgbot/env.yaml")

	p, err := ResolveConfigPath("flag.yaml", "WGBOT_TEST_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "flag.yaml", p)

	p, err = ResolveConfigPath("", "WGBOT_TEST_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/wgbot/env.yaml", p)

	t.Setenv("WGBOT_TEST_CONFIG", "")
	p, err = ResolveConfigPath("", "WGBOT_TEST_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "default.yaml", p)

	_, err = ResolveConfigPath("", "WGBOT_TEST_CONFIG", "")
	assert.Error(t, err)
}

func TestRunWiresHooksAndClosesApp(t *testing.T) {
	app := &fakeApp{}
	var started, stopped bool
	err := Run(context.Background(), Options{
		ConfigPath:     "config.yaml",
		LoadConfig:     func(string) (ConfigCarrier, error) { return carrier{cfg: &coreconfig.Config{}}, nil },
		Bootstrap:      func(context.Context, ConfigCarrier) (TelegramApp, error) { return app, nil },
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			started = true
			require.NoError(t, opts.OnStop(ctx, coretelegram.Runtime{}))
			stopped = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, app.closed)
}

func TestRunStopsOnBadOptions(t *testing.T) {
	app := &fakeApp{optsErr: errors.New("no token")}
	err := Run(context.Background(), Options{
		ConfigPath:     "config.yaml",
		LoadConfig:     func(string) (ConfigCarrier, error) { return carrier{cfg: &coreconfig.Config{}}, nil },
		Bootstrap:      func(context.Context, ConfigCarrier) (TelegramApp, error) { return app, nil },
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(context.Context, coretelegram.RunOptions) error {
			t.Fatal("must not run")
			return nil
		},
	})
	require.Error(t, err)
	assert.True(t, app.closed)

	err = Run(context.Background(), Options{
		ConfigPath: "config.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) { return carrier{}, nil },
		Bootstrap:  func(context.Context, ConfigCarrier) (TelegramApp, error) { return app, nil },
	})
	assert.ErrorContains(t, err, "missing core configuration")
}
