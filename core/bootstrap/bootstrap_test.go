package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/wgbot/core/config"
	coredatabase "github.com/m3rciful/wgbot/core/database"
)

func quietLogger(*coreconfig.Config) error { return nil }

func TestRunConnectsAndMigratesSQLite(t *testing.T) {
	dbCfg := coredatabase.Config{Driver: coredatabase.DriverSQLite, Path: filepath.Join(t.TempDir(), "wg.db")}
	res, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Database:   dbCfg,
		LoggerInit: quietLogger,
	})
	require.NoError(t, err)
	defer res.DB.Close()

	var n int
	require.NoError(t, res.DB.Get(&n, `SELECT COUNT(*) FROM flat_shares`))
	assert.Zero(t, n)
}

func TestRunClosesDBWhenMigrationFails(t *testing.T) {
	var opened *sqlx.DB
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Database:   coredatabase.Config{Driver: coredatabase.DriverSQLite, Path: ":memory:"},
		LoggerInit: quietLogger,
		Connect: func(ctx context.Context, cfg coredatabase.Config) (*sqlx.DB, error) {
			db, err := coredatabase.Connect(ctx, cfg)
			opened = db
			return db, err
		},
		Migrate: func(context.Context, *sqlx.DB, coredatabase.Config) error {
			return errors.New("dirty schema")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty schema")
	require.NotNil(t, opened)
	assert.Error(t, opened.Ping())
}

func TestRunRejectsNilConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRunPropagatesLoggerFailure(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return errors.New("no sink") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger init failed")
}
