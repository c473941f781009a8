package persist

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	ctx := context.Background()

	sqliteKV, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisKV := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")

	all := map[string]KV{
		BackendMemory: NewMemory(),
		BackendSQLite: sqliteKV,
		BackendRedis:  redisKV,
	}
	t.Cleanup(func() {
		for _, kv := range all {
			_ = kv.Close()
		}
	})
	return all
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := kv.Load(ctx, "dialogs")
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, kv.Put(ctx, "dialogs", "7", []byte(`{"state":"a"}`)))
			require.NoError(t, kv.Put(ctx, "dialogs", "7", []byte(`{"state":"b"}`)))
			require.NoError(t, kv.Put(ctx, "dialogs", "8", []byte("x")))
			require.NoError(t, kv.Put(ctx, "menus", "7", []byte("root")))

			got, err := kv.Load(ctx, "dialogs")
			require.NoError(t, err)
			assert.Equal(t, map[string][]byte{"7": []byte(`{"state":"b"}`), "8": []byte("x")}, got)

			require.NoError(t, kv.Delete(ctx, "dialogs", "8", "missing"))
			got, err = kv.Load(ctx, "dialogs")
			require.NoError(t, err)
			assert.Len(t, got, 1)

			require.NoError(t, kv.Clear(ctx, "dialogs"))
			got, err = kv.Load(ctx, "dialogs")
			require.NoError(t, err)
			assert.Empty(t, got)

			menus, err := kv.Load(ctx, "menus")
			require.NoError(t, err)
			assert.Equal(t, []byte("root"), menus["7"])
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "callbacks", "tok", []byte("payload")))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Load(ctx, "callbacks")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got["tok"])
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, Config{Backend: "Memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, kv)

	mr := miniredis.RunT(t)
	kv, err = Open(ctx, Config{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "menus", "1", []byte("v")))
	assert.True(t, mr.Exists("wgbot:menus"))
	require.NoError(t, kv.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpenDatabaseBackendSharesConnection(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Backend: BackendDatabase})
	require.ErrorIs(t, err, ErrNoDatabase)

	db, err := sqlx.Connect("sqlite", "file:"+filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	kv, err := Open(ctx, Config{Backend: BackendDatabase}, WithDB(db))
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "menus", "1", []byte("v")))
	require.NoError(t, kv.Close())

	// The connection stays usable after the KV is closed.
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM kv_entries WHERE namespace = 'menus'`))
	assert.Equal(t, 1, n)
}

func TestSQLOverPostgres(t *testing.T) {
	ctx := context.Background()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("value      BYTEA NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv_entries (namespace, key, value) VALUES ($1, $2, $3)")).
		WithArgs("callbacks", "tok", []byte("payload")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM kv_entries WHERE namespace = $1")).
		WithArgs("callbacks").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("tok", []byte("payload")))

	kv, err := Open(ctx, Config{Backend: BackendDatabase}, WithDB(db))
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "callbacks", "tok", []byte("payload")))
	got, err := kv.Load(ctx, "callbacks")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got["tok"])
	require.NoError(t, mock.ExpectationsWereMet())
}
