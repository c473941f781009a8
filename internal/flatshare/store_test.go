package flatshare

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/wgbot/core/database"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "wg.db")}
	db, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(ctx, db, cfg))
	return New(db)
}

func TestCreateGroupScenario(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	id, err := s.CreateGroup(ctx, "Kitchen Crew")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.NoError(t, s.AddInhabitant(ctx, "42", "Alex", id))
	registered, err := s.IsUserRegistered(ctx, "42")
	require.NoError(t, err)
	assert.True(t, registered)

	got, err := s.LookupGroupForUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestCreateGroupReturnsFreshIDs(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	seen := map[int64]bool{}
	for _, name := range []string{"A", "B", "C"} {
		id, err := s.CreateGroup(ctx, name)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}

func TestCreateGroupValidatesName(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	for _, name := range []string{"", strings.Repeat("x", MaxNameLen+1)} {
		_, err := s.CreateGroup(ctx, name)
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "create group", se.Op)
	}

	_, err := s.CreateGroup(ctx, strings.Repeat("ä", MaxNameLen))
	require.NoError(t, err, "limits count characters, not bytes")
}

func TestCreateGroupWithMember(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	id, err := s.CreateGroupWithMember(ctx, "Flat 3B", "7", strings.Repeat("n", 40))
	require.NoError(t, err)
	got, err := s.LookupGroupForUser(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	var name string
	require.NoError(t, s.db.GetContext(ctx, &name, `SELECT name FROM inhabitants WHERE chat_id = '7'`))
	assert.Len(t, name, MaxNameLen)

	_, err = s.CreateGroupWithMember(ctx, "Second", "7", "n")
	require.ErrorIs(t, err, ErrAlreadyMember)

	var groups int
	require.NoError(t, s.db.GetContext(ctx, &groups, `SELECT COUNT(*) FROM flat_shares`))
	assert.Equal(t, 1, groups, "failed founder insert rolls the group back")
}

func TestAddInhabitantErrors(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	err := s.AddInhabitant(ctx, "1", "Sam", 99)
	require.ErrorIs(t, err, ErrNotFound)

	id, err := s.CreateGroup(ctx, "Home")
	require.NoError(t, err)
	require.NoError(t, s.AddInhabitant(ctx, "1", "Sam", id))
	require.ErrorIs(t, s.AddInhabitant(ctx, "1", "Sam", id), ErrAlreadyMember)
}

func TestUserWithoutGroup(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	registered, err := s.IsUserRegistered(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, registered)

	_, err = s.LookupGroupForUser(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ListBinStates(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ListRecentDuties(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.RecordCompletedDuty(ctx, "nobody", "Dishes"), ErrNotFound)
}

func TestBinsToggleScenario(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	id, err := s.CreateGroupWithMember(ctx, "Kitchen Crew", "42", "Alex")
	require.NoError(t, err)

	require.NoError(t, s.AddBin(ctx, "sensor-A", "Bio", false, id))
	bins, err := s.ListBinStates(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []BinState{{Full: false, Label: "Bio"}}, bins)

	n, err := s.ToggleAllBins(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	bins, err = s.ListBinStates(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []BinState{{Full: true, Label: "Bio"}}, bins)
}

func TestToggleTwiceIsIdentity(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	id, err := s.CreateGroupWithMember(ctx, "Home", "1", "Sam")
	require.NoError(t, err)
	require.NoError(t, s.AddBin(ctx, "s1", "Papier", true, id))
	require.NoError(t, s.AddBin(ctx, "s2", "Rest", false, id))
	require.NoError(t, s.AddBin(ctx, "s3", "Glas", false, id))

	before, err := s.ListBinStates(ctx, "1")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = s.ToggleAllBins(ctx, id)
		require.NoError(t, err)
	}
	after, err := s.ListBinStates(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "Papier", after[0].Label, "insertion order")
}

func TestAddBinValidation(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	id, err := s.CreateGroup(ctx, "Home")
	require.NoError(t, err)

	var se *StorageError
	require.ErrorAs(t, s.AddBin(ctx, "", "Bio", false, id), &se)
	require.ErrorAs(t, s.AddBin(ctx, "s", strings.Repeat("b", 31), false, id), &se)
	require.ErrorIs(t, s.AddBin(ctx, "s", "Bio", false, id+1), ErrNotFound)
}

func TestListRecentDutiesBoundAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	_, err := s.CreateGroupWithMember(ctx, "Home", "1", "Sam")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		at := base.Add(time.Duration(i/2) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.RecordCompletedDuty(ctx, "1", "duty-"+string(rune('a'+i))))
	}

	duties, err := s.ListRecentDuties(ctx, "1")
	require.NoError(t, err)
	require.Len(t, duties, RecentDuties)
	for i := 1; i < len(duties); i++ {
		assert.False(t, duties[i].At.After(duties[i-1].At), "timestamps must not increase")
	}
	assert.Equal(t, "duty-l", duties[0].Description, "ties resolve to newest insertion")
	assert.Equal(t, "duty-k", duties[1].Description)
	assert.True(t, duties[0].At.Equal(base.Add(5*time.Minute)))
}

func TestDutyReferencesInhabitantRow(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	id, err := s.CreateGroupWithMember(ctx, "Home", "555", "Sam")
	require.NoError(t, err)
	require.NoError(t, s.RecordCompletedDuty(ctx, "555", "Trash out"))

	var d Duty
	require.NoError(t, s.db.GetContext(ctx, &d, `SELECT * FROM duties`))
	var inhabitant Inhabitant
	require.NoError(t, s.db.GetContext(ctx, &inhabitant, `SELECT * FROM inhabitants WHERE chat_id = '555'`))
	assert.Equal(t, inhabitant.ID, d.InhabitantID)
	assert.Equal(t, id, d.FlatShareID)
}

func TestStorageErrorUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := storageErr("add bin", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "flatshare add bin: disk full", err.Error())
}
