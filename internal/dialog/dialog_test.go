package dialog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/wgbot/core/persist"
	"github.com/m3rciful/wgbot/core/telegram/state"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/flatshare"
)

type fakeStore struct {
	members map[string]int64
	groups  map[int64]string
	bins    []string
	failAll error
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: map[string]int64{}, groups: map[int64]string{}}
}

func (f *fakeStore) IsUserRegistered(_ context.Context, chatID string) (bool, error) {
	if f.failAll != nil {
		return false, f.failAll
	}
	_, ok := f.members[chatID]
	return ok, nil
}

func (f *fakeStore) CreateGroupWithMember(_ context.Context, name, chatID, _ string) (int64, error) {
	if f.failAll != nil {
		return 0, f.failAll
	}
	if _, ok := f.members[chatID]; ok {
		return 0, flatshare.ErrAlreadyMember
	}
	id := int64(len(f.groups) + 1)
	f.groups[id] = name
	f.members[chatID] = id
	return id, nil
}

func (f *fakeStore) AddInhabitant(_ context.Context, chatID, _ string, groupID int64) error {
	if _, ok := f.groups[groupID]; !ok {
		return fmt.Errorf("flat share %d: %w", groupID, flatshare.ErrNotFound)
	}
	if _, ok := f.members[chatID]; ok {
		return flatshare.ErrAlreadyMember
	}
	f.members[chatID] = groupID
	return nil
}

func (f *fakeStore) LookupGroupForUser(_ context.Context, chatID string) (int64, error) {
	id, ok := f.members[chatID]
	if !ok {
		return 0, flatshare.ErrNotFound
	}
	return id, nil
}

func (f *fakeStore) AddBin(_ context.Context, sensorID, label string, full bool, groupID int64) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.bins = append(f.bins, fmt.Sprintf("%s/%s/%v/%d", sensorID, label, full, groupID))
	return nil
}

func newMachine(t *testing.T, store Store) (*Machine, *state.Store, persist.KV) {
	t.Helper()
	kv := persist.NewMemory()
	sessions, err := state.NewStore(context.Background(), kv, "dialogs", 30*time.Minute)
	require.NoError(t, err)
	return New(sessions, store), sessions, kv
}

var alex = chat.User{ID: 7, ChatID: "42", Name: "Alex"}

func text(u chat.User, s string) chat.Event { return chat.TextEvent{User: u, Text: s} }

func TestCreateGroupDialog(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m, sessions, _ := newMachine(t, store)

	assert.Equal(t, msgAskGroupName, m.Start(ctx, CreateGroup, alex).Text)
	assert.Equal(t, awaitGroupName, sessions.GetState(alex.ID))

	reply, ok := m.Handle(ctx, text(alex, "Kitchen Crew"))
	require.True(t, ok)
	assert.Equal(t, "Here is your WG id, share it with your inhabitants 1", reply.Text)
	assert.Equal(t, int64(1), store.members["42"])
	assert.False(t, m.Active(alex))
}

func TestCreateGroupRejectsRegisteredUser(t *testing.T) {
	store := newFakeStore()
	store.members["42"] = 3
	m, _, _ := newMachine(t, store)

	assert.Equal(t, msgAlreadyMember, m.Start(context.Background(), CreateGroup, alex).Text)
	assert.False(t, m.Active(alex))
}

func TestCreateGroupRepromptsOnBadName(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, newFakeStore())
	m.Start(ctx, CreateGroup, alex)

	reply, _ := m.Handle(ctx, text(alex, "this name is definitely longer than thirty chars"))
	assert.Contains(t, reply.Text, "1-30")
	assert.True(t, m.Active(alex))
}

func TestRepromptsRestartIdleTimer(t *testing.T) {
	long := "this text is definitely longer than thirty chars"
	cases := []struct {
		name  string
		kind  Kind
		steps []string
		bad   string
		want  state.State
	}{
		{name: "wg name", kind: CreateGroup, bad: long, want: awaitGroupName},
		{name: "group id", kind: JoinGroup, bad: "abc", want: awaitGroupID},
		{name: "sensor id", kind: AddBin, bad: long, want: awaitSensorID},
		{name: "bin label", kind: AddBin, steps: []string{"s-1"}, bad: long, want: awaitLabel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			sessions, err := state.NewStore(ctx, persist.NewMemory(), "dialogs", 30*time.Minute,
				state.WithClock(func() time.Time { return now }))
			require.NoError(t, err)
			store := newFakeStore()
			store.groups[1] = "Flat"
			if tc.kind == AddBin {
				store.members[alex.ChatID] = 1
			}
			m := New(sessions, store)
			m.Start(ctx, tc.kind, alex)
			for _, step := range tc.steps {
				m.Handle(ctx, text(alex, step))
			}

			for i := 0; i < 3; i++ {
				now = now.Add(20 * time.Minute)
				_, ok := m.Handle(ctx, text(alex, tc.bad))
				require.True(t, ok)
			}
			now = now.Add(20 * time.Minute)
			assert.Equal(t, tc.want, sessions.GetState(alex.ID))
		})
	}
}

func TestJoinGroupDialog(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.groups[1] = "Kitchen Crew"
	m, sessions, _ := newMachine(t, store)

	assert.Equal(t, msgAskGroupID, m.Start(ctx, JoinGroup, alex).Text)

	reply, _ := m.Handle(ctx, text(alex, "one"))
	assert.Equal(t, msgGroupIDNumeric, reply.Text)
	assert.Equal(t, awaitGroupID, sessions.GetState(alex.ID), "non-numeric input keeps the state")

	reply, _ = m.Handle(ctx, text(alex, " 1 "))
	assert.Equal(t, msgJoined, reply.Text)
	assert.False(t, m.Active(alex))
	assert.Equal(t, int64(1), store.members["42"])
}

func TestJoinUnknownGroupIsTerminal(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, newFakeStore())
	m.Start(ctx, JoinGroup, alex)

	reply, _ := m.Handle(ctx, text(alex, "99"))
	assert.Equal(t, msgUnknownGroup, reply.Text)
	assert.False(t, m.Active(alex))
}

func TestAddBinDialog(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.groups[1] = "Home"
	store.members["42"] = 1
	m, sessions, _ := newMachine(t, store)

	assert.Equal(t, msgAskSensorID, m.Start(ctx, AddBin, alex).Text)
	reply, _ := m.Handle(ctx, text(alex, "sensor-A"))
	assert.Equal(t, msgAskLabel, reply.Text)
	assert.Equal(t, awaitLabel, sessions.GetState(alex.ID))

	reply, _ = m.Handle(ctx, text(alex, "Bio"))
	assert.Equal(t, msgBinAdded, reply.Text)
	assert.Equal(t, []string{"sensor-A/Bio/false/1"}, store.bins)
	assert.False(t, m.Active(alex))
}

func TestAddBinRequiresRegistration(t *testing.T) {
	m, _, _ := newMachine(t, newFakeStore())
	assert.Equal(t, msgNeedGroup, m.Start(context.Background(), AddBin, alex).Text)
	assert.False(t, m.Active(alex))
}

func TestAttachmentRepromptsCurrentState(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newMachine(t, newFakeStore())
	m.Start(ctx, JoinGroup, alex)

	reply, ok := m.Handle(ctx, chat.AttachmentEvent{User: alex, Kind: "photo"})
	require.True(t, ok)
	assert.Contains(t, reply.Text, msgAskGroupID)
	assert.Equal(t, awaitGroupID, sessions.GetState(alex.ID))
}

func TestStartOverwritesOpenDialog(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.members["42"] = 1
	store.groups[1] = "Home"
	m, sessions, _ := newMachine(t, store)

	m.Start(ctx, AddBin, alex)
	m.Handle(ctx, text(alex, "sensor-A"))
	m.Start(ctx, JoinGroup, alex)

	assert.Equal(t, awaitGroupID, sessions.GetState(alex.ID))
	_, ok := sessions.GetTemp(alex.ID, keySensorID)
	assert.False(t, ok)
}

func TestHandleWithoutDialog(t *testing.T) {
	m, _, _ := newMachine(t, newFakeStore())
	_, ok := m.Handle(context.Background(), text(alex, "hello"))
	assert.False(t, ok)
}

func TestStorageFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m, _, _ := newMachine(t, store)
	m.Start(ctx, CreateGroup, alex)

	store.failAll = &flatshare.StorageError{Op: "create group", Err: assert.AnError}
	reply, _ := m.Handle(ctx, text(alex, "Home"))
	assert.Equal(t, msgFailure, reply.Text)
	assert.False(t, m.Active(alex))
}

func TestDialogSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m, _, kv := newMachine(t, store)
	m.Start(ctx, CreateGroup, alex)

	sessions, err := state.NewStore(ctx, kv, "dialogs", 30*time.Minute)
	require.NoError(t, err)
	restarted := New(sessions, store)

	reply, ok := restarted.Handle(ctx, text(alex, "Kitchen Crew"))
	require.True(t, ok)
	assert.Equal(t, "Here is your WG id, share it with your inhabitants 1", reply.Text)
}

func TestIsKind(t *testing.T) {
	k, ok := IsKind("join_wg")
	assert.True(t, ok)
	assert.Equal(t, JoinGroup, k)
	_, ok = IsKind("menu")
	assert.False(t, ok)
}
