package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/m3rciful/wgbot/core/persist"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, kv persist.KV, clk *clock) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), kv, "dialogs", 30*time.Minute, WithClock(clk.Now))
	require.NoError(t, err)
	return s
}

func TestStoreDefaultsToIdle(t *testing.T) {
	s := newStore(t, persist.NewMemory(), &clock{now: time.Now()})
	assert.Equal(t, StateIdle, s.GetState(7))
	assert.False(t, s.InProgress(7))
	_, ok := s.GetTemp(7, "name")
	assert.False(t, ok)
}

func TestStoreTransitionsKeepScratch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, persist.NewMemory(), &clock{now: time.Now()})

	prev, err := s.Begin(ctx, 7, "add_bin.sensor")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, prev)
	require.NoError(t, s.SetTemp(ctx, 7, "sensor_id", "sensor-A"))
	require.NoError(t, s.SetState(ctx, 7, "add_bin.label"))

	v, ok := s.GetTemp(7, "sensor_id")
	require.True(t, ok)
	assert.Equal(t, "sensor-A", v)
	assert.True(t, s.InProgress(7))

	prev, err = s.Begin(ctx, 7, "join.group_id")
	require.NoError(t, err)
	assert.Equal(t, State("add_bin.label"), prev)
	_, ok = s.GetTemp(7, "sensor_id")
	assert.False(t, ok, "Begin discards scratch data of the abandoned dialog")

	require.NoError(t, s.Clear(ctx, 7))
	assert.Equal(t, StateIdle, s.GetState(7))
}

func TestStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, persist.NewMemory(), &clock{now: time.Now()})
	require.NoError(t, s.SetTemp(ctx, 1, "k", "v"))

	snap := s.Get(1)
	snap.Data["k"] = "mutated"

	v, _ := s.GetTemp(1, "k")
	assert.Equal(t, "v", v)
}

func TestStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	clk := &clock{now: time.Now()}

	first := newStore(t, kv, clk)
	_, err := first.Begin(ctx, 42, "create.name")
	require.NoError(t, err)
	require.NoError(t, first.SetTemp(ctx, 42, "draft", "Kitchen Crew"))

	second := newStore(t, kv, clk)
	assert.Equal(t, State("create.name"), second.GetState(42))
	v, ok := second.GetTemp(42, "draft")
	require.True(t, ok)
	assert.Equal(t, "Kitchen Crew", v)
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	clk := &clock{now: time.Now()}
	s := newStore(t, kv, clk)

	_, err := s.Begin(ctx, 1, "join.group_id")
	require.NoError(t, err)
	clk.Advance(31 * time.Minute)

	assert.Equal(t, StateIdle, s.GetState(1), "expired sessions read idle")
	assert.Equal(t, 1, s.Len())

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Len())

	raw, err := kv.Load(ctx, "dialogs")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestNewStoreDropsExpiredAndCorrupt(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	clk := &clock{now: time.Now()}

	first := newStore(t, kv, clk)
	_, err := first.Begin(ctx, 1, "create.name")
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "dialogs", "not-a-user", []byte("{}")))
	require.NoError(t, kv.Put(ctx, "dialogs", "2", []byte("garbage")))

	clk.Advance(time.Hour)
	second := newStore(t, kv, clk)
	assert.Equal(t, 0, second.Len())

	raw, err := kv.Load(ctx, "dialogs")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestStoreRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clk := &clock{now: time.Now()}
	s := newStore(t, persist.NewMemory(), clk)
	_, err := s.Begin(ctx, 5, "create.name")
	require.NoError(t, err)
	clk.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

// gatedKV holds Put calls for one key until release is closed.
type gatedKV struct {
	persist.KV
	key     string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Put(ctx context.Context, namespace, key string, value []byte) error {
	if key == g.key {
		close(g.entered)
		<-g.release
	}
	return g.KV.Put(ctx, namespace, key, value)
}

func TestStoreSlowWriteDoesNotBlockOtherUsers(t *testing.T) {
	ctx := context.Background()
	kv := &gatedKV{KV: persist.NewMemory(), key: "1", entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(t, kv, &clock{now: time.Now()})

	done := make(chan error, 1)
	go func() {
		_, err := s.Begin(ctx, 1, "create.name")
		done <- err
	}()
	<-kv.entered

	_, err := s.Begin(ctx, 2, "join.group_id")
	require.NoError(t, err)
	assert.Equal(t, State("join.group_id"), s.GetState(2))
	assert.Equal(t, StateIdle, s.GetState(1), "unpublished until the write lands")

	close(kv.release)
	require.NoError(t, <-done)
	assert.Equal(t, State("create.name"), s.GetState(1))
}
