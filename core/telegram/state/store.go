package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/core/persist"
)

// userStripes is the number of per-user write locks.
const userStripes = 64

// Store is a persisted, TTL bounded session table keyed by Telegram user id.
// Writes for one user are serialised by that user's stripe lock and reach the
// KV before memory is updated. mu only guards the map.
type Store struct {
	mu        sync.Mutex
	users     [userStripes]sync.Mutex
	kv        persist.KV
	namespace string
	ttl       time.Duration
	now       func() time.Time
	sessions  map[int64]*Session
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore loads every session from namespace. Entries that fail to decode or
// are already expired are dropped from the KV. ttl <= 0 disables expiry.
func NewStore(ctx context.Context, kv persist.KV, namespace string, ttl time.Duration, opts ...Option) (*Store, error) {
	s := &Store{
		kv:        kv,
		namespace: namespace,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[int64]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := kv.Load(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("load sessions %s: %w", namespace, err)
	}
	var stale []string
	for key, blob := range raw {
		userID, perr := strconv.ParseInt(key, 10, 64)
		var sess Session
		if perr != nil || json.Unmarshal(blob, &sess) != nil || s.expired(&sess) {
			stale = append(stale, key)
			continue
		}
		s.sessions[userID] = &sess
	}
	if len(stale) > 0 {
		if err := kv.Delete(ctx, namespace, stale...); err != nil {
			return nil, fmt.Errorf("drop stale sessions %s: %w", namespace, err)
		}
	}
	logger.State.Info("sessions loaded",
		slog.String("event", "state.load"),
		slog.String("namespace", namespace),
		slog.Int("count", len(s.sessions)),
		slog.Int("evicted", len(stale)),
	)
	return s, nil
}

func (s *Store) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl
}

// lookup returns the live session or nil. Caller holds mu.
func (s *Store) lookup(userID int64) *Session {
	sess, ok := s.sessions[userID]
	if !ok || s.expired(sess) {
		return nil
	}
	return sess
}

func (s *Store) stripe(userID int64) *sync.Mutex {
	return &s.users[uint64(userID)%userStripes]
}

// current returns the live session under mu. Stored sessions are replaced,
// never mutated, so the pointer stays valid for the stripe holder.
func (s *Store) current(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(userID)
}

// save persists sess and then publishes it. Caller holds the user's stripe.
func (s *Store) save(ctx context.Context, userID int64, sess *Session) error {
	sess.UpdatedAt = s.now().UTC()
	blob, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, s.namespace, strconv.FormatInt(userID, 10), blob); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.sessions[userID] = sess
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the user's session, or an idle one when absent or expired.
func (s *Store) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.lookup(userID); sess != nil {
		return sess.clone()
	}
	return idle()
}

// GetState returns the current FSM state of a user, or StateIdle if none exists.
func (s *Store) GetState(userID int64) State {
	return s.Get(userID).State
}

// InProgress reports whether the user currently has an active non-idle state.
func (s *Store) InProgress(userID int64) bool {
	return s.GetState(userID) != StateIdle
}

// GetTemp retrieves a scratch value for the user's session.
func (s *Store) GetTemp(userID int64, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookup(userID)
	if sess == nil {
		return "", false
	}
	v, ok := sess.Data[key]
	return v, ok
}

// Begin replaces whatever session the user had with a fresh one in st.
// It reports the state that was overwritten, StateIdle when there was none.
func (s *Store) Begin(ctx context.Context, userID int64, st State) (State, error) {
	ul := s.stripe(userID)
	ul.Lock()
	defer ul.Unlock()
	prev := StateIdle
	if old := s.current(userID); old != nil {
		prev = old.State
	}
	return prev, s.save(ctx, userID, &Session{State: st})
}

// SetState moves the user to st keeping scratch data.
func (s *Store) SetState(ctx context.Context, userID int64, st State) error {
	ul := s.stripe(userID)
	ul.Lock()
	defer ul.Unlock()
	next := Session{State: st}
	if sess := s.current(userID); sess != nil {
		next = sess.clone()
		next.State = st
	}
	return s.save(ctx, userID, &next)
}

// SetTemp stores a scratch value, creating an idle session when necessary.
func (s *Store) SetTemp(ctx context.Context, userID int64, key, value string) error {
	ul := s.stripe(userID)
	ul.Lock()
	defer ul.Unlock()
	next := idle()
	if sess := s.current(userID); sess != nil {
		next = sess.clone()
	}
	if next.Data == nil {
		next.Data = make(map[string]string, 1)
	}
	next.Data[key] = value
	return s.save(ctx, userID, &next)
}

// Clear removes the entire session for a user.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	ul := s.stripe(userID)
	ul.Lock()
	defer ul.Unlock()
	s.mu.Lock()
	_, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.kv.Delete(ctx, s.namespace, strconv.FormatInt(userID, 10)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions including not yet swept expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts expired sessions and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var byStripe [userStripes][]int64
	s.mu.Lock()
	for id, sess := range s.sessions {
		if s.expired(sess) {
			i := uint64(id) % userStripes
			byStripe[i] = append(byStripe[i], id)
		}
	}
	s.mu.Unlock()

	removed := 0
	for i, ids := range byStripe {
		if len(ids) == 0 {
			continue
		}
		n, err := s.sweepStripe(ctx, &s.users[i], ids)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// sweepStripe drops the ids that are still expired once their stripe is held.
func (s *Store) sweepStripe(ctx context.Context, ul *sync.Mutex, ids []int64) (int, error) {
	ul.Lock()
	defer ul.Unlock()

	var (
		keys  []string
		stale []int64
	)
	s.mu.Lock()
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok && s.expired(sess) {
			keys = append(keys, strconv.FormatInt(id, 10))
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.kv.Delete(ctx, s.namespace, keys...); err != nil {
		return 0, fmt.Errorf("sweep %s: %w", s.namespace, err)
	}
	s.mu.Lock()
	for _, id := range stale {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	return len(stale), nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			switch {
			case err != nil:
				logger.State.Warn("session sweep failed",
					slog.String("event", "state.sweep"),
					slog.String("namespace", s.namespace),
					slog.String("err", err.Error()),
				)
			case n > 0:
				logger.State.Debug("sessions swept",
					slog.String("event", "state.sweep"),
					slog.String("namespace", s.namespace),
					slog.Int("evicted", n),
				)
			}
		}
	}
}
