// Package callbacks binds opaque button tokens to typed payloads and keeps
// the bindings in a persist.KV so buttons keep working after a restart.
package callbacks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/core/persist"
)

// ErrInvalidCallback is returned by Resolve for unknown or evicted tokens.
var ErrInvalidCallback = errors.New("callbacks: invalid or expired callback")

// DefaultCapacity bounds the number of live bindings.
const DefaultCapacity = 1024

type entry[T any] struct {
	Seq     uint64 `json:"seq"`
	Payload T      `json:"payload"`
}

// Registry maps tokens to payloads of type T. The oldest binding is evicted
// once capacity is exceeded.
type Registry[T any] struct {
	mu        sync.Mutex
	kv        persist.KV
	namespace string
	capacity  int
	seq       uint64
	entries   map[string]entry[T]
	order     []string
}

// NewRegistry loads existing bindings from namespace. capacity <= 0 selects DefaultCapacity.
func NewRegistry[T any](ctx context.Context, kv persist.KV, namespace string, capacity int) (*Registry[T], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry[T]{
		kv:        kv,
		namespace: namespace,
		capacity:  capacity,
		entries:   make(map[string]entry[T]),
	}
	raw, err := kv.Load(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("load callbacks: %w", err)
	}
	var broken []string
	for token, blob := range raw {
		var e entry[T]
		if err := json.Unmarshal(blob, &e); err != nil {
			broken = append(broken, token)
			continue
		}
		r.entries[token] = e
		r.order = append(r.order, token)
		if e.Seq > r.seq {
			r.seq = e.Seq
		}
	}
	sort.Slice(r.order, func(i, j int) bool {
		return r.entries[r.order[i]].Seq < r.entries[r.order[j]].Seq
	})
	if len(broken) > 0 {
		if err := kv.Delete(ctx, namespace, broken...); err != nil {
			return nil, fmt.Errorf("drop broken callbacks: %w", err)
		}
	}
	evicted, err := r.evict(ctx)
	if err != nil {
		return nil, err
	}
	logger.State.Info("callbacks loaded",
		slog.String("event", "callbacks.load"),
		slog.String("namespace", namespace),
		slog.Int("count", len(r.entries)),
		slog.Int("evicted", evicted+len(broken)),
	)
	return r, nil
}

// NewToken returns 32 lowercase hex characters.
func NewToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Register stores payload under a fresh token.
func (r *Registry[T]) Register(ctx context.Context, payload T) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := NewToken()
	e := entry[T]{Seq: r.seq + 1, Payload: payload}
	blob, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode callback: %w", err)
	}
	if err := r.kv.Put(ctx, r.namespace, token, blob); err != nil {
		return "", fmt.Errorf("persist callback: %w", err)
	}
	r.seq = e.Seq
	r.entries[token] = e
	r.order = append(r.order, token)
	if _, err := r.evict(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the payload bound to token.
func (r *Registry[T]) Resolve(token string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[token]
	if !ok {
		var zero T
		return zero, ErrInvalidCallback
	}
	return e.Payload, nil
}

// Clear drops every binding from memory and persistence.
func (r *Registry[T]) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Clear(ctx, r.namespace); err != nil {
		return fmt.Errorf("clear callbacks: %w", err)
	}
	r.entries = make(map[string]entry[T])
	r.order = nil
	return nil
}

// Len reports the number of live bindings.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evict trims the oldest bindings above capacity. Caller holds mu.
func (r *Registry[T]) evict(ctx context.Context) (int, error) {
	over := len(r.order) - r.capacity
	if over <= 0 {
		return 0, nil
	}
	victims := append([]string(nil), r.order[:over]...)
	if err := r.kv.Delete(ctx, r.namespace, victims...); err != nil {
		return 0, fmt.Errorf("evict callbacks: %w", err)
	}
	for _, token := range victims {
		delete(r.entries, token)
	}
	r.order = append(r.order[:0], r.order[over:]...)
	return over, nil
}
