// Package memoize provides function-result caching on top of the cache
// manager. Keys are derived explicitly by a key-builder function from the
// call arguments; there is no signature introspection and no implicit
// global cache — the manager is a required dependency.
package memoize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"conversation-cache/pkg/cache"
)

// errorMarker tags cached errors so they survive the serialization round
// trip through either tier.
const errorMarker = "__cached_error__"

// Func is a memoizable function: any argument tuple to a single result.
type Func func(args ...any) (any, error)

// KeyFunc derives the argument part of a cache key from a call's argument
// tuple. It must be deterministic for equal arguments.
type KeyFunc func(args ...any) string

// Options configures a memoized function.
type Options struct {
	// TTL for cached results; zero uses the manager's default.
	TTL time.Duration
	// CacheErrors stores failures as tagged values that are re-raised on a
	// cache hit.
	CacheErrors bool
	// KeyFunc overrides DefaultKeyFunc.
	KeyFunc KeyFunc
	// ExcludeArgs lists positional indexes ignored by DefaultKeyFunc.
	ExcludeArgs []int
}

// FuncInfo describes a memoized function's cache behavior.
type FuncInfo struct {
	Name        string        `json:"name"`
	Calls       int64         `json:"calls"`
	CacheHits   int64         `json:"cache_hits"`
	TTL         time.Duration `json:"ttl"`
	CacheErrors bool          `json:"cache_errors"`
}

// Memoized wraps a function with result caching scoped to a name. All keys
// take the form "<name>:<derived>", so the function's entries can be
// invalidated as a group by prefix pattern.
type Memoized struct {
	manager     *cache.Manager
	name        string
	fn          Func
	keyFn       KeyFunc
	ttl         time.Duration
	cacheErrors bool

	calls     atomic.Int64
	cacheHits atomic.Int64
}

// New builds a memoized wrapper around fn. The manager and a non-empty
// name are required; the name is the invalidation scope for this function.
func New(manager *cache.Manager, name string, fn Func, opts Options) (*Memoized, error) {
	if manager == nil {
		return nil, errors.New("memoize: manager is required")
	}
	if name == "" {
		return nil, errors.New("memoize: name is required")
	}
	if fn == nil {
		return nil, errors.New("memoize: function is required")
	}

	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = DefaultKeyFunc(opts.ExcludeArgs...)
	}

	return &Memoized{
		manager:     manager,
		name:        name,
		fn:          fn,
		keyFn:       keyFn,
		ttl:         opts.TTL,
		cacheErrors: opts.CacheErrors,
	}, nil
}

// Call invokes the wrapped function, returning a cached result when one
// exists. With CacheErrors enabled, a cached failure is re-raised without
// invoking the function.
func (m *Memoized) Call(args ...any) (any, error) {
	m.calls.Add(1)
	key := m.key(args...)

	if value, ok := m.manager.Get(key); ok {
		m.cacheHits.Add(1)
		if msg, isErr := cachedErrorMessage(value); isErr {
			return nil, errors.New(msg)
		}
		return value, nil
	}

	value, err := m.fn(args...)
	if err != nil {
		if m.cacheErrors {
			_, _ = m.manager.Set(key, map[string]any{errorMarker: err.Error()}, m.ttl)
		}
		return nil, err
	}

	_, setErr := m.manager.Set(key, value, m.ttl)
	if setErr != nil {
		// An unserializable result is a caller bug worth surfacing.
		return value, setErr
	}
	return value, nil
}

// Invalidate removes the cached result for one argument tuple.
func (m *Memoized) Invalidate(args ...any) bool {
	return m.manager.Delete(m.key(args...))
}

// Clear removes every cached result for this function and returns the
// count.
func (m *Memoized) Clear() int {
	return m.manager.InvalidatePattern(m.name + ":*")
}

// Info returns call and hit counters for this function.
func (m *Memoized) Info() FuncInfo {
	return FuncInfo{
		Name:        m.name,
		Calls:       m.calls.Load(),
		CacheHits:   m.cacheHits.Load(),
		TTL:         m.ttl,
		CacheErrors: m.cacheErrors,
	}
}

func (m *Memoized) key(args ...any) string {
	return m.name + ":" + m.keyFn(args...)
}

// DefaultKeyFunc hashes the JSON encoding of the argument tuple, skipping
// the given positional indexes. Arguments that cannot be serialized fall
// back to their fmt representation, so keys stay deterministic for
// printable values.
func DefaultKeyFunc(exclude ...int) KeyFunc {
	skip := make(map[int]struct{}, len(exclude))
	for _, idx := range exclude {
		skip[idx] = struct{}{}
	}

	return func(args ...any) string {
		h := sha256.New()
		for i, arg := range args {
			if _, ok := skip[i]; ok {
				continue
			}
			data, err := json.Marshal(arg)
			if err != nil {
				data = []byte(fmt.Sprintf("%#v", arg))
			}
			_, _ = fmt.Fprintf(h, "%d:", i)
			_, _ = h.Write(data)
		}
		return hex.EncodeToString(h.Sum(nil))
	}
}

// cachedErrorMessage recognizes the tagged error envelope in both its
// in-memory and deserialized forms.
func cachedErrorMessage(value any) (string, bool) {
	env, ok := value.(map[string]any)
	if !ok || len(env) != 1 {
		return "", false
	}
	msg, ok := env[errorMarker].(string)
	return msg, ok
}
