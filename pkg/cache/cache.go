// Package cache provides the process-wide TTL cache shared by all connector
// instances. Keys are namespaced by connector type, so one store can safely
// back every network.
//
// Expiry is enforced on two paths: a periodic background sweep evicts dead
// entries, and every read re-checks entry age. The lazy check is mandatory;
// the sweep alone cannot guarantee a stale entry is never observed between
// sweeps.
//
// GetOrSet is single-flight: concurrent callers missing on the same key share
// one fetch instead of each invoking the fetch function.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nodewarden/nodewarden/pkg/logger"
)

// DefaultTTL is used when a caller passes a non-positive TTL.
const DefaultTTL = time.Minute

type entry struct {
	data      interface{}
	writtenAt time.Time
	ttl       time.Duration
}

// An entry is dead once its age reaches the TTL; a read at exactly the TTL
// boundary is a miss.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) >= e.ttl
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// DefaultTTL applies when Set or GetOrSet receive a non-positive TTL
	DefaultTTL time.Duration
	// SweepInterval overrides the active-eviction period (0 = DefaultTTL/10)
	SweepInterval time.Duration
}

// Store is a concurrency-safe TTL cache with active and lazy expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	defaultTTL    time.Duration
	sweepInterval time.Duration

	group  singleflight.Group
	logger *zap.Logger

	// now is swappable so expiry can be tested without sleeping
	now func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates a store and starts its background sweep.
func NewStore(cfg StoreConfig) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.DefaultTTL / 10
	}
	if cfg.SweepInterval < 100*time.Millisecond {
		cfg.SweepInterval = 100 * time.Millisecond
	}

	s := &Store{
		entries:       make(map[string]*entry),
		defaultTTL:    cfg.DefaultTTL,
		sweepInterval: cfg.SweepInterval,
		logger:        logger.Get().With(zap.String("component", "cache")),
		now:           time.Now,
		done:          make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Key derives the cache key for a connector type, method, and parameter set.
// Parameters are serialized and digested with xxhash; the digest only needs to
// separate distinct parameter sets, not resist attackers.
func Key(connectorType, method string, params interface{}) string {
	encoded, err := json.Marshal(params)
	if err != nil {
		// Marshal failures degrade to the type name, still namespaced per method
		encoded = []byte(fmt.Sprintf("%T", params))
	}
	return connectorType + ":" + method + ":" + fmt.Sprintf("%016x", xxhash.Sum64(encoded))
}

// Get returns the cached value for the given lookup, if present and alive.
// Dead entries are deleted on sight.
func (s *Store) Get(connectorType, method string, params interface{}) (interface{}, bool) {
	return s.get(Key(connectorType, method, params))
}

func (s *Store) get(key string) (interface{}, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if e.expired(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it
		if cur, ok := s.entries[key]; ok && cur.expired(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return e.data, true
}

// Set writes a value with the given TTL (non-positive = store default).
func (s *Store) Set(connectorType, method string, data interface{}, ttl time.Duration, params interface{}) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	key := Key(connectorType, method, params)

	s.mu.Lock()
	s.entries[key] = &entry{
		data:      data,
		writtenAt: s.now(),
		ttl:       ttl,
	}
	s.mu.Unlock()
}

// Delete removes a single entry.
func (s *Store) Delete(connectorType, method string, params interface{}) {
	key := Key(connectorType, method, params)

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Has reports whether a live entry exists for the lookup.
func (s *Store) Has(connectorType, method string, params interface{}) bool {
	_, ok := s.get(Key(connectorType, method, params))
	return ok
}

// TTL returns the remaining lifetime of an entry.
func (s *Store) TTL(connectorType, method string, params interface{}) (time.Duration, bool) {
	key := Key(connectorType, method, params)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return 0, false
	}

	remaining := e.ttl - s.now().Sub(e.writtenAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// ExtendTTL adds extra lifetime to a live entry. Returns false if the entry
// is missing or already dead.
func (s *Store) ExtendTTL(connectorType, method string, params interface{}, extra time.Duration) bool {
	key := Key(connectorType, method, params)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return false
	}

	e.ttl += extra
	return true
}

// ClearConnector removes every entry belonging to a connector type and
// returns the number removed.
func (s *Store) ClearConnector(connectorType string) int {
	prefix := connectorType + ":"

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

// ClearAll removes every entry.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

// Len returns the number of stored entries, dead or alive.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// flightResult carries a flight's value and whether it was served from an
// entry that was already cached, so callers count hits and misses truthfully.
type flightResult struct {
	data      interface{}
	fromCache bool
}

// GetOrSet returns the cached value for the lookup or, on a miss, invokes
// fetch and caches its result. Fetch errors are never cached and are returned
// to the caller unmodified. Concurrent callers missing on the same key share
// a single in-flight fetch.
//
// The second return value reports whether the value came from the cache,
// including when an earlier flight populated the key while this caller
// queued.
func (s *Store) GetOrSet(ctx context.Context, connectorType, method string, params interface{}, ttl time.Duration, fetch func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	key := Key(connectorType, method, params)

	if data, ok := s.get(key); ok {
		return data, true, nil
	}

	res, err, _ := s.group.Do(key, func() (interface{}, error) {
		fr, err := s.loadOrFetch(ctx, key, ttl, fetch)
		return fr, err
	})
	if err != nil {
		return nil, false, err
	}

	fr := res.(flightResult)
	return fr.data, fr.fromCache, nil
}

// loadOrFetch serves a key from an entry written by a flight that finished
// while this caller queued, otherwise fetches and caches.
func (s *Store) loadOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (interface{}, error)) (flightResult, error) {
	if data, ok := s.get(key); ok {
		return flightResult{data: data, fromCache: true}, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return flightResult{}, err
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[key] = &entry{data: data, writtenAt: s.now(), ttl: ttl}
	s.mu.Unlock()

	return flightResult{data: data}, nil
}

// Close stops the background sweep. The store remains usable for reads and
// writes; only active eviction stops.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("swept expired cache entries", zap.Int("removed", removed))
	}
}
