package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(StoreConfig{DefaultTTL: time.Minute})
	t.Cleanup(s.Close)
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)

	s.Set("ionet", "node_status", "cached-value", time.Minute, map[string]string{"id": "dev-1"})

	got, ok := s.Get("ionet", "node_status", map[string]string{"id": "dev-1"})
	require.True(t, ok)
	assert.Equal(t, "cached-value", got)

	// Distinct params map to distinct keys
	_, ok = s.Get("ionet", "node_status", map[string]string{"id": "dev-2"})
	assert.False(t, ok)

	// Distinct connector types are namespaced apart
	_, ok = s.Get("render", "node_status", map[string]string{"id": "dev-1"})
	assert.False(t, ok)
}

func TestStore_LazyExpiry(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("ionet", "earnings", 42.0, 10*time.Second, nil)

	// Just under the TTL: still a hit
	now = now.Add(10*time.Second - time.Millisecond)
	got, ok := s.Get("ionet", "earnings", nil)
	require.True(t, ok)
	assert.Equal(t, 42.0, got)

	// At exactly the TTL: a miss even though no sweep has run
	now = now.Add(time.Millisecond)
	_, ok = s.Get("ionet", "earnings", nil)
	assert.False(t, ok)

	// The lazy check also physically evicted the entry
	assert.Equal(t, 0, s.Len())
}

func TestStore_ActiveSweep(t *testing.T) {
	s := NewStore(StoreConfig{DefaultTTL: time.Minute, SweepInterval: 100 * time.Millisecond})
	t.Cleanup(s.Close)

	var mu sync.Mutex
	now := time.Now()
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s.Set("grass", "metrics", "data", time.Second, nil)
	require.Equal(t, 1, s.Len())

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, 20*time.Millisecond,
		"sweep should evict the dead entry without any read touching it")
}

func TestStore_TTLAndExtend(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("ionet", "pricing", "v", 30*time.Second, nil)

	remaining, ok := s.TTL("ionet", "pricing", nil)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, remaining)

	now = now.Add(20 * time.Second)
	require.True(t, s.ExtendTTL("ionet", "pricing", nil, 30*time.Second))

	remaining, ok = s.TTL("ionet", "pricing", nil)
	require.True(t, ok)
	assert.Equal(t, 40*time.Second, remaining)

	// Dead entries cannot be extended
	now = now.Add(time.Hour)
	assert.False(t, s.ExtendTTL("ionet", "pricing", nil, time.Minute))
}

func TestStore_ClearConnector(t *testing.T) {
	s := newTestStore(t)

	s.Set("ionet", "node_status", 1, time.Minute, "a")
	s.Set("ionet", "earnings", 2, time.Minute, "b")
	s.Set("render", "node_status", 3, time.Minute, "a")

	assert.Equal(t, 2, s.ClearConnector("ionet"))
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("render", "node_status", "a")
	assert.True(t, ok)

	s.ClearAll()
	assert.Equal(t, 0, s.Len())
}

func TestStore_GetOrSet_HitSkipsFetch(t *testing.T) {
	s := newTestStore(t)
	s.Set("ionet", "node_status", "cached", time.Minute, nil)

	got, fromCache, err := s.GetOrSet(context.Background(), "ionet", "node_status", nil, time.Minute,
		func(context.Context) (interface{}, error) {
			t.Fatal("fetch must not run on a cache hit")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, "cached", got)
}

func TestStore_GetOrSet_ErrorNotCached(t *testing.T) {
	s := newTestStore(t)
	sentinel := errors.New("upstream exploded")

	_, _, err := s.GetOrSet(context.Background(), "ionet", "node_status", nil, time.Minute,
		func(context.Context) (interface{}, error) {
			return nil, sentinel
		})
	require.ErrorIs(t, err, sentinel, "fetch errors propagate unmodified")

	// No entry was left behind; a later fetch runs and succeeds
	got, fromCache, err := s.GetOrSet(context.Background(), "ionet", "node_status", nil, time.Minute,
		func(context.Context) (interface{}, error) {
			return "fresh", nil
		})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "fresh", got)
}

// Concurrent misses on one key share a single fetch. This is a deliberate
// strengthening over older behavior where every concurrent caller fetched
// independently.
func TestStore_GetOrSet_SingleFlight(t *testing.T) {
	s := newTestStore(t)

	var fetches int32
	release := make(chan struct{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]interface{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, _, err := s.GetOrSet(context.Background(), "ionet", "metrics", "same-params", time.Minute,
				func(context.Context) (interface{}, error) {
					atomic.AddInt32(&fetches, 1)
					<-release
					return "shared", nil
				})
			require.NoError(t, err)
			results[i] = got
		}(i)
	}

	// Let every goroutine reach the flight before releasing the fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "one fetch per key at a time")
	for _, got := range results {
		assert.Equal(t, "shared", got)
	}
}

// A caller can queue behind a flight that completes and populates the key
// before the caller's own flight starts; its result is a cache hit, not a
// miss. Exercised directly against the flight body since the interleaving
// cannot be forced from the outside.
func TestStore_FlightServedByFreshEntryIsAHit(t *testing.T) {
	s := newTestStore(t)

	key := Key("ionet", "node_status", nil)
	s.Set("ionet", "node_status", "just-written", time.Minute, nil)

	fr, err := s.loadOrFetch(context.Background(), key, time.Minute,
		func(context.Context) (interface{}, error) {
			t.Fatal("fetch must not run when the key is already populated")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, fr.fromCache)
	assert.Equal(t, "just-written", fr.data)

	// A dead entry does not count; the flight fetches
	s.Set("ionet", "node_status", "stale", time.Nanosecond, nil)
	time.Sleep(time.Millisecond)
	fr, err = s.loadOrFetch(context.Background(), key, time.Minute,
		func(context.Context) (interface{}, error) { return "refetched", nil })
	require.NoError(t, err)
	assert.False(t, fr.fromCache)
	assert.Equal(t, "refetched", fr.data)
}

func TestKey_DistinctParams(t *testing.T) {
	a := Key("ionet", "node_status", map[string]interface{}{"id": "dev-1"})
	b := Key("ionet", "node_status", map[string]interface{}{"id": "dev-2"})
	c := Key("ionet", "earnings", map[string]interface{}{"id": "dev-1"})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Key("ionet", "node_status", map[string]interface{}{"id": "dev-1"}))
}
