package lookupd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopHosts is a HostsSource that never touches the filesystem, used by
// tests that exercise Bootstrap/Teardown without caring about the hosts
// overlay.
type noopHosts struct{}

func (noopHosts) Read() ([]HostsEntry, error) { return nil, nil }
func (noopHosts) Watch(func()) error          { return nil }
func (noopHosts) StopWatching()               {}

// fakeResolver is a scriptable Resolver used across the controller tests.
// It counts calls per (host, family) so tests can assert single-flight
// coalescing and cache hit/miss behavior precisely.
type fakeResolver struct {
	mu    sync.Mutex
	calls map[string]int32

	v4 map[string][]ResolvedAddress
	v6 map[string][]ResolvedAddress
	err map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls: make(map[string]int32),
		v4:    make(map[string][]ResolvedAddress),
		v6:    make(map[string][]ResolvedAddress),
		err:   make(map[string]error),
	}
}

func (f *fakeResolver) callCount(host string, family int) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cacheKey(host, family)]
}

func (f *fakeResolver) Resolve4(ctx context.Context, host string) ([]ResolvedAddress, error) {
	return f.resolve(host, FamilyIPv4)
}

func (f *fakeResolver) Resolve6(ctx context.Context, host string) ([]ResolvedAddress, error) {
	return f.resolve(host, FamilyIPv6)
}

func (f *fakeResolver) resolve(host string, family int) ([]ResolvedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cacheKey(host, family)
	f.calls[key]++
	if err, ok := f.err[key]; ok {
		return nil, err
	}
	if family == FamilyIPv4 {
		return f.v4[host], nil
	}
	return f.v6[host], nil
}

func newTestController(t *testing.T, resolver Resolver) *Controller {
	t.Helper()
	return New(Config{
		ResolverService: resolver,
		CacheService:    NewLRUCacheStore(100),
	})
}

func TestLookup_FreshCacheHitSkipsResolver(t *testing.T) {
	r := newFakeResolver()
	r.v4["example.com"] = []ResolvedAddress{{Address: "1.2.3.4", TTL: 60}}
	c := newTestController(t, r)

	ctx := context.Background()
	res, err := c.Lookup(ctx, "example.com", LookupOptions{Family: FamilyIPv4})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", res.Address)

	res, err = c.Lookup(ctx, "example.com", LookupOptions{Family: FamilyIPv4})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", res.Address)
	assert.EqualValues(t, 1, r.callCount("example.com", FamilyIPv4))
}

func TestLookup_SingleFlightCoalescesConcurrentCalls(t *testing.T) {
	r := newFakeResolver()
	r.v4["ex.com"] = []ResolvedAddress{{Address: "9.9.9.9", TTL: 60}}
	c := newTestController(t, r)

	var wg sync.WaitGroup
	const n = 100
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Lookup(context.Background(), "ex.com", LookupOptions{Family: FamilyIPv4})
			errs[i] = err
			if err == nil {
				assert.Equal(t, "9.9.9.9", res.Address)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, r.callCount("ex.com", FamilyIPv4))
}

func TestLookup_StaleOnErrorServesStaleThenDeniesAfterMaxExpiration(t *testing.T) {
	r := newFakeResolver()
	c := newTestController(t, r)

	key := cacheKey("ex.com", FamilyIPv4)
	stale := newSuccessEntry([]ResolvedAddress{{Address: "1.1.1.1", TTL: 10}}, 10)
	stale.ExpiresAt = time.Now().Add(-11 * time.Second) // already stale
	c.cache.Set(key, stale)
	r.err[key] = NewLookupError(CodeTimeout, "ex.com", nil)

	res, err := c.Lookup(context.Background(), "ex.com", LookupOptions{Family: FamilyIPv4})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", res.Address)

	// The stale entry served above is still the cached value; re-seed a
	// stale SUCCESS entry whose expiry is further in the past than the
	// policy's max stale window, so the next lookup must deny the stale
	// serve and surface the error.
	tooStale := newSuccessEntry([]ResolvedAddress{{Address: "1.1.1.1", TTL: 10}}, 10)
	tooStale.ExpiresAt = time.Now().Add(-(DefaultCacheMaxExpiration + time.Second))
	c.cache.Set(key, tooStale)

	_, err = c.Lookup(context.Background(), "ex.com", LookupOptions{Family: FamilyIPv4})
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, code)
}

func TestLookup_FailureIsCachedThenRetried(t *testing.T) {
	r := newFakeResolver()
	r.err[cacheKey("nope.test", FamilyIPv4)] = NewLookupError(CodeNotFound, "nope.test", nil)
	c := newTestController(t, r)

	_, err := c.Lookup(context.Background(), "nope.test", LookupOptions{Family: FamilyIPv4})
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeNotFound, code)

	_, err = c.Lookup(context.Background(), "nope.test", LookupOptions{Family: FamilyIPv4})
	require.Error(t, err)
	assert.EqualValues(t, 1, r.callCount("nope.test", FamilyIPv4))

	// Let the cached failure's TTL elapse.
	key := cacheKey("nope.test", FamilyIPv4)
	entry, _ := c.cache.Get(key)
	entry.ExpiresAt = time.Now().Add(-time.Millisecond)

	_, err = c.Lookup(context.Background(), "nope.test", LookupOptions{Family: FamilyIPv4})
	require.Error(t, err)
	assert.EqualValues(t, 2, r.callCount("nope.test", FamilyIPv4))
}

func TestLookup_RoundRobinOverCachedList(t *testing.T) {
	r := newFakeResolver()
	r.v4["rr.test"] = []ResolvedAddress{
		{Address: "a", TTL: 60},
		{Address: "b", TTL: 60},
		{Address: "c", TTL: 60},
	}
	c := newTestController(t, r)

	var got []string
	for i := 0; i < 4; i++ {
		res, err := c.Lookup(context.Background(), "rr.test", LookupOptions{Family: FamilyIPv4})
		require.NoError(t, err)
		got = append(got, res.Address)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestLookup_IPv4LiteralShortCircuit(t *testing.T) {
	r := newFakeResolver()
	c := newTestController(t, r)

	res, err := c.Lookup(context.Background(), "1.2.3.4", LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", res.Address)
	assert.Equal(t, FamilyIPv4, res.Family)
	assert.Zero(t, r.callCount("1.2.3.4", FamilyIPv4))
}

func TestLookup_IPv4LiteralFamilyMismatch(t *testing.T) {
	r := newFakeResolver()
	c := newTestController(t, r)

	_, err := c.Lookup(context.Background(), "1.2.3.4", LookupOptions{Family: FamilyIPv6})
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeNotFound, code)

	res, err := c.Lookup(context.Background(), "1.2.3.4", LookupOptions{Family: FamilyIPv6, Hints: HintV4MAPPED})
	require.NoError(t, err)
	assert.Equal(t, "::ffff:1.2.3.4", res.Address)
	assert.Equal(t, FamilyIPv6, res.Family)
}

func TestLookup_HostsOverlayBypassesResolver(t *testing.T) {
	r := newFakeResolver()
	c := newTestController(t, r)
	c.hostsSnapshot.Store(newHostsSnapshot([]HostsEntry{{Host: "router.lan", Address: "10.0.0.1"}}))

	res, err := c.Lookup(context.Background(), "router.lan", LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", res.Address)
	assert.Zero(t, r.callCount("router.lan", FamilyIPv4))
}

func TestLookup_AllReturnsEveryAddress(t *testing.T) {
	r := newFakeResolver()
	r.v4["multi.test"] = []ResolvedAddress{{Address: "1.1.1.1", TTL: 60}, {Address: "2.2.2.2", TTL: 60}}
	c := newTestController(t, r)

	res, err := c.Lookup(context.Background(), "multi.test", LookupOptions{All: true, Family: FamilyIPv4})
	require.NoError(t, err)
	require.Len(t, res.Addresses, 2)
	assert.True(t, res.All)
}

func TestLookup_EmptyResolverResultIsNoData(t *testing.T) {
	r := newFakeResolver() // no entries registered -> resolves to nil slice
	c := newTestController(t, r)

	_, err := c.Lookup(context.Background(), "blank.test", LookupOptions{Family: FamilyIPv4})
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeNoData, code)
}

func TestBootstrapTeardown_PersistsCacheAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	sinkPath := dir + "/cache.json"

	r1 := newFakeResolver()
	r1.v4["persist.test"] = []ResolvedAddress{{Address: "5.5.5.5", TTL: 60}}
	c1 := New(Config{
		ResolverService:          r1,
		CacheService:             NewLRUCacheStore(100),
		PersistentStorageService: NewFilePersistenceSink(sinkPath),
		HostsFileService:         noopHosts{},
	})
	require.NoError(t, c1.Bootstrap(context.Background()))
	_, err := c1.Lookup(context.Background(), "persist.test", LookupOptions{Family: FamilyIPv4})
	require.NoError(t, err)
	require.NoError(t, c1.Teardown())

	r2 := newFakeResolver() // no entries - must come from persisted cache
	c2 := New(Config{
		ResolverService:          r2,
		CacheService:             NewLRUCacheStore(100),
		PersistentStorageService: NewFilePersistenceSink(sinkPath),
		HostsFileService:         noopHosts{},
	})
	require.NoError(t, c2.Bootstrap(context.Background()))
	res, err := c2.Lookup(context.Background(), "persist.test", LookupOptions{Family: FamilyIPv4})
	require.NoError(t, err)
	assert.Equal(t, "5.5.5.5", res.Address)
	assert.Zero(t, r2.callCount("persist.test", FamilyIPv4))
}

func TestStats_TracksHitsAndMisses(t *testing.T) {
	r := newFakeResolver()
	r.v4["stats.test"] = []ResolvedAddress{{Address: "7.7.7.7", TTL: 60}}
	c := newTestController(t, r)

	_, _ = c.Lookup(context.Background(), "stats.test", LookupOptions{Family: FamilyIPv4})
	stats := c.Stats()
	assert.EqualValues(t, 1, stats.CacheMisses)
	assert.Zero(t, stats.CacheHits)

	_, _ = c.Lookup(context.Background(), "stats.test", LookupOptions{Family: FamilyIPv4})
	stats = c.Stats()
	assert.EqualValues(t, 1, stats.CacheHits)
}

func TestNewOnlyV4_ForcesFamilyRegardlessOfOptions(t *testing.T) {
	r := newFakeResolver()
	r.v4["force.test"] = []ResolvedAddress{{Address: "3.3.3.3", TTL: 60}}
	r.v6["force.test"] = []ResolvedAddress{{Address: "::3", TTL: 60}}
	c := NewOnlyV4(Config{ResolverService: r, CacheService: NewLRUCacheStore(10)})

	res, err := c.Lookup(context.Background(), "force.test", LookupOptions{Family: FamilyIPv6})
	require.NoError(t, err)
	assert.Equal(t, "3.3.3.3", res.Address)
	assert.Equal(t, FamilyIPv4, res.Family)
}

func TestStopIdempotency(t *testing.T) {
	c := New(Config{ResolverService: newFakeResolver(), CleanupInterval: time.Minute})
	c.Stop()
	c.Stop()
	c.Stop()
}
