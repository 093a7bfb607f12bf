package lookupd

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxCacheEntries is the bound used when Config.MaxCacheEntries is
// left at zero.
const DefaultMaxCacheEntries = 1000

// CacheEntryKind discriminates a positive cached resolution from a cached
// failure.
type CacheEntryKind uint8

const (
	KindSuccess CacheEntryKind = iota
	KindFailure
)

// rotationCounter backs round-robin selection. It is embedded by value in
// CacheEntry (always reached through a pointer once stored) so rotation
// state is keyed by the entry's identity rather than by the identity of a
// transient candidate slice, so rotation survives garbage collection of
// those slices and needs no weak references.
type rotationCounter struct {
	n atomic.Uint32
}

func (c *rotationCounter) next(modulo int) int {
	if modulo <= 0 {
		return 0
	}
	return int(c.n.Add(1)-1) % modulo
}

// CacheEntry is the value stored per (hostname, family) cache key.
type CacheEntry struct {
	Kind      CacheEntryKind
	Addresses []ResolvedAddress // populated when Kind == KindSuccess
	Code      string            // populated when Kind == KindFailure

	FetchedAt time.Time
	ExpiresAt time.Time

	rotation rotationCounter
}

// IsFresh reports whether the entry is still within its TTL window at now.
func (e *CacheEntry) IsFresh(now time.Time) bool { return now.Before(e.ExpiresAt) }

// asError rebuilds the cached failure as a *LookupError for host.
func (e *CacheEntry) asError(host string) error {
	return NewLookupError(e.Code, host, nil)
}

func newSuccessEntry(addrs []ResolvedAddress, ttlSeconds int) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Kind:      KindSuccess,
		Addresses: addrs,
		FetchedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second),
	}
}

func newFailureEntry(err error, ttl time.Duration) *CacheEntry {
	code, ok := CodeOf(err)
	if !ok {
		code = CodeServFail
	}
	now := time.Now()
	return &CacheEntry{
		Kind:      KindFailure,
		Code:      code,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// cacheKey builds the (hostname, family) key the cache entry model
// describes.
func cacheKey(host string, family int) string {
	return fmt.Sprintf("%s|%d", host, family)
}

// jsonCacheEntry is the wire shape for persistence; it mirrors CacheEntry
// but replaces the unexported, unmarshalable rotationCounter with a plain
// uint32, the same trick the pack's own cache-persistence code uses for
// its non-serializable fields.
type jsonCacheEntry struct {
	Kind      CacheEntryKind    `json:"kind"`
	Addresses []ResolvedAddress `json:"addresses,omitempty"`
	Code      string            `json:"code,omitempty"`
	FetchedAt time.Time         `json:"fetchedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Rotation  uint32            `json:"rotation"`
}

func (e *CacheEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonCacheEntry{
		Kind:      e.Kind,
		Addresses: e.Addresses,
		Code:      e.Code,
		FetchedAt: e.FetchedAt,
		ExpiresAt: e.ExpiresAt,
		Rotation:  e.rotation.n.Load(),
	})
}

func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	var aux jsonCacheEntry
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Kind = aux.Kind
	e.Addresses = aux.Addresses
	e.Code = aux.Code
	e.FetchedAt = aux.FetchedAt
	e.ExpiresAt = aux.ExpiresAt
	e.rotation.n.Store(aux.Rotation)
	return nil
}

// CacheKV is one entry yielded by CacheStore.Entries.
type CacheKV struct {
	Key   string
	Entry *CacheEntry
}

// CacheStore is a bounded, keyed store of cache entries with LRU eviction.
// The eviction policy is not otherwise observable by the controller; TTL
// logic lives entirely in the controller, not in the store.
type CacheStore interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry)
	Entries() []CacheKV
	Len() int
}

// LRUCacheStore is the default CacheStore, backed by
// github.com/hashicorp/golang-lru/v2.
type LRUCacheStore struct {
	cache *lru.Cache[string, *CacheEntry]
}

// NewLRUCacheStore builds an LRUCacheStore bounded at maxEntries (falling
// back to DefaultMaxCacheEntries for non-positive values).
func NewLRUCacheStore(maxEntries int) *LRUCacheStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	c, err := lru.New[string, *CacheEntry](maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size, already ruled out.
		panic(err)
	}
	return &LRUCacheStore{cache: c}
}

func (s *LRUCacheStore) Get(key string) (*CacheEntry, bool) {
	return s.cache.Get(key)
}

func (s *LRUCacheStore) Set(key string, entry *CacheEntry) {
	s.cache.Add(key, entry)
}

func (s *LRUCacheStore) Entries() []CacheKV {
	keys := s.cache.Keys()
	out := make([]CacheKV, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.cache.Peek(k); ok {
			out = append(out, CacheKV{Key: k, Entry: v})
		}
	}
	return out
}

func (s *LRUCacheStore) Len() int { return s.cache.Len() }
