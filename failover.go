package lookupd

import "time"

// DefaultCacheErrorTTL is how long the default FailoverPolicy caches a
// resolver failure.
const DefaultCacheErrorTTL = 1 * time.Second

// DefaultCacheMaxExpiration is how far past an entry's expiry the default
// FailoverPolicy will still serve it as stale on error. Documented as
// 3_600_000ms (1 hour) in the tests this behavior is grounded on; a
// docstring elsewhere claims 3_600_0000ms (10 hours), which is almost
// certainly a typo. This implementation follows the tests: one hour.
const DefaultCacheMaxExpiration = 1 * time.Hour

// FailoverPolicy decides whether a resolver error is worth caching, and
// whether a stale cache entry may be served in its place.
type FailoverPolicy interface {
	// CacheResolverFailure reports whether err should be cached as a
	// FAILURE entry, and for how long.
	CacheResolverFailure(err error, host string) (ttl time.Duration, ok bool)
	// UseExpiredCache reports whether a stale SUCCESS entry may be served
	// in place of err, and up to how far past expiry.
	UseExpiredCache(err error, host string) (maxExpiration time.Duration, ok bool)
}

// DefaultFailoverPolicy implements the "universal" failover policy:
// a fixed set of transient error codes are cached briefly and are also
// eligible for stale-cache fallback.
type DefaultFailoverPolicy struct {
	CacheErrorCodes             map[string]struct{}
	CacheErrorTTL               time.Duration
	UseExpiredCacheOnErrorCodes map[string]struct{}
	CacheMaxExpiration          time.Duration
}

// NewDefaultFailoverPolicy builds the default failover policy.
func NewDefaultFailoverPolicy() *DefaultFailoverPolicy {
	codes := map[string]struct{}{
		CodeConnRefused: {},
		CodeNotFound:    {},
		CodeRefused:     {},
		CodeServFail:    {},
		CodeTimeout:     {},
	}
	return &DefaultFailoverPolicy{
		CacheErrorCodes:             codes,
		CacheErrorTTL:               DefaultCacheErrorTTL,
		UseExpiredCacheOnErrorCodes: codes,
		CacheMaxExpiration:          DefaultCacheMaxExpiration,
	}
}

func (p *DefaultFailoverPolicy) CacheResolverFailure(err error, host string) (time.Duration, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return 0, false
	}
	if _, ok := p.CacheErrorCodes[code]; !ok {
		return 0, false
	}
	return p.CacheErrorTTL, true
}

func (p *DefaultFailoverPolicy) UseExpiredCache(err error, host string) (time.Duration, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return 0, false
	}
	if _, ok := p.UseExpiredCacheOnErrorCodes[code]; !ok {
		return 0, false
	}
	return p.CacheMaxExpiration, true
}
