package lookupd

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config configures a Controller. Every collaborator is optional; a
// reasonable default is installed for anything left nil, mirroring the
// constructor-literal style this module uses throughout. The exceptions:
// a nil PersistentStorageService disables persistence, and a nil
// HostsFileService stays nil (no hosts overlay) when the OS has no
// default hosts path.
type Config struct {
	CacheService             CacheStore
	ChoiceStrategy           SelectionStrategy
	FailoverStrategy         FailoverPolicy
	HostsFileService         HostsSource
	IsIPService              IPChecker
	PersistentStorageService PersistenceSink // nullable
	ResolverService          Resolver
	ThrottlingStrategy       Throttle // nullable
	Logger                   *logrus.Logger

	// MaxCacheEntries bounds CacheService when it is left nil and the
	// default LRUCacheStore is built for the caller.
	MaxCacheEntries int
	// CleanupInterval, when positive, starts a background goroutine that
	// periodically calls Refresh(true). Stop() must be called to end it.
	CleanupInterval time.Duration
}

// ResolverStats holds runtime counters for observability.
type ResolverStats struct {
	CacheHits   uint64
	CacheMisses uint64
}

// Controller is the Lookup Controller (C9): the orchestration core that
// composes the IP-literal recognizer, resolver, hosts overlay, cache,
// failover policy, throttle and selection strategy into the lookup
// contract.
type Controller struct {
	cache    CacheStore
	choice   SelectionStrategy
	failover FailoverPolicy
	hosts    HostsSource
	isIP     IPChecker
	persist  PersistenceSink
	resolver Resolver
	throttle Throttle
	logger   *logrus.Logger

	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once

	hostsSnapshot atomic.Pointer[HostsSnapshot]
	ipCheckCache  sync.Map // string -> ipCheckResult
	hostsRotation sync.Map // string -> *rotationCounter
	inflight      singleflight.Group

	bootstrapped atomic.Bool

	stats ResolverStats

	// forcedFamily, when non-zero, overrides LookupOptions.Family on every
	// call. Set by NewOnlyV4/NewOnlyV6.
	forcedFamily int
}

// New builds a Controller from cfg, installing the default collaborator
// for any field left nil.
func New(cfg Config) *Controller {
	c := &Controller{
		cache:    cfg.CacheService,
		choice:   cfg.ChoiceStrategy,
		failover: cfg.FailoverStrategy,
		hosts:    cfg.HostsFileService,
		isIP:     cfg.IsIPService,
		persist:  cfg.PersistentStorageService,
		resolver: cfg.ResolverService,
		throttle: cfg.ThrottlingStrategy,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
	}
	if c.cache == nil {
		c.cache = NewLRUCacheStore(cfg.MaxCacheEntries)
	}
	if c.choice == nil {
		c.choice = RoundRobinSelection{}
	}
	if c.failover == nil {
		c.failover = NewDefaultFailoverPolicy()
	}
	if c.hosts == nil {
		if path, err := DefaultHostsPath(); err == nil {
			c.hosts = NewFileHostsSource(path, c.logger)
		}
	}
	if c.isIP == nil {
		c.isIP = NewIPChecker()
	}
	if c.resolver == nil {
		c.resolver = NewNetResolver()
	}
	if c.throttle == nil {
		c.throttle = noThrottle{}
	}
	if c.logger == nil {
		c.logger = defaultLogger()
	}
	c.cleanupInterval = cfg.CleanupInterval
	if c.cleanupInterval > 0 {
		go c.runCleanupLoop()
	}
	return c
}

// NewOnlyV4 builds a Controller that only ever resolves A records,
// regardless of the Family an individual Lookup call requests.
func NewOnlyV4(cfg Config) *Controller {
	c := New(cfg)
	c.forcedFamily = FamilyIPv4
	return c
}

// NewOnlyV6 builds a Controller that only ever resolves AAAA records,
// regardless of the Family an individual Lookup call requests.
func NewOnlyV6(cfg Config) *Controller {
	c := New(cfg)
	c.forcedFamily = FamilyIPv6
	return c
}

// Stats returns the current hit/miss counters.
func (c *Controller) Stats() ResolverStats {
	return ResolverStats{
		CacheHits:   atomic.LoadUint64(&c.stats.CacheHits),
		CacheMisses: atomic.LoadUint64(&c.stats.CacheMisses),
	}
}

// Bootstrap is idempotent: it hydrates the cache from persistent storage
// (errors logged and swallowed), then starts the hosts watcher and
// installs the initial snapshot (errors surfaced).
func (c *Controller) Bootstrap(ctx context.Context) error {
	if c.bootstrapped.Load() {
		return nil
	}

	if c.persist != nil {
		if blob, err := c.persist.Read(); err != nil {
			c.logger.WithError(err).Warn("lookupd: persistence read failed at bootstrap, continuing cold")
		} else if len(blob) > 0 {
			rows, err := deserializeCache(blob)
			if err != nil {
				c.logger.WithError(err).Warn("lookupd: persistence blob unreadable, continuing cold")
			} else {
				for _, row := range rows {
					c.cache.Set(row.Key, row.Entry)
				}
			}
		}
	}

	if c.hosts != nil {
		if err := c.hosts.Watch(c.onHostsChange); err != nil {
			return err
		}
		entries, err := c.hosts.Read()
		if err != nil {
			return err
		}
		c.hostsSnapshot.Store(newHostsSnapshot(entries))
	}

	c.bootstrapped.Store(true)
	return nil
}

// Teardown stops the hosts watcher (if bootstrapped) and flushes the
// cache to persistent storage, if configured. Safe to call without a
// prior Bootstrap.
func (c *Controller) Teardown() error {
	if c.bootstrapped.Load() && c.hosts != nil {
		c.hosts.StopWatching()
	}
	if c.persist != nil {
		blob, err := serializeCache(c.cache.Entries())
		if err != nil {
			return err
		}
		if err := c.persist.Write(blob); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends the background cleanup goroutine started by a positive
// Config.CleanupInterval. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Controller) runCleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Refresh(true)
		case <-c.stop:
			return
		}
	}
}

// Refresh re-resolves every still-fresh SUCCESS cache entry and, if
// clearPruned is true, also empties the IP-literal check cache. The
// hosts-overlay and combined-lookup rotation counters are left as they are.
func (c *Controller) Refresh(clearPruned bool) {
	now := time.Now()
	for _, kv := range c.cache.Entries() {
		if kv.Entry.Kind != KindSuccess || !kv.Entry.IsFresh(now) {
			continue
		}
		host, family := splitCacheKey(kv.Key)
		if host == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, _ = c.doResolve(ctx, kv.Key, host, family)
		cancel()
	}
	if clearPruned {
		c.ipCheckCache.Range(func(k, _ any) bool {
			c.ipCheckCache.Delete(k)
			return true
		})
	}
}

func (c *Controller) onHostsChange() {
	entries, err := c.hosts.Read()
	if err != nil {
		c.logger.WithError(err).Warn("lookupd: hosts re-read failed, keeping previous snapshot")
		return
	}
	c.hostsSnapshot.Store(newHostsSnapshot(entries))
}

// Install attaches Lookup to an external connection agent, the callable
// shape an "install(agent)" hook refers to. ConnectionAgent is
// kept minimal: any type that accepts a lookup function via SetLookup.
type ConnectionAgent interface {
	SetLookup(fn func(ctx context.Context, host string, opts LookupOptions) (LookupResult, error))
}

func (c *Controller) Install(agent ConnectionAgent) {
	agent.SetLookup(c.Lookup)
}

// Lookup runs the per-request pipeline: IP-literal short-circuit, hosts
// overlay, per-family cache lookup, single-flight resolve, and response
// shaping.
func (c *Controller) Lookup(ctx context.Context, host string, opts LookupOptions) (LookupResult, error) {
	if c.forcedFamily != 0 {
		opts.Family = c.forcedFamily
	}
	opts = opts.normalize()

	// Step 2: IP-literal short-circuit.
	if res, handled, err := c.lookupLiteral(host, opts); handled {
		return res, err
	}

	// Step 3: hosts overlay.
	if snap := c.hostsSnapshot.Load(); snap != nil {
		if addrs, ok := snap.lookup(host); ok {
			return c.shapeFromHosts(host, addrs, opts)
		}
	}

	// Step 4: required families (+ADDRCONFIG).
	families, err := c.requiredFamilies(opts)
	if err != nil {
		return LookupResult{}, err
	}

	var v4, v6 []ResolvedAddress
	var v4Entry, v6Entry *CacheEntry
	var firstErr error
	gotAny := false
	for _, f := range families {
		entry, ferr := c.resolveFamily(ctx, host, f)
		if ferr != nil {
			if firstErr == nil {
				firstErr = ferr
			}
			continue
		}
		gotAny = true
		if f == FamilyIPv4 {
			v4, v4Entry = entry.Addresses, entry
		} else {
			v6, v6Entry = entry.Addresses, entry
		}
	}
	if !gotAny {
		if firstErr != nil {
			return LookupResult{}, firstErr
		}
		return LookupResult{}, NewLookupError(CodeNotFound, host, nil)
	}

	candidates := shapeCandidates(v4, v6, opts)
	if len(candidates) == 0 {
		return LookupResult{}, NewLookupError(CodeNotFound, host, nil)
	}

	// When exactly one family was consulted, round-robin keys off that
	// family's own cache entry; a combined v4+v6 result falls back to
	// the per-host/family rotation counter since no single entry backs it.
	var rot *rotationCounter
	switch {
	case len(families) == 1 && v4Entry != nil:
		rot = &v4Entry.rotation
	case len(families) == 1 && v6Entry != nil:
		rot = &v6Entry.rotation
	}

	return c.finalizeResult(host, opts, candidates, rot)
}

// LookupCallback mirrors Lookup but delivers its outcome via a callback
// instead of a return value, satisfying the dual calling-convention
// requirement of supporting both a future/promise and callback style.
func (c *Controller) LookupCallback(ctx context.Context, host string, opts LookupOptions, cb func(err error, result LookupResult)) {
	res, err := c.Lookup(ctx, host, opts)
	cb(err, res)
}

func (c *Controller) lookupLiteral(host string, opts LookupOptions) (LookupResult, bool, error) {
	isV4, isV6 := c.checkIP(host)
	if !isV4 && !isV6 {
		return LookupResult{}, false, nil
	}

	if isV4 {
		switch opts.Family {
		case FamilyAny, FamilyIPv4:
			return singleResult(host, FamilyIPv4, opts), true, nil
		case FamilyIPv6:
			if opts.Hints.has(HintV4MAPPED) {
				return singleResult("::ffff:"+host, FamilyIPv6, opts), true, nil
			}
			return LookupResult{}, true, NewLookupError(CodeNotFound, host, nil)
		}
	}
	if isV6 {
		switch opts.Family {
		case FamilyAny, FamilyIPv6:
			return singleResult(host, FamilyIPv6, opts), true, nil
		case FamilyIPv4:
			return LookupResult{}, true, NewLookupError(CodeNotFound, host, nil)
		}
	}
	return LookupResult{}, true, NewLookupError(CodeNotFound, host, nil)
}

func (c *Controller) checkIP(host string) (isV4, isV6 bool) {
	if v, ok := c.ipCheckCache.Load(host); ok {
		r := v.(ipCheckResult)
		return r.isV4, r.isV6
	}
	r := ipCheckResult{isV4: c.isIP.IsV4(host), isV6: c.isIP.IsV6(host)}
	c.ipCheckCache.Store(host, r)
	return r.isV4, r.isV6
}

func singleResult(addr string, family int, opts LookupOptions) LookupResult {
	if opts.All {
		return LookupResult{All: true, Addresses: []AddressResult{{Address: addr, Family: family}}}
	}
	return LookupResult{Address: addr, Family: family}
}

func (c *Controller) shapeFromHosts(host string, addrs hostsAddrs, opts LookupOptions) (LookupResult, error) {
	var v4, v6 []ResolvedAddress
	switch opts.Family {
	case FamilyIPv4:
		v4 = toResolved(addrs.v4)
	case FamilyIPv6:
		v6 = toResolved(addrs.v6)
	default:
		v4 = toResolved(addrs.v4)
		v6 = toResolved(addrs.v6)
	}
	candidates := shapeCandidates(v4, v6, opts)
	if len(candidates) == 0 {
		return LookupResult{}, NewLookupError(CodeNotFound, host, nil)
	}
	return c.finalizeResult(host, opts, candidates, c.rotationFor(host, FamilyAny, nil))
}

func toResolved(addrs []string) []ResolvedAddress {
	out := make([]ResolvedAddress, len(addrs))
	for i, a := range addrs {
		out[i] = ResolvedAddress{Address: a}
	}
	return out
}

// requiredFamilies implements step 4 of the request pipeline.
func (c *Controller) requiredFamilies(opts LookupOptions) ([]int, error) {
	var families []int
	switch opts.Family {
	case FamilyIPv4:
		families = []int{FamilyIPv4}
	case FamilyIPv6:
		families = []int{FamilyIPv6}
		if opts.Hints.has(HintV4MAPPED) {
			// A records feed the V4MAPPED mapping in shapeFamily6.
			families = append(families, FamilyIPv4)
		}
	default:
		families = []int{FamilyIPv4, FamilyIPv6}
	}
	if opts.Hints.has(HintADDRCONFIG) {
		avail := localFamilies()
		families = intersectFamilies(families, avail)
		if len(families) == 0 {
			return nil, NewLookupError(CodeNotFound, "", nil)
		}
	}
	return families, nil
}

func intersectFamilies(want, have []int) []int {
	haveSet := make(map[int]bool, len(have))
	for _, h := range have {
		haveSet[h] = true
	}
	var out []int
	for _, w := range want {
		if haveSet[w] {
			out = append(out, w)
		}
	}
	return out
}

// localFamilies reports which address families have at least one local
// interface address assigned - the ADDRCONFIG check.
func localFamilies() []int {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return []int{FamilyIPv4, FamilyIPv6}
	}
	var has4, has6 bool
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.To4() != nil {
			has4 = true
		} else if ipNet.IP.To16() != nil {
			has6 = true
		}
	}
	var out []int
	if has4 {
		out = append(out, FamilyIPv4)
	}
	if has6 {
		out = append(out, FamilyIPv6)
	}
	return out
}

// resolveFamily implements the per-family cache decision tree from step 5
// of the request pipeline.
func (c *Controller) resolveFamily(ctx context.Context, host string, family int) (*CacheEntry, error) {
	key := cacheKey(host, family)
	now := time.Now()

	entry, ok := c.cache.Get(key)
	if !ok {
		atomic.AddUint64(&c.stats.CacheMisses, 1)
		return c.doResolve(ctx, key, host, family)
	}

	switch entry.Kind {
	case KindSuccess:
		if entry.IsFresh(now) {
			atomic.AddUint64(&c.stats.CacheHits, 1)
			return entry, nil
		}
		// Stale success: resolve now.
		atomic.AddUint64(&c.stats.CacheMisses, 1)
		fresh, err := c.doResolve(ctx, key, host, family)
		if err == nil {
			return fresh, nil
		}
		if maxExp, ok := c.failover.UseExpiredCache(err, host); ok {
			if now.Sub(entry.ExpiresAt) <= maxExp {
				// Put the stale entry back in place of any FAILURE entry the
				// failed resolve just wrote, so later lookups can still be
				// served from it.
				if cur, ok := c.cache.Get(key); ok && cur.Kind == KindFailure {
					c.cache.Set(key, entry)
				}
				return entry, nil // stale served
			}
		}
		return nil, err

	case KindFailure:
		if entry.IsFresh(now) {
			// The cache keeps one value per key, and the KindSuccess/stale
			// branch above puts back a stale SUCCESS entry it serves, so a
			// fresh FAILURE entry only ever replaced a SUCCESS entry the
			// policy would no longer serve. There is no stale SUCCESS entry
			// to prefer here.
			atomic.AddUint64(&c.stats.CacheHits, 1)
			return nil, entry.asError(host)
		}
		// Stale failure: treat as missing.
		atomic.AddUint64(&c.stats.CacheMisses, 1)
		return c.doResolve(ctx, key, host, family)
	}

	return nil, NewLookupError(CodeServFail, host, nil)
}

// doResolve implements the single-flight resolve subroutine from step
// 4.9.3, coalescing concurrent resolutions for the same (host, family).
func (c *Controller) doResolve(ctx context.Context, key, host string, family int) (*CacheEntry, error) {
	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		fn := c.resolveFuncFor(family)
		fn = c.throttle.Wrap(fn)

		addrs, rerr := fn(ctx, host)
		if rerr != nil {
			if ttl, ok := c.failover.CacheResolverFailure(rerr, host); ok {
				c.cache.Set(key, newFailureEntry(rerr, ttl))
			}
			return nil, rerr
		}
		if len(addrs) == 0 {
			rerr = NewLookupError(CodeNoData, host, nil)
			if ttl, ok := c.failover.CacheResolverFailure(rerr, host); ok {
				c.cache.Set(key, newFailureEntry(rerr, ttl))
			}
			return nil, rerr
		}

		ttlSeconds := clampTTL(minTTL(addrs))
		entry := newSuccessEntry(addrs, ttlSeconds)
		c.cache.Set(key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CacheEntry), nil
}

func (c *Controller) resolveFuncFor(family int) ResolveFunc {
	if family == FamilyIPv4 {
		return c.resolver.Resolve4
	}
	return c.resolver.Resolve6
}

func minTTL(addrs []ResolvedAddress) int {
	min := addrs[0].TTL
	for _, a := range addrs[1:] {
		if a.TTL < min {
			min = a.TTL
		}
	}
	return min
}

func clampTTL(ttl int) int {
	if ttl < 1 {
		return 1
	}
	if ttl > 86_400 {
		return 86_400
	}
	return ttl
}

func splitCacheKey(key string) (host string, family int) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			switch key[i+1:] {
			case "4":
				return key[:i], FamilyIPv4
			case "6":
				return key[:i], FamilyIPv6
			default:
				return key[:i], FamilyAny
			}
		}
	}
	return "", FamilyAny
}

// shapeCandidates implements step 7's combination rules: ordering,
// V4MAPPED and ALL.
func shapeCandidates(v4, v6 []ResolvedAddress, opts LookupOptions) []AddressResult {
	if opts.Family == FamilyIPv6 {
		return shapeFamily6(v6, v4, opts.Hints)
	}

	v4r := taggedResults(v4, FamilyIPv4)
	v6r := taggedResults(v6, FamilyIPv6)

	switch opts.Order {
	case OrderIPv4First:
		return append(v4r, v6r...)
	case OrderIPv6First:
		return append(v6r, v4r...)
	default: // OrderVerbatim: A before AAAA, for deterministic ordering.
		return append(v4r, v6r...)
	}
}

func shapeFamily6(v6, v4 []ResolvedAddress, hints Hints) []AddressResult {
	out := taggedResults(v6, FamilyIPv6)
	includeMapped := false
	if len(v6) == 0 && len(v4) > 0 && hints.has(HintV4MAPPED) {
		includeMapped = true
	}
	if hints.has(HintALL) && hints.has(HintV4MAPPED) && len(v4) > 0 {
		includeMapped = true
	}
	if includeMapped {
		for _, a := range v4 {
			out = append(out, AddressResult{Address: "::ffff:" + a.Address, Family: FamilyIPv6})
		}
	}
	return out
}

func taggedResults(addrs []ResolvedAddress, family int) []AddressResult {
	out := make([]AddressResult, len(addrs))
	for i, a := range addrs {
		out[i] = AddressResult{Address: a.Address, Family: family}
	}
	return out
}

// rotationFor returns the stable rotation counter for a combined/hosts
// lookup that has no single backing cache entry.
func (c *Controller) rotationFor(host string, family int, entry *CacheEntry) *rotationCounter {
	if entry != nil {
		return &entry.rotation
	}
	key := cacheKey(host, family)
	v, _ := c.hostsRotation.LoadOrStore(key, &rotationCounter{})
	return v.(*rotationCounter)
}

// finalizeResult implements the final branch of step 7: shape into a list
// (All == true) or reduce via the selection strategy (All == false). rot,
// when nil, is derived from host/family via rotationFor.
func (c *Controller) finalizeResult(host string, opts LookupOptions, candidates []AddressResult, rot *rotationCounter) (LookupResult, error) {
	if opts.All {
		return LookupResult{All: true, Addresses: candidates}, nil
	}
	if rot == nil {
		rot = c.rotationFor(host, opts.Family, nil)
	}
	chosen, err := c.choice.ChooseOne(rot, candidates)
	if err != nil {
		// EMPTY_ARRAY must never escape; the controller only calls this
		// with a list it has already verified is non-empty.
		return LookupResult{}, NewLookupError(CodeNotFound, host, nil)
	}
	return LookupResult{Address: chosen.Address, Family: chosen.Family}, nil
}
