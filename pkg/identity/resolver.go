package identity

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/agentnode/pkg/log"
	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/types"
	"golang.org/x/sync/singleflight"
)

// RegistryClient is the external, read-only collaborator backing the
// registry lookup. Implementations typically wrap a chain read RPC.
type RegistryClient interface {
	Lookup(ctx context.Context, name string) (*types.ResolvedIdentity, error)
}

// Config tunes cache lifetimes. Zero values fall back to the defaults.
type Config struct {
	TTL              time.Duration // default 5 minutes
	NegativeTTL      time.Duration // default 30 seconds
	StaleGracePeriod time.Duration // default 10 minutes
	LookupTimeout    time.Duration // default 5 seconds
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.NegativeTTL == 0 {
		c.NegativeTTL = 30 * time.Second
	}
	if c.StaleGracePeriod == 0 {
		c.StaleGracePeriod = 10 * time.Minute
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = 5 * time.Second
	}
	return c
}

type cacheEntry struct {
	identity  *types.ResolvedIdentity // nil for a negative entry
	expiresAt time.Time
	negative  bool
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Resolver caches name resolutions from a RegistryClient.
type Resolver struct {
	cfg      Config
	registry RegistryClient
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewResolver creates a Resolver backed by registry.
func NewResolver(registry RegistryClient, cfg Config) *Resolver {
	return &Resolver{
		cfg:      cfg.withDefaults(),
		registry: registry,
		cache:    make(map[string]*cacheEntry),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background TTL/2 refresh loop. Safe to skip if
// the caller only wants on-demand resolution.
func (r *Resolver) Start() {
	go r.refreshLoop()
}

// Stop halts the background refresh loop. Safe to call more than once.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Resolve returns the cached resolution for name, refreshing it from
// the registry on a cache miss or once the TTL expires. Concurrent
// misses for the same name share one upstream fetch. A stale entry
// within the grace window is returned immediately while a refresh
// runs in the background.
func (r *Resolver) Resolve(ctx context.Context, name string) (*types.ResolvedIdentity, error) {
	now := time.Now()

	r.mu.RLock()
	entry, ok := r.cache[name]
	r.mu.RUnlock()

	if ok && !entry.expired(now) {
		metrics.IdentityCacheHits.Inc()
		if entry.negative {
			return nil, newError(name, ErrNotFound, nil)
		}
		return entry.identity, nil
	}

	if ok && !entry.negative && now.Sub(entry.expiresAt) < r.cfg.StaleGracePeriod {
		go r.backgroundRefresh(name)
		identityLogger := log.WithIdentity(name)
		identityLogger.Debug().Msg("serving stale identity within grace window")
		return entry.identity, nil
	}

	metrics.IdentityCacheMisses.Inc()
	return r.fetch(ctx, name)
}

func (r *Resolver) backgroundRefresh(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LookupTimeout)
	defer cancel()
	if _, err := r.fetch(ctx, name); err != nil {
		identityLogger := log.WithIdentity(name)
		identityLogger.Warn().Err(err).Msg("background identity refresh failed")
	}
}

func (r *Resolver) fetch(ctx context.Context, name string) (*types.ResolvedIdentity, error) {
	timer := metrics.NewTimer()
	v, err, _ := r.group.Do(name, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		defer cancel()
		return r.registry.Lookup(lookupCtx, name)
	})
	timer.ObserveDuration(metrics.IdentityResolveDuration)

	if err != nil {
		r.mu.RLock()
		stale, hasStale := r.cache[name]
		r.mu.RUnlock()
		if hasStale && !stale.negative && time.Since(stale.expiresAt) < r.cfg.StaleGracePeriod {
			identityLogger := log.WithIdentity(name)
			identityLogger.Warn().Err(err).Msg("registry unavailable, serving last known identity")
			return stale.identity, nil
		}
		return nil, newError(name, ErrRegistryUnavailable, err)
	}

	ri, _ := v.(*types.ResolvedIdentity)
	if ri == nil {
		r.storeNegative(name)
		return nil, newError(name, ErrNotFound, nil)
	}

	r.store(name, ri)
	return ri, nil
}

func (r *Resolver) store(name string, ri *types.ResolvedIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = &cacheEntry{identity: ri, expiresAt: time.Now().Add(r.cfg.TTL)}
}

func (r *Resolver) storeNegative(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = &cacheEntry{negative: true, expiresAt: time.Now().Add(r.cfg.NegativeTTL)}
}

// Invalidate drops a cached entry, forcing the next Resolve to hit the
// registry.
func (r *Resolver) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

func (r *Resolver) refreshLoop() {
	ticker := time.NewTicker(r.cfg.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshAll()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Resolver) refreshAll() {
	r.mu.RLock()
	names := make([]string, 0, len(r.cache))
	for name, entry := range r.cache {
		if !entry.negative {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.backgroundRefresh(name)
	}
}
