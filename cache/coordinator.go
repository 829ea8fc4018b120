package cache

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LookupFn produces the current authoritative value for a key. It is always
// supplied by the caller; the coordinator never owns one.
type LookupFn[V any] func() (V, error)

type entry[V any] struct {
	value   V
	version string
}

// Coordinator is one instance's view of a named cache. Each cached key moves
// through Absent -> Fresh(V) -> Stale (ledger moved to V') -> Fresh(V'),
// with staleness detected lazily on Get against the shared ledger. There is
// no background refresh and no distributed lock; convergence is eventual and
// correctness comes from the caller's lookup function.
type Coordinator[V any] struct {
	name   string
	ledger Ledger
	logger *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]entry[V]
}

// NewCoordinator creates a coordinator over a shared ledger. Coordinators
// for the same logical cache on different instances must share the same
// ledger (same cache name for SQLLedger).
func NewCoordinator[V any](name string, ledger Ledger, logger *zap.SugaredLogger) *Coordinator[V] {
	return &Coordinator[V]{
		name:    name,
		ledger:  ledger,
		logger:  logger,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key when the local copy matches the
// ledger's current version. Otherwise it calls lookup, stores the result
// under the ledger's version (minting and publishing a fresh one when the
// ledger has never seen the key), and returns it. A lookup error propagates
// to the caller unmodified and leaves the local state untouched.
func (c *Coordinator[V]) Get(key string, lookup LookupFn[V]) (V, error) {
	var zero V

	ledgerVersion, found, err := c.ledger.Version(key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	local, ok := c.entries[key]
	c.mu.Unlock()

	if ok && found && local.version == ledgerVersion {
		return local.value, nil
	}

	value, err := lookup()
	if err != nil {
		return zero, err
	}

	version := ledgerVersion
	if !found {
		// First sighting anywhere: mint a version so other instances can
		// tell this value apart from later ones.
		version = uuid.NewString()
		if err := c.ledger.Publish(key, version); err != nil {
			return zero, err
		}
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, version: version}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debugw("Cache refreshed",
			"cache", c.name,
			"key", key,
			"was_cached", ok,
		)
	}
	return value, nil
}

// Put stores value locally under a freshly minted version and publishes that
// version to the ledger. Publishing is what makes every other instance's
// copy of key stale on their next Get; it is the only way a version changes.
func (c *Coordinator[V]) Put(key string, value V) error {
	version := uuid.NewString()
	if err := c.ledger.Publish(key, version); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, version: version}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debugw("Cache value published",
			"cache", c.name,
			"key", key,
		)
	}
	return nil
}

// Clear drops this instance's local entries only. The ledger is untouched;
// the next Get re-fetches through the lookup function, which republishes
// when the ledger has no version and thereby nudges other instances too.
func (c *Coordinator[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Infow("Cache cleared", "cache", c.name)
	}
}

// Keys returns the locally held key set, sorted. It says nothing about what
// other instances hold; a global view is deliberately not offered.
func (c *Coordinator[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Name returns the coordinator's cache name.
func (c *Coordinator[V]) Name() string {
	return c.name
}
