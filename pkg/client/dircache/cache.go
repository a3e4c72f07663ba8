// Package dircache caches the name → file id mapping of one directory (or
// one named-attribute directory) tagged with the directory's change
// counter. The cache is patched incrementally when the server reports an
// atomic change whose "before" value matches the cached counter, and
// trashed otherwise.
package dircache

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// DefaultTTL bounds how long a cache stays valid without revalidation.
const DefaultTTL = 60 * time.Second

// Result describes what Patch did.
type Result int

const (
	// Skipped means the cache was already invalid and was left alone.
	Skipped Result = iota
	// Patched means the mutation was applied and the counter advanced.
	Patched
	// Trashed means the change could not be applied and the cache was dropped.
	Trashed
)

func (r Result) String() string {
	switch r {
	case Patched:
		return "patched"
	case Trashed:
		return "trashed"
	}
	return "skipped"
}

// Cache is a DirectoryCache. Methods whose doc says "caller holds the lock"
// must run between Lock and Unlock; the others lock internally.
type Cache struct {
	mu sync.Mutex

	attrDir  bool
	entries  map[string]uint64
	change   uint64
	trashed  bool
	complete bool
	expire   time.Time
	pinned   int
	ttl      time.Duration
	now      func() time.Time
	onUpdate func(Result)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the validity window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObserver registers a callback invoked with every Patch outcome.
func WithObserver(fn func(Result)) Option {
	return func(c *Cache) { c.onUpdate = fn }
}

// New returns an empty, invalid cache. attrDir marks a cache of named
// attributes rather than directory entries.
func New(attrDir bool, opts ...Option) *Cache {
	c := &Cache{
		attrDir: attrDir,
		entries: make(map[string]uint64),
		trashed: true,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lock acquires the cache lock.
func (c *Cache) Lock() { c.mu.Lock() }

// Unlock releases the cache lock.
func (c *Cache) Unlock() { c.mu.Unlock() }

// AttrDir reports whether this caches named attributes.
func (c *Cache) AttrDir() bool { return c.attrDir }

// Valid reports whether the cache may be trusted. A pinned cache does not
// expire with time, but a Trash still invalidates it. Caller holds the lock.
func (c *Cache) Valid() bool {
	if c.trashed {
		return false
	}
	return c.pinned > 0 || c.now().Before(c.expire)
}

// Reset empties the cache and marks it valid for a fresh TTL. Caller holds
// the lock and is expected to follow up with SetChangeInfo.
func (c *Cache) Reset() {
	clear(c.entries)
	c.trashed = false
	c.complete = false
	c.expire = c.now().Add(c.ttl)
}

// Trash drops all entries and marks the cache invalid. Caller holds the lock.
func (c *Cache) Trash() {
	clear(c.entries)
	c.trashed = true
	c.complete = false
}

// MarkComplete records that the entries are a full listing, so a name
// missing from the cache does not exist. Caller holds the lock.
func (c *Cache) MarkComplete() { c.complete = true }

// Complete reports whether the entries are a full listing. Caller holds
// the lock.
func (c *Cache) Complete() bool { return c.complete }

// ChangeInfo returns the counter the entries reflect. Caller holds the lock.
func (c *Cache) ChangeInfo() uint64 { return c.change }

// SetChangeInfo records the counter the entries reflect. Caller holds the lock.
func (c *Cache) SetChangeInfo(change uint64) { c.change = change }

// ValidateChangeInfo keeps the entries if change matches the cached
// counter; otherwise it resets the cache to an empty, valid state at
// change. Caller holds the lock.
func (c *Cache) ValidateChangeInfo(change uint64) {
	if c.trashed || change != c.change {
		c.Reset()
		c.change = change
	}
}

// AddEntry maps name to id, replacing an existing mapping. Caller holds the lock.
func (c *Cache) AddEntry(name string, id uint64) {
	c.entries[name] = id
}

// RemoveEntry drops name. Caller holds the lock.
func (c *Cache) RemoveEntry(name string) {
	delete(c.entries, name)
}

// Lookup returns the id cached for name. Caller holds the lock.
func (c *Cache) Lookup(name string) (uint64, bool) {
	id, ok := c.entries[name]
	return id, ok
}

// Len returns the number of cached entries. Caller holds the lock.
func (c *Cache) Len() int { return len(c.entries) }

// Entry is one cached name.
type Entry struct {
	Name string
	ID   uint64
}

// Entries returns the cached entries sorted by name. Caller holds the lock.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for name, id := range c.entries {
		out = append(out, Entry{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pin keeps the cache from expiring with time until Unpin. Pins nest.
func (c *Cache) Pin() {
	c.mu.Lock()
	c.pinned++
	c.mu.Unlock()
}

// Unpin releases one Pin.
func (c *Cache) Unpin() {
	c.mu.Lock()
	if c.pinned > 0 {
		c.pinned--
	}
	c.mu.Unlock()
}

// Patch applies a server-reported change to a valid cache: when ci is
// atomic and ci.Before equals the cached counter, mutate runs and the
// counter becomes ci.After; otherwise the cache is trashed. An invalid
// cache is left untouched. Patch takes the lock itself.
func (c *Cache) Patch(ci types.ChangeInfo, mutate func(c *Cache)) Result {
	c.mu.Lock()
	res := c.patchLocked(ci, mutate)
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(res)
	}
	return res
}

func (c *Cache) patchLocked(ci types.ChangeInfo, mutate func(c *Cache)) Result {
	if !c.Valid() {
		return Skipped
	}
	if !ci.Applies(c.change) {
		logger.Debug("directory cache trashed",
			append([]any{logger.Change(c.change)}, logger.ChangeInfo(ci.Before, ci.After, ci.Atomic)...)...)
		c.Trash()
		return Trashed
	}
	if mutate != nil {
		mutate(c)
	}
	c.change = ci.After
	return Patched
}
