package node

import (
	"sync"
	"time"
)

type accessEntry struct {
	mode   uint32
	expire time.Time
}

// MetadataCache holds a node's last attribute snapshot and the access
// rights observed per uid. Entries expire after the TTL unless the cache
// is locked valid, which a delegation does for as long as it is held.
type MetadataCache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	stat       *Attributes
	statExpire time.Time
	access     map[uint32]accessEntry
	lockValid  int
}

func newMetadataCache(ttl time.Duration, now func() time.Time) *MetadataCache {
	if now == nil {
		now = time.Now
	}
	return &MetadataCache{ttl: ttl, now: now, access: make(map[uint32]accessEntry)}
}

func (m *MetadataCache) fresh(expire time.Time) bool {
	return m.lockValid > 0 || m.now().Before(expire)
}

// Stat returns the cached attributes if they are still valid.
func (m *MetadataCache) Stat() (Attributes, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stat == nil || !m.fresh(m.statExpire) {
		return Attributes{}, false
	}
	return *m.stat, true
}

func (m *MetadataCache) SetStat(a Attributes) {
	m.mu.Lock()
	m.stat = &a
	m.statExpire = m.now().Add(m.ttl)
	m.mu.Unlock()
}

func (m *MetadataCache) InvalidateStat() {
	m.mu.Lock()
	m.stat = nil
	m.mu.Unlock()
}

// Access returns the R_OK/W_OK/X_OK bits cached for uid.
func (m *MetadataCache) Access(uid uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.access[uid]
	if !ok || !m.fresh(e.expire) {
		return 0, false
	}
	return e.mode, true
}

func (m *MetadataCache) SetAccess(uid, mode uint32) {
	m.mu.Lock()
	m.access[uid] = accessEntry{mode: mode, expire: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *MetadataCache) InvalidateAccess() {
	m.mu.Lock()
	clear(m.access)
	m.mu.Unlock()
}

// LockValid keeps cached entries from expiring until UnlockValid. Calls
// nest.
func (m *MetadataCache) LockValid() {
	m.mu.Lock()
	m.lockValid++
	m.mu.Unlock()
}

func (m *MetadataCache) UnlockValid() {
	m.mu.Lock()
	if m.lockValid > 0 {
		m.lockValid--
	}
	m.mu.Unlock()
}
