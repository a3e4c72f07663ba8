package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMetadataCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newMetadataCache(time.Second, clock.now)

	_, ok := m.Stat()
	assert.False(t, ok)

	m.SetStat(Attributes{Size: 42})
	m.SetAccess(7, unix.R_OK)
	a, ok := m.Stat()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), a.Size)
	mode, ok := m.Access(7)
	assert.True(t, ok)
	assert.Equal(t, uint32(unix.R_OK), mode)
	_, ok = m.Access(8)
	assert.False(t, ok)

	clock.t = clock.t.Add(2 * time.Second)
	_, ok = m.Stat()
	assert.False(t, ok)
	_, ok = m.Access(7)
	assert.False(t, ok)
}

func TestMetadataCacheLockValid(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newMetadataCache(time.Second, clock.now)
	m.SetStat(Attributes{Size: 1})

	m.LockValid()
	m.LockValid()
	clock.t = clock.t.Add(time.Hour)
	_, ok := m.Stat()
	assert.True(t, ok)

	m.UnlockValid()
	_, ok = m.Stat()
	assert.True(t, ok)
	m.UnlockValid()
	_, ok = m.Stat()
	assert.False(t, ok)

	// Invalidation wins over a locked cache.
	m.LockValid()
	m.InvalidateStat()
	_, ok = m.Stat()
	assert.False(t, ok)
}
