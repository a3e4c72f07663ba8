package dircache

import (
	"sync"
	"testing"
	"time"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func seeded(t *testing.T, change uint64, opts ...Option) *Cache {
	t.Helper()
	c := New(false, opts...)
	c.Lock()
	c.Reset()
	c.SetChangeInfo(change)
	c.AddEntry("a", 1)
	c.AddEntry("b", 2)
	c.Unlock()
	return c
}

func TestNewCacheIsInvalid(t *testing.T) {
	c := New(true)
	c.Lock()
	defer c.Unlock()

	assert.False(t, c.Valid())
	assert.True(t, c.AttrDir())
	assert.Zero(t, c.Len())
}

func TestPatchAppliesAtomicMatchingChange(t *testing.T) {
	c := seeded(t, 10)

	res := c.Patch(types.ChangeInfo{Atomic: true, Before: 10, After: 11}, func(c *Cache) {
		c.AddEntry("f", 3)
	})
	require.Equal(t, Patched, res)

	c.Lock()
	defer c.Unlock()
	assert.True(t, c.Valid())
	assert.Equal(t, uint64(11), c.ChangeInfo())
	id, ok := c.Lookup("f")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), id)
	assert.Equal(t, 3, c.Len())
}

func TestPatchTrashes(t *testing.T) {
	tests := []struct {
		name string
		ci   types.ChangeInfo
	}{
		{"NonAtomic", types.ChangeInfo{Atomic: false, Before: 10, After: 11}},
		{"BeforeMismatch", types.ChangeInfo{Atomic: true, Before: 9, After: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := seeded(t, 10)
			called := false

			res := c.Patch(tt.ci, func(*Cache) { called = true })
			assert.Equal(t, Trashed, res)
			assert.False(t, called)

			c.Lock()
			defer c.Unlock()
			assert.False(t, c.Valid())
			assert.Zero(t, c.Len())
		})
	}
}

func TestPatchSkipsInvalidCache(t *testing.T) {
	var seen []Result
	c := New(false, WithObserver(func(r Result) { seen = append(seen, r) }))

	res := c.Patch(types.ChangeInfo{Atomic: true}, func(*Cache) { t.Fatal("must not mutate an invalid cache") })
	assert.Equal(t, Skipped, res)
	assert.Equal(t, []Result{Skipped}, seen)
}

func TestExpiryAndPin(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := seeded(t, 1, WithTTL(time.Second), WithClock(clock.Now))

	c.Pin()
	clock.Advance(2 * time.Second)
	c.Lock()
	assert.True(t, c.Valid(), "pinned cache does not expire")
	c.Unlock()

	c.Unpin()
	c.Unpin() // extra unpin is harmless
	c.Lock()
	assert.False(t, c.Valid())
	c.Unlock()

	c.Pin()
	c.Lock()
	c.Trash()
	assert.False(t, c.Valid(), "trash wins over pin")
	c.Unlock()
}

func TestValidateChangeInfo(t *testing.T) {
	c := seeded(t, 5)

	c.Lock()
	c.ValidateChangeInfo(5)
	assert.Equal(t, 2, c.Len(), "same counter keeps entries")

	c.ValidateChangeInfo(6)
	assert.Zero(t, c.Len())
	assert.True(t, c.Valid())
	assert.Equal(t, uint64(6), c.ChangeInfo())
	c.Unlock()
}

func TestEntriesSorted(t *testing.T) {
	c := seeded(t, 1)
	c.Lock()
	defer c.Unlock()

	c.RemoveEntry("a")
	c.AddEntry("0", 9)
	assert.Equal(t, []Entry{{"0", 9}, {"b", 2}}, c.Entries())
	assert.Equal(t, "patched", Patched.String())
}

func TestCounterFollowsPatchSequence(t *testing.T) {
	c := seeded(t, 100)

	for i := uint64(0); i < 50; i++ {
		res := c.Patch(types.ChangeInfo{Atomic: true, Before: 100 + i, After: 101 + i}, nil)
		require.Equal(t, Patched, res)
	}

	c.Lock()
	defer c.Unlock()
	assert.Equal(t, uint64(150), c.ChangeInfo())
}

func TestCompleteListing(t *testing.T) {
	c := seeded(t, 3)
	c.Lock()
	assert.False(t, c.Complete(), "lookups alone never complete a listing")
	c.MarkComplete()
	c.Unlock()

	res := c.Patch(types.ChangeInfo{Atomic: true, Before: 3, After: 4}, func(c *Cache) { c.RemoveEntry("a") })
	require.Equal(t, Patched, res)
	c.Lock()
	assert.True(t, c.Complete(), "patched listings stay complete")
	c.ValidateChangeInfo(9)
	assert.False(t, c.Complete())
	c.Unlock()

	c.Lock()
	c.MarkComplete()
	c.Unlock()
	c.Patch(types.ChangeInfo{Atomic: false, Before: 9, After: 10}, nil)
	c.Lock()
	defer c.Unlock()
	assert.False(t, c.Complete())
}
