package state

import (
	"sort"
	"sync"
	"testing"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newState(t *testing.T) *OpenState {
	t.Helper()
	s := NewOpenState(42, types.MustFileHandle([]byte{1, 2, 3}), unix.O_RDWR)
	s.SetClientID(7)
	return s
}

func lock(t *testing.T, s *OpenState, c *Cookie, owner uint32, start, length uint64) *LockInfo {
	t.Helper()
	o, err := s.LockOwner(owner)
	require.NoError(t, err)
	l := &LockInfo{Owner: o, Start: start, Length: length, Type: WriteLock}
	_, err = s.LinkLock(c, l)
	require.NoError(t, err)
	return l
}

// reachable returns the ids linked from the state and from the cookies.
func reachable(s *OpenState, cookies ...*Cookie) (fromState, fromCookies []uint64) {
	for _, l := range s.Locks() {
		fromState = append(fromState, l.ID)
	}
	for _, c := range cookies {
		fromCookies = append(fromCookies, c.LockIDs()...)
	}
	sort.Slice(fromCookies, func(i, j int) bool { return fromCookies[i] < fromCookies[j] })
	return fromState, fromCookies
}

func TestReleaseRefCounting(t *testing.T) {
	s := newState(t)
	s.Acquire()
	assert.Equal(t, 2, s.Refs())

	last, err := s.Release()
	require.NoError(t, err)
	assert.False(t, last)

	last, err = s.Release()
	require.NoError(t, err)
	assert.True(t, last)

	_, err = s.Release()
	assert.ErrorIs(t, err, ErrRefUnderflow)
	assert.Zero(t, s.Refs())
}

func TestReleaseWithLocksHeld(t *testing.T) {
	s := newState(t)
	c := NewCookie(s, unix.O_RDWR)
	l := lock(t, s, c, 100, 0, 10)

	_, err := s.Release()
	assert.ErrorIs(t, err, ErrLocksHeld)
	assert.Equal(t, 1, s.Refs(), "failed release keeps the reference")

	_, err = s.UnlinkLock(c, l.ID)
	require.NoError(t, err)

	_, err = s.Release()
	assert.ErrorIs(t, err, ErrLocksHeld, "idle owner still attached")

	assert.Equal(t, 1, s.DropIdleOwners())
	last, err := s.Release()
	require.NoError(t, err)
	assert.True(t, last)
}

func TestLockOwnerCreatedOnce(t *testing.T) {
	s := newState(t)

	a, err := s.LockOwner(5)
	require.NoError(t, err)
	b, err := s.LockOwner(5)
	require.NoError(t, err)
	c, err := s.LockOwner(6)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotEqual(t, a.Opaque(), c.Opaque())
	assert.Equal(t, uint64(7), a.ClientID())
	assert.Len(t, s.LockOwners(), 2)
}

func TestLockOwnerSequence(t *testing.T) {
	o, err := NewLockOwner(1, 2, 3)
	require.NoError(t, err)

	o.Lock()
	defer o.Unlock()

	_, ok := o.Stateid()
	assert.False(t, ok)

	o.Advance(1)
	o.SetStateid(types.Stateid4{Seqid: 4})
	sid, ok := o.Stateid()
	assert.True(t, ok)
	assert.Equal(t, uint32(4), sid.Seqid)
	assert.Equal(t, uint32(1), o.Sequence())

	o.ResetState()
	_, ok = o.Stateid()
	assert.False(t, ok)
	assert.Zero(t, o.Sequence())
}

func TestLockBookkeeping(t *testing.T) {
	s := newState(t)
	c1 := NewCookie(s, unix.O_RDWR)
	s.Acquire()
	c2 := NewCookie(s, unix.O_RDONLY)

	a := lock(t, s, c1, 1, 0, 10)
	b := lock(t, s, c2, 2, 10, 10)
	lock(t, s, c1, 1, 100, ToEOF)

	st, ck := reachable(s, c1, c2)
	assert.Equal(t, st, ck)
	assert.Len(t, st, 3)

	found, ok := s.FindLock(c1, 1, 100, ToEOF)
	require.True(t, ok)
	_, ok = s.FindLock(c2, 1, 100, ToEOF)
	assert.False(t, ok, "lock is only visible through the cookie that took it")

	_, err := s.UnlinkLock(c2, a.ID)
	assert.ErrorIs(t, err, ErrLockNotFound)

	_, err = s.UnlinkLock(c1, found.ID)
	require.NoError(t, err)
	st, ck = reachable(s, c1, c2)
	assert.Equal(t, st, ck)

	// Draining one cookie removes exactly its locks.
	for _, l := range s.CookieLocks(c1) {
		_, err := s.UnlinkLock(c1, l.ID)
		require.NoError(t, err)
	}
	assert.False(t, c1.HasLocks())
	st, ck = reachable(s, c1, c2)
	assert.Equal(t, []uint64{b.ID}, st)
	assert.Equal(t, st, ck)
}

func TestForeignCookie(t *testing.T) {
	s := newState(t)
	other := NewCookie(newState(t), unix.O_RDWR)

	_, err := s.LinkLock(other, &LockInfo{})
	assert.ErrorIs(t, err, ErrForeignCookie)
	_, err = s.UnlinkLock(other, 1)
	assert.ErrorIs(t, err, ErrForeignCookie)
}

func TestConcurrentLinkUnlink(t *testing.T) {
	s := newState(t)
	cookies := []*Cookie{NewCookie(s, unix.O_RDWR), NewCookie(s, unix.O_RDWR), NewCookie(s, unix.O_RDWR)}

	var wg sync.WaitGroup
	for i, c := range cookies {
		wg.Add(1)
		go func(owner uint32, c *Cookie) {
			defer wg.Done()
			o, err := s.LockOwner(owner)
			if err != nil {
				t.Error(err)
				return
			}
			for j := uint64(0); j < 100; j++ {
				id, err := s.LinkLock(c, &LockInfo{Owner: o, Start: j, Length: 1})
				if err != nil {
					t.Error(err)
					return
				}
				if j%2 == 0 {
					if _, err := s.UnlinkLock(c, id); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}(uint32(i), c)
	}
	wg.Wait()

	st, ck := reachable(s, cookies...)
	assert.Len(t, st, 150)
	assert.Equal(t, st, ck)
}

func TestLockTypes(t *testing.T) {
	assert.Equal(t, uint32(types.READ_LT), ReadLock.Protocol(false))
	assert.Equal(t, uint32(types.READW_LT), ReadLock.Protocol(true))
	assert.Equal(t, uint32(types.WRITE_LT), WriteLock.Protocol(false))
	assert.Equal(t, uint32(types.WRITEW_LT), WriteLock.Protocol(true))
	assert.Equal(t, WriteLock, LockTypeFromProtocol(types.WRITEW_LT))
	assert.Equal(t, ReadLock, LockTypeFromProtocol(types.READ_LT))
	assert.Equal(t, "write", WriteLock.String())
}

func TestClientIDUpdateWhileOwnerBusy(t *testing.T) {
	s := newState(t)
	o, err := s.LockOwner(1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Lock()
		defer o.Unlock()
		for i := 0; i < 100; i++ {
			_ = o.ClientID()
		}
	}()
	s.SetClientID(9)
	<-done

	assert.Equal(t, uint64(9), o.ClientID())
	assert.Equal(t, uint64(9), s.ClientID())
}
