// Package state holds the client-side NFSv4 open and lock state of a file:
// open states, the lock owners and byte-range locks attached to them, the
// per-open cookies that requested those locks, and delegations.
package state

import (
	"sort"
	"sync"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// OpenState is the protocol state of one OPEN of a file. It is shared by
// every cookie whose access mode it covers and stays alive while any cookie
// or the delegation granted against it holds a reference.
//
// Locks are owned by the state and keyed by a synthetic id; cookies only
// record ids, so both views are changed together under the state mutex.
type OpenState struct {
	mu sync.Mutex

	fileID   uint64
	handle   types.FileHandle
	stateid  types.Stateid4
	clientID uint64
	mode     int
	opened   bool

	delegation *Delegation

	nextLockID uint64
	locks      map[uint64]*LockInfo
	owners     map[uint32]*LockOwner

	refs int
}

// NewOpenState creates an open state for fileID holding one reference.
// mode is the O_ACCMODE part of the open flags.
func NewOpenState(fileID uint64, handle types.FileHandle, mode int) *OpenState {
	return &OpenState{
		fileID: fileID,
		handle: handle,
		mode:   mode,
		locks:  make(map[uint64]*LockInfo),
		owners: make(map[uint32]*LockOwner),
		refs:   1,
	}
}

// FileID returns the id of the opened file.
func (s *OpenState) FileID() uint64 { return s.fileID }

// Handle returns the file handle the state was opened on.
func (s *OpenState) Handle() types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetHandle replaces the handle after file handle recovery.
func (s *OpenState) SetHandle(fh types.FileHandle) {
	s.mu.Lock()
	s.handle = fh
	s.mu.Unlock()
}

// Stateid returns the current open stateid.
func (s *OpenState) Stateid() types.Stateid4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateid
}

// SetStateid records a new open stateid (OPEN, OPEN_CONFIRM, reclaim).
func (s *OpenState) SetStateid(id types.Stateid4) {
	s.mu.Lock()
	s.stateid = id
	s.mu.Unlock()
}

// ClientID returns the client id the state was opened under.
func (s *OpenState) ClientID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// SetClientID records the client id and propagates it to lock owners.
func (s *OpenState) SetClientID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
	for _, o := range s.owners {
		o.SetClientID(id)
	}
}

// Mode returns the O_ACCMODE access mode of the open.
func (s *OpenState) Mode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode widens the access mode after an OPEN upgrade.
func (s *OpenState) SetMode(mode int) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Opened reports whether the server currently knows this open.
func (s *OpenState) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// SetOpened marks the open as established (true) or closed (false).
func (s *OpenState) SetOpened(v bool) {
	s.mu.Lock()
	s.opened = v
	s.mu.Unlock()
}

// Delegation returns the delegation granted with this open, if any.
func (s *OpenState) Delegation() *Delegation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegation
}

func (s *OpenState) setDelegation(d *Delegation) {
	s.mu.Lock()
	s.delegation = d
	s.mu.Unlock()
}

// Acquire adds a reference.
func (s *OpenState) Acquire() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// Refs returns the current reference count.
func (s *OpenState) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Release drops a reference and reports whether it was the last one. The
// last drop requires that every lock and lock owner has been removed; if
// not, the reference is kept and ErrLocksHeld is returned.
func (s *OpenState) Release() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs <= 0 {
		return false, ErrRefUnderflow
	}
	if s.refs == 1 && (len(s.locks) != 0 || len(s.owners) != 0) {
		return false, ErrLocksHeld
	}
	s.refs--
	return s.refs == 0, nil
}

// LockOwner returns the lock owner for process owner, creating it on first
// use.
func (s *OpenState) LockOwner(owner uint32) (*LockOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.owners[owner]; ok {
		return o, nil
	}
	o, err := NewLockOwner(s.clientID, s.fileID, owner)
	if err != nil {
		return nil, err
	}
	s.owners[owner] = o
	return o, nil
}

// LockOwners returns the lock owners sorted by owner id.
func (s *OpenState) LockOwners() []*LockOwner {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*LockOwner, 0, len(s.owners))
	for _, o := range s.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// DropIdleOwners removes lock owners that hold no lock and returns how many
// were removed.
func (s *OpenState) DropIdleOwners() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[uint32]bool, len(s.owners))
	for _, l := range s.locks {
		busy[l.Owner.Owner] = true
	}
	n := 0
	for id := range s.owners {
		if !busy[id] {
			delete(s.owners, id)
			n++
		}
	}
	return n
}

// LinkLock assigns l an id and links it into both the state and cookie c.
func (s *OpenState) LinkLock(c *Cookie, l *LockInfo) (uint64, error) {
	if c.state != s {
		return 0, ErrForeignCookie
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLockID++
	l.ID = s.nextLockID
	s.locks[l.ID] = l
	c.addLock(l.ID)
	return l.ID, nil
}

// UnlinkLock removes lock id from both the state and cookie c.
func (s *OpenState) UnlinkLock(c *Cookie, id uint64) (*LockInfo, error) {
	if c.state != s {
		return nil, ErrForeignCookie
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok || !c.hasLock(id) {
		return nil, ErrLockNotFound
	}
	delete(s.locks, id)
	c.removeLock(id)
	return l, nil
}

// FindLock returns the lock requested through c by process owner over
// exactly [start, start+length).
func (s *OpenState) FindLock(c *Cookie, owner uint32, start, length uint64) (*LockInfo, bool) {
	if c.state != s {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range c.lockIDs() {
		if l, ok := s.locks[id]; ok && l.Matches(owner, start, length) {
			return l, true
		}
	}
	return nil, false
}

// CookieLocks returns the locks requested through c in request order.
func (s *OpenState) CookieLocks(c *Cookie) []*LockInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := c.lockIDs()
	out := make([]*LockInfo, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.locks[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Locks returns every lock held under the state sorted by id.
func (s *OpenState) Locks() []*LockInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*LockInfo, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasLocks reports whether any lock is held under the state.
func (s *OpenState) HasLocks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks) != 0
}
