package state

import (
	"slices"
	"sync"
)

// Cookie is one open file descriptor on a node. It references the shared
// OpenState and records the ids of the locks requested through it.
type Cookie struct {
	// Mode holds the open flags the descriptor was created with.
	Mode int

	state *OpenState

	mu    sync.Mutex
	locks []uint64
}

// NewCookie creates a cookie on s. The caller transfers one reference on s
// to the cookie.
func NewCookie(s *OpenState, mode int) *Cookie {
	return &Cookie{Mode: mode, state: s}
}

// State returns the open state behind the cookie.
func (c *Cookie) State() *OpenState { return c.state }

// LockIDs returns the ids of the locks requested through c, oldest first.
func (c *Cookie) LockIDs() []uint64 { return c.lockIDs() }

// HasLocks reports whether any lock was requested through c.
func (c *Cookie) HasLocks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks) != 0
}

func (c *Cookie) lockIDs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.locks)
}

func (c *Cookie) addLock(id uint64) {
	c.mu.Lock()
	c.locks = append(c.locks, id)
	c.mu.Unlock()
}

func (c *Cookie) hasLock(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.locks, id)
}

func (c *Cookie) removeLock(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.locks, id); i >= 0 {
		c.locks = slices.Delete(c.locks, i, i+1)
	}
}
