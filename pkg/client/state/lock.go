package state

import (
	"math"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// ToEOF is the lock length meaning "to the end of the file".
const ToEOF uint64 = math.MaxUint64

// LockType is the kind of a byte-range lock.
type LockType int

const (
	ReadLock LockType = iota
	WriteLock
)

func (t LockType) String() string {
	if t == WriteLock {
		return "write"
	}
	return "read"
}

// Protocol returns the nfs_lock_type4 value; blocking selects the *W_LT
// variants used when the caller is willing to wait.
func (t LockType) Protocol(blocking bool) uint32 {
	switch {
	case t == WriteLock && blocking:
		return types.WRITEW_LT
	case t == WriteLock:
		return types.WRITE_LT
	case blocking:
		return types.READW_LT
	}
	return types.READ_LT
}

// LockTypeFromProtocol converts an nfs_lock_type4 value.
func LockTypeFromProtocol(v uint32) LockType {
	if v == types.WRITE_LT || v == types.WRITEW_LT {
		return WriteLock
	}
	return ReadLock
}

// LockInfo is one byte-range lock held by Owner.
type LockInfo struct {
	ID     uint64
	Owner  *LockOwner
	Start  uint64
	Length uint64
	Type   LockType

	// Blocking records whether the lock was requested with a wait.
	Blocking bool
}

// Matches reports whether l is the lock owner holds over [start, start+length).
func (l *LockInfo) Matches(owner uint32, start, length uint64) bool {
	return l.Owner != nil && l.Owner.Owner == owner && l.Start == start && l.Length == length
}
