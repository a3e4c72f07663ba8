package state

import (
	"sync/atomic"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// DelegationType is the kind of delegation the server granted.
type DelegationType int

const (
	ReadDelegation DelegationType = iota
	WriteDelegation
)

func (t DelegationType) String() string {
	if t == WriteDelegation {
		return "write"
	}
	return "read"
}

// DelegationTypeFromProtocol converts an open_delegation_type4. It reports
// false for OPEN_DELEGATE_NONE and unknown values.
func DelegationTypeFromProtocol(v uint32) (DelegationType, bool) {
	switch v {
	case types.OPEN_DELEGATE_READ:
		return ReadDelegation, true
	case types.OPEN_DELEGATE_WRITE:
		return WriteDelegation, true
	}
	return ReadDelegation, false
}

// Protocol returns the open_delegation_type4 value.
func (t DelegationType) Protocol() uint32 {
	if t == WriteDelegation {
		return types.OPEN_DELEGATE_WRITE
	}
	return types.OPEN_DELEGATE_READ
}

// Delegation is a delegation granted as a side effect of OPEN. It holds a
// reference on the open state it was granted against for as long as it
// lives.
type Delegation struct {
	Type       DelegationType
	Stateid    types.Stateid4
	Recall     bool
	SpaceLimit uint64

	state    *OpenState
	fileID   uint64
	returned atomic.Bool
}

// NewDelegation attaches a delegation to s, taking a reference on it.
func NewDelegation(s *OpenState, typ DelegationType, stateid types.Stateid4) *Delegation {
	d := &Delegation{
		Type:    typ,
		Stateid: stateid,
		state:   s,
		fileID:  s.FileID(),
	}
	s.Acquire()
	s.setDelegation(d)
	return d
}

// OpenState returns the open state the delegation was granted against.
func (d *Delegation) OpenState() *OpenState { return d.state }

// FileID returns the id of the delegated file.
func (d *Delegation) FileID() uint64 { return d.fileID }

// BeginReturn marks the delegation as being returned. Only the first caller
// gets true; everybody else must not return it again.
func (d *Delegation) BeginReturn() bool {
	return d.returned.CompareAndSwap(false, true)
}

// Returned reports whether BeginReturn has been called.
func (d *Delegation) Returned() bool { return d.returned.Load() }

// Detach unlinks the delegation from its open state and drops the reference
// it held. It reports whether that was the last reference.
func (d *Delegation) Detach() (bool, error) {
	d.state.mu.Lock()
	if d.state.delegation == d {
		d.state.delegation = nil
	}
	d.state.mu.Unlock()
	return d.state.Release()
}
