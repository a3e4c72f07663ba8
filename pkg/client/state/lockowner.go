package state

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// lockOwnerBody is the XDR layout of the lock_owner4 opaque this client
// sends. FileID scopes the owner to one file so two files opened by the same
// process never share lock state on the server.
type lockOwnerBody struct {
	Kind   string
	FileID uint64
	Owner  uint32
}

// LockOwner is one lock-owning context: a process (Owner) holding byte-range
// locks through one open state. The embedded mutex serializes the build and
// decode of LOCK and LOCKU requests for this owner.
type LockOwner struct {
	sync.Mutex

	// Owner is the process id of the lock holder.
	Owner uint32

	clientID atomic.Uint64
	opaque   []byte

	// Guarded by the embedded mutex.
	sequence uint32
	stateid  types.Stateid4
	hasState bool
}

// NewLockOwner creates a lock owner for process owner on the file
// identified by fileID.
func NewLockOwner(clientID, fileID uint64, owner uint32) (*LockOwner, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &lockOwnerBody{Kind: "lock", FileID: fileID, Owner: owner}); err != nil {
		return nil, fmt.Errorf("encode lock owner: %w", err)
	}
	o := &LockOwner{Owner: owner, opaque: buf.Bytes()}
	o.clientID.Store(clientID)
	return o, nil
}

// ClientID returns the client id the owner is bound to. Safe without the
// owner lock.
func (o *LockOwner) ClientID() uint64 { return o.clientID.Load() }

// SetClientID replaces the client id after client id recovery. Safe
// without the owner lock.
func (o *LockOwner) SetClientID(id uint64) { o.clientID.Store(id) }

// Opaque returns the encoded lock_owner4 owner bytes.
func (o *LockOwner) Opaque() []byte { return o.opaque }

// Sequence returns the next lock seqid. Caller holds the owner lock.
func (o *LockOwner) Sequence() uint32 { return o.sequence }

// Advance moves the lock seqid past a reply that consumed it. Caller holds
// the owner lock.
func (o *LockOwner) Advance(n uint32) { o.sequence += n }

// Stateid returns the lock stateid and whether the server has issued one.
// Until it has, LOCK must use the open-to-lock-owner form. Caller holds the
// owner lock.
func (o *LockOwner) Stateid() (types.Stateid4, bool) {
	return o.stateid, o.hasState
}

// SetStateid records the lock stateid returned by LOCK or LOCKU. Caller
// holds the owner lock.
func (o *LockOwner) SetStateid(s types.Stateid4) {
	o.stateid = s
	o.hasState = true
}

// ResetState forgets the lock stateid and seqid so the next LOCK starts
// over with the open-to-lock-owner form, as needed after state recovery.
// Caller holds the owner lock.
func (o *LockOwner) ResetState() {
	o.stateid = types.Stateid4{}
	o.hasState = false
	o.sequence = 0
}
