package compound

import (
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Result is the outcome of one operation in a COMPOUND reply. Value holds
// the operation-specific payload, one of the *Result types below, or nil
// for operations with no payload.
type Result struct {
	Op     uint32
	Status uint32
	Value  any
}

type GetFHResult struct{ Handle types.FileHandle }

type GetAttrResult struct{ Values []attrs.AttrValue }

type AccessResult struct {
	Supported uint32
	Access    uint32
}

type ReadLinkResult struct{ Link string }

// ChangeResult is the payload of CREATE, REMOVE and LINK.
type ChangeResult struct{ ChangeInfo types.ChangeInfo }

type RenameResult struct {
	Source types.ChangeInfo
	Target types.ChangeInfo
}

// OpenDelegation is the delegation granted alongside an OPEN.
type OpenDelegation struct {
	Type       uint32
	Stateid    types.Stateid4
	Recall     bool
	SpaceLimit uint64
}

type OpenResult struct {
	Stateid    types.Stateid4
	ChangeInfo types.ChangeInfo
	Flags      uint32
	Attrset    attrs.Bitmap
	Delegation OpenDelegation
}

type StateidResult struct{ Stateid types.Stateid4 }

type ReadResult struct {
	EOF  bool
	Data []byte
}

type WriteResult struct {
	Count     uint32
	Committed uint32
	Verifier  [types.NFS4_VERIFIER_SIZE]byte
}

type CommitResult struct {
	Verifier [types.NFS4_VERIFIER_SIZE]byte
}

// DirEntry is one READDIR entry with the attributes requested for it.
type DirEntry struct {
	Cookie uint64
	Name   string
	Attrs  []attrs.AttrValue
}

type ReadDirResult struct {
	Verifier [types.NFS4_VERIFIER_SIZE]byte
	Entries  []DirEntry
	EOF      bool
}

// LockDenied describes the conflicting lock reported with NFS4ERR_DENIED.
type LockDenied struct {
	Offset uint64
	Length uint64
	Type   uint32
	Owner  StateOwner
}

type SetClientIDResult struct {
	ClientID uint64
	Verifier [types.NFS4_VERIFIER_SIZE]byte
}
