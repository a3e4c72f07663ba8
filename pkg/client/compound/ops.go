package compound

import (
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Op is one operation argument inside a COMPOUND request.
type Op interface {
	OpCode() uint32
}

// StateOwner identifies an open-owner or lock-owner (open_owner4 / lock_owner4).
type StateOwner struct {
	ClientID uint64
	Owner    []byte
}

type PutFH struct{ Handle types.FileHandle }
type PutRootFH struct{}
type GetFH struct{}
type SaveFH struct{}
type LookUp struct{ Name string }
type LookUpUp struct{}
type ReadLink struct{}
type OpenAttr struct{ CreateDir bool }

type GetAttr struct{ Attributes attrs.Bitmap }
type Verify struct{ Attributes []attrs.AttrValue }
type NVerify struct{ Attributes []attrs.AttrValue }

type SetAttr struct {
	Stateid    types.Stateid4
	Attributes []attrs.AttrValue
}

type Access struct{ Mask uint32 }

type Commit struct {
	Offset uint64
	Count  uint32
}

type Link struct{ Name string }
type Remove struct{ Name string }

type Rename struct {
	OldName string
	NewName string
}

// Create creates a non-regular object. LinkData is used for NF4LNK only.
type Create struct {
	Type       uint32
	Name       string
	LinkData   string
	Attributes []attrs.AttrValue
}

// Open carries OPEN arguments. Name is used by CLAIM_NULL and
// DelegationType by CLAIM_PREVIOUS.
type Open struct {
	Seqid          uint32
	ShareAccess    uint32
	ShareDeny      uint32
	Owner          StateOwner
	Create         bool
	CreateMode     uint32
	Attributes     []attrs.AttrValue
	Verifier       [types.NFS4_VERIFIER_SIZE]byte
	Claim          uint32
	Name           string
	DelegationType uint32
}

type OpenConfirm struct {
	Stateid types.Stateid4
	Seqid   uint32
}

type Close struct {
	Seqid   uint32
	Stateid types.Stateid4
}

type Read struct {
	Stateid types.Stateid4
	Offset  uint64
	Count   uint32
}

type Write struct {
	Stateid types.Stateid4
	Offset  uint64
	Stable  uint32
	Data    []byte
}

type ReadDir struct {
	Cookie     uint64
	Verifier   [types.NFS4_VERIFIER_SIZE]byte
	DirCount   uint32
	MaxCount   uint32
	Attributes attrs.Bitmap
}

// Lock carries LOCK arguments. With NewLockOwner set the open-to-lock-owner
// form is sent (OpenSeqid, OpenStateid, LockSeqid, Owner); otherwise the
// existing lock-owner form (LockStateid, LockSeqid).
type Lock struct {
	Type         uint32
	Reclaim      bool
	Offset       uint64
	Length       uint64
	NewLockOwner bool
	OpenSeqid    uint32
	OpenStateid  types.Stateid4
	LockSeqid    uint32
	LockStateid  types.Stateid4
	Owner        StateOwner
}

type LockT struct {
	Type   uint32
	Offset uint64
	Length uint64
	Owner  StateOwner
}

type LockU struct {
	Type        uint32
	Seqid       uint32
	LockStateid types.Stateid4
	Offset      uint64
	Length      uint64
}

type DelegReturn struct{ Stateid types.Stateid4 }
type Renew struct{ ClientID uint64 }

type SetClientID struct {
	Verifier [types.NFS4_VERIFIER_SIZE]byte
	ID       []byte
}

type SetClientIDConfirm struct {
	ClientID uint64
	Verifier [types.NFS4_VERIFIER_SIZE]byte
}

func (PutFH) OpCode() uint32              { return types.OP_PUTFH }
func (PutRootFH) OpCode() uint32          { return types.OP_PUTROOTFH }
func (GetFH) OpCode() uint32              { return types.OP_GETFH }
func (SaveFH) OpCode() uint32             { return types.OP_SAVEFH }
func (LookUp) OpCode() uint32             { return types.OP_LOOKUP }
func (LookUpUp) OpCode() uint32           { return types.OP_LOOKUPP }
func (ReadLink) OpCode() uint32           { return types.OP_READLINK }
func (OpenAttr) OpCode() uint32           { return types.OP_OPENATTR }
func (GetAttr) OpCode() uint32            { return types.OP_GETATTR }
func (Verify) OpCode() uint32             { return types.OP_VERIFY }
func (NVerify) OpCode() uint32            { return types.OP_NVERIFY }
func (SetAttr) OpCode() uint32            { return types.OP_SETATTR }
func (Access) OpCode() uint32             { return types.OP_ACCESS }
func (Commit) OpCode() uint32             { return types.OP_COMMIT }
func (Link) OpCode() uint32               { return types.OP_LINK }
func (Remove) OpCode() uint32             { return types.OP_REMOVE }
func (Rename) OpCode() uint32             { return types.OP_RENAME }
func (Create) OpCode() uint32             { return types.OP_CREATE }
func (Open) OpCode() uint32               { return types.OP_OPEN }
func (OpenConfirm) OpCode() uint32        { return types.OP_OPEN_CONFIRM }
func (Close) OpCode() uint32              { return types.OP_CLOSE }
func (Read) OpCode() uint32               { return types.OP_READ }
func (Write) OpCode() uint32              { return types.OP_WRITE }
func (ReadDir) OpCode() uint32            { return types.OP_READDIR }
func (Lock) OpCode() uint32               { return types.OP_LOCK }
func (LockT) OpCode() uint32              { return types.OP_LOCKT }
func (LockU) OpCode() uint32              { return types.OP_LOCKU }
func (DelegReturn) OpCode() uint32        { return types.OP_DELEGRETURN }
func (Renew) OpCode() uint32              { return types.OP_RENEW }
func (SetClientID) OpCode() uint32        { return types.OP_SETCLIENTID }
func (SetClientIDConfirm) OpCode() uint32 { return types.OP_SETCLIENTID_CONFIRM }
