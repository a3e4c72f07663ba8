package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ============================================================================
// File handles
// ============================================================================

// FileHandle is an opaque server-issued handle (nfs_fh4). It is a value type
// so handles compare with ==; the zero value is the invalid handle.
type FileHandle struct {
	size uint8
	data [NFS4_FHSIZE]byte
}

// InvalidFileHandle is the sentinel for "no handle".
var InvalidFileHandle FileHandle

// NewFileHandle copies b into a FileHandle.
func NewFileHandle(b []byte) (FileHandle, error) {
	var fh FileHandle
	if len(b) == 0 || len(b) > NFS4_FHSIZE {
		return fh, fmt.Errorf("invalid file handle length %d", len(b))
	}
	fh.size = uint8(len(b))
	copy(fh.data[:], b)
	return fh, nil
}

// MustFileHandle is NewFileHandle for handles known to be well formed.
func MustFileHandle(b []byte) FileHandle {
	fh, err := NewFileHandle(b)
	if err != nil {
		panic(err)
	}
	return fh
}

// Bytes returns a copy of the handle bytes.
func (fh FileHandle) Bytes() []byte {
	return append([]byte(nil), fh.data[:fh.size]...)
}

// Len returns the handle length in bytes.
func (fh FileHandle) Len() int {
	return int(fh.size)
}

// IsValid reports whether fh holds a handle.
func (fh FileHandle) IsValid() bool {
	return fh.size > 0
}

func (fh FileHandle) String() string {
	if !fh.IsValid() {
		return "<invalid>"
	}
	return hex.EncodeToString(fh.data[:fh.size])
}

// ============================================================================
// Auxiliary Types
// ============================================================================

// FSID4 represents an NFSv4 filesystem identifier (fsid4). Nodes whose fsid
// differs from the mount's belong to another filesystem.
type FSID4 struct {
	Major uint64
	Minor uint64
}

// NFS4Time represents an NFSv4 time value (nfstime4).
type NFS4Time struct {
	Seconds  int64
	Nseconds uint32
}

// Time converts to a time.Time.
func (t NFS4Time) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nseconds))
}

// TimeFrom converts a time.Time to nfstime4.
func TimeFrom(t time.Time) NFS4Time {
	return NFS4Time{Seconds: t.Unix(), Nseconds: uint32(t.Nanosecond())}
}

// ============================================================================
// Stateid4 (State Identifier)
// ============================================================================

// Stateid4 represents an NFSv4 state identifier (stateid4).
type Stateid4 struct {
	Seqid uint32
	Other [NFS4_OTHER_SIZE]byte
}

// AnonymousStateid is the all-zero special stateid used for I/O and
// SETATTR without open state.
var AnonymousStateid = Stateid4{}

// IsAnonymous reports whether s is the all-zero special stateid.
func (s Stateid4) IsAnonymous() bool {
	return s == AnonymousStateid
}

func (s Stateid4) String() string {
	return fmt.Sprintf("%d:%x", s.Seqid, s.Other)
}

// ============================================================================
// Change info
// ============================================================================

// ChangeInfo is change_info4: the parent directory's change counter before
// and after a mutating operation, and whether the pair was observed
// atomically with the operation.
type ChangeInfo struct {
	Atomic bool
	Before uint64
	After  uint64
}

// Applies reports whether a cache whose counter is current can be patched
// incrementally with this change instead of being dropped.
func (c ChangeInfo) Applies(current uint64) bool {
	return c.Atomic && c.Before == current
}
