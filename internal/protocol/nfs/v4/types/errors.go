package types

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// NFS4Error is a non-OK nfsstat4 returned by the server for one operation
// of a compound. It maps onto a POSIX errno so callers can match with
// errors.Is(err, unix.ENOENT).
type NFS4Error struct {
	Status uint32
	Op     uint32 // operation that failed, 0 when unknown
}

func (e *NFS4Error) Error() string {
	if e.Op != 0 {
		return fmt.Sprintf("nfs4: %s failed: %s", OpName(e.Op), StatusName(e.Status))
	}
	return "nfs4: " + StatusName(e.Status)
}

// Errno returns the POSIX errno this status maps to.
func (e *NFS4Error) Errno() unix.Errno {
	return StatusToErrno(e.Status)
}

// Is matches another *NFS4Error with the same status, or the mapped errno.
func (e *NFS4Error) Is(target error) bool {
	switch t := target.(type) {
	case *NFS4Error:
		return t.Status == e.Status
	case unix.Errno:
		return e.Errno() == t
	}
	return false
}

// NewError builds an NFS4Error for status raised by op.
func NewError(status, op uint32) *NFS4Error {
	return &NFS4Error{Status: status, Op: op}
}

// StatusOf extracts the nfsstat4 carried by err. It returns NFS4_OK for
// nil and NFS4ERR_SERVERFAULT when err carries no protocol status.
func StatusOf(err error) uint32 {
	if err == nil {
		return NFS4_OK
	}
	var nerr *NFS4Error
	if errors.As(err, &nerr) {
		return nerr.Status
	}
	return NFS4ERR_SERVERFAULT
}

// IsStatus reports whether err carries the given nfsstat4.
func IsStatus(err error, status uint32) bool {
	var nerr *NFS4Error
	return errors.As(err, &nerr) && nerr.Status == status
}

// IsFileHandleInvalid reports whether status means the handle itself needs
// to be resolved again.
func IsFileHandleInvalid(status uint32) bool {
	return status == NFS4ERR_BADHANDLE || status == NFS4ERR_FHEXPIRED
}

// IncrementsSequence reports whether an owner seqid advances after an
// operation completed with status (RFC 7530 Section 9.1.7).
func IncrementsSequence(status uint32) bool {
	switch status {
	case NFS4ERR_STALE_CLIENTID,
		NFS4ERR_STALE_STATEID,
		NFS4ERR_BAD_STATEID,
		NFS4ERR_BAD_SEQID,
		NFS4ERR_BADXDR,
		NFS4ERR_RESOURCE,
		NFS4ERR_NOFILEHANDLE:
		return false
	}
	return true
}

// StatusToErrno maps an nfsstat4 onto the closest POSIX errno.
func StatusToErrno(status uint32) unix.Errno {
	switch status {
	case NFS4_OK:
		return 0
	case NFS4ERR_PERM:
		return unix.EPERM
	case NFS4ERR_NOENT:
		return unix.ENOENT
	case NFS4ERR_IO:
		return unix.EIO
	case NFS4ERR_NXIO:
		return unix.ENXIO
	case NFS4ERR_ACCESS, NFS4ERR_WRONGSEC:
		return unix.EACCES
	case NFS4ERR_EXIST:
		return unix.EEXIST
	case NFS4ERR_XDEV:
		return unix.EXDEV
	case NFS4ERR_NOTDIR:
		return unix.ENOTDIR
	case NFS4ERR_ISDIR:
		return unix.EISDIR
	case NFS4ERR_INVAL, NFS4ERR_BADTYPE, NFS4ERR_BAD_RANGE,
		NFS4ERR_BADOWNER, NFS4ERR_BADCHAR, NFS4ERR_BADNAME, NFS4ERR_BADXDR:
		return unix.EINVAL
	case NFS4ERR_FBIG:
		return unix.EFBIG
	case NFS4ERR_NOSPC:
		return unix.ENOSPC
	case NFS4ERR_ROFS:
		return unix.EROFS
	case NFS4ERR_MLINK:
		return unix.EMLINK
	case NFS4ERR_NAMETOOLONG:
		return unix.ENAMETOOLONG
	case NFS4ERR_NOTEMPTY:
		return unix.ENOTEMPTY
	case NFS4ERR_DQUOT:
		return unix.EDQUOT
	case NFS4ERR_STALE, NFS4ERR_FHEXPIRED, NFS4ERR_BADHANDLE:
		return unix.ESTALE
	case NFS4ERR_NOTSUPP, NFS4ERR_ATTRNOTSUPP, NFS4ERR_LOCK_NOTSUPP:
		return unix.ENOTSUP
	case NFS4ERR_DENIED, NFS4ERR_LOCKED, NFS4ERR_SHARE_DENIED, NFS4ERR_DELAY, NFS4ERR_GRACE:
		return unix.EAGAIN
	case NFS4ERR_DEADLOCK:
		return unix.EDEADLK
	case NFS4ERR_OPENMODE:
		return unix.EBADF
	case NFS4ERR_SYMLINK:
		return unix.ELOOP
	case NFS4ERR_TOOSMALL:
		return unix.ERANGE
	case NFS4ERR_LOCK_RANGE:
		return unix.ENOLCK
	}
	return unix.EIO
}

// StatusName returns the symbolic name of an nfsstat4.
func StatusName(status uint32) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("NFS4ERR_%d", status)
}

var statusNames = map[uint32]string{
	NFS4_OK:                     "NFS4_OK",
	NFS4ERR_PERM:                "NFS4ERR_PERM",
	NFS4ERR_NOENT:               "NFS4ERR_NOENT",
	NFS4ERR_IO:                  "NFS4ERR_IO",
	NFS4ERR_NXIO:                "NFS4ERR_NXIO",
	NFS4ERR_ACCESS:              "NFS4ERR_ACCESS",
	NFS4ERR_EXIST:               "NFS4ERR_EXIST",
	NFS4ERR_XDEV:                "NFS4ERR_XDEV",
	NFS4ERR_NOTDIR:              "NFS4ERR_NOTDIR",
	NFS4ERR_ISDIR:               "NFS4ERR_ISDIR",
	NFS4ERR_INVAL:               "NFS4ERR_INVAL",
	NFS4ERR_FBIG:                "NFS4ERR_FBIG",
	NFS4ERR_NOSPC:               "NFS4ERR_NOSPC",
	NFS4ERR_ROFS:                "NFS4ERR_ROFS",
	NFS4ERR_MLINK:               "NFS4ERR_MLINK",
	NFS4ERR_NAMETOOLONG:         "NFS4ERR_NAMETOOLONG",
	NFS4ERR_NOTEMPTY:            "NFS4ERR_NOTEMPTY",
	NFS4ERR_DQUOT:               "NFS4ERR_DQUOT",
	NFS4ERR_STALE:               "NFS4ERR_STALE",
	NFS4ERR_BADHANDLE:           "NFS4ERR_BADHANDLE",
	NFS4ERR_BAD_COOKIE:          "NFS4ERR_BAD_COOKIE",
	NFS4ERR_NOTSUPP:             "NFS4ERR_NOTSUPP",
	NFS4ERR_TOOSMALL:            "NFS4ERR_TOOSMALL",
	NFS4ERR_SERVERFAULT:         "NFS4ERR_SERVERFAULT",
	NFS4ERR_BADTYPE:             "NFS4ERR_BADTYPE",
	NFS4ERR_DELAY:               "NFS4ERR_DELAY",
	NFS4ERR_SAME:                "NFS4ERR_SAME",
	NFS4ERR_DENIED:              "NFS4ERR_DENIED",
	NFS4ERR_EXPIRED:             "NFS4ERR_EXPIRED",
	NFS4ERR_LOCKED:              "NFS4ERR_LOCKED",
	NFS4ERR_GRACE:               "NFS4ERR_GRACE",
	NFS4ERR_FHEXPIRED:           "NFS4ERR_FHEXPIRED",
	NFS4ERR_SHARE_DENIED:        "NFS4ERR_SHARE_DENIED",
	NFS4ERR_WRONGSEC:            "NFS4ERR_WRONGSEC",
	NFS4ERR_CLID_INUSE:          "NFS4ERR_CLID_INUSE",
	NFS4ERR_RESOURCE:            "NFS4ERR_RESOURCE",
	NFS4ERR_MOVED:               "NFS4ERR_MOVED",
	NFS4ERR_NOFILEHANDLE:        "NFS4ERR_NOFILEHANDLE",
	NFS4ERR_MINOR_VERS_MISMATCH: "NFS4ERR_MINOR_VERS_MISMATCH",
	NFS4ERR_STALE_CLIENTID:      "NFS4ERR_STALE_CLIENTID",
	NFS4ERR_STALE_STATEID:       "NFS4ERR_STALE_STATEID",
	NFS4ERR_OLD_STATEID:         "NFS4ERR_OLD_STATEID",
	NFS4ERR_BAD_STATEID:         "NFS4ERR_BAD_STATEID",
	NFS4ERR_BAD_SEQID:           "NFS4ERR_BAD_SEQID",
	NFS4ERR_NOT_SAME:            "NFS4ERR_NOT_SAME",
	NFS4ERR_LOCK_RANGE:          "NFS4ERR_LOCK_RANGE",
	NFS4ERR_SYMLINK:             "NFS4ERR_SYMLINK",
	NFS4ERR_RESTOREFH:           "NFS4ERR_RESTOREFH",
	NFS4ERR_LEASE_MOVED:         "NFS4ERR_LEASE_MOVED",
	NFS4ERR_ATTRNOTSUPP:         "NFS4ERR_ATTRNOTSUPP",
	NFS4ERR_NO_GRACE:            "NFS4ERR_NO_GRACE",
	NFS4ERR_RECLAIM_BAD:         "NFS4ERR_RECLAIM_BAD",
	NFS4ERR_RECLAIM_CONFLICT:    "NFS4ERR_RECLAIM_CONFLICT",
	NFS4ERR_BADXDR:              "NFS4ERR_BADXDR",
	NFS4ERR_LOCKS_HELD:          "NFS4ERR_LOCKS_HELD",
	NFS4ERR_OPENMODE:            "NFS4ERR_OPENMODE",
	NFS4ERR_BADOWNER:            "NFS4ERR_BADOWNER",
	NFS4ERR_BADCHAR:             "NFS4ERR_BADCHAR",
	NFS4ERR_BADNAME:             "NFS4ERR_BADNAME",
	NFS4ERR_BAD_RANGE:           "NFS4ERR_BAD_RANGE",
	NFS4ERR_LOCK_NOTSUPP:        "NFS4ERR_LOCK_NOTSUPP",
	NFS4ERR_OP_ILLEGAL:          "NFS4ERR_OP_ILLEGAL",
	NFS4ERR_DEADLOCK:            "NFS4ERR_DEADLOCK",
	NFS4ERR_FILE_OPEN:           "NFS4ERR_FILE_OPEN",
	NFS4ERR_ADMIN_REVOKED:       "NFS4ERR_ADMIN_REVOKED",
	NFS4ERR_CB_PATH_DOWN:        "NFS4ERR_CB_PATH_DOWN",
}
