// Package types defines the NFSv4.0 constants and core value types the
// client node layer exchanges with a server (RFC 7530, RFC 7531).
//
// Only data definitions live here; the compound builder and the node
// layer give them behavior.
package types

// ============================================================================
// Protocol Limits
// ============================================================================

const (
	// NFS4_FHSIZE is the maximum file handle size in bytes (RFC 7530).
	NFS4_FHSIZE = 128

	// NFS4_VERIFIER_SIZE is the size of verifier4 (cookie and write verifiers).
	NFS4_VERIFIER_SIZE = 8

	// NFS4_OTHER_SIZE is the size of the "other" field in stateid4.
	NFS4_OTHER_SIZE = 12
)

// ============================================================================
// File Handle Expire Type (fh_expire_type4)
// ============================================================================

const (
	FH4_PERSISTENT         = 0x00
	FH4_NOEXPIRE_WITH_OPEN = 0x01
	FH4_VOLATILE_ANY       = 0x02
	FH4_VOL_MIGRATION      = 0x04
	FH4_VOL_RENAME         = 0x08
)

// ============================================================================
// NFSv4 File Type Constants (nfs_ftype4)
// ============================================================================

const (
	NF4REG       = 1 // Regular file
	NF4DIR       = 2 // Directory
	NF4BLK       = 3 // Block device
	NF4CHR       = 4 // Character device
	NF4LNK       = 5 // Symbolic link
	NF4SOCK      = 6 // Socket
	NF4FIFO      = 7 // Named pipe (FIFO)
	NF4ATTRDIR   = 8 // Attribute directory
	NF4NAMEDATTR = 9 // Named attribute
)

// ============================================================================
// NFSv4 Operation Numbers (nfs_opnum4)
// ============================================================================

const (
	OP_ACCESS              = 3
	OP_CLOSE               = 4
	OP_COMMIT              = 5
	OP_CREATE              = 6
	OP_DELEGPURGE          = 7
	OP_DELEGRETURN         = 8
	OP_GETATTR             = 9
	OP_GETFH               = 10
	OP_LINK                = 11
	OP_LOCK                = 12
	OP_LOCKT               = 13
	OP_LOCKU               = 14
	OP_LOOKUP              = 15
	OP_LOOKUPP             = 16
	OP_NVERIFY             = 17
	OP_OPEN                = 18
	OP_OPENATTR            = 19
	OP_OPEN_CONFIRM        = 20
	OP_OPEN_DOWNGRADE      = 21
	OP_PUTFH               = 22
	OP_PUTPUBFH            = 23
	OP_PUTROOTFH           = 24
	OP_READ                = 25
	OP_READDIR             = 26
	OP_READLINK            = 27
	OP_REMOVE              = 28
	OP_RENAME              = 29
	OP_RENEW               = 30
	OP_RESTOREFH           = 31
	OP_SAVEFH              = 32
	OP_SECINFO             = 33
	OP_SETATTR             = 34
	OP_SETCLIENTID         = 35
	OP_SETCLIENTID_CONFIRM = 36
	OP_VERIFY              = 37
	OP_WRITE               = 38
	OP_RELEASE_LOCKOWNER   = 39

	OP_ILLEGAL = 10044
)

// ============================================================================
// NFSv4 Error Codes (nfsstat4)
// ============================================================================

const (
	NFS4_OK = 0

	NFS4ERR_PERM        = 1
	NFS4ERR_NOENT       = 2
	NFS4ERR_IO          = 5
	NFS4ERR_NXIO        = 6
	NFS4ERR_ACCESS      = 13
	NFS4ERR_EXIST       = 17
	NFS4ERR_XDEV        = 18
	NFS4ERR_NOTDIR      = 20
	NFS4ERR_ISDIR       = 21
	NFS4ERR_INVAL       = 22
	NFS4ERR_FBIG        = 27
	NFS4ERR_NOSPC       = 28
	NFS4ERR_ROFS        = 30
	NFS4ERR_MLINK       = 31
	NFS4ERR_NAMETOOLONG = 63
	NFS4ERR_NOTEMPTY    = 66
	NFS4ERR_DQUOT       = 69
	NFS4ERR_STALE       = 70

	NFS4ERR_BADHANDLE           = 10001
	NFS4ERR_BAD_COOKIE          = 10003
	NFS4ERR_NOTSUPP             = 10004
	NFS4ERR_TOOSMALL            = 10005
	NFS4ERR_SERVERFAULT         = 10006
	NFS4ERR_BADTYPE             = 10007
	NFS4ERR_DELAY               = 10008
	NFS4ERR_SAME                = 10009
	NFS4ERR_DENIED              = 10010
	NFS4ERR_EXPIRED             = 10011
	NFS4ERR_LOCKED              = 10012
	NFS4ERR_GRACE               = 10013
	NFS4ERR_FHEXPIRED           = 10014
	NFS4ERR_SHARE_DENIED        = 10015
	NFS4ERR_WRONGSEC            = 10016
	NFS4ERR_CLID_INUSE          = 10017
	NFS4ERR_RESOURCE            = 10018
	NFS4ERR_MOVED               = 10019
	NFS4ERR_NOFILEHANDLE        = 10020
	NFS4ERR_MINOR_VERS_MISMATCH = 10021
	NFS4ERR_STALE_CLIENTID      = 10022
	NFS4ERR_STALE_STATEID       = 10023
	NFS4ERR_OLD_STATEID         = 10024
	NFS4ERR_BAD_STATEID         = 10025
	NFS4ERR_BAD_SEQID           = 10026
	NFS4ERR_NOT_SAME            = 10027
	NFS4ERR_LOCK_RANGE          = 10028
	NFS4ERR_SYMLINK             = 10029
	NFS4ERR_RESTOREFH           = 10030
	NFS4ERR_LEASE_MOVED         = 10031
	NFS4ERR_ATTRNOTSUPP         = 10032
	NFS4ERR_NO_GRACE            = 10033
	NFS4ERR_RECLAIM_BAD         = 10034
	NFS4ERR_RECLAIM_CONFLICT    = 10035
	NFS4ERR_BADXDR              = 10036
	NFS4ERR_LOCKS_HELD          = 10037
	NFS4ERR_OPENMODE            = 10038
	NFS4ERR_BADOWNER            = 10039
	NFS4ERR_BADCHAR             = 10040
	NFS4ERR_BADNAME             = 10041
	NFS4ERR_BAD_RANGE           = 10042
	NFS4ERR_LOCK_NOTSUPP        = 10043
	NFS4ERR_OP_ILLEGAL          = 10044
	NFS4ERR_DEADLOCK            = 10045
	NFS4ERR_FILE_OPEN           = 10046
	NFS4ERR_ADMIN_REVOKED       = 10047
	NFS4ERR_CB_PATH_DOWN        = 10048
)

// ============================================================================
// ACCESS bits (RFC 7530 Section 16.1)
// ============================================================================

const (
	ACCESS4_READ    = 0x00000001
	ACCESS4_LOOKUP  = 0x00000002
	ACCESS4_MODIFY  = 0x00000004
	ACCESS4_EXTEND  = 0x00000008
	ACCESS4_DELETE  = 0x00000010
	ACCESS4_EXECUTE = 0x00000020

	ACCESS4_ALL = ACCESS4_READ | ACCESS4_LOOKUP | ACCESS4_MODIFY |
		ACCESS4_EXTEND | ACCESS4_DELETE | ACCESS4_EXECUTE
)

// ============================================================================
// createmode4 / OPEN constants
// ============================================================================

const (
	UNCHECKED4 = 0
	GUARDED4   = 1
	EXCLUSIVE4 = 2
)

const (
	OPEN4_SHARE_ACCESS_READ  = 0x01
	OPEN4_SHARE_ACCESS_WRITE = 0x02
	OPEN4_SHARE_ACCESS_BOTH  = 0x03

	OPEN4_SHARE_DENY_NONE  = 0x00
	OPEN4_SHARE_DENY_READ  = 0x01
	OPEN4_SHARE_DENY_WRITE = 0x02
	OPEN4_SHARE_DENY_BOTH  = 0x03
)

const (
	OPEN4_NOCREATE = 0
	OPEN4_CREATE   = 1
)

const (
	CLAIM_NULL          = 0
	CLAIM_PREVIOUS      = 1
	CLAIM_DELEGATE_CUR  = 2
	CLAIM_DELEGATE_PREV = 3
)

const (
	OPEN4_RESULT_CONFIRM        = 0x02
	OPEN4_RESULT_LOCKTYPE_POSIX = 0x04
)

const (
	OPEN_DELEGATE_NONE  = 0
	OPEN_DELEGATE_READ  = 1
	OPEN_DELEGATE_WRITE = 2
)

// ============================================================================
// Lock Type Constants (nfs_lock_type4)
// ============================================================================

const (
	READ_LT   = 1
	WRITE_LT  = 2
	READW_LT  = 3 // blocking read lock
	WRITEW_LT = 4 // blocking write lock
)

// ============================================================================
// Write Stability Levels (stable_how4)
// ============================================================================

const (
	UNSTABLE4  = 0
	DATA_SYNC4 = 1
	FILE_SYNC4 = 2
)

// OpName returns a human-readable name for an NFSv4 operation number.
func OpName(op uint32) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

var opNames = map[uint32]string{
	OP_ACCESS:              "ACCESS",
	OP_CLOSE:               "CLOSE",
	OP_COMMIT:              "COMMIT",
	OP_CREATE:              "CREATE",
	OP_DELEGPURGE:          "DELEGPURGE",
	OP_DELEGRETURN:         "DELEGRETURN",
	OP_GETATTR:             "GETATTR",
	OP_GETFH:               "GETFH",
	OP_LINK:                "LINK",
	OP_LOCK:                "LOCK",
	OP_LOCKT:               "LOCKT",
	OP_LOCKU:               "LOCKU",
	OP_LOOKUP:              "LOOKUP",
	OP_LOOKUPP:             "LOOKUPP",
	OP_NVERIFY:             "NVERIFY",
	OP_OPEN:                "OPEN",
	OP_OPENATTR:            "OPENATTR",
	OP_OPEN_CONFIRM:        "OPEN_CONFIRM",
	OP_OPEN_DOWNGRADE:      "OPEN_DOWNGRADE",
	OP_PUTFH:               "PUTFH",
	OP_PUTPUBFH:            "PUTPUBFH",
	OP_PUTROOTFH:           "PUTROOTFH",
	OP_READ:                "READ",
	OP_READDIR:             "READDIR",
	OP_READLINK:            "READLINK",
	OP_REMOVE:              "REMOVE",
	OP_RENAME:              "RENAME",
	OP_RENEW:               "RENEW",
	OP_RESTOREFH:           "RESTOREFH",
	OP_SAVEFH:              "SAVEFH",
	OP_SECINFO:             "SECINFO",
	OP_SETATTR:             "SETATTR",
	OP_SETCLIENTID:         "SETCLIENTID",
	OP_SETCLIENTID_CONFIRM: "SETCLIENTID_CONFIRM",
	OP_VERIFY:              "VERIFY",
	OP_WRITE:               "WRITE",
	OP_RELEASE_LOCKOWNER:   "RELEASE_LOCKOWNER",
	OP_ILLEGAL:             "ILLEGAL",
}
