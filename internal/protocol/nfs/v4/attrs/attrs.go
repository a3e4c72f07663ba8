package attrs

import (
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// FATTR4 attribute numbers (RFC 7530 Section 5).
const (
	FATTR4_SUPPORTED_ATTRS   = 0
	FATTR4_TYPE              = 1
	FATTR4_FH_EXPIRE_TYPE    = 2
	FATTR4_CHANGE            = 3
	FATTR4_SIZE              = 4
	FATTR4_LINK_SUPPORT      = 5
	FATTR4_SYMLINK_SUPPORT   = 6
	FATTR4_NAMED_ATTR        = 7
	FATTR4_FSID              = 8
	FATTR4_UNIQUE_HANDLES    = 9
	FATTR4_LEASE_TIME        = 10
	FATTR4_RDATTR_ERROR      = 11
	FATTR4_ACL               = 12
	FATTR4_ACLSUPPORT        = 13
	FATTR4_ARCHIVE           = 14
	FATTR4_CANSETTIME        = 15
	FATTR4_CASE_INSENSITIVE  = 16
	FATTR4_CASE_PRESERVING   = 17
	FATTR4_CHOWN_RESTRICTED  = 18
	FATTR4_FILEHANDLE        = 19
	FATTR4_FILEID            = 20
	FATTR4_FILES_AVAIL       = 21
	FATTR4_FILES_FREE        = 22
	FATTR4_FILES_TOTAL       = 23
	FATTR4_FS_LOCATIONS      = 24
	FATTR4_HIDDEN            = 25
	FATTR4_HOMOGENEOUS       = 26
	FATTR4_MAXFILESIZE       = 27
	FATTR4_MAXLINK           = 28
	FATTR4_MAXNAME           = 29
	FATTR4_MAXREAD           = 30
	FATTR4_MAXWRITE          = 31
	FATTR4_MIMETYPE          = 32
	FATTR4_MODE              = 33
	FATTR4_NO_TRUNC          = 34
	FATTR4_NUMLINKS          = 35
	FATTR4_OWNER             = 36
	FATTR4_OWNER_GROUP       = 37
	FATTR4_QUOTA_AVAIL_HARD  = 38
	FATTR4_QUOTA_AVAIL_SOFT  = 39
	FATTR4_QUOTA_USED        = 40
	FATTR4_RAWDEV            = 41
	FATTR4_SPACE_AVAIL       = 42
	FATTR4_SPACE_FREE        = 43
	FATTR4_SPACE_TOTAL       = 44
	FATTR4_SPACE_USED        = 45
	FATTR4_SYSTEM            = 46
	FATTR4_TIME_ACCESS       = 47
	FATTR4_TIME_ACCESS_SET   = 48
	FATTR4_TIME_BACKUP       = 49
	FATTR4_TIME_CREATE       = 50
	FATTR4_TIME_DELTA        = 51
	FATTR4_TIME_METADATA     = 52
	FATTR4_TIME_MODIFY       = 53
	FATTR4_TIME_MODIFY_SET   = 54
	FATTR4_MOUNTED_ON_FILEID = 55
	FATTR4_MAX_ATTRIBUTE     = FATTR4_MOUNTED_ON_FILEID
)

// AttrValue is one attribute number with its value. Only the field matching
// the attribute's wire type is meaningful:
//
//	Uint32: TYPE, FH_EXPIRE_TYPE, LEASE_TIME, MODE, NUMLINKS, MAXNAME
//	Uint64: CHANGE, SIZE, FILEID, FILES_*, SPACE_*, MAXREAD, MAXWRITE, MAXFILESIZE
//	String: OWNER, OWNER_GROUP
//	Time:   TIME_*
//	FSID:   FSID
//	Handle: FILEHANDLE
//	Bitmap: SUPPORTED_ATTRS
type AttrValue struct {
	Attribute uint32
	Uint32    uint32
	Uint64    uint64
	String    string
	Time      types.NFS4Time
	FSID      types.FSID4
	Handle    types.FileHandle
	Bitmap    Bitmap
}

// Uint32Value builds an AttrValue carrying a 32-bit value.
func Uint32Value(attr, v uint32) AttrValue {
	return AttrValue{Attribute: attr, Uint32: v}
}

// Uint64Value builds an AttrValue carrying a 64-bit value.
func Uint64Value(attr uint32, v uint64) AttrValue {
	return AttrValue{Attribute: attr, Uint64: v}
}

// StringValue builds an AttrValue carrying a string.
func StringValue(attr uint32, v string) AttrValue {
	return AttrValue{Attribute: attr, String: v}
}

// TimeValue builds an AttrValue carrying an nfstime4.
func TimeValue(attr uint32, v types.NFS4Time) AttrValue {
	return AttrValue{Attribute: attr, Time: v}
}

// FSIDValue builds an FSID AttrValue.
func FSIDValue(v types.FSID4) AttrValue {
	return AttrValue{Attribute: FATTR4_FSID, FSID: v}
}

// HandleValue builds a FILEHANDLE AttrValue.
func HandleValue(v types.FileHandle) AttrValue {
	return AttrValue{Attribute: FATTR4_FILEHANDLE, Handle: v}
}

// Find returns the value for attr in values.
func Find(values []AttrValue, attr uint32) (AttrValue, bool) {
	for _, v := range values {
		if v.Attribute == attr {
			return v, true
		}
	}
	return AttrValue{}, false
}

// Equal reports whether two values of the same attribute hold the same data.
func (v AttrValue) Equal(o AttrValue) bool {
	if v.Attribute != o.Attribute {
		return false
	}
	switch v.Attribute {
	case FATTR4_OWNER, FATTR4_OWNER_GROUP:
		return v.String == o.String
	case FATTR4_FSID:
		return v.FSID == o.FSID
	case FATTR4_FILEHANDLE:
		return v.Handle == o.Handle
	case FATTR4_TIME_ACCESS, FATTR4_TIME_BACKUP, FATTR4_TIME_CREATE,
		FATTR4_TIME_METADATA, FATTR4_TIME_MODIFY, FATTR4_TIME_DELTA,
		FATTR4_TIME_ACCESS_SET, FATTR4_TIME_MODIFY_SET:
		return v.Time == o.Time
	case FATTR4_TYPE, FATTR4_FH_EXPIRE_TYPE, FATTR4_LEASE_TIME, FATTR4_MODE,
		FATTR4_NUMLINKS, FATTR4_MAXNAME, FATTR4_MAXLINK, FATTR4_RDATTR_ERROR:
		return v.Uint32 == o.Uint32
	case FATTR4_SUPPORTED_ATTRS:
		if len(v.Bitmap) != len(o.Bitmap) {
			return false
		}
		for i := range v.Bitmap {
			if v.Bitmap[i] != o.Bitmap[i] {
				return false
			}
		}
		return true
	}
	return v.Uint64 == o.Uint64
}
