package compoundtest

import (
	"math"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Filesystem-wide figures reported through the FILES_* and SPACE_*
// attributes.
const (
	FilesTotal = 1 << 20
	SpaceTotal = 1 << 40
)

var supportedAttrs = []uint32{
	attrs.FATTR4_SUPPORTED_ATTRS,
	attrs.FATTR4_TYPE,
	attrs.FATTR4_FH_EXPIRE_TYPE,
	attrs.FATTR4_CHANGE,
	attrs.FATTR4_SIZE,
	attrs.FATTR4_FSID,
	attrs.FATTR4_LEASE_TIME,
	attrs.FATTR4_FILEHANDLE,
	attrs.FATTR4_FILEID,
	attrs.FATTR4_FILES_AVAIL,
	attrs.FATTR4_FILES_FREE,
	attrs.FATTR4_FILES_TOTAL,
	attrs.FATTR4_MAXFILESIZE,
	attrs.FATTR4_MAXNAME,
	attrs.FATTR4_MAXREAD,
	attrs.FATTR4_MAXWRITE,
	attrs.FATTR4_MODE,
	attrs.FATTR4_NUMLINKS,
	attrs.FATTR4_OWNER,
	attrs.FATTR4_OWNER_GROUP,
	attrs.FATTR4_SPACE_AVAIL,
	attrs.FATTR4_SPACE_FREE,
	attrs.FATTR4_SPACE_TOTAL,
	attrs.FATTR4_SPACE_USED,
	attrs.FATTR4_TIME_ACCESS,
	attrs.FATTR4_TIME_CREATE,
	attrs.FATTR4_TIME_METADATA,
	attrs.FATTR4_TIME_MODIFY,
}

func (s *Server) supported() attrs.Bitmap {
	b := attrs.NewBitmap(supportedAttrs...)
	if s.omitFileID {
		b.Clear(attrs.FATTR4_FILEID)
	}
	return b
}

// attrOf returns the value of attribute a for o, false when unsupported.
func (s *Server) attrOf(o *object, a uint32) (attrs.AttrValue, bool) {
	if !s.supported().IsSet(a) {
		return attrs.AttrValue{}, false
	}
	switch a {
	case attrs.FATTR4_SUPPORTED_ATTRS:
		return attrs.AttrValue{Attribute: a, Bitmap: s.supported()}, true
	case attrs.FATTR4_TYPE:
		return attrs.Uint32Value(a, o.typ), true
	case attrs.FATTR4_FH_EXPIRE_TYPE:
		return attrs.Uint32Value(a, s.expireType), true
	case attrs.FATTR4_CHANGE:
		return attrs.Uint64Value(a, o.change), true
	case attrs.FATTR4_SIZE:
		return attrs.Uint64Value(a, s.sizeOf(o)), true
	case attrs.FATTR4_FSID:
		return attrs.FSIDValue(s.fsid), true
	case attrs.FATTR4_LEASE_TIME:
		return attrs.Uint32Value(a, LeaseTime), true
	case attrs.FATTR4_FILEHANDLE:
		return attrs.HandleValue(s.handleOf(o)), true
	case attrs.FATTR4_FILEID:
		return attrs.Uint64Value(a, o.id), true
	case attrs.FATTR4_FILES_AVAIL, attrs.FATTR4_FILES_FREE:
		return attrs.Uint64Value(a, FilesTotal-uint64(len(s.objects))), true
	case attrs.FATTR4_FILES_TOTAL:
		return attrs.Uint64Value(a, FilesTotal), true
	case attrs.FATTR4_MAXFILESIZE:
		return attrs.Uint64Value(a, math.MaxInt64), true
	case attrs.FATTR4_MAXNAME:
		return attrs.Uint32Value(a, 255), true
	case attrs.FATTR4_MAXREAD, attrs.FATTR4_MAXWRITE:
		return attrs.Uint64Value(a, s.maxIO), true
	case attrs.FATTR4_MODE:
		return attrs.Uint32Value(a, o.mode), true
	case attrs.FATTR4_NUMLINKS:
		return attrs.Uint32Value(a, o.nlink), true
	case attrs.FATTR4_OWNER:
		return attrs.StringValue(a, o.owner), true
	case attrs.FATTR4_OWNER_GROUP:
		return attrs.StringValue(a, o.group), true
	case attrs.FATTR4_SPACE_AVAIL, attrs.FATTR4_SPACE_FREE:
		return attrs.Uint64Value(a, SpaceTotal-s.spaceUsed()), true
	case attrs.FATTR4_SPACE_TOTAL:
		return attrs.Uint64Value(a, SpaceTotal), true
	case attrs.FATTR4_SPACE_USED:
		return attrs.Uint64Value(a, uint64(len(o.data))), true
	case attrs.FATTR4_TIME_ACCESS:
		return attrs.TimeValue(a, o.atime), true
	case attrs.FATTR4_TIME_CREATE:
		return attrs.TimeValue(a, o.crtime), true
	case attrs.FATTR4_TIME_METADATA:
		return attrs.TimeValue(a, o.ctime), true
	case attrs.FATTR4_TIME_MODIFY:
		return attrs.TimeValue(a, o.mtime), true
	}
	return attrs.AttrValue{}, false
}

func (s *Server) sizeOf(o *object) uint64 {
	switch {
	case o.typ == types.NF4LNK:
		return uint64(len(o.link))
	case o.isDir():
		return uint64(len(o.entries)) * 32
	}
	return uint64(len(o.data))
}

func (s *Server) spaceUsed() uint64 {
	var n uint64
	for _, o := range s.objects {
		n += uint64(len(o.data))
	}
	return n
}

// getAttrs returns the supported subset of want, in attribute order.
func (s *Server) getAttrs(o *object, want attrs.Bitmap) []attrs.AttrValue {
	var out []attrs.AttrValue
	for _, a := range want.Attrs() {
		if v, ok := s.attrOf(o, a); ok {
			out = append(out, v)
		}
	}
	return out
}

// setAttrs applies SETATTR or create-time attributes to o.
func (s *Server) setAttrs(o *object, values []attrs.AttrValue) uint32 {
	for _, v := range values {
		switch v.Attribute {
		case attrs.FATTR4_SIZE:
			if o.isDir() {
				return types.NFS4ERR_ISDIR
			}
			if !o.isFile() {
				return types.NFS4ERR_INVAL
			}
		case attrs.FATTR4_MODE, attrs.FATTR4_OWNER, attrs.FATTR4_OWNER_GROUP,
			attrs.FATTR4_TIME_ACCESS_SET, attrs.FATTR4_TIME_MODIFY_SET:
		default:
			return types.NFS4ERR_ATTRNOTSUPP
		}
	}

	now := s.timestamp()
	for _, v := range values {
		switch v.Attribute {
		case attrs.FATTR4_SIZE:
			o.data = resize(o.data, v.Uint64)
			o.mtime = now
		case attrs.FATTR4_MODE:
			o.mode = v.Uint32 & 0o7777
		case attrs.FATTR4_OWNER:
			o.owner = v.String
		case attrs.FATTR4_OWNER_GROUP:
			o.group = v.String
		case attrs.FATTR4_TIME_ACCESS_SET:
			o.atime = orNow(v.Time, now)
		case attrs.FATTR4_TIME_MODIFY_SET:
			o.mtime = orNow(v.Time, now)
		}
	}
	if len(values) > 0 {
		o.change++
		o.ctime = now
	}
	return types.NFS4_OK
}

// orNow treats the zero time as SET_TO_SERVER_TIME4.
func orNow(t, now types.NFS4Time) types.NFS4Time {
	if t == (types.NFS4Time{}) {
		return now
	}
	return t
}

func resize(b []byte, size uint64) []byte {
	if uint64(len(b)) >= size {
		return b[:size]
	}
	return append(b, make([]byte, size-uint64(len(b)))...)
}

func modeOf(values []attrs.AttrValue, def uint32) uint32 {
	if v, ok := attrs.Find(values, attrs.FATTR4_MODE); ok {
		return v.Uint32 & 0o7777
	}
	return def
}
