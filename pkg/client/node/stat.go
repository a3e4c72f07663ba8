package node

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
)

// Attributes is the attribute snapshot GetStat fetches. Owner and Group are
// the server's principals; Stat maps them to ids.
type Attributes struct {
	Type   uint32
	Size   uint64
	Mode   uint32
	Nlink  uint32
	Owner  string
	Group  string
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time
}

// Stat is the POSIX view of a node.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	Blksize uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Crtime  time.Time
}

// StatMask selects the Stat fields WriteStat changes.
type StatMask uint32

const (
	StatSize StatMask = 1 << iota
	StatMode
	StatUID
	StatGID
	StatAtime
	StatMtime
)

var statAttrs = []uint32{
	attrs.FATTR4_TYPE,
	attrs.FATTR4_SIZE,
	attrs.FATTR4_MODE,
	attrs.FATTR4_NUMLINKS,
	attrs.FATTR4_OWNER,
	attrs.FATTR4_OWNER_GROUP,
	attrs.FATTR4_TIME_ACCESS,
	attrs.FATTR4_TIME_CREATE,
	attrs.FATTR4_TIME_METADATA,
	attrs.FATTR4_TIME_MODIFY,
}

// GetStat fetches the node's attributes. Attributes the server does not
// return keep POSIX-friendly defaults: mode 0777 and one link.
func (n *NFS4Inode) GetStat(ctx context.Context) (Attributes, error) {
	values, err := n.getAttrs(ctx, "GetStat", statAttrs...)
	if err != nil {
		return Attributes{}, err
	}

	a := Attributes{Mode: 0o777, Nlink: 1}
	for _, v := range values {
		switch v.Attribute {
		case attrs.FATTR4_TYPE:
			a.Type = v.Uint32
		case attrs.FATTR4_SIZE:
			a.Size = v.Uint64
		case attrs.FATTR4_MODE:
			a.Mode = v.Uint32 & 0o7777
		case attrs.FATTR4_NUMLINKS:
			a.Nlink = v.Uint32
		case attrs.FATTR4_OWNER:
			a.Owner = v.String
		case attrs.FATTR4_OWNER_GROUP:
			a.Group = v.String
		case attrs.FATTR4_TIME_ACCESS:
			a.Atime = v.Time.Time()
		case attrs.FATTR4_TIME_CREATE:
			a.Crtime = v.Time.Time()
		case attrs.FATTR4_TIME_METADATA:
			a.Ctime = v.Time.Time()
		case attrs.FATTR4_TIME_MODIFY:
			a.Mtime = v.Time.Time()
		}
	}
	return a, nil
}

// fileType returns the S_IF* bits for an nfs_ftype4.
func fileType(typ uint32) uint32 {
	switch typ {
	case types.NF4DIR, types.NF4ATTRDIR:
		return unix.S_IFDIR
	case types.NF4LNK:
		return unix.S_IFLNK
	case types.NF4BLK:
		return unix.S_IFBLK
	case types.NF4CHR:
		return unix.S_IFCHR
	case types.NF4SOCK:
		return unix.S_IFSOCK
	case types.NF4FIFO:
		return unix.S_IFIFO
	}
	return unix.S_IFREG
}

// principalID maps an owner or group principal. Numeric principals are
// taken as ids without asking the mapper.
func principalID(principal string, mapper func(string) uint32) uint32 {
	if principal == "" {
		return 0
	}
	if id, ok := idmap.ParseNumeric(principal); ok {
		return id
	}
	return mapper(principal)
}

// toStat converts a snapshot. blksize must be positive.
func toStat(a Attributes, mapper idmap.Mapper, dev, ino, blksize uint64) Stat {
	return Stat{
		Dev:     dev,
		Ino:     ino,
		Mode:    fileType(a.Type) | a.Mode,
		Nlink:   a.Nlink,
		UID:     principalID(a.Owner, mapper.UserID),
		GID:     principalID(a.Group, mapper.GroupID),
		Size:    a.Size,
		Blksize: blksize,
		Blocks:  blocks(a.Size, blksize),
		Atime:   a.Atime,
		Mtime:   a.Mtime,
		Ctime:   a.Ctime,
		Crtime:  a.Crtime,
	}
}

// setAttrValues builds the SETATTR arguments for the fields of st that
// mask selects.
func setAttrValues(st Stat, mask StatMask, mapper idmap.Mapper) []attrs.AttrValue {
	var values []attrs.AttrValue
	if mask&StatSize != 0 {
		values = append(values, attrs.Uint64Value(attrs.FATTR4_SIZE, st.Size))
	}
	if mask&StatMode != 0 {
		values = append(values, attrs.Uint32Value(attrs.FATTR4_MODE, st.Mode&0o7777))
	}
	if mask&StatUID != 0 {
		values = append(values, attrs.StringValue(attrs.FATTR4_OWNER, mapper.Owner(st.UID)))
	}
	if mask&StatGID != 0 {
		values = append(values, attrs.StringValue(attrs.FATTR4_OWNER_GROUP, mapper.OwnerGroup(st.GID)))
	}
	if mask&StatAtime != 0 {
		values = append(values, attrs.TimeValue(attrs.FATTR4_TIME_ACCESS_SET, setTime(st.Atime)))
	}
	if mask&StatMtime != 0 {
		values = append(values, attrs.TimeValue(attrs.FATTR4_TIME_MODIFY_SET, setTime(st.Mtime)))
	}
	return values
}

// setTime converts a time to set. The zero time asks for the server's
// current time.
func setTime(t time.Time) types.NFS4Time {
	if t.IsZero() {
		return types.NFS4Time{}
	}
	return types.TimeFrom(t)
}

// blocks is size rounded up to whole blocks of blksize.
func blocks(size, blksize uint64) uint64 {
	n := size / blksize
	if size%blksize != 0 {
		n++
	}
	return n
}
