package node

import (
	"context"
	"sync"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
)

// FSInfo is the filesystem-wide information reported through the root.
type FSInfo struct {
	FilesAvail uint64
	FilesFree  uint64
	FilesTotal uint64
	SpaceAvail uint64
	SpaceFree  uint64
	SpaceTotal uint64
	MaxRead    uint64
	MaxWrite   uint64
	MaxName    uint32
}

var fsInfoAttrs = []uint32{
	attrs.FATTR4_FILES_AVAIL,
	attrs.FATTR4_FILES_FREE,
	attrs.FATTR4_FILES_TOTAL,
	attrs.FATTR4_MAXNAME,
	attrs.FATTR4_MAXREAD,
	attrs.FATTR4_MAXWRITE,
	attrs.FATTR4_SPACE_AVAIL,
	attrs.FATTR4_SPACE_FREE,
	attrs.FATTR4_SPACE_TOTAL,
}

// RootInfo is the capability only the mount root carries: a cache of
// filesystem information, dropped by every operation that changes a
// directory, and the I/O size derived from it.
type RootInfo struct {
	node *Inode

	mu     sync.Mutex
	info   FSInfo
	valid  bool
	ioSize uint64
}

func newRootInfo(node *Inode) *RootInfo {
	return &RootInfo{node: node, ioSize: uint64(node.fs.Options().IOSize)}
}

// ReadInfo returns the filesystem information, fetching it when the cache
// was invalidated.
func (r *RootInfo) ReadInfo(ctx context.Context) (FSInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valid {
		return r.info, nil
	}

	values, err := r.node.getAttrs(ctx, "ReadInfo", fsInfoAttrs...)
	if err != nil {
		return FSInfo{}, err
	}
	var info FSInfo
	for _, v := range values {
		switch v.Attribute {
		case attrs.FATTR4_FILES_AVAIL:
			info.FilesAvail = v.Uint64
		case attrs.FATTR4_FILES_FREE:
			info.FilesFree = v.Uint64
		case attrs.FATTR4_FILES_TOTAL:
			info.FilesTotal = v.Uint64
		case attrs.FATTR4_MAXNAME:
			info.MaxName = v.Uint32
		case attrs.FATTR4_MAXREAD:
			info.MaxRead = v.Uint64
		case attrs.FATTR4_MAXWRITE:
			info.MaxWrite = v.Uint64
		case attrs.FATTR4_SPACE_AVAIL:
			info.SpaceAvail = v.Uint64
		case attrs.FATTR4_SPACE_FREE:
			info.SpaceFree = v.Uint64
		case attrs.FATTR4_SPACE_TOTAL:
			info.SpaceTotal = v.Uint64
		}
	}

	io := uint64(r.node.fs.Options().IOSize)
	if info.MaxRead > 0 {
		io = min(io, info.MaxRead)
	}
	if info.MaxWrite > 0 {
		io = min(io, info.MaxWrite)
	}
	r.info, r.valid, r.ioSize = info, true, max(io, 1)
	return info, nil
}

// MakeInfoInvalid drops the cached information.
func (r *RootInfo) MakeInfoInvalid() {
	r.mu.Lock()
	r.valid = false
	r.mu.Unlock()
}

// IOSize is the READ and WRITE size used by the mount.
func (r *RootInfo) IOSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ioSize
}
