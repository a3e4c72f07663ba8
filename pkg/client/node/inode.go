package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/dircache"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// Kind tags the mount root apart from every other node.
type Kind int

const (
	KindNode Kind = iota
	KindRoot
)

func (k Kind) String() string {
	if k == KindRoot {
		return "root"
	}
	return "node"
}

// Inode is a node with its caches kept coherent with the server: the
// directory and attribute-directory caches, the metadata cache, the file
// content cache, the active open state and delegation, and the count of
// I/O in flight.
type Inode struct {
	NFS4Inode

	kind Kind
	root *RootInfo
	typ  uint32

	dirCache  *dircache.Cache
	attrCache *dircache.Cache
	meta      *MetadataCache

	stateMu   sync.Mutex
	openState *state.OpenState

	delegMu    sync.RWMutex
	delegation *state.Delegation

	fileCacheMu sync.RWMutex
	fileCache   contentcache.File
	change      uint64
	maxFileSize uint64
	writeDirty  atomic.Bool

	aioMu    sync.Mutex
	aioCount int
	aioGate  chan struct{}
}

var createAttrs = []uint32{
	attrs.FATTR4_TYPE,
	attrs.FATTR4_CHANGE,
	attrs.FATTR4_SIZE,
	attrs.FATTR4_FSID,
	attrs.FATTR4_FILEID,
}

// CreateInode builds the node for names when it is first discovered. It
// fails with ENOENT when the object belongs to another filesystem.
func CreateInode(ctx context.Context, fs FileSystem, names *FileNames, kind Kind) (*Inode, error) {
	n := &Inode{
		NFS4Inode: NFS4Inode{fs: fs, names: names},
		kind:      kind,
		aioGate:   make(chan struct{}, 1),
	}

	values, err := n.getAttrs(ctx, "CreateInode", createAttrs...)
	if err != nil {
		return nil, err
	}
	if err := n.checkFSID(values); err != nil {
		return nil, err
	}
	typ, _ := attrs.Find(values, attrs.FATTR4_TYPE)
	n.typ = typ.Uint32
	n.change = uint64Attr(values, attrs.FATTR4_CHANGE)
	size := uint64Attr(values, attrs.FATTR4_SIZE)

	opts := fs.Options()
	observe := dircache.WithObserver(func(r dircache.Result) { fs.Metrics().RecordDirCache(r.String()) })
	if n.typ == types.NF4DIR || n.typ == types.NF4ATTRDIR {
		n.dirCache = dircache.New(n.typ == types.NF4ATTRDIR, dircache.WithTTL(opts.DirectoryTTL), observe)
	}
	n.attrCache = dircache.New(true, dircache.WithTTL(opts.DirectoryTTL), observe)
	n.meta = newMetadataCache(opts.MetadataTTL, nil)

	if kind == KindRoot {
		n.root = newRootInfo(n)
		if _, err := n.root.ReadInfo(ctx); err != nil {
			return nil, err
		}
	}

	if n.isFile() {
		fc, err := fs.ContentCache().Create(ctx, n.cacheKey(), size, &fileBackend{node: n})
		if err != nil {
			return nil, fmt.Errorf("create content cache: %w", err)
		}
		n.fileCache = fc
		n.maxFileSize = size
	}

	logger.DebugCtx(ctx, "inode created",
		logger.FileID(n.FileID()), logger.KeyType, n.typ, logger.KeySize, size, logger.Change(n.change))
	return n, nil
}

// Kind reports whether n is the mount root.
func (n *Inode) Kind() Kind { return n.kind }

// Root returns the root capability, nil unless n is the mount root.
func (n *Inode) Root() *RootInfo { return n.root }

// Type returns the nfs_ftype4 of the node.
func (n *Inode) Type() uint32 { return n.typ }

func (n *Inode) isDir() bool  { return n.typ == types.NF4DIR || n.typ == types.NF4ATTRDIR }
func (n *Inode) isFile() bool { return n.typ == types.NF4REG || n.typ == types.NF4NAMEDATTR }

// Destroy tears the node down when the mount drops it: a held delegation
// is returned and the content cache deleted. I/O must not be in flight.
func (n *Inode) Destroy(ctx context.Context) error {
	if err := n.RecallDelegation(ctx, false); err != nil {
		logger.WarnCtx(ctx, "delegation return failed", logger.FileID(n.FileID()), logger.Err(err))
	}

	n.fileCacheMu.Lock()
	if n.fileCache != nil {
		if err := n.fileCache.Delete(); err != nil {
			logger.WarnCtx(ctx, "content cache delete failed", logger.FileID(n.FileID()), logger.Err(err))
		}
		n.fileCache = nil
	}
	n.fileCacheMu.Unlock()

	if count := n.AIOCount(); count != 0 {
		logger.ErrorCtx(ctx, "inode destroyed with I/O in flight",
			logger.FileID(n.FileID()), logger.KeyCount, count)
		return fmt.Errorf("file %d destroyed with %d I/O operations in flight: %w", n.FileID(), count, unix.EBUSY)
	}
	return nil
}

// Access checks the R_OK, W_OK and X_OK bits of mode for uid and fails
// with EACCES when one is not granted.
func (n *Inode) Access(ctx context.Context, uid uint32, mode uint32) error {
	allowed, ok := uint32(0), false
	if n.fs.Options().CacheMetadata {
		allowed, ok = n.meta.Access(uid)
	}
	if !ok {
		mask := uint32(types.ACCESS4_READ | types.ACCESS4_MODIFY | types.ACCESS4_EXTEND)
		if n.isDir() {
			mask |= types.ACCESS4_LOOKUP | types.ACCESS4_DELETE
		} else {
			mask |= types.ACCESS4_EXECUTE
		}
		granted, err := n.NFS4Inode.Access(ctx, mask)
		if err != nil {
			return err
		}
		allowed = accessMode(granted)
		if n.fs.Options().CacheMetadata {
			n.meta.SetAccess(uid, allowed)
		}
	}

	if mode&^allowed != 0 {
		return fmt.Errorf("access %o to file %d: %w", mode, n.FileID(), unix.EACCES)
	}
	return nil
}

// accessMode converts ACCESS4 bits to R_OK, W_OK and X_OK.
func accessMode(granted uint32) uint32 {
	var mode uint32
	if granted&types.ACCESS4_READ != 0 {
		mode |= unix.R_OK
	}
	if granted&types.ACCESS4_LOOKUP != 0 {
		mode |= unix.X_OK | unix.R_OK
	}
	if granted&types.ACCESS4_EXECUTE != 0 {
		mode |= unix.X_OK
	}
	if granted&types.ACCESS4_MODIFY != 0 {
		mode |= unix.W_OK
	}
	return mode
}

// attributes returns the node's snapshot, from the metadata cache when
// metadata caching is enabled.
func (n *Inode) attributes(ctx context.Context) (Attributes, error) {
	cached := n.fs.Options().CacheMetadata || n.HasDelegation()
	if cached {
		if a, ok := n.meta.Stat(); ok {
			return a, nil
		}
	}
	a, err := n.GetStat(ctx)
	if err != nil {
		return Attributes{}, err
	}
	if cached {
		n.meta.SetStat(a)
	}
	return a, nil
}

// Stat returns the POSIX attributes of the node. Sizes written locally but
// not yet flushed are reported.
func (n *Inode) Stat(ctx context.Context, mapper idmap.Mapper) (Stat, error) {
	a, err := n.attributes(ctx)
	if err != nil {
		return Stat{}, err
	}
	n.fileCacheMu.RLock()
	if n.fileCache != nil && n.fileCache.Dirty() {
		a.Size = max(a.Size, n.fileCache.Size())
	}
	n.fileCacheMu.RUnlock()
	return toStat(a, mapper, n.fs.DevID(), n.FileID(), n.ioSize()), nil
}

// WriteStat changes the attributes of st selected by mask. A size change
// is applied to the local content cache before the server sees it.
func (n *Inode) WriteStat(ctx context.Context, mapper idmap.Mapper, st Stat, mask StatMask) error {
	if mask&StatSize != 0 {
		if n.isDir() {
			return fmt.Errorf("truncate directory %d: %w", n.FileID(), unix.EISDIR)
		}
		n.fileCacheMu.Lock()
		n.maxFileSize = st.Size
		var err error
		if n.fileCache != nil {
			err = n.fileCache.SetSize(st.Size)
		}
		n.fileCacheMu.Unlock()
		if err != nil {
			return err
		}
	}

	err := n.NFS4Inode.WriteStat(ctx, n.OpenState(), setAttrValues(st, mask, mapper))
	n.meta.InvalidateStat()
	if mask&(StatMode|StatUID|StatGID) != 0 {
		n.meta.InvalidateAccess()
	}
	return err
}

// ioSize returns the mount's READ and WRITE size.
func (n *Inode) ioSize() uint64 {
	if n.root != nil {
		return n.root.IOSize()
	}
	if root := n.fs.Root(); root != nil && root.root != nil {
		return root.root.IOSize()
	}
	if size := uint64(n.fs.Options().IOSize); size > 0 {
		return size
	}
	return uint64(DefaultOptions().IOSize)
}

// makeInfoInvalid drops the root's filesystem information after a
// directory changed.
func (n *Inode) makeInfoInvalid() {
	if root := n.fs.Root(); root != nil && root.root != nil {
		root.root.MakeInfoInvalid()
	}
}

func (n *Inode) cacheKey() contentcache.Key {
	return contentcache.Key{Dev: n.fs.DevID(), FileID: n.FileID()}
}

// OpenState returns the active open state, nil when the node is not open.
func (n *Inode) OpenState() *state.OpenState {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.openState
}
