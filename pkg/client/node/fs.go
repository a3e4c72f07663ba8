// Package node implements the per-file layer of the NFSv4 client. NFS4Inode
// turns node operations into COMPOUND requests and drives them through the
// retry policy; Inode composes those operations with the directory,
// metadata and content caches, open state, locks and delegations so that
// every local view stays coherent with the server.
package node

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/nfs4client/internal/bytesize"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/metrics"
	"github.com/marmos91/nfs4client/pkg/client/notify"
	"github.com/marmos91/nfs4client/pkg/client/retry"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// ErrDirectoryChanged is returned by ReadDirOnce when the directory's
// change attribute moved while it was being listed. The listing must be
// restarted from the beginning.
var ErrDirectoryChanged = errors.New("directory changed during listing")

// FileSystem is the mount a node belongs to.
type FileSystem interface {
	Transport() compound.Transport
	// Server is the server address, used in logs and spans.
	Server() string

	// Root returns the mount root. It is nil while the root itself is
	// being created.
	Root() *Inode
	DevID() uint64
	FsID() types.FSID4
	AllocFileID() uint64

	// OpenOwner returns the open_owner4 bytes shared by every open of this
	// mount.
	OpenOwner() []byte

	// OpenOwnerSequenceLock serializes sequenced operations and returns
	// the next open-owner seqid. The caller hands the advanced value back
	// to OpenOwnerSequenceUnlock.
	OpenOwnerSequenceLock() uint32
	OpenOwnerSequenceUnlock(seq uint32)

	IsAttrSupported(attr uint32) bool
	ExpireType() uint32
	ClientID() uint64

	// RecoverClientID establishes a new client id if failed is still the
	// current one.
	RecoverClientID(ctx context.Context, failed uint64) error

	// RecoverOpenState handles a server that lost our state: it recovers
	// the client id if needed and reclaims every registered open state
	// not yet reclaimed under the current client id. The caller must not
	// hold the open-owner sequence lock.
	RecoverOpenState(ctx context.Context, failed uint64) error

	RetryPolicy() *retry.Policy
	Options() Options
	ContentCache() contentcache.Provider
	Notifier() notify.Notifier
	Metrics() *metrics.Metrics

	// AddName records that fileID is reachable through link and returns
	// the names of fileID, creating them with handle on first use. A link
	// without a parent only registers fileID. A valid handle replaces the
	// recorded one.
	AddName(fileID uint64, handle types.FileHandle, link Name) *FileNames
	RemoveName(fileID uint64, link Name)

	// GetInode returns the live node for fileID, creating it from the
	// recorded names when needed.
	GetInode(ctx context.Context, fileID uint64) (*Inode, error)

	AddOpenState(st *state.OpenState, n *Inode)
	RemoveOpenState(st *state.OpenState)

	AddDelegation(d *state.Delegation, n *Inode)
	RemoveDelegation(d *state.Delegation)
}

// Options tunes node caching and I/O.
type Options struct {
	// CacheMetadata enables the stat and access caches.
	CacheMetadata bool
	MetadataTTL   time.Duration
	DirectoryTTL  time.Duration

	// IOSize caps READ and WRITE sizes below the server maximums.
	IOSize bytesize.ByteSize

	// FillDirRestarts bounds how often a directory listing restarts after
	// the directory changed underneath it.
	FillDirRestarts int
}

// DefaultOptions returns the default node tuning.
func DefaultOptions() Options {
	return Options{
		CacheMetadata:   true,
		MetadataTTL:     5 * time.Second,
		DirectoryTTL:    60 * time.Second,
		IOSize:          64 * bytesize.KiB,
		FillDirRestarts: 4,
	}
}
