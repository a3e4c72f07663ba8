package node

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// covers reports whether an open for have serves a request for want.
func covers(have, want int) bool {
	return have == want || have == unix.O_RDWR
}

// Open opens the file for flags and returns the descriptor cookie. Opens
// share the node's open state when its access mode covers the request;
// otherwise the state is upgraded to read-write.
func (n *Inode) Open(ctx context.Context, flags int) (*state.Cookie, error) {
	if !n.isFile() {
		return nil, fmt.Errorf("open file %d of type %d: %w", n.FileID(), n.typ, unix.EISDIR)
	}
	mode := flags & unix.O_ACCMODE
	if mode != unix.O_RDONLY {
		if err := n.RecallReadDelegation(ctx); err != nil {
			return nil, err
		}
	}

	var grant compound.OpenDelegation
	n.stateMu.Lock()
	st := n.openState
	switch {
	case st != nil && covers(st.Mode(), mode):
		st.Acquire()
	case st != nil:
		var err error
		if grant, err = n.OpenFile(ctx, st, unix.O_RDWR); err != nil {
			n.stateMu.Unlock()
			return nil, err
		}
		st.SetMode(unix.O_RDWR)
		st.Acquire()
	default:
		st = state.NewOpenState(n.FileID(), n.Handle(), mode)
		var err error
		if grant, err = n.OpenFile(ctx, st, mode); err != nil {
			n.stateMu.Unlock()
			return nil, err
		}
		n.openState = st
		n.fs.AddOpenState(st, n)
	}
	n.stateMu.Unlock()

	n.setDelegation(ctx, st, grant)
	cookie := state.NewCookie(st, flags)

	var err error
	if flags&unix.O_TRUNC != 0 && mode != unix.O_RDONLY {
		err = n.truncate(ctx, st, 0)
	} else {
		err = n.RevalidateFileCache(ctx)
	}
	if err != nil {
		if cerr := n.Close(ctx, cookie); cerr != nil {
			logger.WarnCtx(ctx, "close after failed open", logger.FileID(n.FileID()), logger.Err(cerr))
		}
		return nil, err
	}
	return cookie, nil
}

// adoptState installs st, created and opened by CreateFile, as the node's
// open state. An existing state keeps serving the node and st is dropped.
func (n *Inode) adoptState(ctx context.Context, st *state.OpenState, grant compound.OpenDelegation) *state.OpenState {
	n.stateMu.Lock()
	if cur := n.openState; cur != nil {
		// The server upgraded the existing open in place, so cur now
		// carries the access of both.
		cur.SetStateid(st.Stateid())
		if !covers(cur.Mode(), st.Mode()) {
			cur.SetMode(unix.O_RDWR)
		}
		cur.Acquire()
		n.stateMu.Unlock()
		n.setDelegation(ctx, cur, grant)
		return cur
	}
	n.openState = st
	n.fs.AddOpenState(st, n)
	n.stateMu.Unlock()

	n.setDelegation(ctx, st, grant)
	return st
}

// Close releases the cookie: its locks are dropped, dirty data is flushed
// and the open state reference is given up, closing the state on the
// server when it was the last.
func (n *Inode) Close(ctx context.Context, c *state.Cookie) error {
	err := n.ReleaseAllLocks(ctx, c)
	if serr := n.SyncAndCommit(ctx, false); serr != nil && err == nil {
		err = serr
	}
	if derr := n.dropStateRef(ctx, c.State()); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (n *Inode) dropStateRef(ctx context.Context, st *state.OpenState) error {
	n.stateMu.Lock()
	if st.Refs() == 1 {
		st.DropIdleOwners()
	}
	last, err := st.Release()
	n.stateMu.Unlock()
	if err != nil {
		logger.ErrorCtx(ctx, "open state release failed", logger.FileID(n.FileID()), logger.Err(err))
		return err
	}
	if !last {
		return nil
	}
	return n.closeState(ctx, st)
}

// closeState closes st on the server once no reference remains.
func (n *Inode) closeState(ctx context.Context, st *state.OpenState) error {
	err := n.CloseFile(ctx, st)
	n.fs.RemoveOpenState(st)
	n.stateMu.Lock()
	if n.openState == st {
		n.openState = nil
	}
	n.stateMu.Unlock()
	logger.DebugCtx(ctx, "open state closed", logger.FileID(n.FileID()), logger.Err(err))
	return err
}

// Read reads from the content cache, which misses through to the server.
func (n *Inode) Read(ctx context.Context, c *state.Cookie, off uint64, p []byte) (int, error) {
	if c.Mode&unix.O_ACCMODE == unix.O_WRONLY {
		return 0, fmt.Errorf("read file %d opened write-only: %w", n.FileID(), unix.EBADF)
	}
	n.fileCacheMu.RLock()
	defer n.fileCacheMu.RUnlock()
	if n.fileCache == nil {
		return 0, fmt.Errorf("read file %d: %w", n.FileID(), unix.EBADF)
	}
	return n.fileCache.ReadAt(ctx, p, off)
}

// Write stores data in the content cache. It reaches the server on the
// next SyncAndCommit.
func (n *Inode) Write(ctx context.Context, c *state.Cookie, off uint64, data []byte) (int, error) {
	if c.Mode&unix.O_ACCMODE == unix.O_RDONLY {
		return 0, fmt.Errorf("write file %d opened read-only: %w", n.FileID(), unix.EBADF)
	}
	if c.Mode&unix.O_APPEND != 0 {
		off = n.size()
	}
	n.fileCacheMu.RLock()
	defer n.fileCacheMu.RUnlock()
	if n.fileCache == nil {
		return 0, fmt.Errorf("write file %d: %w", n.FileID(), unix.EBADF)
	}
	written, err := n.fileCache.WriteAt(ctx, data, off)
	if err == nil {
		n.meta.InvalidateStat()
	}
	return written, err
}

func (n *Inode) size() uint64 {
	n.fileCacheMu.RLock()
	defer n.fileCacheMu.RUnlock()
	if n.fileCache == nil {
		return n.maxFileSize
	}
	return n.fileCache.Size()
}

// ReadDirect reads straight from the server, bypassing the content cache.
// It counts as asynchronous I/O while in flight.
func (n *Inode) ReadDirect(ctx context.Context, c *state.Cookie, off uint64, p []byte) (int, bool, error) {
	n.BeginAIO()
	defer n.EndAIO()

	read, eof := 0, false
	for read < len(p) && !eof {
		chunk := p[read:min(len(p), read+int(n.ioSize()))]
		got, end, err := n.ReadFile(ctx, c.State(), off+uint64(read), chunk)
		if err != nil {
			return read, eof, err
		}
		read += got
		eof = end || got == 0
	}
	return read, eof, nil
}

// WriteDirect writes straight to the server with stable writes, bypassing
// the content cache. It counts as asynchronous I/O while in flight.
func (n *Inode) WriteDirect(ctx context.Context, c *state.Cookie, off uint64, data []byte) (int, error) {
	if c.Mode&unix.O_ACCMODE == unix.O_RDONLY {
		return 0, fmt.Errorf("write file %d opened read-only: %w", n.FileID(), unix.EBADF)
	}
	n.BeginAIO()
	defer n.EndAIO()

	written := 0
	for written < len(data) {
		chunk := data[written:min(len(data), written+int(n.ioSize()))]
		count, err := n.WriteFile(ctx, c.State(), off+uint64(written), chunk, true)
		if err != nil {
			return written, err
		}
		if count == 0 {
			return written, fmt.Errorf("write file %d: server accepted no data: %w", n.FileID(), unix.EIO)
		}
		written += int(count)
	}
	n.meta.InvalidateStat()
	return written, nil
}

// truncate sets the file size locally and on the server.
func (n *Inode) truncate(ctx context.Context, st *state.OpenState, size uint64) error {
	n.fileCacheMu.Lock()
	n.maxFileSize = size
	var err error
	if n.fileCache != nil {
		err = n.fileCache.SetSize(size)
	}
	n.fileCacheMu.Unlock()
	if err != nil {
		return err
	}
	err = n.NFS4Inode.WriteStat(ctx, st, []attrs.AttrValue{attrs.Uint64Value(attrs.FATTR4_SIZE, size)})
	n.meta.InvalidateStat()
	return err
}

// RevalidateFileCache drops the content cache when the file changed on the
// server. A held delegation guarantees the cache and skips the check.
func (n *Inode) RevalidateFileCache(ctx context.Context) error {
	if !n.isFile() || n.HasDelegation() {
		return nil
	}
	change, err := n.GetChangeInfo(ctx)
	if err != nil {
		return err
	}

	n.fileCacheMu.Lock()
	defer n.fileCacheMu.Unlock()
	if change == n.change || n.fileCache == nil {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRevalidate)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.FileID(n.FileID()), telemetry.Change(change))

	if err := n.syncLocked(ctx); err != nil {
		return err
	}
	n.meta.InvalidateStat()
	a, err := n.GetStat(ctx)
	if err != nil {
		return err
	}
	if err := n.fileCache.Delete(); err != nil {
		return err
	}
	fc, err := n.fs.ContentCache().Create(ctx, n.cacheKey(), a.Size, &fileBackend{node: n})
	if err != nil {
		n.fileCache = nil
		return fmt.Errorf("recreate content cache: %w", err)
	}
	logger.DebugCtx(ctx, "content cache dropped",
		logger.FileID(n.FileID()), logger.Change(n.change), logger.KeyChangeAfter, change, logger.KeySize, a.Size)
	n.fileCache, n.change, n.maxFileSize = fc, change, a.Size
	return nil
}

// SyncAndCommit writes dirty data back and commits unstable writes. Under
// a delegation the flush is deferred until the delegation is returned,
// unless force is set.
func (n *Inode) SyncAndCommit(ctx context.Context, force bool) error {
	if !force && n.HasDelegation() {
		return nil
	}
	n.fileCacheMu.RLock()
	defer n.fileCacheMu.RUnlock()
	return n.syncLocked(ctx)
}

// syncLocked flushes with fileCacheMu held in either mode.
func (n *Inode) syncLocked(ctx context.Context) error {
	if n.fileCache == nil {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSyncAndCommit)
	defer span.End()

	if err := n.fileCache.Sync(ctx); err != nil {
		return err
	}
	if err := n.WaitAIO(ctx); err != nil {
		return err
	}
	if !n.writeDirty.Swap(false) {
		return nil
	}
	if err := n.CommitWrites(ctx); err != nil {
		n.writeDirty.Store(true)
		return err
	}
	return nil
}

// fileBackend moves content cache blocks with READ and WRITE, split to the
// mount's I/O size.
type fileBackend struct {
	node *Inode
}

func (b *fileBackend) ReadBlock(ctx context.Context, off uint64, p []byte) (int, error) {
	n := b.node
	st := n.OpenState()
	read := 0
	for read < len(p) {
		chunk := p[read:min(len(p), read+int(n.ioSize()))]
		got, eof, err := n.ReadFile(ctx, st, off+uint64(read), chunk)
		if err != nil {
			return read, err
		}
		read += got
		if eof || got == 0 {
			break
		}
	}
	return read, nil
}

func (b *fileBackend) WriteBlock(ctx context.Context, off uint64, p []byte) error {
	n := b.node
	st := n.OpenState()
	written := 0
	for written < len(p) {
		chunk := p[written:min(len(p), written+int(n.ioSize()))]
		count, err := n.WriteFile(ctx, st, off+uint64(written), chunk, false)
		if err != nil {
			return err
		}
		n.writeDirty.Store(true)
		if count == 0 {
			return fmt.Errorf("write back file %d: server accepted no data: %w", n.FileID(), unix.EIO)
		}
		written += int(count)
	}
	return nil
}
