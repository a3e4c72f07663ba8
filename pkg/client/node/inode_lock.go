package node

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// lockRange converts the range of fl. A zero length runs to the end of the
// file.
func lockRange(fl *unix.Flock_t) (uint64, uint64, error) {
	if fl.Start < 0 || fl.Len < 0 {
		return 0, 0, fmt.Errorf("lock range %d+%d: %w", fl.Start, fl.Len, unix.EINVAL)
	}
	if fl.Len == 0 {
		return uint64(fl.Start), state.ToEOF, nil
	}
	return uint64(fl.Start), uint64(fl.Len), nil
}

// CheckLockType verifies that the cookie's access mode allows the lock
// type requested by fl.
func CheckLockType(c *state.Cookie, typ int16) (state.LockType, error) {
	mode := c.Mode & unix.O_ACCMODE
	switch typ {
	case unix.F_RDLCK:
		if mode == unix.O_WRONLY {
			return state.ReadLock, fmt.Errorf("read lock on write-only descriptor: %w", unix.EBADF)
		}
		return state.ReadLock, nil
	case unix.F_WRLCK:
		if mode == unix.O_RDONLY {
			return state.WriteLock, fmt.Errorf("write lock on read-only descriptor: %w", unix.EBADF)
		}
		return state.WriteLock, nil
	}
	return state.ReadLock, fmt.Errorf("lock type %d: %w", typ, unix.EINVAL)
}

// TestLock fills fl with the lock that would conflict with it, or sets
// its type to F_UNLCK when it could be granted. fl.Pid is the lock owner.
func (n *Inode) TestLock(ctx context.Context, c *state.Cookie, fl *unix.Flock_t) error {
	if fl.Type == unix.F_UNLCK {
		return nil
	}
	typ, err := CheckLockType(c, fl.Type)
	if err != nil {
		return err
	}
	start, length, err := lockRange(fl)
	if err != nil {
		return err
	}

	denied, err := n.NFS4Inode.TestLock(ctx, c.State(), typ, start, length, uint32(fl.Pid))
	if err != nil && denied == nil {
		return err
	}
	if denied == nil {
		fl.Type = unix.F_UNLCK
		return nil
	}
	fillConflict(fl, denied)
	return nil
}

func fillConflict(fl *unix.Flock_t, denied *compound.LockDenied) {
	fl.Type = unix.F_RDLCK
	if state.LockTypeFromProtocol(denied.Type) == state.WriteLock {
		fl.Type = unix.F_WRLCK
	}
	fl.Start = int64(denied.Offset)
	if denied.Length == state.ToEOF {
		fl.Len = 0
	} else {
		fl.Len = int64(denied.Length)
	}
	fl.Whence = 0
}

// AcquireLock takes the lock described by fl through c. With wait set the
// call blocks until the lock is granted or ctx ends; otherwise a conflict
// fails with EAGAIN.
func (n *Inode) AcquireLock(ctx context.Context, c *state.Cookie, fl *unix.Flock_t, wait bool) error {
	typ, err := CheckLockType(c, fl.Type)
	if err != nil {
		return err
	}
	start, length, err := lockRange(fl)
	if err != nil {
		return err
	}

	st := c.State()
	owner, err := st.LockOwner(uint32(fl.Pid))
	if err != nil {
		return err
	}
	l := &state.LockInfo{Owner: owner, Start: start, Length: length, Type: typ, Blocking: wait}

	denied, err := n.NFS4Inode.AcquireLock(ctx, st, l, wait)
	if err != nil {
		if denied != nil {
			logger.DebugCtx(ctx, "lock denied",
				logger.FileID(n.FileID()), logger.LockOffset(start), logger.LockLength(length), logger.LockOwner(owner.Owner))
			return fmt.Errorf("lock %d+%d: %w", start, length, unix.EAGAIN)
		}
		return err
	}
	if _, err := st.LinkLock(c, l); err != nil {
		return err
	}
	logger.DebugCtx(ctx, "lock acquired",
		logger.FileID(n.FileID()), logger.LockOffset(start), logger.LockLength(length), logger.LockOwner(owner.Owner))
	return nil
}

// ReleaseLock drops the lock previously taken through c over exactly the
// range of fl. Dirty data is flushed first so other lock holders see it.
func (n *Inode) ReleaseLock(ctx context.Context, c *state.Cookie, fl *unix.Flock_t) error {
	start, length, err := lockRange(fl)
	if err != nil {
		return err
	}
	if err := n.SyncAndCommit(ctx, false); err != nil {
		return err
	}

	st := c.State()
	l, ok := st.FindLock(c, uint32(fl.Pid), start, length)
	if !ok {
		return fmt.Errorf("no lock %d+%d held by %d: %w", start, length, fl.Pid, unix.EINVAL)
	}
	if _, err := st.UnlinkLock(c, l.ID); err != nil {
		return err
	}
	return n.NFS4Inode.ReleaseLock(ctx, st, l)
}

// ReleaseAllLocks drops every lock taken through c.
func (n *Inode) ReleaseAllLocks(ctx context.Context, c *state.Cookie) error {
	if !c.HasLocks() {
		return nil
	}
	err := n.SyncAndCommit(ctx, false)

	st := c.State()
	for _, l := range st.CookieLocks(c) {
		if _, uerr := st.UnlinkLock(c, l.ID); uerr != nil {
			err = errors.Join(err, uerr)
			continue
		}
		if rerr := n.NFS4Inode.ReleaseLock(ctx, st, l); rerr != nil {
			logger.WarnCtx(ctx, "unlock failed", logger.FileID(n.FileID()), logger.LockOffset(l.Start), logger.Err(rerr))
			err = errors.Join(err, rerr)
		}
	}
	return err
}
