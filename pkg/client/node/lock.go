package node

import (
	"context"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// TestLock asks whether owner could lock [start, start+length) through st.
// It returns the conflicting lock, or nil when the range is free.
func (n *NFS4Inode) TestLock(ctx context.Context, st *state.OpenState, typ state.LockType, start, length uint64, owner uint32) (*compound.LockDenied, error) {
	probe, err := state.NewLockOwner(st.ClientID(), n.FileID(), owner)
	if err != nil {
		return nil, err
	}

	var denied *compound.LockDenied
	err = n.do(ctx, &request{
		op: "TestLock",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(st.Handle()).LockT(compound.LockT{
				Type:   typ.Protocol(false),
				Offset: start,
				Length: length,
				Owner:  compound.StateOwner{ClientID: n.fs.ClientID(), Owner: probe.Opaque()},
			})
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			denied, err = in.LockT()
			return err
		},
		state: st,
		final: isStatus(types.NFS4ERR_DENIED),
	})
	return denied, err
}

// AcquireLock takes l on the server through st. A conflict is returned
// with an NFS4ERR_DENIED error unless wait is set, in which case the
// request is repeated until the lock is granted or ctx ends.
func (n *NFS4Inode) AcquireLock(ctx context.Context, st *state.OpenState, l *state.LockInfo, wait bool) (*compound.LockDenied, error) {
	seq := n.fs.OpenOwnerSequenceLock()
	defer func() { n.fs.OpenOwnerSequenceUnlock(seq) }()
	return n.lock(ctx, st, l, wait, false, &seq, st)
}

// lock sends LOCK for l. The caller holds the sequence lock; the
// open-to-lock-owner form consumes an open-owner seqid, the existing form
// a lock-owner seqid. recoverable is the state open state recovery may
// reclaim, nil while reclaiming.
func (n *NFS4Inode) lock(ctx context.Context, st *state.OpenState, l *state.LockInfo, wait, reclaim bool, seq *uint32, recoverable *state.OpenState) (*compound.LockDenied, error) {
	owner := l.Owner

	var (
		denied  *compound.LockDenied
		newForm bool
	)
	err := n.do(ctx, &request{
		op: "AcquireLock",
		build: func() *compound.Request {
			args := compound.Lock{
				Type:      l.Type.Protocol(wait),
				Reclaim:   reclaim,
				Offset:    l.Start,
				Length:    l.Length,
				LockSeqid: owner.Sequence(),
			}
			lsid, has := owner.Stateid()
			newForm = !has
			if has {
				args.LockStateid = lsid
			} else {
				args.NewLockOwner = true
				args.OpenSeqid = *seq
				args.OpenStateid = st.Stateid()
				args.Owner = compound.StateOwner{ClientID: owner.ClientID(), Owner: owner.Opaque()}
			}
			return compound.NewRequest().PutFH(st.Handle()).Lock(args)
		},
		interpret: func(reply *compound.Reply) error {
			if newForm {
				advanceIf(reply, types.OP_LOCK, seq)
			} else if res, ok := reply.Result(types.OP_LOCK); ok && types.IncrementsSequence(res.Status) {
				owner.Advance(1)
			}

			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			sid, conflict, err := in.Lock()
			denied = conflict
			if err != nil {
				return err
			}
			owner.SetStateid(sid)
			if newForm {
				owner.Advance(1)
			}
			return nil
		},
		owner: owner,
		state: recoverable,
		seq:   seq,
		final: func(status uint32) bool { return status == types.NFS4ERR_DENIED && !wait },
	})
	return denied, err
}

// ReleaseLock unlocks l on the server. Only the lock owner's seqid is
// consumed, so the open-owner sequence lock is not taken.
func (n *NFS4Inode) ReleaseLock(ctx context.Context, st *state.OpenState, l *state.LockInfo) error {
	owner := l.Owner

	owner.Lock()
	_, has := owner.Stateid()
	owner.Unlock()
	if !has {
		return nil
	}

	return n.do(ctx, &request{
		op: "ReleaseLock",
		build: func() *compound.Request {
			lsid, _ := owner.Stateid()
			return compound.NewRequest().PutFH(st.Handle()).LockU(compound.LockU{
				Type:        l.Type.Protocol(false),
				Seqid:       owner.Sequence(),
				LockStateid: lsid,
				Offset:      l.Start,
				Length:      l.Length,
			})
		},
		interpret: func(reply *compound.Reply) error {
			if res, ok := reply.Result(types.OP_LOCKU); ok && types.IncrementsSequence(res.Status) {
				owner.Advance(1)
			}
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			sid, err := in.LockU()
			if err != nil {
				return err
			}
			owner.SetStateid(sid)
			return nil
		},
		owner: owner,
		state: st,
	})
}
