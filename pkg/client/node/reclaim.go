package node

import (
	"context"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// ReclaimOpenState re-establishes st after the server lost our state. It
// reclaims the open, and the delegation held with it, with CLAIM_PREVIOUS
// while the server is in its grace period and falls back to a fresh open
// otherwise. Locks are reclaimed only together with a reclaimed open.
//
// The caller must not hold the open-owner sequence lock.
func (n *Inode) ReclaimOpenState(ctx context.Context, st *state.OpenState) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanReclaimState)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.FileID(n.FileID()))

	seq := n.fs.OpenOwnerSequenceLock()
	defer func() { n.fs.OpenOwnerSequenceUnlock(seq) }()

	deleg := st.Delegation()
	want := uint32(types.OPEN_DELEGATE_NONE)
	if deleg != nil {
		want = deleg.Type.Protocol()
	}

	var (
		open  *compound.OpenResult
		owner compound.StateOwner
	)
	err := n.do(ctx, &request{
		op: "ReclaimOpenState",
		build: func() *compound.Request {
			owner = n.stateOwner()
			return compound.NewRequest().PutFH(n.Handle()).
				Open(compound.Open{
					Seqid:          seq,
					ShareAccess:    shareAccess(st.Mode()),
					ShareDeny:      types.OPEN4_SHARE_DENY_NONE,
					Owner:          owner,
					Claim:          types.CLAIM_PREVIOUS,
					DelegationType: want,
				})
		},
		interpret: func(reply *compound.Reply) error {
			advanceIf(reply, types.OP_OPEN, &seq)
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			open, err = in.Open()
			return err
		},
		seq:   &seq,
		final: isStatus(types.NFS4ERR_NO_GRACE, types.NFS4ERR_RECLAIM_BAD),
	})

	reclaimed := err == nil
	switch {
	case reclaimed:
		st.SetStateid(open.Stateid)
		st.SetClientID(owner.ClientID)
		if open.Flags&types.OPEN4_RESULT_CONFIRM != 0 {
			if err := n.ConfirmOpen(ctx, st, &seq); err != nil {
				return err
			}
		}
		st.SetOpened(true)
		if deleg != nil {
			if open.Delegation.Type == want {
				deleg.Stateid = open.Delegation.Stateid
			} else {
				logger.WarnCtx(ctx, "delegation not reclaimed", logger.FileID(n.FileID()))
			}
		}
	case types.IsStatus(err, types.NFS4ERR_NO_GRACE), types.IsStatus(err, types.NFS4ERR_RECLAIM_BAD):
		logger.InfoCtx(ctx, "reclaim refused, opening again",
			logger.FileID(n.FileID()), logger.Status(types.StatusOf(err)))
		if _, err := n.openFile(ctx, st, st.Mode(), &seq); err != nil {
			return err
		}
	default:
		return err
	}

	for _, o := range st.LockOwners() {
		o.Lock()
		o.ResetState()
		o.SetClientID(st.ClientID())
		o.Unlock()
	}
	if !reclaimed {
		if st.HasLocks() {
			logger.WarnCtx(ctx, "locks lost with the open state", logger.FileID(n.FileID()))
		}
		return nil
	}

	for _, l := range st.Locks() {
		if _, err := n.lock(ctx, st, l, false, true, &seq, nil); err != nil {
			logger.WarnCtx(ctx, "lock reclaim failed",
				logger.FileID(n.FileID()), logger.LockOffset(l.Start), logger.LockLength(l.Length), logger.Err(err))
		}
	}
	logger.InfoCtx(ctx, "open state reclaimed", logger.FileID(n.FileID()), logger.ClientID(st.ClientID()))
	return nil
}
