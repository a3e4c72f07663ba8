package node

import (
	"context"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// setDelegation records a delegation granted by an OPEN on st. The
// metadata cache is refreshed and then pinned valid until the delegation
// is returned.
func (n *Inode) setDelegation(ctx context.Context, st *state.OpenState, grant compound.OpenDelegation) {
	typ, ok := state.DelegationTypeFromProtocol(grant.Type)
	if !ok {
		return
	}

	n.delegMu.Lock()
	defer n.delegMu.Unlock()
	if n.delegation != nil {
		return
	}

	n.meta.InvalidateStat()
	if a, err := n.GetStat(ctx); err == nil {
		n.meta.SetStat(a)
	} else {
		logger.DebugCtx(ctx, "stat refresh for delegation failed", logger.FileID(n.FileID()), logger.Err(err))
	}
	n.meta.LockValid()

	d := state.NewDelegation(st, typ, grant.Stateid)
	d.Recall = grant.Recall
	d.SpaceLimit = grant.SpaceLimit
	n.delegation = d
	n.fs.AddDelegation(d, n)
	n.fs.Metrics().DelegationGranted(typ.String())

	telemetry.AddEvent(ctx, "delegation.granted", telemetry.DelegType(grant.Type))
	logger.DebugCtx(ctx, "delegation granted",
		logger.FileID(n.FileID()), logger.KeyDelegType, typ.String(), logger.KeyRefs, st.Refs())
}

// Delegation returns the delegation held on the node, or nil.
func (n *Inode) Delegation() *state.Delegation {
	n.delegMu.RLock()
	defer n.delegMu.RUnlock()
	return n.delegation
}

// HasDelegation reports whether a delegation is held.
func (n *Inode) HasDelegation() bool {
	return n.Delegation() != nil
}

// RecallDelegation returns the delegation held on the node, if any. Dirty
// data under a write delegation is flushed first unless the file is about
// to be truncated.
func (n *Inode) RecallDelegation(ctx context.Context, truncate bool) error {
	return n.returnDelegation(ctx, truncate, false)
}

// RecallReadDelegation returns the delegation only if it is a read
// delegation.
func (n *Inode) RecallReadDelegation(ctx context.Context) error {
	return n.returnDelegation(ctx, false, true)
}

func (n *Inode) returnDelegation(ctx context.Context, truncate, readOnly bool) error {
	n.delegMu.Lock()
	d := n.delegation
	if d == nil || (readOnly && d.Type != state.ReadDelegation) || !d.BeginReturn() {
		n.delegMu.Unlock()
		return nil
	}

	var err error
	if d.Type == state.WriteDelegation && !truncate {
		if err = n.SyncAndCommit(ctx, true); err == nil {
			err = n.WaitAIO(ctx)
		}
		if err != nil {
			logger.WarnCtx(ctx, "flush before delegation return failed", logger.FileID(n.FileID()), logger.Err(err))
		}
	}
	if rerr := n.DelegReturn(ctx, d); rerr != nil {
		logger.WarnCtx(ctx, "DELEGRETURN failed", logger.FileID(n.FileID()), logger.Err(rerr))
		if err == nil {
			err = rerr
		}
	}

	n.delegation = nil
	n.meta.UnlockValid()
	n.fs.RemoveDelegation(d)
	n.fs.Metrics().DelegationReturned(d.Type.String())
	n.delegMu.Unlock()

	logger.DebugCtx(ctx, "delegation returned", logger.FileID(n.FileID()), logger.KeyDelegType, d.Type.String())

	st := d.OpenState()
	n.stateMu.Lock()
	if st.Refs() == 1 {
		st.DropIdleOwners()
	}
	last, derr := d.Detach()
	n.stateMu.Unlock()
	if derr != nil {
		logger.ErrorCtx(ctx, "dropping delegation reference failed", logger.FileID(n.FileID()), logger.Err(derr))
		return derr
	}
	if last {
		if cerr := n.closeState(ctx, st); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
