package node

import (
	"context"
	"time"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/retry"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// request is one node operation driven through the build, send, interpret
// and classify loop.
type request struct {
	op string

	// build is called once per attempt so that handles, stateids and
	// seqids refreshed by recovery are picked up.
	build func() *compound.Request

	// interpret decodes the reply. It runs for failed replies too and must
	// advance any seqid the reply consumed before decoding.
	interpret func(reply *compound.Reply) error

	// owner, when set, is held from build to the end of interpret.
	owner *state.LockOwner

	// state is the open state the request depends on. Open state
	// recovery is only possible when it is set.
	state *state.OpenState

	// seq points at the open-owner seqid of a caller holding the
	// sequence lock. Recovery releases and retakes the lock through it.
	seq *uint32

	// final reports statuses the caller handles itself.
	final func(status uint32) bool

	// others are further nodes whose handles the compound uses.
	others []*NFS4Inode
}

// outcome is the protocol result of one attempt.
type outcome struct {
	status uint32
	err    error
}

// do runs r until it succeeds, fails with a status the retry policy does
// not retry, or the transport fails.
func (n *NFS4Inode) do(ctx context.Context, r *request) (err error) {
	ctx, span := telemetry.StartOperation(ctx, r.op, n.FileID(),
		telemetry.Server(n.fs.Server()), telemetry.Handle(n.Handle().Bytes()))
	ctx = logger.WithContext(ctx, logger.NewLogContext(n.fs.Server()).
		WithOperation(r.op, n.FileID()).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))
	start := time.Now()

	attempt := 0
	status := uint32(types.NFS4_OK)
	defer func() {
		telemetry.SetAttributes(ctx, telemetry.Attempts(attempt+1), telemetry.Status(status))
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		n.fs.Metrics().ObserveOperation(r.op, statusLabel(status, err), time.Since(start))
		span.End()
	}()

	for ; ; attempt++ {
		clientID := n.fs.ClientID()

		res, err := n.roundTrip(ctx, r)
		if err != nil {
			return err
		}
		status = res.status
		if status == types.NFS4_OK || (r.final != nil && r.final(status)) {
			return res.err
		}

		again, err := n.handleErrors(ctx, r, status, attempt, clientID)
		if err != nil {
			return err
		}
		if !again {
			if res.err != nil {
				return res.err
			}
			return types.NewError(status, 0)
		}
	}
}

// roundTrip sends one attempt. The owner lock, when required, is released
// before the caller classifies the result.
func (n *NFS4Inode) roundTrip(ctx context.Context, r *request) (outcome, error) {
	if r.owner != nil {
		r.owner.Lock()
		defer r.owner.Unlock()
	}

	reply, err := n.fs.Transport().Send(ctx, r.build())
	if err != nil {
		return outcome{}, err
	}
	if k := len(reply.Results); reply.Status != types.NFS4_OK && k > 0 {
		logger.DebugCtx(ctx, "compound failed",
			logger.Op(types.OpName(reply.Results[k-1].Op)), logger.Status(reply.Status))
	}
	return outcome{status: reply.Status, err: r.interpret(reply)}, nil
}

// handleErrors consults the retry policy for status and runs the recovery
// it asks for. It reports whether the request should be sent again.
func (n *NFS4Inode) handleErrors(ctx context.Context, r *request, status uint32, attempt int, clientID uint64) (bool, error) {
	d := n.fs.RetryPolicy().Decide(status, attempt)
	if d.Action == retry.Fail {
		logger.DebugCtx(ctx, "operation failed", logger.Status(status), logger.Attempt(attempt),
			logger.DurationMs(logger.FromContext(ctx).DurationMs()))
		return false, nil
	}
	n.fs.Metrics().RecordRetry(r.op, types.StatusName(status), d.Action.String())

	if d.Action == retry.Retry {
		logger.DebugCtx(ctx, "retrying operation",
			logger.Status(status), logger.Attempt(attempt), logger.KeyWait, d.Wait)
		// Other sequenced operations may run while this one backs off.
		if r.seq != nil {
			n.fs.OpenOwnerSequenceUnlock(*r.seq)
		}
		err := retry.Sleep(ctx, d.Wait)
		if r.seq != nil {
			*r.seq = n.fs.OpenOwnerSequenceLock()
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	logger.InfoCtx(ctx, "recovering before retry",
		logger.Status(status), logger.KeyRecovery, d.Recovery.String())

	var err error
	switch d.Recovery {
	case retry.RecoverFileHandle:
		err = n.recoverFileHandles(ctx, r)
	case retry.RecoverClientID:
		err = n.fs.RecoverClientID(ctx, clientID)
	case retry.RecoverOpenState:
		err = n.recoverOpenState(ctx, r)
	}
	if err != nil {
		logger.WarnCtx(ctx, "recovery failed",
			logger.KeyRecovery, d.Recovery.String(), logger.Err(err))
		return false, nil
	}
	return true, nil
}

func (n *NFS4Inode) recoverFileHandles(ctx context.Context, r *request) error {
	for _, node := range append([]*NFS4Inode{n}, r.others...) {
		old := node.Handle()
		if err := node.updateFileHandles(ctx); err != nil {
			return err
		}
		if r.state != nil && r.state.Handle() == old {
			r.state.SetHandle(node.Handle())
		}
	}
	return nil
}

// recoverOpenState lets the mount reclaim every open state. The sequence
// lock is given up meanwhile because reclaiming needs it.
func (n *NFS4Inode) recoverOpenState(ctx context.Context, r *request) error {
	if r.state == nil {
		return types.NewError(types.NFS4ERR_BAD_STATEID, 0)
	}
	if r.seq != nil {
		n.fs.OpenOwnerSequenceUnlock(*r.seq)
	}
	err := n.fs.RecoverOpenState(ctx, r.state.ClientID())
	if r.seq != nil {
		*r.seq = n.fs.OpenOwnerSequenceLock()
	}
	return err
}

// advanceIf bumps *seq when the reply evaluated op with a status that
// consumes an owner seqid.
func advanceIf(reply *compound.Reply, op uint32, seq *uint32) {
	if res, ok := reply.Result(op); ok && types.IncrementsSequence(res.Status) {
		*seq++
	}
}

func statusLabel(status uint32, err error) string {
	switch {
	case err == nil:
		return types.StatusName(types.NFS4_OK)
	case status != types.NFS4_OK:
		return types.StatusName(status)
	}
	return "error"
}

func isStatus(statuses ...uint32) func(uint32) bool {
	return func(status uint32) bool {
		for _, s := range statuses {
			if s == status {
				return true
			}
		}
		return false
	}
}
