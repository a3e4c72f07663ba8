package mount

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

// establishClientID runs SETCLIENTID and SETCLIENTID_CONFIRM, retrying the
// statuses the retry policy treats as transient.
func (m *Mount) establishClientID(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		id, err := m.setClientID(ctx)
		if err == nil {
			m.clientID.Store(id)
			logger.DebugCtx(ctx, "client id established", logger.ClientID(id))
			return nil
		}

		var nerr *types.NFS4Error
		if !errors.As(err, &nerr) {
			return err
		}
		d := m.cfg.Retry.Decide(nerr.Status, attempt)
		if d.Action != retry.Retry {
			return err
		}
		logger.DebugCtx(ctx, "retrying SETCLIENTID", logger.Status(nerr.Status), logger.Attempt(attempt))
		if err := retry.Sleep(ctx, d.Wait); err != nil {
			return err
		}
	}
}

func (m *Mount) setClientID(ctx context.Context) (uint64, error) {
	reply, err := m.transport.Send(ctx, compound.NewRequest().SetClientID(m.verifier, m.clientStr))
	if err != nil {
		return 0, err
	}
	res, err := reply.Interpreter().SetClientID()
	if err != nil {
		return 0, err
	}

	reply, err = m.transport.Send(ctx, compound.NewRequest().SetClientIDConfirm(res.ClientID, res.Verifier))
	if err != nil {
		return 0, err
	}
	if err := reply.Interpreter().SetClientIDConfirm(); err != nil {
		return 0, err
	}
	return res.ClientID, nil
}

// RecoverClientID establishes a new client id unless another caller
// already replaced failed.
func (m *Mount) RecoverClientID(ctx context.Context, failed uint64) error {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.clientID.Load() != failed {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecoverClientID)
	defer span.End()

	if err := m.establishClientID(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "client id recovery failed", logger.ClientID(failed), logger.Err(err))
		return fmt.Errorf("recover client id: %w", err)
	}
	logger.InfoCtx(ctx, "client id recovered", logger.ClientID(failed), "new_client_id", m.clientID.Load())
	return nil
}

// RecoverOpenState replaces the client id the open states were registered
// under and reclaims every state not yet carried over to the current one.
// Concurrent callers reclaim once.
func (m *Mount) RecoverOpenState(ctx context.Context, failed uint64) error {
	if err := m.RecoverClientID(ctx, failed); err != nil {
		return err
	}

	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()

	current := m.ClientID()
	m.statesMu.Lock()
	pending := make([]reclaim, 0, len(m.states))
	for st, n := range m.states {
		if st.ClientID() != current {
			pending = append(pending, reclaim{st: st, node: n})
		}
	}
	m.statesMu.Unlock()

	var errs []error
	for _, r := range pending {
		if err := r.node.ReclaimOpenState(ctx, r.st); err != nil {
			logger.WarnCtx(ctx, "open state reclaim failed", logger.FileID(r.node.FileID()), logger.Err(err))
			errs = append(errs, err)
		}
	}
	if len(pending) > 0 {
		logger.InfoCtx(ctx, "open states reclaimed",
			logger.ClientID(current), "states", len(pending), "failed", len(errs))
	}
	return errors.Join(errs...)
}
