package mount

import (
	"context"
	"time"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
)

func (m *Mount) renewInterval() time.Duration {
	if m.cfg.RenewInterval != 0 {
		return m.cfg.RenewInterval
	}
	if m.lease <= 0 {
		return 30 * time.Second
	}
	return m.lease / 3
}

func (m *Mount) startRenew() {
	interval := m.renewInterval()
	if interval < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stopRenew = cancel
	m.renewDone = make(chan struct{})

	go func() {
		defer close(m.renewDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Renew(ctx); err != nil && ctx.Err() == nil {
					logger.WarnCtx(ctx, "lease renewal failed", logger.KeyServer, m.cfg.Server, logger.Err(err))
				}
			}
		}
	}()
}

// Renew refreshes the lease. A server that no longer knows the client id
// triggers open state recovery.
func (m *Mount) Renew(ctx context.Context) error {
	id := m.ClientID()
	reply, err := m.transport.Send(ctx, compound.NewRequest().Renew(id))
	if err != nil {
		return err
	}
	err = reply.Interpreter().Renew()
	switch types.StatusOf(err) {
	case types.NFS4_OK:
		return nil
	case types.NFS4ERR_STALE_CLIENTID, types.NFS4ERR_EXPIRED:
		logger.InfoCtx(ctx, "lease lost, recovering", logger.ClientID(id), logger.Err(err))
		return m.RecoverOpenState(ctx, id)
	}
	return err
}
