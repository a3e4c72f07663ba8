package retry

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideClassification(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		status   uint32
		action   Action
		recovery Recovery
	}{
		{"Delay", types.NFS4ERR_DELAY, Retry, RecoverNone},
		{"Grace", types.NFS4ERR_GRACE, Retry, RecoverNone},
		{"ExpiredHandle", types.NFS4ERR_FHEXPIRED, RecoverThenRetry, RecoverFileHandle},
		{"Stale", types.NFS4ERR_STALE, RecoverThenRetry, RecoverFileHandle},
		{"StaleClient", types.NFS4ERR_STALE_CLIENTID, RecoverThenRetry, RecoverClientID},
		{"Expired", types.NFS4ERR_EXPIRED, RecoverThenRetry, RecoverOpenState},
		{"BadSeqid", types.NFS4ERR_BAD_SEQID, Fail, RecoverNone},
		{"NotFound", types.NFS4ERR_NOENT, Fail, RecoverNone},
		{"OK", types.NFS4_OK, Fail, RecoverNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.status, 0)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.recovery, d.Recovery)
		})
	}
}

func TestDecideIsBounded(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, DelayBase: time.Millisecond, DelayMax: time.Millisecond})

	assert.Equal(t, Retry, p.Decide(types.NFS4ERR_DELAY, 0).Action)
	assert.Equal(t, Retry, p.Decide(types.NFS4ERR_DELAY, 1).Action)
	assert.Equal(t, Fail, p.Decide(types.NFS4ERR_DELAY, 2).Action)
	assert.Equal(t, Fail, p.Decide(types.NFS4ERR_FHEXPIRED, 2).Action)

	// Blocking lock polling is only stopped by the context.
	assert.Equal(t, Retry, p.Decide(types.NFS4ERR_DENIED, 100).Action)
}

func TestBackoff(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 20, DelayBase: 10 * time.Millisecond, DelayMax: 50 * time.Millisecond, GraceDelay: time.Second})

	assert.Equal(t, 10*time.Millisecond, p.Decide(types.NFS4ERR_DELAY, 0).Wait)
	assert.Equal(t, 20*time.Millisecond, p.Decide(types.NFS4ERR_DELAY, 1).Wait)
	assert.Equal(t, 40*time.Millisecond, p.Decide(types.NFS4ERR_DELAY, 2).Wait)
	assert.Equal(t, 50*time.Millisecond, p.Decide(types.NFS4ERR_DELAY, 3).Wait)
	assert.Equal(t, 50*time.Millisecond, p.Decide(types.NFS4ERR_DELAY, 15).Wait)
	assert.Equal(t, time.Second, p.Decide(types.NFS4ERR_GRACE, 0).Wait)
	assert.Zero(t, p.Decide(types.NFS4ERR_STALE_CLIENTID, 0).Wait)
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(Config{})
	assert.Equal(t, DefaultConfig(), p.Config())
}

func TestWithRuleCopies(t *testing.T) {
	base := DefaultPolicy()
	custom := base.WithRule(types.NFS4ERR_BAD_SEQID, Rule{Action: Retry, Backoff: BackoffNone})

	assert.Equal(t, Fail, base.Decide(types.NFS4ERR_BAD_SEQID, 0).Action)
	d := custom.Decide(types.NFS4ERR_BAD_SEQID, 0)
	assert.Equal(t, Retry, d.Action)
	assert.Zero(t, d.Wait)
}

func TestTableSorted(t *testing.T) {
	table := DefaultPolicy().Table()
	require.NotEmpty(t, table)
	for i := 1; i < len(table); i++ {
		assert.Less(t, table[i-1].Status, table[i].Status)
	}
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "recover", RecoverThenRetry.String())
	assert.Equal(t, "open_state", RecoverOpenState.String())
	assert.Equal(t, "grace", BackoffGrace.String())
}
