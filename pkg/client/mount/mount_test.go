package mount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound/compoundtest"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

func fastRetry() *retry.Policy {
	return retry.NewPolicy(retry.Config{
		MaxAttempts: 4,
		DelayBase:   time.Millisecond,
		DelayMax:    5 * time.Millisecond,
		GraceDelay:  time.Millisecond,
	})
}

func newMount(t *testing.T, srv *compoundtest.Server) *Mount {
	t.Helper()
	m, err := New(context.Background(), srv, Config{
		Server:        "test",
		Retry:         fastRetry(),
		RenewInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Unmount(context.Background()) })
	return m
}

func TestNewLoadsRoot(t *testing.T) {
	srv := compoundtest.New()
	m := newMount(t, srv)

	require.NotNil(t, m.Root())
	assert.Equal(t, node.KindRoot, m.Root().Kind())
	assert.Equal(t, srv.FSID(), m.FsID())
	assert.NotZero(t, m.ClientID())
	assert.Equal(t, 1, srv.Clients())
	assert.Equal(t, 1, m.Inodes())
	assert.Equal(t, uint32(types.FH4_VOLATILE_ANY), m.ExpireType())
}

func TestNewRetriesDelayedClientID(t *testing.T) {
	srv := compoundtest.New()
	srv.Inject(types.OP_SETCLIENTID, types.NFS4ERR_DELAY, 2)

	m := newMount(t, srv)
	assert.NotZero(t, m.ClientID())
	assert.Equal(t, 3, srv.Count(types.OP_SETCLIENTID))
}

func TestNewFailsOnPermanentError(t *testing.T) {
	srv := compoundtest.New()
	srv.Inject(types.OP_SETCLIENTID, types.NFS4ERR_SERVERFAULT, 1)

	_, err := New(context.Background(), srv, Config{Server: "test", Retry: fastRetry(), RenewInterval: -1})
	require.Error(t, err)
	assert.True(t, types.IsStatus(err, types.NFS4ERR_SERVERFAULT))
}

func TestGetInodeSharesNodes(t *testing.T) {
	srv := compoundtest.New()
	srv.WriteFile("a", []byte("data"))
	m := newMount(t, srv)
	ctx := context.Background()

	var wg sync.WaitGroup
	nodes := make([]*node.Inode, 8)
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := m.Root().LookUp(ctx, "a")
			assert.NoError(t, err)
			nodes[i] = n
		}(i)
	}
	wg.Wait()

	for _, n := range nodes[1:] {
		assert.Same(t, nodes[0], n)
	}
	assert.Equal(t, 2, m.Inodes())
}

func TestGetInodeUnknownID(t *testing.T) {
	m := newMount(t, compoundtest.New())

	_, err := m.GetInode(context.Background(), 4242)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestForget(t *testing.T) {
	srv := compoundtest.New()
	srv.WriteFile("a", nil)
	m := newMount(t, srv)
	ctx := context.Background()

	n, err := m.Root().LookUp(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, m.Inodes())

	require.NoError(t, m.Forget(ctx, n.FileID()))
	assert.Equal(t, 1, m.Inodes())

	// The root stays.
	require.NoError(t, m.Forget(ctx, m.Root().FileID()))
	assert.Equal(t, 1, m.Inodes())

	again, err := m.GetInode(ctx, n.FileID())
	require.NoError(t, err)
	assert.NotSame(t, n, again)
}

func TestRemoveNameDropsOrphans(t *testing.T) {
	m := newMount(t, compoundtest.New())
	parent := m.Root().Names()

	link := node.Name{Parent: parent, Name: "x"}
	m.AddName(7, types.InvalidFileHandle, link)
	_, ok := m.lookupNames(7)
	require.True(t, ok)

	m.RemoveName(7, link)
	_, ok = m.lookupNames(7)
	assert.False(t, ok)
}

func TestAllocFileID(t *testing.T) {
	m := newMount(t, compoundtest.New())
	a, b := m.AllocFileID(), m.AllocFileID()
	assert.Greater(t, a, uint64(localFileIDBase))
	assert.Equal(t, a+1, b)
}

func TestUnmountClosesOpenStates(t *testing.T) {
	srv := compoundtest.New()
	m, err := New(context.Background(), srv, Config{Server: "test", Retry: fastRetry(), RenewInterval: -1})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = m.Root().Create(ctx, "f", unix.O_RDWR|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	require.Equal(t, 1, srv.Opens())
	require.Equal(t, 1, m.OpenStates())

	require.NoError(t, m.Unmount(ctx))
	assert.Equal(t, 0, srv.Opens())
	assert.Equal(t, 0, m.OpenStates())
}

func TestRecallDelegationFlushes(t *testing.T) {
	srv := compoundtest.New()
	srv.GrantDelegations(types.OPEN_DELEGATE_WRITE)
	m := newMount(t, srv)
	ctx := context.Background()

	f, c, err := m.Root().Create(ctx, "f", unix.O_RDWR|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	require.True(t, f.HasDelegation())
	require.Equal(t, 1, m.Delegations())

	_, err = f.Write(ctx, c, 0, []byte("delegated"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, c))
	// Writes stay local while the delegation is held.
	assert.Empty(t, srv.Data("f"))
	assert.Equal(t, 1, srv.Opens())

	require.NoError(t, m.RecallDelegation(ctx, f.FileID(), false))
	assert.False(t, f.HasDelegation())
	assert.Equal(t, 0, m.Delegations())
	assert.Equal(t, 0, srv.Delegations())
	assert.Equal(t, 0, srv.Opens())
	assert.Equal(t, []byte("delegated"), srv.Data("f"))
}

func TestRenewRecoversLostState(t *testing.T) {
	srv := compoundtest.New()
	m := newMount(t, srv)
	ctx := context.Background()

	f, c, err := m.Root().Create(ctx, "f", unix.O_RDWR|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	fl := unix.Flock_t{Type: unix.F_WRLCK, Start: 0, Len: 10, Pid: 1}
	require.NoError(t, f.AcquireLock(ctx, c, &fl, false))

	before := m.ClientID()
	srv.ExpireClients()
	require.NoError(t, m.Renew(ctx))

	assert.NotEqual(t, before, m.ClientID())
	assert.Equal(t, m.ClientID(), c.State().ClientID())
	assert.Equal(t, 1, srv.Opens())
	assert.Equal(t, 1, srv.Locks("f"))

	srv.EndGrace()
	_, err = f.Write(ctx, c, 0, []byte("after"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, c))
	assert.Equal(t, []byte("after"), srv.Data("f"))
	assert.Equal(t, 0, srv.Opens())
}

func TestRecoverClientIDOnce(t *testing.T) {
	srv := compoundtest.New()
	m := newMount(t, srv)
	ctx := context.Background()

	failed := m.ClientID()
	srv.ExpireClients()
	srv.ResetLog()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RecoverClientID(ctx, failed))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, srv.Count(types.OP_SETCLIENTID))
	assert.NotEqual(t, failed, m.ClientID())
}

func TestRenewLoop(t *testing.T) {
	srv := compoundtest.New()
	m, err := New(context.Background(), srv, Config{Server: "test", Retry: fastRetry(), RenewInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return srv.Count(types.OP_RENEW) >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Unmount(context.Background()))
}
