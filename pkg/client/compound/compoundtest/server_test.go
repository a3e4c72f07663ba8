package compoundtest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func send(t *testing.T, s *Server, req *compound.Request) *compound.Reply {
	t.Helper()
	reply, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	return reply
}

func clientID(t *testing.T, s *Server) uint64 {
	t.Helper()
	reply := send(t, s, compound.NewRequest().SetClientID(s.Verifier(), []byte("test")))
	res, err := reply.Interpreter().SetClientID()
	require.NoError(t, err)
	send(t, s, compound.NewRequest().SetClientIDConfirm(res.ClientID, res.Verifier))
	return res.ClientID
}

func openFile(t *testing.T, s *Server, cid uint64, seq uint32, dir, name string) types.Stateid4 {
	t.Helper()
	fh, _, ok := s.Lookup(dir)
	require.True(t, ok)
	reply := send(t, s, compound.NewRequest().PutFH(fh).Open(compound.Open{
		Seqid:       seq,
		ShareAccess: types.OPEN4_SHARE_ACCESS_BOTH,
		Owner:       compound.StateOwner{ClientID: cid, Owner: []byte("owner")},
		Create:      true,
		Claim:       types.CLAIM_NULL,
		Name:        name,
	}))
	in := reply.Interpreter()
	require.NoError(t, in.PutFH())
	res, err := in.Open()
	require.NoError(t, err)
	return res.Stateid
}

func TestLookupAndChangeInfo(t *testing.T) {
	s := New()
	s.MkdirAll("a/b")
	dirFH, _, ok := s.Lookup("a")
	require.True(t, ok)
	before := s.Change("a")

	reply := send(t, s, compound.NewRequest().PutFH(dirFH).Create(types.NF4DIR, "c", "", nil).GetFH())
	in := reply.Interpreter()
	require.NoError(t, in.PutFH())
	ci, err := in.Create()
	require.NoError(t, err)
	assert.Equal(t, types.ChangeInfo{Atomic: true, Before: before, After: before + 1}, ci)
	assert.Equal(t, []string{"b", "c"}, s.Names("a"))

	s.SetAtomic(false)
	reply = send(t, s, compound.NewRequest().PutFH(dirFH).Remove("c"))
	in = reply.Interpreter()
	require.NoError(t, in.PutFH())
	ci, err = in.Remove()
	require.NoError(t, err)
	assert.False(t, ci.Atomic)
}

func TestRehandleExpiresOldHandle(t *testing.T) {
	s := New()
	old := s.MkdirAll("d")
	fresh := s.Rehandle("d")
	assert.NotEqual(t, old, fresh)

	reply := send(t, s, compound.NewRequest().PutFH(old).GetFH())
	assert.Equal(t, uint32(types.NFS4ERR_FHEXPIRED), reply.ProtocolError())

	reply = send(t, s, compound.NewRequest().PutRootFH().LookUp("d").GetFH())
	in := reply.Interpreter()
	require.NoError(t, in.PutRootFH())
	require.NoError(t, in.LookUp())
	fh, err := in.GetFH()
	require.NoError(t, err)
	assert.Equal(t, fresh, fh)
}

func TestOpenSeqidChecking(t *testing.T) {
	s := New()
	cid := clientID(t, s)
	openFile(t, s, cid, 0, "", "f")
	openFile(t, s, cid, 1, "", "f")

	root := s.Root()
	reply := send(t, s, compound.NewRequest().PutFH(root).Open(compound.Open{
		Seqid:       7,
		ShareAccess: types.OPEN4_SHARE_ACCESS_READ,
		Owner:       compound.StateOwner{ClientID: cid, Owner: []byte("owner")},
		Claim:       types.CLAIM_NULL,
		Name:        "f",
	}))
	assert.Equal(t, uint32(types.NFS4ERR_BAD_SEQID), reply.ProtocolError())

	// NOENT still consumes a seqid.
	reply = send(t, s, compound.NewRequest().PutFH(root).Open(compound.Open{
		Seqid:       2,
		ShareAccess: types.OPEN4_SHARE_ACCESS_READ,
		Owner:       compound.StateOwner{ClientID: cid, Owner: []byte("owner")},
		Claim:       types.CLAIM_NULL,
		Name:        "missing",
	}))
	assert.Equal(t, uint32(types.NFS4ERR_NOENT), reply.ProtocolError())
	openFile(t, s, cid, 3, "", "f")
}

func TestLockConflicts(t *testing.T) {
	s := New()
	cid := clientID(t, s)
	open := openFile(t, s, cid, 0, "", "f")
	fh, _, _ := s.Lookup("f")

	lock := func(owner string, seq uint32, typ uint32, off, length uint64) *compound.Reply {
		return send(t, s, compound.NewRequest().PutFH(fh).Lock(compound.Lock{
			Type:         typ,
			Offset:       off,
			Length:       length,
			NewLockOwner: true,
			OpenSeqid:    seq,
			OpenStateid:  open,
			Owner:        compound.StateOwner{ClientID: cid, Owner: []byte(owner)},
		}))
	}

	reply := lock("p1", 1, types.WRITE_LT, 0, 10)
	require.Equal(t, uint32(types.NFS4_OK), reply.ProtocolError())
	assert.Equal(t, 1, s.Locks("f"))

	reply = lock("p2", 2, types.READ_LT, 5, math.MaxUint64)
	require.Equal(t, uint32(types.NFS4ERR_DENIED), reply.ProtocolError())
	in := reply.Interpreter()
	require.NoError(t, in.PutFH())
	_, denied, err := in.Lock()
	require.Error(t, err)
	require.NotNil(t, denied)
	assert.Equal(t, uint64(10), denied.Length)

	reply = lock("p2", 3, types.READ_LT, 10, 5)
	assert.Equal(t, uint32(types.NFS4_OK), reply.ProtocolError())

	reply = send(t, s, compound.NewRequest().PutFH(fh).LockT(compound.LockT{
		Type: types.WRITE_LT, Offset: 12, Length: 1,
		Owner: compound.StateOwner{ClientID: cid, Owner: []byte("p3")},
	}))
	in = reply.Interpreter()
	require.NoError(t, in.PutFH())
	denied, err = in.LockT()
	require.NoError(t, err)
	require.NotNil(t, denied)
	assert.Equal(t, uint32(types.READ_LT), denied.Type)

	reply = send(t, s, compound.NewRequest().PutFH(fh).Close(4, open))
	assert.Equal(t, uint32(types.NFS4ERR_LOCKS_HELD), reply.ProtocolError())
}

func TestSubtractSplitsRanges(t *testing.T) {
	rs := subtract([]lockRange{rangeOf(0, 100, types.WRITE_LT)}, rangeOf(40, 20, types.WRITE_LT))
	assert.Equal(t, []lockRange{
		{offset: 0, end: 40, typ: types.WRITE_LT},
		{offset: 60, end: 100, typ: types.WRITE_LT},
	}, rs)
}

func TestReadDirPaging(t *testing.T) {
	s := New()
	s.MkdirAll("d")
	for _, name := range []string{"a", "b", "c"} {
		s.WriteFile("d/"+name, nil)
	}
	s.SetPageSize(2)
	fh, _, _ := s.Lookup("d")

	readdir := func(cookie uint64) *compound.ReadDirResult {
		reply := send(t, s, compound.NewRequest().PutFH(fh).ReadDir(compound.ReadDir{
			Cookie:     cookie,
			Verifier:   s.Verifier(),
			Attributes: attrs.NewBitmap(attrs.FATTR4_FILEID),
		}))
		in := reply.Interpreter()
		require.NoError(t, in.PutFH())
		res, err := in.ReadDir()
		require.NoError(t, err)
		return res
	}

	first := readdir(0)
	require.Len(t, first.Entries, 2)
	assert.False(t, first.EOF)
	second := readdir(first.Entries[1].Cookie)
	require.Len(t, second.Entries, 1)
	assert.True(t, second.EOF)
	assert.Equal(t, "c", second.Entries[0].Name)
	_, ok := attrs.Find(second.Entries[0].Attrs, attrs.FATTR4_FILEID)
	assert.True(t, ok)
}

func TestInjectionAndHook(t *testing.T) {
	s := New()
	s.Inject(types.OP_GETATTR, types.NFS4ERR_DELAY, 1)

	reply := send(t, s, compound.NewRequest().PutRootFH().GetAttr(attrs.FATTR4_CHANGE))
	assert.Equal(t, uint32(types.NFS4ERR_DELAY), reply.ProtocolError())
	reply = send(t, s, compound.NewRequest().PutRootFH().GetAttr(attrs.FATTR4_CHANGE))
	assert.Equal(t, uint32(types.NFS4_OK), reply.ProtocolError())

	var seen []uint32
	s.SetHook(func(op compound.Op) { seen = append(seen, op.OpCode()) })
	send(t, s, compound.NewRequest().PutRootFH().GetFH())
	assert.Equal(t, []uint32{types.OP_PUTROOTFH, types.OP_GETFH}, seen)

	boom := errors.New("connection reset")
	s.FailNext(boom)
	_, err := s.Send(context.Background(), compound.NewRequest().PutRootFH())
	assert.ErrorIs(t, err, boom)
}

func TestExpireClients(t *testing.T) {
	s := New()
	cid := clientID(t, s)
	open := openFile(t, s, cid, 0, "", "f")
	fh, _, _ := s.Lookup("f")

	s.ExpireClients()
	reply := send(t, s, compound.NewRequest().PutFH(fh).Read(open, 0, 10))
	assert.Equal(t, uint32(types.NFS4ERR_STALE_STATEID), reply.ProtocolError())
	reply = send(t, s, compound.NewRequest().Renew(cid))
	assert.Equal(t, uint32(types.NFS4ERR_STALE_CLIENTID), reply.ProtocolError())
	assert.Zero(t, s.Opens())
}

func TestWriteFileCreatesParents(t *testing.T) {
	s := New()
	s.WriteFile("a/b/f", []byte("x"))
	s.Symlink("c/l", "../a/b/f")

	assert.Equal(t, []string{"a", "c"}, s.Names(""))
	assert.Equal(t, []string{"f"}, s.Names("a/b"))
	assert.Equal(t, []byte("x"), s.Data("a/b/f"))
	assert.Equal(t, []string{"l"}, s.Names("c"))

	// Existing directories are reused.
	s.WriteFile("a/g", nil)
	assert.Equal(t, []string{"b", "g"}, s.Names("a"))

	assert.Panics(t, func() { s.Remove("missing/f") })
}
