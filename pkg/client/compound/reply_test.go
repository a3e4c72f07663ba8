package compound

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRequestBuilder(t *testing.T) {
	fh := types.MustFileHandle([]byte{1})
	req := NewRequest().PutFH(fh).LookUp("a").GetFH().GetAttr(attrs.FATTR4_FILEID, attrs.FATTR4_FSID)

	require.Equal(t, 4, req.Len())
	assert.Equal(t, "PUTFH,LOOKUP,GETFH,GETATTR", req.String())
	assert.Equal(t, PutFH{Handle: fh}, req.Ops()[0])

	ga, ok := req.Ops()[3].(GetAttr)
	require.True(t, ok)
	assert.True(t, ga.Attributes.IsSet(attrs.FATTR4_FSID))
}

func TestInterpreterInOrder(t *testing.T) {
	fh := types.MustFileHandle([]byte{7, 7})
	reply := &Reply{
		Status: types.NFS4_OK,
		Results: []Result{
			{Op: types.OP_PUTFH},
			{Op: types.OP_LOOKUP},
			{Op: types.OP_GETFH, Value: &GetFHResult{Handle: fh}},
			{Op: types.OP_GETATTR, Value: &GetAttrResult{Values: []attrs.AttrValue{attrs.Uint64Value(attrs.FATTR4_FILEID, 3)}}},
		},
	}

	in := reply.Interpreter()
	require.NoError(t, in.PutFH())
	require.NoError(t, in.LookUp())
	got, err := in.GetFH()
	require.NoError(t, err)
	assert.Equal(t, fh, got)
	values, err := in.GetAttr()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), values[0].Uint64)
}

func TestInterpreterStopsAtFailure(t *testing.T) {
	reply := &Reply{
		Status: types.NFS4ERR_NOENT,
		Results: []Result{
			{Op: types.OP_PUTFH},
			{Op: types.OP_LOOKUP, Status: types.NFS4ERR_NOENT},
		},
	}

	in := reply.Interpreter()
	require.NoError(t, in.PutFH())
	err := in.LookUp()
	assert.True(t, errors.Is(err, unix.ENOENT))

	_, err = in.GetFH()
	assert.True(t, types.IsStatus(err, types.NFS4ERR_NOENT), "ops after the failure report the compound status")
}

func TestInterpreterMismatch(t *testing.T) {
	reply := &Reply{Results: []Result{{Op: types.OP_SAVEFH}}}
	err := reply.Interpreter().PutFH()
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}

func TestInterpreterLockDenied(t *testing.T) {
	denied := &LockDenied{Offset: 10, Length: 5, Type: types.WRITE_LT}
	reply := &Reply{
		Status: types.NFS4ERR_DENIED,
		Results: []Result{
			{Op: types.OP_LOCKT, Status: types.NFS4ERR_DENIED, Value: denied},
		},
	}
	conflict, err := reply.Interpreter().LockT()
	require.NoError(t, err)
	assert.Equal(t, denied, conflict)

	reply = &Reply{
		Status:  types.NFS4ERR_DENIED,
		Results: []Result{{Op: types.OP_LOCK, Status: types.NFS4ERR_DENIED, Value: denied}},
	}
	_, conflict, err = reply.Interpreter().Lock()
	assert.True(t, types.IsStatus(err, types.NFS4ERR_DENIED))
	assert.Equal(t, denied, conflict)

	reply = &Reply{Results: []Result{{Op: types.OP_LOCKT}}}
	conflict, err = reply.Interpreter().LockT()
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestTransportFunc(t *testing.T) {
	var seen *Request
	tr := TransportFunc(func(_ context.Context, req *Request) (*Reply, error) {
		seen = req
		return &Reply{}, nil
	})
	req := NewRequest().PutRootFH()
	_, err := tr.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req, seen)
}
