package node

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// OpenResult is a file created and opened by CreateFile.
type OpenResult struct {
	State      *state.OpenState
	FileID     uint64
	Handle     types.FileHandle
	ChangeInfo types.ChangeInfo
	Delegation compound.OpenDelegation
}

// shareAccess maps O_ACCMODE to OPEN4_SHARE_ACCESS_*.
func shareAccess(mode int) uint32 {
	switch mode & unix.O_ACCMODE {
	case unix.O_WRONLY:
		return types.OPEN4_SHARE_ACCESS_WRITE
	case unix.O_RDWR:
		return types.OPEN4_SHARE_ACCESS_BOTH
	}
	return types.OPEN4_SHARE_ACCESS_READ
}

func (n *NFS4Inode) stateOwner() compound.StateOwner {
	return compound.StateOwner{ClientID: n.fs.ClientID(), Owner: n.fs.OpenOwner()}
}

// CreateFile creates and opens name in the directory (or in its attribute
// directory when attr is set). O_EXCL fails on an existing file and
// O_TRUNC truncates one.
func (n *NFS4Inode) CreateFile(ctx context.Context, name string, flags int, perm uint32, attr bool) (*OpenResult, error) {
	seq := n.fs.OpenOwnerSequenceLock()
	defer func() { n.fs.OpenOwnerSequenceUnlock(seq) }()

	createMode := uint32(types.UNCHECKED4)
	if flags&unix.O_EXCL != 0 {
		createMode = types.GUARDED4
	}
	var values []attrs.AttrValue
	if flags&unix.O_TRUNC != 0 {
		values = append(values, attrs.Uint64Value(attrs.FATTR4_SIZE, 0))
	}
	values = append(values, attrs.Uint32Value(attrs.FATTR4_MODE, perm))

	var (
		res   OpenResult
		open  *compound.OpenResult
		owner compound.StateOwner
	)
	err := n.do(ctx, &request{
		op: "CreateFile",
		build: func() *compound.Request {
			owner = n.stateOwner()
			return compound.NewRequest().PutFH(n.dirHandle(attr)).
				Open(compound.Open{
					Seqid:       seq,
					ShareAccess: shareAccess(flags),
					ShareDeny:   types.OPEN4_SHARE_DENY_NONE,
					Owner:       owner,
					Create:      true,
					CreateMode:  createMode,
					Attributes:  values,
					Claim:       types.CLAIM_NULL,
					Name:        name,
				}).
				GetFH().
				GetAttr(attrs.FATTR4_FILEID)
		},
		interpret: func(reply *compound.Reply) error {
			advanceIf(reply, types.OP_OPEN, &seq)
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			if open, err = in.Open(); err != nil {
				return err
			}
			if res.Handle, err = in.GetFH(); err != nil {
				return err
			}
			values, err := in.GetAttr()
			if err != nil {
				return err
			}
			res.FileID = n.fileIDOf(values)
			return nil
		},
		seq: &seq,
	})
	if err != nil {
		return nil, err
	}

	st := state.NewOpenState(res.FileID, res.Handle, flags&unix.O_ACCMODE)
	st.SetStateid(open.Stateid)
	st.SetClientID(owner.ClientID)
	if open.Flags&types.OPEN4_RESULT_CONFIRM != 0 {
		if err := n.ConfirmOpen(ctx, st, &seq); err != nil {
			return nil, err
		}
	}
	st.SetOpened(true)

	res.State = st
	res.ChangeInfo = open.ChangeInfo
	res.Delegation = open.Delegation
	return &res, nil
}

// OpenFile opens the existing file n for mode on behalf of st, through the
// first name it was reached by. Opening an already opened st upgrades its
// access.
func (n *NFS4Inode) OpenFile(ctx context.Context, st *state.OpenState, mode int) (compound.OpenDelegation, error) {
	seq := n.fs.OpenOwnerSequenceLock()
	defer func() { n.fs.OpenOwnerSequenceUnlock(seq) }()
	return n.openFile(ctx, st, mode, &seq)
}

func (n *NFS4Inode) openFile(ctx context.Context, st *state.OpenState, mode int, seq *uint32) (compound.OpenDelegation, error) {
	link, ok := n.names.First()
	if !ok || link.Parent == nil {
		return compound.OpenDelegation{}, fmt.Errorf("open file %d: no recorded name: %w", n.FileID(), unix.ENOENT)
	}
	parent := func() types.FileHandle {
		if link.Attr {
			return link.Parent.AttrDir()
		}
		return link.Parent.Handle()
	}

	var verify []attrs.AttrValue
	switch {
	case n.fs.IsAttrSupported(attrs.FATTR4_FILEID):
		verify = []attrs.AttrValue{attrs.Uint64Value(attrs.FATTR4_FILEID, n.FileID())}
	case n.fs.ExpireType() == types.FH4_PERSISTENT:
		verify = []attrs.AttrValue{attrs.HandleValue(n.Handle())}
	}

	var (
		open  *compound.OpenResult
		fh    types.FileHandle
		owner compound.StateOwner
	)
	err := n.do(ctx, &request{
		op: "OpenFile",
		build: func() *compound.Request {
			owner = n.stateOwner()
			req := compound.NewRequest()
			if verify != nil {
				req.PutFH(parent()).LookUp(link.Name).Verify(verify...)
			}
			return req.PutFH(parent()).
				Open(compound.Open{
					Seqid:       *seq,
					ShareAccess: shareAccess(mode),
					ShareDeny:   types.OPEN4_SHARE_DENY_NONE,
					Owner:       owner,
					Claim:       types.CLAIM_NULL,
					Name:        link.Name,
				}).
				GetFH()
		},
		interpret: func(reply *compound.Reply) error {
			advanceIf(reply, types.OP_OPEN, seq)
			in := reply.Interpreter()
			if verify != nil {
				if err := in.PutFH(); err != nil {
					return err
				}
				if err := in.LookUp(); err != nil {
					return err
				}
				if err := in.Verify(); err != nil {
					if types.IsStatus(err, types.NFS4ERR_NOT_SAME) {
						return fmt.Errorf("%q no longer names file %d: %w", link.Name, n.FileID(), unix.ENOENT)
					}
					return err
				}
			}
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			if open, err = in.Open(); err != nil {
				return err
			}
			fh, err = in.GetFH()
			return err
		},
		seq: seq,
	})
	if err != nil {
		return compound.OpenDelegation{}, err
	}

	st.SetHandle(fh)
	st.SetStateid(open.Stateid)
	st.SetClientID(owner.ClientID)
	if open.Flags&types.OPEN4_RESULT_CONFIRM != 0 {
		if err := n.ConfirmOpen(ctx, st, seq); err != nil {
			return compound.OpenDelegation{}, err
		}
	}
	st.SetOpened(true)
	return open.Delegation, nil
}

// ConfirmOpen sends OPEN_CONFIRM for st. The caller holds the sequence
// lock and passes its seqid.
func (n *NFS4Inode) ConfirmOpen(ctx context.Context, st *state.OpenState, seq *uint32) error {
	return n.do(ctx, &request{
		op: "ConfirmOpen",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(st.Handle()).OpenConfirm(st.Stateid(), *seq)
		},
		interpret: func(reply *compound.Reply) error {
			advanceIf(reply, types.OP_OPEN_CONFIRM, seq)
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			sid, err := in.OpenConfirm()
			if err != nil {
				return err
			}
			st.SetStateid(sid)
			return nil
		},
		seq: seq,
	})
}

// stateGone matches statuses meaning the server no longer holds the state
// being given back.
var stateGone = isStatus(types.NFS4ERR_STALE_STATEID, types.NFS4ERR_BAD_STATEID, types.NFS4ERR_EXPIRED)

// CloseFile closes st on the server. State the server already forgot
// counts as closed.
func (n *NFS4Inode) CloseFile(ctx context.Context, st *state.OpenState) error {
	seq := n.fs.OpenOwnerSequenceLock()
	defer func() { n.fs.OpenOwnerSequenceUnlock(seq) }()

	err := n.do(ctx, &request{
		op: "CloseFile",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(st.Handle()).Close(seq, st.Stateid())
		},
		interpret: func(reply *compound.Reply) error {
			advanceIf(reply, types.OP_CLOSE, &seq)
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			sid, err := in.Close()
			if err != nil {
				return err
			}
			st.SetStateid(sid)
			return nil
		},
		seq:   &seq,
		final: stateGone,
	})
	if err != nil && !stateGone(types.StatusOf(err)) {
		return err
	}
	st.SetOpened(false)
	return nil
}

// DelegReturn gives d back to the server.
func (n *NFS4Inode) DelegReturn(ctx context.Context, d *state.Delegation) error {
	err := n.do(ctx, &request{
		op: "DelegReturn",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(d.OpenState().Handle()).DelegReturn(d.Stateid)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			return in.DelegReturn()
		},
		final: stateGone,
	})
	if err != nil && !stateGone(types.StatusOf(err)) {
		return err
	}
	return nil
}
