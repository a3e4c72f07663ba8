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

// NFS4Inode issues the remote operations of one node. It holds no caches;
// Inode composes it with them.
type NFS4Inode struct {
	fs    FileSystem
	names *FileNames
}

func (n *NFS4Inode) FileID() uint64 { return n.names.FileID() }

// Handle returns the node's current file handle.
func (n *NFS4Inode) Handle() types.FileHandle { return n.names.Handle() }

// Names returns the node's identity record.
func (n *NFS4Inode) Names() *FileNames { return n.names }

// dirHandle selects the directory an entry operation runs in: the node
// itself or its named-attribute directory.
func (n *NFS4Inode) dirHandle(attr bool) types.FileHandle {
	if attr {
		return n.names.AttrDir()
	}
	return n.Handle()
}

// LookUpResult is a resolved directory entry. Change is the directory's
// change attribute observed just before the lookup.
type LookUpResult struct {
	FileID uint64
	Handle types.FileHandle
	Change uint64
}

// LookUp resolves name in the directory (or in the attribute directory
// when attr is set). ".." resolves the parent.
func (n *NFS4Inode) LookUp(ctx context.Context, name string, attr bool) (LookUpResult, error) {
	var res LookUpResult
	err := n.do(ctx, &request{
		op: "LookUp",
		build: func() *compound.Request {
			req := compound.NewRequest().PutFH(n.dirHandle(attr)).GetAttr(attrs.FATTR4_CHANGE)
			if name == ".." {
				req.LookUpUp()
			} else {
				req.LookUp(name)
			}
			return req.GetFH().GetAttr(attrs.FATTR4_FSID, attrs.FATTR4_FILEID)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			dir, err := in.GetAttr()
			if err != nil {
				return err
			}
			res.Change = uint64Attr(dir, attrs.FATTR4_CHANGE)
			if name == ".." {
				err = in.LookUpUp()
			} else {
				err = in.LookUp()
			}
			if err != nil {
				return err
			}
			if res.Handle, err = in.GetFH(); err != nil {
				return err
			}
			values, err := in.GetAttr()
			if err != nil {
				return err
			}
			if err := n.checkFSID(values); err != nil {
				return fmt.Errorf("look up %q: %w", name, err)
			}
			res.FileID = n.fileIDOf(values)
			return nil
		},
	})
	return res, err
}

// ManualLookUpUp resolves the parent of a non-directory through its only
// recorded name.
func (n *NFS4Inode) ManualLookUpUp(ctx context.Context) (LookUpResult, error) {
	names := n.names.Names()
	switch {
	case len(names) == 0 || names[0].Parent == nil:
		return LookUpResult{}, fmt.Errorf("file %d has no recorded parent: %w", n.FileID(), unix.ENOENT)
	case len(names) > 1:
		return LookUpResult{}, fmt.Errorf("file %d has %d parents: %w", n.FileID(), len(names), unix.ENOTSUP)
	}
	parent := names[0].Parent

	var res LookUpResult
	err := n.do(ctx, &request{
		op: "ManualLookUpUp",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(parent.Handle()).
				GetAttr(attrs.FATTR4_FSID, attrs.FATTR4_FILEID).
				LookUp(names[0].Name)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			values, err := in.GetAttr()
			if err != nil {
				return err
			}
			if err := in.LookUp(); err != nil {
				return err
			}
			if err := n.checkFSID(values); err != nil {
				return err
			}
			res.FileID = n.fileIDOf(values)
			res.Handle = parent.Handle()
			return nil
		},
	})
	return res, err
}

// GetChangeInfo returns the node's change attribute.
func (n *NFS4Inode) GetChangeInfo(ctx context.Context) (uint64, error) {
	values, err := n.getAttrs(ctx, "GetChangeInfo", attrs.FATTR4_CHANGE)
	if err != nil {
		return 0, err
	}
	return uint64Attr(values, attrs.FATTR4_CHANGE), nil
}

func (n *NFS4Inode) getAttrs(ctx context.Context, op string, list ...uint32) ([]attrs.AttrValue, error) {
	var values []attrs.AttrValue
	err := n.do(ctx, &request{
		op: op,
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).GetAttr(list...)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			values, err = in.GetAttr()
			return err
		},
	})
	return values, err
}

func (n *NFS4Inode) ReadLink(ctx context.Context) (string, error) {
	var link string
	err := n.do(ctx, &request{
		op: "ReadLink",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).ReadLink()
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			link, err = in.ReadLink()
			return err
		},
	})
	return link, err
}

// CreateResult describes an object created in a directory.
type CreateResult struct {
	FileID     uint64
	Handle     types.FileHandle
	ChangeInfo types.ChangeInfo
}

// CreateObject creates a directory (NF4DIR) or symbolic link (NF4LNK)
// named name. link is the symlink target.
func (n *NFS4Inode) CreateObject(ctx context.Context, name string, typ, mode uint32, link string) (CreateResult, error) {
	if typ != types.NF4DIR && typ != types.NF4LNK {
		return CreateResult{}, fmt.Errorf("create object of type %d: %w", typ, unix.EINVAL)
	}

	var res CreateResult
	err := n.do(ctx, &request{
		op: "CreateObject",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).
				Create(typ, name, link, []attrs.AttrValue{attrs.Uint32Value(attrs.FATTR4_MODE, mode)}).
				GetFH().
				GetAttr(attrs.FATTR4_FILEID)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			if res.ChangeInfo, err = in.Create(); err != nil {
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
	})
	return res, err
}

// RemoveResult describes a removed entry. FileID is zero for named
// attributes.
type RemoveResult struct {
	FileID     uint64
	ChangeInfo types.ChangeInfo
}

// RemoveObject removes name after checking that it is a directory exactly
// when isDir is set.
func (n *NFS4Inode) RemoveObject(ctx context.Context, name string, isDir, attr bool) (RemoveResult, error) {
	dirType := attrs.Uint32Value(attrs.FATTR4_TYPE, types.NF4DIR)

	var res RemoveResult
	err := n.do(ctx, &request{
		op: "RemoveObject",
		build: func() *compound.Request {
			dir := n.dirHandle(attr)
			req := compound.NewRequest().PutFH(dir).LookUp(name)
			if isDir {
				req.Verify(dirType)
			} else {
				req.NVerify(dirType)
			}
			if !attr {
				req.GetAttr(attrs.FATTR4_FILEID)
			}
			return req.PutFH(dir).Remove(name)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			if err := in.LookUp(); err != nil {
				return err
			}
			if isDir {
				if err := in.Verify(); err != nil {
					if types.IsStatus(err, types.NFS4ERR_NOT_SAME) {
						return fmt.Errorf("remove %q: %w", name, unix.ENOTDIR)
					}
					return err
				}
			} else if err := in.NVerify(); err != nil {
				if types.IsStatus(err, types.NFS4ERR_SAME) {
					return fmt.Errorf("remove %q: %w", name, unix.EISDIR)
				}
				return err
			}
			if !attr {
				values, err := in.GetAttr()
				if err != nil {
					return err
				}
				res.FileID = n.fileIDOf(values)
			}
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			res.ChangeInfo, err = in.Remove()
			return err
		},
	})
	return res, err
}

// RenameResult holds the change info of both directories and the id of
// the renamed object (zero for named attributes).
type RenameResult struct {
	From   types.ChangeInfo
	To     types.ChangeInfo
	FileID uint64
}

// RenameNode moves fromName in n to toName in to. With attr set both names
// are named attributes of n and to must be n.
func (n *NFS4Inode) RenameNode(ctx context.Context, fromName string, to *NFS4Inode, toName string, attr bool) (RenameResult, error) {
	var others []*NFS4Inode
	if to != n {
		others = append(others, to)
	}

	var res RenameResult
	err := n.do(ctx, &request{
		op: "RenameNode",
		build: func() *compound.Request {
			req := compound.NewRequest().
				PutFH(n.dirHandle(attr)).SaveFH().
				PutFH(to.dirHandle(attr)).Rename(fromName, toName)
			if !attr {
				req.LookUp(toName).GetAttr(attrs.FATTR4_FILEID)
			}
			return req
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			if err := in.SaveFH(); err != nil {
				return err
			}
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			if res.From, res.To, err = in.Rename(); err != nil {
				return err
			}
			if attr {
				return nil
			}
			if err := in.LookUp(); err != nil {
				return err
			}
			values, err := in.GetAttr()
			if err != nil {
				return err
			}
			res.FileID = n.fileIDOf(values)
			return nil
		},
		others: others,
	})
	return res, err
}

// Link adds a hard link to n named name in dir.
func (n *NFS4Inode) Link(ctx context.Context, dir *NFS4Inode, name string) (types.ChangeInfo, error) {
	var ci types.ChangeInfo
	err := n.do(ctx, &request{
		op: "Link",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).SaveFH().PutFH(dir.Handle()).Link(name)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			if err := in.SaveFH(); err != nil {
				return err
			}
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			ci, err = in.Link()
			return err
		},
		others: []*NFS4Inode{dir},
	})
	return ci, err
}

// ReadDirCursor carries a listing across ReadDirOnce calls. Change is
// established by the first call, which sets Known.
type ReadDirCursor struct {
	Change   uint64
	Known    bool
	Cookie   uint64
	Verifier [types.NFS4_VERIFIER_SIZE]byte
}

// DirEntry is one listed entry. Handle is invalid when the server did not
// return it.
type DirEntry struct {
	Name   string
	FileID uint64
	Handle types.FileHandle
	Cookie uint64
}

// ReadDirOnce reads one page of the directory after cursor. The change
// attribute is read before and after the page; both must equal each other
// and the cursor's known value, otherwise ErrDirectoryChanged is returned
// and the listing must be restarted.
func (n *NFS4Inode) ReadDirOnce(ctx context.Context, cursor *ReadDirCursor, attr bool) ([]DirEntry, bool, error) {
	want := attrs.NewBitmap(attrs.FATTR4_FSID, attrs.FATTR4_FILEID)
	if n.fs.IsAttrSupported(attrs.FATTR4_FILEHANDLE) {
		want.Set(attrs.FATTR4_FILEHANDLE)
	}
	maxCount := uint32(n.fs.Options().IOSize)

	var (
		entries []DirEntry
		eof     bool
	)
	err := n.do(ctx, &request{
		op: "ReadDirOnce",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.dirHandle(attr)).
				GetAttr(attrs.FATTR4_CHANGE).
				ReadDir(compound.ReadDir{
					Cookie:     cursor.Cookie,
					Verifier:   cursor.Verifier,
					DirCount:   maxCount,
					MaxCount:   maxCount,
					Attributes: want,
				}).
				GetAttr(attrs.FATTR4_CHANGE)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			pre, err := in.GetAttr()
			if err != nil {
				return err
			}
			page, err := in.ReadDir()
			if err != nil {
				return err
			}
			post, err := in.GetAttr()
			if err != nil {
				return err
			}

			before := uint64Attr(pre, attrs.FATTR4_CHANGE)
			after := uint64Attr(post, attrs.FATTR4_CHANGE)
			if before != after || (cursor.Known && before != cursor.Change) {
				return fmt.Errorf("%w: change %d, observed %d and %d",
					ErrDirectoryChanged, cursor.Change, before, after)
			}
			cursor.Change, cursor.Known = before, true
			cursor.Verifier = page.Verifier

			entries = entries[:0]
			for _, e := range page.Entries {
				cursor.Cookie = e.Cookie
				if n.checkFSID(e.Attrs) != nil {
					continue
				}
				entry := DirEntry{Name: e.Name, FileID: n.fileIDOf(e.Attrs), Cookie: e.Cookie}
				if v, ok := attrs.Find(e.Attrs, attrs.FATTR4_FILEHANDLE); ok {
					entry.Handle = v.Handle
				}
				entries = append(entries, entry)
			}
			eof = page.EOF
			return nil
		},
	})
	return entries, eof, err
}

// OpenAttrDir loads the named-attribute directory handle, creating the
// directory when create is set.
func (n *NFS4Inode) OpenAttrDir(ctx context.Context, create bool) (types.FileHandle, error) {
	var fh types.FileHandle
	err := n.do(ctx, &request{
		op: "OpenAttrDir",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).OpenAttr(create).GetFH()
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			if err := in.OpenAttr(); err != nil {
				return err
			}
			var err error
			fh, err = in.GetFH()
			return err
		},
	})
	if err != nil {
		return types.InvalidFileHandle, err
	}
	n.names.SetAttrDir(fh)
	return fh, nil
}

// Access returns the subset of mask the server allows.
func (n *NFS4Inode) Access(ctx context.Context, mask uint32) (uint32, error) {
	var allowed uint32
	err := n.do(ctx, &request{
		op: "Access",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).Access(mask)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			var err error
			_, allowed, err = in.Access()
			return err
		},
	})
	return allowed, err
}

// WriteStat applies values with SETATTR, under st's stateid when st is
// set.
func (n *NFS4Inode) WriteStat(ctx context.Context, st *state.OpenState, values []attrs.AttrValue) error {
	return n.do(ctx, &request{
		op: "WriteStat",
		build: func() *compound.Request {
			fh, sid := n.ioTarget(st)
			return compound.NewRequest().PutFH(fh).SetAttr(sid, values)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			return in.SetAttr()
		},
		state: st,
	})
}

// CommitWrites makes all unstable writes to the file durable.
func (n *NFS4Inode) CommitWrites(ctx context.Context) error {
	return n.do(ctx, &request{
		op: "CommitWrites",
		build: func() *compound.Request {
			return compound.NewRequest().PutFH(n.Handle()).Commit(0, 0)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			return in.Commit()
		},
	})
}

// ReadFile reads up to len(p) bytes at off through st, or with the
// anonymous stateid when st is nil.
func (n *NFS4Inode) ReadFile(ctx context.Context, st *state.OpenState, off uint64, p []byte) (int, bool, error) {
	var (
		count int
		eof   bool
	)
	err := n.do(ctx, &request{
		op: "ReadFile",
		build: func() *compound.Request {
			fh, sid := n.ioTarget(st)
			return compound.NewRequest().PutFH(fh).Read(sid, off, uint32(len(p)))
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			res, err := in.Read()
			if err != nil {
				return err
			}
			count = copy(p, res.Data)
			eof = res.EOF
			return nil
		},
		state: st,
	})
	return count, eof, err
}

// WriteFile writes data at off. With stable set the write is FILE_SYNC4,
// otherwise UNSTABLE4 and a later CommitWrites is needed.
func (n *NFS4Inode) WriteFile(ctx context.Context, st *state.OpenState, off uint64, data []byte, stable bool) (uint32, error) {
	how := uint32(types.UNSTABLE4)
	if stable {
		how = types.FILE_SYNC4
	}

	var count uint32
	err := n.do(ctx, &request{
		op: "WriteFile",
		build: func() *compound.Request {
			fh, sid := n.ioTarget(st)
			return compound.NewRequest().PutFH(fh).Write(sid, off, how, data)
		},
		interpret: func(reply *compound.Reply) error {
			in := reply.Interpreter()
			if err := in.PutFH(); err != nil {
				return err
			}
			res, err := in.Write()
			if err != nil {
				return err
			}
			count = res.Count
			return nil
		},
		state: st,
	})
	return count, err
}

// ioTarget returns the handle and stateid I/O through st uses.
func (n *NFS4Inode) ioTarget(st *state.OpenState) (types.FileHandle, types.Stateid4) {
	if st == nil {
		return n.Handle(), types.AnonymousStateid
	}
	return st.Handle(), st.Stateid()
}

// checkFSID rejects objects of another filesystem. Values without FSID
// pass.
func (n *NFS4Inode) checkFSID(values []attrs.AttrValue) error {
	v, ok := attrs.Find(values, attrs.FATTR4_FSID)
	if !ok || v.FSID == n.fs.FsID() {
		return nil
	}
	return fmt.Errorf("fsid %d.%d crosses the mount: %w", v.FSID.Major, v.FSID.Minor, unix.ENOENT)
}

// fileIDOf returns the FILEID in values, allocating a local id when the
// server did not supply one.
func (n *NFS4Inode) fileIDOf(values []attrs.AttrValue) uint64 {
	if v, ok := attrs.Find(values, attrs.FATTR4_FILEID); ok {
		return v.Uint64
	}
	return n.fs.AllocFileID()
}

func uint64Attr(values []attrs.AttrValue, attr uint32) uint64 {
	v, _ := attrs.Find(values, attr)
	return v.Uint64
}
