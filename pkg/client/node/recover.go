package node

import (
	"context"
	"fmt"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
)

// updateFileHandles resolves the node again from the mount root along its
// recorded names and refreshes the handle of every object on the way,
// including the node's attribute directory when one was loaded.
func (n *NFS4Inode) updateFileHandles(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecoverHandle)
	defer span.End()

	steps, err := n.names.Ancestry()
	if err != nil {
		return err
	}
	withAttrDir := n.names.AttrDir().IsValid()

	req := compound.NewRequest().PutRootFH().GetFH()
	for _, s := range steps[1:] {
		if s.Attr {
			req.OpenAttr(false)
		}
		req.LookUp(s.Name).GetFH()
	}
	if withAttrDir {
		req.OpenAttr(false).GetFH()
	}

	reply, err := n.fs.Transport().Send(ctx, req)
	if err != nil {
		return err
	}

	in := reply.Interpreter()
	if err := in.PutRootFH(); err != nil {
		return err
	}
	fh, err := in.GetFH()
	if err != nil {
		return err
	}
	steps[0].Node.SetHandle(fh)
	for _, s := range steps[1:] {
		if s.Attr {
			if err := in.OpenAttr(); err != nil {
				return err
			}
		}
		if err := in.LookUp(); err != nil {
			return fmt.Errorf("resolve %q: %w", s.Name, err)
		}
		fh, err := in.GetFH()
		if err != nil {
			return err
		}
		s.Node.SetHandle(fh)
	}
	if withAttrDir {
		if err := in.OpenAttr(); err != nil {
			return err
		}
		fh, err := in.GetFH()
		if err != nil {
			return err
		}
		n.names.SetAttrDir(fh)
	}

	logger.InfoCtx(ctx, "file handle recovered",
		logger.FileID(n.FileID()), logger.Handle(n.Handle().Bytes()))
	return nil
}

// NewNFS4Inode returns the protocol layer for names without creating a
// cached node.
func NewNFS4Inode(fs FileSystem, names *FileNames) *NFS4Inode {
	return &NFS4Inode{fs: fs, names: names}
}

// ResolveHandle walks the recorded names from the root to obtain a handle
// for a file first seen without one.
func (n *NFS4Inode) ResolveHandle(ctx context.Context) error {
	return n.updateFileHandles(ctx)
}
