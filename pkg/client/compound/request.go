// Package compound builds NFSv4 COMPOUND requests and interprets their
// replies. A Request is filled through chainable builder methods, one per
// operation; the Reply's Interpreter decodes results in the same order.
package compound

import (
	"context"
	"strings"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Transport sends a COMPOUND to the server. A non-nil error means the
// request never produced a reply (connection loss, cancellation); protocol
// failures are reported through Reply.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Reply, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Reply, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Reply, error) {
	return f(ctx, req)
}

// Request is a COMPOUND under construction.
type Request struct {
	Tag string
	ops []Op
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	return &Request{}
}

// Ops returns the operations in request order.
func (r *Request) Ops() []Op {
	return r.ops
}

// Len returns the number of operations.
func (r *Request) Len() int {
	return len(r.ops)
}

// String lists the operation names, e.g. "PUTFH,LOOKUP,GETFH".
func (r *Request) String() string {
	names := make([]string, len(r.ops))
	for i, op := range r.ops {
		names[i] = types.OpName(op.OpCode())
	}
	return strings.Join(names, ",")
}

// Add appends an arbitrary operation.
func (r *Request) Add(op Op) *Request {
	r.ops = append(r.ops, op)
	return r
}

func (r *Request) PutFH(fh types.FileHandle) *Request { return r.Add(PutFH{Handle: fh}) }
func (r *Request) PutRootFH() *Request                { return r.Add(PutRootFH{}) }
func (r *Request) GetFH() *Request                    { return r.Add(GetFH{}) }
func (r *Request) SaveFH() *Request                   { return r.Add(SaveFH{}) }
func (r *Request) LookUp(name string) *Request        { return r.Add(LookUp{Name: name}) }
func (r *Request) LookUpUp() *Request                 { return r.Add(LookUpUp{}) }
func (r *Request) ReadLink() *Request                 { return r.Add(ReadLink{}) }
func (r *Request) OpenAttr(createDir bool) *Request   { return r.Add(OpenAttr{CreateDir: createDir}) }
func (r *Request) Access(mask uint32) *Request        { return r.Add(Access{Mask: mask}) }
func (r *Request) Link(name string) *Request          { return r.Add(Link{Name: name}) }
func (r *Request) Remove(name string) *Request        { return r.Add(Remove{Name: name}) }

// GetAttr requests the listed attributes of the current handle.
func (r *Request) GetAttr(list ...uint32) *Request {
	return r.Add(GetAttr{Attributes: attrs.NewBitmap(list...)})
}

func (r *Request) Verify(values ...attrs.AttrValue) *Request {
	return r.Add(Verify{Attributes: values})
}

func (r *Request) NVerify(values ...attrs.AttrValue) *Request {
	return r.Add(NVerify{Attributes: values})
}

func (r *Request) SetAttr(stateid types.Stateid4, values []attrs.AttrValue) *Request {
	return r.Add(SetAttr{Stateid: stateid, Attributes: values})
}

func (r *Request) Commit(offset uint64, count uint32) *Request {
	return r.Add(Commit{Offset: offset, Count: count})
}

func (r *Request) Rename(oldName, newName string) *Request {
	return r.Add(Rename{OldName: oldName, NewName: newName})
}

func (r *Request) Create(ftype uint32, name, linkData string, values []attrs.AttrValue) *Request {
	return r.Add(Create{Type: ftype, Name: name, LinkData: linkData, Attributes: values})
}

func (r *Request) Open(args Open) *Request { return r.Add(args) }

func (r *Request) OpenConfirm(stateid types.Stateid4, seqid uint32) *Request {
	return r.Add(OpenConfirm{Stateid: stateid, Seqid: seqid})
}

func (r *Request) Close(seqid uint32, stateid types.Stateid4) *Request {
	return r.Add(Close{Seqid: seqid, Stateid: stateid})
}

func (r *Request) Read(stateid types.Stateid4, offset uint64, count uint32) *Request {
	return r.Add(Read{Stateid: stateid, Offset: offset, Count: count})
}

func (r *Request) Write(stateid types.Stateid4, offset uint64, stable uint32, data []byte) *Request {
	return r.Add(Write{Stateid: stateid, Offset: offset, Stable: stable, Data: data})
}

func (r *Request) ReadDir(args ReadDir) *Request { return r.Add(args) }
func (r *Request) Lock(args Lock) *Request       { return r.Add(args) }
func (r *Request) LockT(args LockT) *Request     { return r.Add(args) }
func (r *Request) LockU(args LockU) *Request     { return r.Add(args) }

func (r *Request) DelegReturn(stateid types.Stateid4) *Request {
	return r.Add(DelegReturn{Stateid: stateid})
}

func (r *Request) Renew(clientID uint64) *Request { return r.Add(Renew{ClientID: clientID}) }

func (r *Request) SetClientID(verifier [types.NFS4_VERIFIER_SIZE]byte, id []byte) *Request {
	return r.Add(SetClientID{Verifier: verifier, ID: id})
}

func (r *Request) SetClientIDConfirm(clientID uint64, verifier [types.NFS4_VERIFIER_SIZE]byte) *Request {
	return r.Add(SetClientIDConfirm{ClientID: clientID, Verifier: verifier})
}
