package compound

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// ErrUnexpectedResult is returned when a reply does not line up with the
// request it answers.
var ErrUnexpectedResult = errors.New("compound: unexpected result")

// Reply is a COMPOUND reply. Status is the status of the last evaluated
// operation; evaluation stops at the first failure so Results may be
// shorter than the request.
type Reply struct {
	Status  uint32
	Results []Result
}

// ProtocolError returns the compound status.
func (r *Reply) ProtocolError() uint32 {
	return r.Status
}

// Result returns the first result for op, if the server evaluated it.
func (r *Reply) Result(op uint32) (*Result, bool) {
	for i := range r.Results {
		if r.Results[i].Op == op {
			return &r.Results[i], true
		}
	}
	return nil, false
}

// Interpreter returns a decoder positioned at the first result.
func (r *Reply) Interpreter() *Interpreter {
	return &Interpreter{reply: r}
}

// Interpreter decodes a Reply in request order. Each method consumes one
// result and returns an *types.NFS4Error when that operation failed or was
// never evaluated.
type Interpreter struct {
	reply *Reply
	pos   int
}

func (in *Interpreter) next(op uint32) (*Result, error) {
	if in.pos >= len(in.reply.Results) {
		status := in.reply.Status
		if status == types.NFS4_OK {
			status = types.NFS4ERR_SERVERFAULT
		}
		return nil, types.NewError(status, op)
	}

	res := &in.reply.Results[in.pos]
	in.pos++
	if res.Op != op {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResult,
			types.OpName(res.Op), types.OpName(op))
	}
	if res.Status != types.NFS4_OK {
		return res, types.NewError(res.Status, op)
	}
	return res, nil
}

func value[T any](res *Result) (T, error) {
	v, ok := res.Value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s payload is %T", ErrUnexpectedResult, types.OpName(res.Op), res.Value)
	}
	return v, nil
}

func (in *Interpreter) simple(op uint32) error {
	_, err := in.next(op)
	return err
}

func (in *Interpreter) PutFH() error     { return in.simple(types.OP_PUTFH) }
func (in *Interpreter) PutRootFH() error { return in.simple(types.OP_PUTROOTFH) }
func (in *Interpreter) SaveFH() error    { return in.simple(types.OP_SAVEFH) }
func (in *Interpreter) LookUp() error    { return in.simple(types.OP_LOOKUP) }
func (in *Interpreter) LookUpUp() error  { return in.simple(types.OP_LOOKUPP) }
func (in *Interpreter) OpenAttr() error  { return in.simple(types.OP_OPENATTR) }
func (in *Interpreter) SetAttr() error   { return in.simple(types.OP_SETATTR) }
func (in *Interpreter) Renew() error     { return in.simple(types.OP_RENEW) }

// Verify returns nil when the attributes matched (NFS4ERR_NOT_SAME otherwise).
func (in *Interpreter) Verify() error { return in.simple(types.OP_VERIFY) }

// NVerify returns nil when the attributes differed (NFS4ERR_SAME otherwise).
func (in *Interpreter) NVerify() error { return in.simple(types.OP_NVERIFY) }

func (in *Interpreter) DelegReturn() error        { return in.simple(types.OP_DELEGRETURN) }
func (in *Interpreter) SetClientIDConfirm() error { return in.simple(types.OP_SETCLIENTID_CONFIRM) }

func (in *Interpreter) GetFH() (types.FileHandle, error) {
	res, err := in.next(types.OP_GETFH)
	if err != nil {
		return types.InvalidFileHandle, err
	}
	v, err := value[*GetFHResult](res)
	if err != nil {
		return types.InvalidFileHandle, err
	}
	return v.Handle, nil
}

func (in *Interpreter) GetAttr() ([]attrs.AttrValue, error) {
	res, err := in.next(types.OP_GETATTR)
	if err != nil {
		return nil, err
	}
	v, err := value[*GetAttrResult](res)
	if err != nil {
		return nil, err
	}
	return v.Values, nil
}

// Access returns the supported and allowed access masks.
func (in *Interpreter) Access() (supported, allowed uint32, err error) {
	res, err := in.next(types.OP_ACCESS)
	if err != nil {
		return 0, 0, err
	}
	v, err := value[*AccessResult](res)
	if err != nil {
		return 0, 0, err
	}
	return v.Supported, v.Access, nil
}

func (in *Interpreter) Commit() error {
	_, err := in.next(types.OP_COMMIT)
	return err
}

func (in *Interpreter) ReadLink() (string, error) {
	res, err := in.next(types.OP_READLINK)
	if err != nil {
		return "", err
	}
	v, err := value[*ReadLinkResult](res)
	if err != nil {
		return "", err
	}
	return v.Link, nil
}

func (in *Interpreter) changeResult(op uint32) (types.ChangeInfo, error) {
	res, err := in.next(op)
	if err != nil {
		return types.ChangeInfo{}, err
	}
	v, err := value[*ChangeResult](res)
	if err != nil {
		return types.ChangeInfo{}, err
	}
	return v.ChangeInfo, nil
}

func (in *Interpreter) Link() (types.ChangeInfo, error)   { return in.changeResult(types.OP_LINK) }
func (in *Interpreter) Remove() (types.ChangeInfo, error) { return in.changeResult(types.OP_REMOVE) }
func (in *Interpreter) Create() (types.ChangeInfo, error) { return in.changeResult(types.OP_CREATE) }

// Rename returns the change info of the source and target directories.
func (in *Interpreter) Rename() (source, target types.ChangeInfo, err error) {
	res, err := in.next(types.OP_RENAME)
	if err != nil {
		return source, target, err
	}
	v, err := value[*RenameResult](res)
	if err != nil {
		return source, target, err
	}
	return v.Source, v.Target, nil
}

func (in *Interpreter) Open() (*OpenResult, error) {
	res, err := in.next(types.OP_OPEN)
	if err != nil {
		return nil, err
	}
	return value[*OpenResult](res)
}

func (in *Interpreter) stateid(op uint32) (types.Stateid4, error) {
	res, err := in.next(op)
	if err != nil {
		return types.Stateid4{}, err
	}
	v, err := value[*StateidResult](res)
	if err != nil {
		return types.Stateid4{}, err
	}
	return v.Stateid, nil
}

func (in *Interpreter) OpenConfirm() (types.Stateid4, error) {
	return in.stateid(types.OP_OPEN_CONFIRM)
}
func (in *Interpreter) Close() (types.Stateid4, error) { return in.stateid(types.OP_CLOSE) }
func (in *Interpreter) LockU() (types.Stateid4, error) { return in.stateid(types.OP_LOCKU) }

func (in *Interpreter) Read() (*ReadResult, error) {
	res, err := in.next(types.OP_READ)
	if err != nil {
		return nil, err
	}
	return value[*ReadResult](res)
}

func (in *Interpreter) Write() (*WriteResult, error) {
	res, err := in.next(types.OP_WRITE)
	if err != nil {
		return nil, err
	}
	return value[*WriteResult](res)
}

func (in *Interpreter) ReadDir() (*ReadDirResult, error) {
	res, err := in.next(types.OP_READDIR)
	if err != nil {
		return nil, err
	}
	return value[*ReadDirResult](res)
}

// Lock returns the new lock stateid. When the server refused the lock with
// NFS4ERR_DENIED, the conflicting lock is returned together with the error.
func (in *Interpreter) Lock() (types.Stateid4, *LockDenied, error) {
	res, err := in.next(types.OP_LOCK)
	if err != nil {
		if res != nil && res.Status == types.NFS4ERR_DENIED {
			denied, _ := res.Value.(*LockDenied)
			return types.Stateid4{}, denied, err
		}
		return types.Stateid4{}, nil, err
	}
	v, err := value[*StateidResult](res)
	if err != nil {
		return types.Stateid4{}, nil, err
	}
	return v.Stateid, nil, nil
}

// LockT returns nil, nil when no conflicting lock exists and the conflict
// (with a nil error) when the server answered NFS4ERR_DENIED.
func (in *Interpreter) LockT() (*LockDenied, error) {
	res, err := in.next(types.OP_LOCKT)
	if err != nil {
		if res != nil && res.Status == types.NFS4ERR_DENIED {
			if denied, ok := res.Value.(*LockDenied); ok {
				return denied, nil
			}
		}
		return nil, err
	}
	return nil, nil
}

func (in *Interpreter) SetClientID() (*SetClientIDResult, error) {
	res, err := in.next(types.OP_SETCLIENTID)
	if err != nil {
		return nil, err
	}
	return value[*SetClientIDResult](res)
}
