// Package compoundtest provides an in-memory NFSv4.0 server implementing
// compound.Transport, for driving the node layer in tests.
//
// The server evaluates compounds op by op the way a real server does:
// current and saved file handles, change counters bumped by every
// directory mutation, open-owner and lock-owner seqid checking, byte-range
// lock conflicts and delegations. Hooks let a test inject failures or
// mutate the namespace between two operations of the same compound.
package compoundtest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
)

const (
	// DefaultFSID is the fsid reported for every object.
	DefaultFSID = 0x4e46
	// DefaultMaxIO is the MAXREAD/MAXWRITE advertised by default.
	DefaultMaxIO = 64 * 1024
	// LeaseTime is the advertised lease, in seconds.
	LeaseTime = 90
)

type object struct {
	id     uint64
	gen    uint32
	typ    uint32
	mode   uint32
	nlink  uint32
	owner  string
	group  string
	change uint64

	data []byte
	link string

	entries map[string]uint64
	parent  uint64
	attrDir uint64

	atime, mtime, ctime, crtime types.NFS4Time
}

func (o *object) isDir() bool {
	return o.typ == types.NF4DIR || o.typ == types.NF4ATTRDIR
}

func (o *object) isFile() bool {
	return o.typ == types.NF4REG || o.typ == types.NF4NAMEDATTR
}

type injection struct {
	op     uint32
	status uint32
	times  int
}

// Server is an in-memory NFSv4.0 server. The zero value is not usable;
// call New.
type Server struct {
	mu sync.Mutex

	fsid     types.FSID4
	epoch    uint32
	verifier [types.NFS4_VERIFIER_SIZE]byte
	now      func() time.Time

	objects map[uint64]*object
	rootID  uint64
	nextID  uint64

	nextClient uint64
	clients    map[uint64]bool // confirmed flag
	grace      bool

	nextState uint64
	owners    map[string]*openOwner
	opens     map[[types.NFS4_OTHER_SIZE]byte]*openRec
	lockers   map[[types.NFS4_OTHER_SIZE]byte]*lockRec
	delegs    map[[types.NFS4_OTHER_SIZE]byte]*delegRec

	grant          uint32
	requireConfirm bool
	nonAtomic      bool
	omitFileID     bool
	pageSize       int
	maxIO          uint64
	expireType     uint32

	injected []injection
	sendErr  error
	hook     func(op compound.Op)
	log      []string
	counts   map[uint32]int
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithFSID sets the fsid reported by the server.
func WithFSID(fsid types.FSID4) Option {
	return func(s *Server) { s.fsid = fsid }
}

// WithMaxIO sets MAXREAD and MAXWRITE.
func WithMaxIO(n uint64) Option {
	return func(s *Server) { s.maxIO = n }
}

// New returns a server exporting an empty root directory.
func New(opts ...Option) *Server {
	s := &Server{
		fsid:       types.FSID4{Major: DefaultFSID, Minor: 1},
		epoch:      1,
		verifier:   [types.NFS4_VERIFIER_SIZE]byte{'c', 'o', 'm', 'p', 'o', 'u', 'n', 'd'},
		now:        time.Now,
		objects:    make(map[uint64]*object),
		nextID:     100,
		clients:    make(map[uint64]bool),
		owners:     make(map[string]*openOwner),
		opens:      make(map[[types.NFS4_OTHER_SIZE]byte]*openRec),
		lockers:    make(map[[types.NFS4_OTHER_SIZE]byte]*lockRec),
		delegs:     make(map[[types.NFS4_OTHER_SIZE]byte]*delegRec),
		maxIO:      DefaultMaxIO,
		expireType: types.FH4_VOLATILE_ANY,
		counts:     make(map[uint32]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	root := s.newObject(types.NF4DIR, 0o755)
	root.parent = root.id
	s.rootID = root.id
	return s
}

// ----------------------------------------------------------------------------
// Behavior switches
// ----------------------------------------------------------------------------

// GrantDelegations makes OPEN hand out delegations of the given type
// (OPEN_DELEGATE_NONE disables them).
func (s *Server) GrantDelegations(typ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = typ
}

// RequireConfirm makes the first OPEN of every open-owner ask for
// OPEN_CONFIRM.
func (s *Server) RequireConfirm(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireConfirm = v
}

// SetAtomic controls the atomic flag of every change_info4.
func (s *Server) SetAtomic(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonAtomic = !v
}

// OmitFileID stops the server from supporting the FILEID attribute.
func (s *Server) OmitFileID(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitFileID = v
}

// SetPageSize caps the number of entries returned by one READDIR. Zero
// returns every entry.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetExpireType sets the advertised fh_expire_type.
func (s *Server) SetExpireType(t uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireType = t
}

// Inject makes the next times evaluations of op fail with status.
func (s *Server) Inject(op, status uint32, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = append(s.injected, injection{op: op, status: status, times: times})
}

// FailNext makes the next Send return err without evaluating anything.
func (s *Server) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetHook installs fn, called before every operation is evaluated. It runs
// without the server lock so it may call seeding helpers.
func (s *Server) SetHook(fn func(op compound.Op)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// EndGrace leaves the grace period entered by ExpireClients.
func (s *Server) EndGrace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = false
}

// ExpireClients simulates a server restart: every client id, open, lock
// and delegation is forgotten and the server enters its grace period.
func (s *Server) ExpireClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.clients = make(map[uint64]bool)
	s.owners = make(map[string]*openOwner)
	s.opens = make(map[[types.NFS4_OTHER_SIZE]byte]*openRec)
	s.lockers = make(map[[types.NFS4_OTHER_SIZE]byte]*lockRec)
	s.delegs = make(map[[types.NFS4_OTHER_SIZE]byte]*delegRec)
	s.grace = true
}

// Log returns the compounds received so far, one "OP,OP,..." line each.
func (s *Server) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// ResetLog clears the request log and op counters.
func (s *Server) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
	s.counts = make(map[uint32]int)
}

// Count returns how many times op was evaluated since the last ResetLog.
func (s *Server) Count(op uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// ----------------------------------------------------------------------------
// Transport
// ----------------------------------------------------------------------------

type execState struct {
	cur   uint64
	saved uint64
}

// Send implements compound.Transport.
func (s *Server) Send(ctx context.Context, req *compound.Request) (*compound.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.sendErr; err != nil {
		s.sendErr = nil
		s.mu.Unlock()
		return nil, err
	}
	s.log = append(s.log, req.String())
	hook := s.hook
	s.mu.Unlock()

	reply := &compound.Reply{Status: types.NFS4_OK}
	st := &execState{}
	for _, op := range req.Ops() {
		if hook != nil {
			hook(op)
		}

		s.mu.Lock()
		s.counts[op.OpCode()]++
		status, value := s.evaluate(st, op)
		s.mu.Unlock()

		reply.Results = append(reply.Results, compound.Result{Op: op.OpCode(), Status: status, Value: value})
		reply.Status = status
		if status != types.NFS4_OK {
			break
		}
	}
	return reply, nil
}

var _ compound.Transport = (*Server)(nil)

func (s *Server) takeInjection(op uint32) (uint32, bool) {
	for i := range s.injected {
		in := &s.injected[i]
		if in.op == op && in.times > 0 {
			in.times--
			return in.status, true
		}
	}
	return 0, false
}

// evaluate runs one op under s.mu, applying owner seqid rules around it.
func (s *Server) evaluate(st *execState, op compound.Op) (uint32, any) {
	seq, seqid := s.sequenced(op)
	if seq != nil && seq.known && seqid != seq.next {
		return types.NFS4ERR_BAD_SEQID, nil
	}

	status, value := uint32(types.NFS4_OK), any(nil)
	if injected, ok := s.takeInjection(op.OpCode()); ok {
		status = injected
		if status == types.NFS4ERR_DENIED {
			value = &compound.LockDenied{Type: types.WRITE_LT, Length: 1}
		}
	} else {
		status, value = s.exec(st, op)
	}

	if seq != nil && types.IncrementsSequence(status) {
		seq.next = seqid + 1
		seq.known = true
	}
	return status, value
}

// ----------------------------------------------------------------------------
// Objects and handles
// ----------------------------------------------------------------------------

func (s *Server) timestamp() types.NFS4Time {
	return types.TimeFrom(s.now())
}

func (s *Server) newObject(typ, mode uint32) *object {
	s.nextID++
	now := s.timestamp()
	o := &object{
		id:     s.nextID,
		typ:    typ,
		mode:   mode,
		nlink:  1,
		owner:  "0",
		group:  "0",
		change: 1,
		atime:  now,
		mtime:  now,
		ctime:  now,
		crtime: now,
	}
	if o.isDir() {
		o.entries = make(map[string]uint64)
		o.nlink = 2
	}
	s.objects[o.id] = o
	return o
}

func (s *Server) handleOf(o *object) types.FileHandle {
	var b [14]byte
	b[0], b[1] = 'f', 'h'
	binary.BigEndian.PutUint64(b[2:], o.id)
	binary.BigEndian.PutUint32(b[10:], o.gen)
	return types.MustFileHandle(b[:])
}

// resolveHandle maps a handle to its object or the status a server would
// report for it.
func (s *Server) resolveHandle(fh types.FileHandle) (*object, uint32) {
	b := fh.Bytes()
	if len(b) != 14 || b[0] != 'f' || b[1] != 'h' {
		return nil, types.NFS4ERR_BADHANDLE
	}
	o, ok := s.objects[binary.BigEndian.Uint64(b[2:])]
	if !ok {
		return nil, types.NFS4ERR_STALE
	}
	if o.gen != binary.BigEndian.Uint32(b[10:]) {
		return nil, types.NFS4ERR_FHEXPIRED
	}
	return o, types.NFS4_OK
}

func (s *Server) touch(o *object) {
	o.change++
	now := s.timestamp()
	o.mtime = now
	o.ctime = now
}

func (s *Server) changeInfo(before, after uint64) types.ChangeInfo {
	return types.ChangeInfo{Atomic: !s.nonAtomic, Before: before, After: after}
}

func (s *Server) link(dir *object, name string, o *object) {
	dir.entries[name] = o.id
	if o.isDir() {
		o.parent = dir.id
		dir.nlink++
	}
}

func (s *Server) unlink(dir *object, name string) {
	id, ok := dir.entries[name]
	if !ok {
		return
	}
	delete(dir.entries, name)
	o := s.objects[id]
	if o == nil {
		return
	}
	if o.isDir() {
		dir.nlink--
		delete(s.objects, id)
		return
	}
	o.nlink--
	o.ctime = s.timestamp()
	if o.nlink == 0 && !s.isOpen(o.id) {
		delete(s.objects, id)
	}
}

func (s *Server) isOpen(id uint64) bool {
	for _, op := range s.opens {
		if op.file == id {
			return true
		}
	}
	return false
}

func validName(name string) uint32 {
	switch {
	case name == "":
		return types.NFS4ERR_INVAL
	case name == "." || name == "..":
		return types.NFS4ERR_BADNAME
	case strings.ContainsRune(name, '/'):
		return types.NFS4ERR_BADCHAR
	case len(name) > 255:
		return types.NFS4ERR_NAMETOOLONG
	}
	return types.NFS4_OK
}

// ----------------------------------------------------------------------------
// Seeding and inspection
// ----------------------------------------------------------------------------

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) walk(p string) (*object, error) {
	o := s.objects[s.rootID]
	for _, name := range splitPath(p) {
		if !o.isDir() {
			return nil, fmt.Errorf("compoundtest: %q: not a directory", p)
		}
		id, ok := o.entries[name]
		if !ok {
			return nil, fmt.Errorf("compoundtest: %q: no such entry", p)
		}
		o = s.objects[id]
	}
	return o, nil
}

func (s *Server) mustWalk(p string) *object {
	o, err := s.walk(p)
	if err != nil {
		panic(err)
	}
	return o
}

// parentOf returns the directory holding p and the last component. With
// create set, missing directories along the way are created.
func (s *Server) parentOf(p string, create bool) (*object, string) {
	parts := splitPath(p)
	if len(parts) == 0 {
		panic(fmt.Sprintf("compoundtest: %q has no parent", p))
	}
	dir := strings.Join(parts[:len(parts)-1], "/")
	if create {
		return s.mkdirAll(dir), parts[len(parts)-1]
	}
	return s.mustWalk(dir), parts[len(parts)-1]
}

func (s *Server) mkdirAll(p string) *object {
	o := s.objects[s.rootID]
	for _, name := range splitPath(p) {
		id, ok := o.entries[name]
		if !ok {
			child := s.newObject(types.NF4DIR, 0o755)
			s.link(o, name, child)
			s.touch(o)
			o = child
			continue
		}
		o = s.objects[id]
	}
	return o
}

// Root returns the root handle.
func (s *Server) Root() types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleOf(s.objects[s.rootID])
}

// FSID returns the fsid reported for every object.
func (s *Server) FSID() types.FSID4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsid
}

// Verifier returns the write and readdir verifier.
func (s *Server) Verifier() [types.NFS4_VERIFIER_SIZE]byte {
	return s.verifier
}

// MkdirAll creates every missing directory along p and returns the handle
// of the last one.
func (s *Server) MkdirAll(p string) types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleOf(s.mkdirAll(p))
}

// WriteFile creates or replaces the regular file at p, creating missing
// parent directories.
func (s *Server) WriteFile(p string, data []byte) types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, name := s.parentOf(p, true)
	if id, ok := dir.entries[name]; ok {
		o := s.objects[id]
		o.data = append([]byte(nil), data...)
		s.touch(o)
		return s.handleOf(o)
	}
	o := s.newObject(types.NF4REG, 0o644)
	o.data = append([]byte(nil), data...)
	s.link(dir, name, o)
	s.touch(dir)
	return s.handleOf(o)
}

// Symlink creates a symbolic link at p pointing to target, creating
// missing parent directories.
func (s *Server) Symlink(p, target string) types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, name := s.parentOf(p, true)
	o := s.newObject(types.NF4LNK, 0o777)
	o.link = target
	s.link(dir, name, o)
	s.touch(dir)
	return s.handleOf(o)
}

// Remove deletes the entry at p behind the client's back.
func (s *Server) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, name := s.parentOf(p, false)
	s.unlink(dir, name)
	s.touch(dir)
}

// Chmod changes the mode of p.
func (s *Server) Chmod(p string, mode uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.mustWalk(p)
	o.mode = mode
	o.change++
}

// Rehandle issues a new handle for p; the old one reports FHEXPIRED.
func (s *Server) Rehandle(p string) types.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.mustWalk(p)
	o.gen++
	return s.handleOf(o)
}

// Lookup returns the handle and file id of p.
func (s *Server) Lookup(p string) (types.FileHandle, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.walk(p)
	if err != nil {
		return types.InvalidFileHandle, 0, false
	}
	return s.handleOf(o), o.id, true
}

// Data returns a copy of the contents of p.
func (s *Server) Data(p string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.mustWalk(p).data...)
}

// Change returns the change attribute of p.
func (s *Server) Change(p string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mustWalk(p).change
}

// Mode returns the permission bits of p.
func (s *Server) Mode(p string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mustWalk(p).mode
}

// Names lists the entries of directory p in name order.
func (s *Server) Names(p string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.mustWalk(p)
	out := make([]string, 0, len(o.entries))
	for name := range o.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
