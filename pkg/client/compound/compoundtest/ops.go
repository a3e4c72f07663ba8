package compoundtest

import (
	"sort"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
)

// cookieBase is the first cookie handed out; 0-2 are reserved.
const cookieBase = 3

func (s *Server) current(st *execState) (*object, uint32) {
	if st.cur == 0 {
		return nil, types.NFS4ERR_NOFILEHANDLE
	}
	o, ok := s.objects[st.cur]
	if !ok {
		return nil, types.NFS4ERR_STALE
	}
	return o, types.NFS4_OK
}

func (s *Server) currentDir(st *execState) (*object, uint32) {
	o, status := s.current(st)
	if status != types.NFS4_OK {
		return nil, status
	}
	if !o.isDir() {
		return nil, types.NFS4ERR_NOTDIR
	}
	return o, types.NFS4_OK
}

func (s *Server) currentFile(st *execState) (*object, uint32) {
	o, status := s.current(st)
	if status != types.NFS4_OK {
		return nil, status
	}
	switch {
	case o.isDir():
		return nil, types.NFS4ERR_ISDIR
	case !o.isFile():
		return nil, types.NFS4ERR_INVAL
	}
	return o, types.NFS4_OK
}

func (s *Server) saved(st *execState) (*object, uint32) {
	if st.saved == 0 {
		return nil, types.NFS4ERR_RESTOREFH
	}
	o, ok := s.objects[st.saved]
	if !ok {
		return nil, types.NFS4ERR_STALE
	}
	return o, types.NFS4_OK
}

// exec evaluates one operation. It runs under s.mu.
func (s *Server) exec(st *execState, op compound.Op) (uint32, any) {
	switch a := op.(type) {
	case compound.PutFH:
		o, status := s.resolveHandle(a.Handle)
		if status != types.NFS4_OK {
			return status, nil
		}
		st.cur = o.id
		return types.NFS4_OK, nil

	case compound.PutRootFH:
		st.cur = s.rootID
		return types.NFS4_OK, nil

	case compound.GetFH:
		o, status := s.current(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		return types.NFS4_OK, &compound.GetFHResult{Handle: s.handleOf(o)}

	case compound.SaveFH:
		if _, status := s.current(st); status != types.NFS4_OK {
			return status, nil
		}
		st.saved = st.cur
		return types.NFS4_OK, nil

	case compound.LookUp:
		return s.lookUp(st, a.Name)

	case compound.LookUpUp:
		dir, status := s.currentDir(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		if dir.id == s.rootID {
			return types.NFS4ERR_NOENT, nil
		}
		st.cur = dir.parent
		return types.NFS4_OK, nil

	case compound.ReadLink:
		o, status := s.current(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		if o.typ != types.NF4LNK {
			return types.NFS4ERR_INVAL, nil
		}
		return types.NFS4_OK, &compound.ReadLinkResult{Link: o.link}

	case compound.OpenAttr:
		return s.openAttr(st, a.CreateDir)

	case compound.GetAttr:
		o, status := s.current(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		return types.NFS4_OK, &compound.GetAttrResult{Values: s.getAttrs(o, a.Attributes)}

	case compound.Verify:
		return s.verify(st, a.Attributes, true)

	case compound.NVerify:
		return s.verify(st, a.Attributes, false)

	case compound.SetAttr:
		o, status := s.current(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		if _, ok := attrs.Find(a.Attributes, attrs.FATTR4_SIZE); ok {
			if status := s.checkIO(a.Stateid, o); status != types.NFS4_OK {
				return status, nil
			}
		}
		return s.setAttrs(o, a.Attributes), nil

	case compound.Access:
		o, status := s.current(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		return types.NFS4_OK, &compound.AccessResult{Supported: a.Mask, Access: a.Mask & allowed(o.mode)}

	case compound.Commit:
		if _, status := s.currentFile(st); status != types.NFS4_OK {
			return status, nil
		}
		return types.NFS4_OK, &compound.CommitResult{Verifier: s.verifier}

	case compound.Link:
		return s.linkOp(st, a.Name)

	case compound.Remove:
		return s.remove(st, a.Name)

	case compound.Rename:
		return s.rename(st, a.OldName, a.NewName)

	case compound.Create:
		return s.create(st, a)

	case compound.Open:
		return s.open(st, a)

	case compound.OpenConfirm:
		rec, ok := s.opens[a.Stateid.Other]
		if !ok {
			return s.stateidStatus(a.Stateid), nil
		}
		rec.confirmed = true
		rec.stateid.Seqid++
		s.owners[rec.owner].confirmed = true
		return types.NFS4_OK, &compound.StateidResult{Stateid: rec.stateid}

	case compound.Close:
		rec, ok := s.opens[a.Stateid.Other]
		if !ok {
			return s.stateidStatus(a.Stateid), nil
		}
		if s.locksOf(a.Stateid.Other) > 0 {
			return types.NFS4ERR_LOCKS_HELD, nil
		}
		delete(s.opens, a.Stateid.Other)
		for other, l := range s.lockers {
			if l.open == a.Stateid.Other {
				delete(s.lockers, other)
			}
		}
		if o, ok := s.objects[rec.file]; ok && o.nlink == 0 && !s.isOpen(o.id) {
			delete(s.objects, o.id)
		}
		closed := rec.stateid
		closed.Seqid++
		return types.NFS4_OK, &compound.StateidResult{Stateid: closed}

	case compound.Read:
		return s.read(st, a)

	case compound.Write:
		return s.write(st, a)

	case compound.ReadDir:
		return s.readDir(st, a)

	case compound.Lock:
		return s.lock(st, a)

	case compound.LockT:
		o, status := s.currentFile(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		if denied := s.conflict(o.id, ownerKey(a.Owner), rangeOf(a.Offset, a.Length, a.Type)); denied != nil {
			return types.NFS4ERR_DENIED, denied
		}
		return types.NFS4_OK, nil

	case compound.LockU:
		rec, ok := s.lockers[a.LockStateid.Other]
		if !ok {
			return s.stateidStatus(a.LockStateid), nil
		}
		rec.ranges = subtract(rec.ranges, rangeOf(a.Offset, a.Length, a.Type))
		rec.stateid.Seqid++
		return types.NFS4_OK, &compound.StateidResult{Stateid: rec.stateid}

	case compound.DelegReturn:
		if _, ok := s.delegs[a.Stateid.Other]; !ok {
			return s.stateidStatus(a.Stateid), nil
		}
		delete(s.delegs, a.Stateid.Other)
		return types.NFS4_OK, nil

	case compound.Renew:
		if _, ok := s.clients[a.ClientID]; !ok {
			return types.NFS4ERR_STALE_CLIENTID, nil
		}
		return types.NFS4_OK, nil

	case compound.SetClientID:
		s.nextClient++
		id := uint64(s.epoch)<<32 | s.nextClient
		s.clients[id] = false
		return types.NFS4_OK, &compound.SetClientIDResult{ClientID: id, Verifier: s.verifier}

	case compound.SetClientIDConfirm:
		if _, ok := s.clients[a.ClientID]; !ok {
			return types.NFS4ERR_STALE_CLIENTID, nil
		}
		s.clients[a.ClientID] = true
		return types.NFS4_OK, nil
	}
	return types.NFS4ERR_NOTSUPP, nil
}

func allowed(mode uint32) uint32 {
	mask := uint32(types.ACCESS4_ALL)
	if mode&0o444 == 0 {
		mask &^= types.ACCESS4_READ
	}
	if mode&0o222 == 0 {
		mask &^= types.ACCESS4_MODIFY | types.ACCESS4_EXTEND | types.ACCESS4_DELETE
	}
	if mode&0o111 == 0 {
		mask &^= types.ACCESS4_EXECUTE | types.ACCESS4_LOOKUP
	}
	return mask
}

func (s *Server) lookUp(st *execState, name string) (uint32, any) {
	dir, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if status := validName(name); status != types.NFS4_OK {
		return status, nil
	}
	id, ok := dir.entries[name]
	if !ok {
		return types.NFS4ERR_NOENT, nil
	}
	st.cur = id
	return types.NFS4_OK, nil
}

func (s *Server) openAttr(st *execState, create bool) (uint32, any) {
	o, status := s.current(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if o.typ == types.NF4ATTRDIR || o.typ == types.NF4NAMEDATTR {
		return types.NFS4ERR_INVAL, nil
	}
	if o.attrDir == 0 {
		if !create {
			return types.NFS4ERR_NOENT, nil
		}
		ad := s.newObject(types.NF4ATTRDIR, 0o755)
		ad.parent = o.id
		o.attrDir = ad.id
	}
	st.cur = o.attrDir
	return types.NFS4_OK, nil
}

func (s *Server) verify(st *execState, values []attrs.AttrValue, wantSame bool) (uint32, any) {
	o, status := s.current(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	same := true
	for _, v := range values {
		have, ok := s.attrOf(o, v.Attribute)
		if !ok {
			return types.NFS4ERR_ATTRNOTSUPP, nil
		}
		if !have.Equal(v) {
			same = false
		}
	}
	switch {
	case wantSame && !same:
		return types.NFS4ERR_NOT_SAME, nil
	case !wantSame && same:
		return types.NFS4ERR_SAME, nil
	}
	return types.NFS4_OK, nil
}

func (s *Server) linkOp(st *execState, name string) (uint32, any) {
	src, status := s.saved(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	dir, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if src.isDir() {
		return types.NFS4ERR_ISDIR, nil
	}
	if status := validName(name); status != types.NFS4_OK {
		return status, nil
	}
	if _, exists := dir.entries[name]; exists {
		return types.NFS4ERR_EXIST, nil
	}
	before := dir.change
	s.link(dir, name, src)
	src.nlink++
	src.change++
	s.touch(dir)
	return types.NFS4_OK, &compound.ChangeResult{ChangeInfo: s.changeInfo(before, dir.change)}
}

func (s *Server) remove(st *execState, name string) (uint32, any) {
	dir, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if status := validName(name); status != types.NFS4_OK {
		return status, nil
	}
	id, ok := dir.entries[name]
	if !ok {
		return types.NFS4ERR_NOENT, nil
	}
	if o := s.objects[id]; o != nil && o.isDir() && len(o.entries) > 0 {
		return types.NFS4ERR_NOTEMPTY, nil
	}
	before := dir.change
	s.unlink(dir, name)
	s.touch(dir)
	return types.NFS4_OK, &compound.ChangeResult{ChangeInfo: s.changeInfo(before, dir.change)}
}

func (s *Server) rename(st *execState, oldName, newName string) (uint32, any) {
	src, status := s.saved(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if !src.isDir() {
		return types.NFS4ERR_NOTDIR, nil
	}
	dst, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	for _, name := range []string{oldName, newName} {
		if status := validName(name); status != types.NFS4_OK {
			return status, nil
		}
	}
	id, ok := src.entries[oldName]
	if !ok {
		return types.NFS4ERR_NOENT, nil
	}
	moved := s.objects[id]

	srcBefore, dstBefore := src.change, dst.change
	if existing, ok := dst.entries[newName]; ok {
		if existing == id {
			ci := s.changeInfo(srcBefore, srcBefore)
			return types.NFS4_OK, &compound.RenameResult{Source: ci, Target: s.changeInfo(dstBefore, dstBefore)}
		}
		victim := s.objects[existing]
		if victim.isDir() != moved.isDir() {
			return types.NFS4ERR_EXIST, nil
		}
		if victim.isDir() && len(victim.entries) > 0 {
			return types.NFS4ERR_NOTEMPTY, nil
		}
		s.unlink(dst, newName)
	}

	delete(src.entries, oldName)
	if moved.isDir() {
		src.nlink--
	}
	s.link(dst, newName, moved)
	moved.ctime = s.timestamp()
	s.touch(src)
	if dst != src {
		s.touch(dst)
	}
	return types.NFS4_OK, &compound.RenameResult{
		Source: s.changeInfo(srcBefore, src.change),
		Target: s.changeInfo(dstBefore, dst.change),
	}
}

func (s *Server) create(st *execState, a compound.Create) (uint32, any) {
	dir, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if status := validName(a.Name); status != types.NFS4_OK {
		return status, nil
	}
	switch a.Type {
	case types.NF4REG, types.NF4ATTRDIR, types.NF4NAMEDATTR:
		return types.NFS4ERR_BADTYPE, nil
	}
	if _, exists := dir.entries[a.Name]; exists {
		return types.NFS4ERR_EXIST, nil
	}

	def := uint32(0o755)
	if a.Type == types.NF4LNK {
		def = 0o777
	}
	o := s.newObject(a.Type, modeOf(a.Attributes, def))
	o.link = a.LinkData
	before := dir.change
	s.link(dir, a.Name, o)
	s.touch(dir)
	st.cur = o.id
	return types.NFS4_OK, &compound.ChangeResult{ChangeInfo: s.changeInfo(before, dir.change)}
}

func (s *Server) open(st *execState, a compound.Open) (uint32, any) {
	if _, ok := s.clients[a.Owner.ClientID]; !ok {
		return types.NFS4ERR_STALE_CLIENTID, nil
	}

	var file *object
	var ci types.ChangeInfo
	switch a.Claim {
	case types.CLAIM_NULL:
		dir, status := s.currentDir(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		if status := validName(a.Name); status != types.NFS4_OK {
			return status, nil
		}
		before := dir.change
		if id, exists := dir.entries[a.Name]; exists {
			file = s.objects[id]
			switch {
			case a.Create && a.CreateMode != types.UNCHECKED4:
				return types.NFS4ERR_EXIST, nil
			case file.isDir():
				return types.NFS4ERR_ISDIR, nil
			case file.typ == types.NF4LNK:
				return types.NFS4ERR_SYMLINK, nil
			case !file.isFile():
				return types.NFS4ERR_INVAL, nil
			}
			if a.Create {
				if status := s.setAttrs(file, sizeOnly(a.Attributes)); status != types.NFS4_OK {
					return status, nil
				}
			}
		} else {
			if !a.Create {
				return types.NFS4ERR_NOENT, nil
			}
			typ := uint32(types.NF4REG)
			if dir.typ == types.NF4ATTRDIR {
				typ = types.NF4NAMEDATTR
			}
			file = s.newObject(typ, modeOf(a.Attributes, 0o644))
			s.link(dir, a.Name, file)
			s.touch(dir)
		}
		ci = s.changeInfo(before, dir.change)

	case types.CLAIM_PREVIOUS:
		if !s.grace {
			return types.NFS4ERR_NO_GRACE, nil
		}
		o, status := s.currentFile(st)
		if status != types.NFS4_OK {
			return status, nil
		}
		file = o

	default:
		return types.NFS4ERR_NOTSUPP, nil
	}

	owner := ownerKey(a.Owner)
	st.cur = file.id

	// A second OPEN by the same owner upgrades the existing open.
	if rec := s.openOf(owner, file.id); rec != nil {
		rec.access |= a.ShareAccess
		rec.stateid.Seqid++
		res := &compound.OpenResult{
			Stateid:    rec.stateid,
			ChangeInfo: ci,
			Flags:      types.OPEN4_RESULT_LOCKTYPE_POSIX,
		}
		if !rec.confirmed {
			res.Flags |= types.OPEN4_RESULT_CONFIRM
		}
		return types.NFS4_OK, res
	}

	oo := s.owners[owner]
	rec := &openRec{
		stateid:   s.newStateid(),
		file:      file.id,
		owner:     owner,
		clientID:  a.Owner.ClientID,
		access:    a.ShareAccess,
		confirmed: !s.requireConfirm || (oo != nil && oo.confirmed),
	}
	s.opens[rec.stateid.Other] = rec

	res := &compound.OpenResult{
		Stateid:    rec.stateid,
		ChangeInfo: ci,
		Flags:      types.OPEN4_RESULT_LOCKTYPE_POSIX,
	}
	if !rec.confirmed {
		res.Flags |= types.OPEN4_RESULT_CONFIRM
	}

	typ := s.grant
	if a.Claim == types.CLAIM_PREVIOUS {
		typ = a.DelegationType
	}
	if typ == types.OPEN_DELEGATE_WRITE && a.ShareAccess&types.OPEN4_SHARE_ACCESS_WRITE == 0 {
		typ = types.OPEN_DELEGATE_READ
	}
	if typ != types.OPEN_DELEGATE_NONE && !s.delegated(file.id) {
		d := &delegRec{stateid: s.newStateid(), file: file.id, typ: typ}
		s.delegs[d.stateid.Other] = d
		res.Delegation = compound.OpenDelegation{Type: typ, Stateid: d.stateid}
		if typ == types.OPEN_DELEGATE_WRITE {
			res.Delegation.SpaceLimit = SpaceTotal
		}
	}
	return types.NFS4_OK, res
}

func (s *Server) openOf(owner string, file uint64) *openRec {
	for _, rec := range s.opens {
		if rec.owner == owner && rec.file == file {
			return rec
		}
	}
	return nil
}

func sizeOnly(values []attrs.AttrValue) []attrs.AttrValue {
	if v, ok := attrs.Find(values, attrs.FATTR4_SIZE); ok {
		return []attrs.AttrValue{v}
	}
	return nil
}

func (s *Server) delegated(file uint64) bool {
	for _, d := range s.delegs {
		if d.file == file {
			return true
		}
	}
	return false
}

func (s *Server) read(st *execState, a compound.Read) (uint32, any) {
	o, status := s.currentFile(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if status := s.checkIO(a.Stateid, o); status != types.NFS4_OK {
		return status, nil
	}
	size := uint64(len(o.data))
	if a.Offset >= size {
		return types.NFS4_OK, &compound.ReadResult{EOF: true}
	}
	end := min(size, a.Offset+min(uint64(a.Count), s.maxIO))
	o.atime = s.timestamp()
	return types.NFS4_OK, &compound.ReadResult{
		EOF:  end == size,
		Data: append([]byte(nil), o.data[a.Offset:end]...),
	}
}

func (s *Server) write(st *execState, a compound.Write) (uint32, any) {
	o, status := s.currentFile(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if status := s.checkIO(a.Stateid, o); status != types.NFS4_OK {
		return status, nil
	}
	data := a.Data
	if uint64(len(data)) > s.maxIO {
		data = data[:s.maxIO]
	}
	end := a.Offset + uint64(len(data))
	if end > uint64(len(o.data)) {
		o.data = resize(o.data, end)
	}
	copy(o.data[a.Offset:], data)
	s.touch(o)
	return types.NFS4_OK, &compound.WriteResult{
		Count:     uint32(len(data)),
		Committed: types.FILE_SYNC4,
		Verifier:  s.verifier,
	}
}

func (s *Server) readDir(st *execState, a compound.ReadDir) (uint32, any) {
	dir, status := s.currentDir(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	if a.Cookie != 0 && a.Verifier != s.verifier {
		return types.NFS4ERR_NOT_SAME, nil
	}

	names := make([]string, 0, len(dir.entries))
	for name := range dir.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if a.Cookie != 0 {
		if a.Cookie < cookieBase || a.Cookie-cookieBase >= uint64(len(names)) {
			return types.NFS4ERR_BAD_COOKIE, nil
		}
		start = int(a.Cookie-cookieBase) + 1
	}
	end := len(names)
	if s.pageSize > 0 {
		end = min(end, start+s.pageSize)
	}

	res := &compound.ReadDirResult{Verifier: s.verifier, EOF: end == len(names)}
	for i := start; i < end; i++ {
		o := s.objects[dir.entries[names[i]]]
		res.Entries = append(res.Entries, compound.DirEntry{
			Cookie: uint64(i) + cookieBase,
			Name:   names[i],
			Attrs:  s.getAttrs(o, a.Attributes),
		})
	}
	dir.atime = s.timestamp()
	return types.NFS4_OK, res
}

func (s *Server) lock(st *execState, a compound.Lock) (uint32, any) {
	o, status := s.currentFile(st)
	if status != types.NFS4_OK {
		return status, nil
	}
	want := rangeOf(a.Offset, a.Length, a.Type)

	var rec *lockRec
	if a.NewLockOwner {
		if _, ok := s.clients[a.Owner.ClientID]; !ok {
			return types.NFS4ERR_STALE_CLIENTID, nil
		}
		open, ok := s.opens[a.OpenStateid.Other]
		if !ok || open.file != o.id {
			return s.stateidStatus(a.OpenStateid), nil
		}
		if a.Reclaim && !s.grace {
			return types.NFS4ERR_NO_GRACE, nil
		}
		owner := ownerKey(a.Owner)
		if denied := s.conflict(o.id, owner, want); denied != nil {
			return types.NFS4ERR_DENIED, denied
		}
		rec = &lockRec{
			seq:      seqState{known: true, next: a.LockSeqid + 1},
			stateid:  s.newStateid(),
			open:     a.OpenStateid.Other,
			file:     o.id,
			owner:    owner,
			rawOwner: a.Owner,
		}
		rec.stateid.Seqid = 0
		s.lockers[rec.stateid.Other] = rec
	} else {
		var ok bool
		rec, ok = s.lockers[a.LockStateid.Other]
		if !ok || rec.file != o.id {
			return s.stateidStatus(a.LockStateid), nil
		}
		if denied := s.conflict(o.id, rec.owner, want); denied != nil {
			return types.NFS4ERR_DENIED, denied
		}
	}

	rec.ranges = append(subtract(rec.ranges, want), want)
	rec.stateid.Seqid++
	return types.NFS4_OK, &compound.StateidResult{Stateid: rec.stateid}
}
