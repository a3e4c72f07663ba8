package compoundtest

import (
	"encoding/binary"
	"math"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound"
)

type stateOther = [types.NFS4_OTHER_SIZE]byte

// seqState is the replay window of one open-owner or lock-owner. Until the
// first sequenced operation the server accepts any seqid.
type seqState struct {
	known bool
	next  uint32
}

type openOwner struct {
	seq       seqState
	confirmed bool
}

type openRec struct {
	stateid   types.Stateid4
	file      uint64
	owner     string
	clientID  uint64
	access    uint32
	confirmed bool
}

type lockRange struct {
	offset uint64
	end    uint64 // exclusive, math.MaxUint64 for "to EOF"
	typ    uint32
}

type lockRec struct {
	seq      seqState
	stateid  types.Stateid4
	open     stateOther
	file     uint64
	owner    string
	rawOwner compound.StateOwner
	ranges   []lockRange
}

type delegRec struct {
	stateid types.Stateid4
	file    uint64
	typ     uint32
}

func ownerKey(o compound.StateOwner) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], o.ClientID)
	return string(b[:]) + string(o.Owner)
}

func (s *Server) newStateid() types.Stateid4 {
	s.nextState++
	var other stateOther
	binary.BigEndian.PutUint32(other[:4], s.epoch)
	binary.BigEndian.PutUint64(other[4:], s.nextState)
	return types.Stateid4{Seqid: 1, Other: other}
}

// stateidStatus reports why a stateid that is not in any table is invalid.
func (s *Server) stateidStatus(id types.Stateid4) uint32 {
	if binary.BigEndian.Uint32(id.Other[:4]) != s.epoch {
		return types.NFS4ERR_STALE_STATEID
	}
	return types.NFS4ERR_BAD_STATEID
}

// checkIO validates a stateid used by READ, WRITE or SETATTR on o.
func (s *Server) checkIO(id types.Stateid4, o *object) uint32 {
	if id.IsAnonymous() {
		return types.NFS4_OK
	}
	if rec, ok := s.opens[id.Other]; ok && rec.file == o.id {
		return types.NFS4_OK
	}
	if rec, ok := s.lockers[id.Other]; ok && rec.file == o.id {
		return types.NFS4_OK
	}
	if rec, ok := s.delegs[id.Other]; ok && rec.file == o.id {
		return types.NFS4_OK
	}
	return s.stateidStatus(id)
}

// sequenced returns the replay window the op is checked against and the
// seqid it carries, or nil for operations that are not sequenced.
func (s *Server) sequenced(op compound.Op) (*seqState, uint32) {
	switch a := op.(type) {
	case compound.Open:
		key := ownerKey(a.Owner)
		oo, ok := s.owners[key]
		if !ok {
			oo = &openOwner{}
			s.owners[key] = oo
		}
		return &oo.seq, a.Seqid
	case compound.OpenConfirm:
		if oo := s.ownerOfOpen(a.Stateid.Other); oo != nil {
			return &oo.seq, a.Seqid
		}
	case compound.Close:
		if oo := s.ownerOfOpen(a.Stateid.Other); oo != nil {
			return &oo.seq, a.Seqid
		}
	case compound.Lock:
		if a.NewLockOwner {
			if oo := s.ownerOfOpen(a.OpenStateid.Other); oo != nil {
				return &oo.seq, a.OpenSeqid
			}
			return nil, 0
		}
		if rec, ok := s.lockers[a.LockStateid.Other]; ok {
			return &rec.seq, a.LockSeqid
		}
	case compound.LockU:
		if rec, ok := s.lockers[a.LockStateid.Other]; ok {
			return &rec.seq, a.Seqid
		}
	}
	return nil, 0
}

func (s *Server) ownerOfOpen(other stateOther) *openOwner {
	rec, ok := s.opens[other]
	if !ok {
		return nil
	}
	return s.owners[rec.owner]
}

func rangeOf(offset, length uint64, typ uint32) lockRange {
	end := uint64(math.MaxUint64)
	if length != math.MaxUint64 && offset <= math.MaxUint64-length {
		end = offset + length
	}
	return lockRange{offset: offset, end: end, typ: typ}
}

func (r lockRange) overlaps(o lockRange) bool {
	return r.offset < o.end && o.offset < r.end
}

func isWrite(typ uint32) bool {
	return typ == types.WRITE_LT || typ == types.WRITEW_LT
}

// conflict finds a lock held by another owner that blocks want on file.
func (s *Server) conflict(file uint64, owner string, want lockRange) *compound.LockDenied {
	for _, rec := range s.lockers {
		if rec.file != file || rec.owner == owner {
			continue
		}
		for _, r := range rec.ranges {
			if !r.overlaps(want) || (!isWrite(r.typ) && !isWrite(want.typ)) {
				continue
			}
			length := uint64(math.MaxUint64)
			if r.end != math.MaxUint64 {
				length = r.end - r.offset
			}
			return &compound.LockDenied{Offset: r.offset, Length: length, Type: r.typ, Owner: rec.rawOwner}
		}
	}
	return nil
}

// subtract removes cut from every range in rs, splitting where needed.
func subtract(rs []lockRange, cut lockRange) []lockRange {
	var out []lockRange
	for _, r := range rs {
		if !r.overlaps(cut) {
			out = append(out, r)
			continue
		}
		if r.offset < cut.offset {
			out = append(out, lockRange{offset: r.offset, end: cut.offset, typ: r.typ})
		}
		if cut.end < r.end {
			out = append(out, lockRange{offset: cut.end, end: r.end, typ: r.typ})
		}
	}
	return out
}

func (s *Server) locksOf(open stateOther) int {
	n := 0
	for _, rec := range s.lockers {
		if rec.open == open {
			n += len(rec.ranges)
		}
	}
	return n
}

// Opens returns the number of open stateids.
func (s *Server) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opens)
}

// Locks returns the number of byte ranges locked on p.
func (s *Server) Locks(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.mustWalk(p)
	n := 0
	for _, rec := range s.lockers {
		if rec.file == o.id {
			n += len(rec.ranges)
		}
	}
	return n
}

// Delegations returns the number of outstanding delegations.
func (s *Server) Delegations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delegs)
}

// Clients returns the number of known client ids.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
