package idmap

import (
	"strconv"
	"strings"
	"sync"
)

// StaticConfig configures a StaticMapper.
type StaticConfig struct {
	// Domain is appended to names sent to the server. Empty sends bare names.
	Domain string

	// Users maps user names to uids.
	Users map[string]uint32

	// Groups maps group names to gids.
	Groups map[string]uint32

	// NobodyUID and NobodyGID are returned for unknown principals.
	// Zero values mean Nobody.
	NobodyUID uint32
	NobodyGID uint32
}

// StaticMapper maps principals with fixed tables. Numeric principals map to
// their number; unknown names map to the nobody ids; ids without a name are
// sent as numeric principals.
type StaticMapper struct {
	domain    string
	nobodyUID uint32
	nobodyGID uint32

	mu       sync.RWMutex
	users    map[string]uint32
	groups   map[string]uint32
	uidNames map[uint32]string
	gidNames map[uint32]string
}

var _ Mapper = (*StaticMapper)(nil)

// NewStatic creates a StaticMapper from cfg.
func NewStatic(cfg StaticConfig) *StaticMapper {
	m := &StaticMapper{
		domain:    cfg.Domain,
		nobodyUID: cfg.NobodyUID,
		nobodyGID: cfg.NobodyGID,
		users:     make(map[string]uint32, len(cfg.Users)),
		groups:    make(map[string]uint32, len(cfg.Groups)),
		uidNames:  make(map[uint32]string, len(cfg.Users)),
		gidNames:  make(map[uint32]string, len(cfg.Groups)),
	}
	if m.nobodyUID == 0 {
		m.nobodyUID = Nobody
	}
	if m.nobodyGID == 0 {
		m.nobodyGID = Nobody
	}
	for name, uid := range cfg.Users {
		m.AddUser(name, uid)
	}
	for name, gid := range cfg.Groups {
		m.AddGroup(name, gid)
	}
	return m
}

// AddUser registers a user name. When two names share a uid the
// lexically smaller one is sent to the server.
func (m *StaticMapper) AddUser(name string, uid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[name] = uid
	if cur, ok := m.uidNames[uid]; !ok || name < cur {
		m.uidNames[uid] = name
	}
}

// AddGroup registers a group name.
func (m *StaticMapper) AddGroup(name string, gid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[name] = gid
	if cur, ok := m.gidNames[gid]; !ok || name < cur {
		m.gidNames[gid] = name
	}
}

func (m *StaticMapper) lookup(table map[string]uint32, principal string, fallback uint32) uint32 {
	if id, ok := ParseNumeric(principal); ok {
		return id
	}
	name, domain := ParsePrincipal(principal)
	if domain != "" && m.domain != "" && !strings.EqualFold(domain, m.domain) {
		return fallback
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := table[name]; ok {
		return id
	}
	return fallback
}

func (m *StaticMapper) principal(names map[uint32]string, id uint32) string {
	m.mu.RLock()
	name, ok := names[id]
	m.mu.RUnlock()
	if !ok {
		name = strconv.FormatUint(uint64(id), 10)
	}
	if m.domain == "" {
		return name
	}
	return name + "@" + m.domain
}

func (m *StaticMapper) UserID(owner string) uint32 {
	return m.lookup(m.users, owner, m.nobodyUID)
}

func (m *StaticMapper) GroupID(group string) uint32 {
	return m.lookup(m.groups, group, m.nobodyGID)
}

func (m *StaticMapper) Owner(uid uint32) string {
	return m.principal(m.uidNames, uid)
}

func (m *StaticMapper) OwnerGroup(gid uint32) string {
	return m.principal(m.gidNames, gid)
}
