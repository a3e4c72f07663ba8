// Package idmap translates between numeric Unix ids and the NFSv4
// "name@domain" principals carried in the owner and owner_group
// attributes.
package idmap

import (
	"strconv"
	"strings"
)

// Nobody is the fallback uid and gid for principals that cannot be mapped.
const Nobody uint32 = 65534

// Mapper converts owner and group principals to numeric ids and back.
// Implementations must be safe for concurrent use.
type Mapper interface {
	// UserID maps an owner principal (e.g. "alice@example.com") to a uid.
	UserID(owner string) uint32

	// GroupID maps an owner_group principal to a gid.
	GroupID(group string) uint32

	// Owner maps a uid to the principal sent to the server.
	Owner(uid uint32) string

	// OwnerGroup maps a gid to the principal sent to the server.
	OwnerGroup(gid uint32) string
}

// ParsePrincipal splits an NFSv4 principal string into name and domain parts.
//
// Examples:
//   - "alice@EXAMPLE.COM" -> ("alice", "EXAMPLE.COM")
//   - "1000@localdomain" -> ("1000", "localdomain")
//   - "alice" -> ("alice", "")
//   - "OWNER@" -> ("OWNER@", "")
func ParsePrincipal(principal string) (name, domain string) {
	idx := strings.LastIndex(principal, "@")
	if idx < 0 || idx == len(principal)-1 {
		return principal, ""
	}
	return principal[:idx], principal[idx+1:]
}

// ParseNumeric returns the id carried by a principal whose name part is a
// decimal number, as servers send when they have no name for an id.
func ParseNumeric(principal string) (uint32, bool) {
	name, _ := ParsePrincipal(principal)
	if name == "" || name[0] < '0' || name[0] > '9' {
		return 0, false
	}
	id, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
