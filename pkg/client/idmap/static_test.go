package idmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrincipal(t *testing.T) {
	tests := []struct {
		in, name, domain string
	}{
		{"alice@EXAMPLE.COM", "alice", "EXAMPLE.COM"},
		{"1000@localdomain", "1000", "localdomain"},
		{"alice", "alice", ""},
		{"OWNER@", "OWNER@", ""},
		{"user@host@REALM", "user@host", "REALM"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, domain := ParsePrincipal(tt.in)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.domain, domain)
		})
	}
}

func TestParseNumeric(t *testing.T) {
	id, ok := ParseNumeric("1000@example.com")
	assert.True(t, ok)
	assert.Equal(t, uint32(1000), id)

	_, ok = ParseNumeric("alice")
	assert.False(t, ok)
	_, ok = ParseNumeric("99999999999")
	assert.False(t, ok)
}

func TestStaticMapper(t *testing.T) {
	m := NewStatic(StaticConfig{
		Domain: "example.com",
		Users:  map[string]uint32{"alice": 1000, "bob": 1001, "root": 0},
		Groups: map[string]uint32{"staff": 50},
	})

	assert.Equal(t, uint32(1000), m.UserID("alice@example.com"))
	assert.Equal(t, uint32(1000), m.UserID("alice@EXAMPLE.COM"))
	assert.Equal(t, uint32(1001), m.UserID("bob"))
	assert.Equal(t, uint32(0), m.UserID("root@example.com"))
	assert.Equal(t, uint32(2000), m.UserID("2000@example.com"))
	assert.Equal(t, Nobody, m.UserID("carol@example.com"))
	assert.Equal(t, Nobody, m.UserID("alice@other.org"))

	assert.Equal(t, uint32(50), m.GroupID("staff@example.com"))
	assert.Equal(t, Nobody, m.GroupID("wheel@example.com"))

	assert.Equal(t, "alice@example.com", m.Owner(1000))
	assert.Equal(t, "4242@example.com", m.Owner(4242))
	assert.Equal(t, "staff@example.com", m.OwnerGroup(50))
}

func TestStaticMapperWithoutDomain(t *testing.T) {
	m := NewStatic(StaticConfig{NobodyUID: 99, NobodyGID: 98})
	m.AddUser("zed", 7)
	m.AddUser("amy", 7)

	assert.Equal(t, "amy", m.Owner(7))
	assert.Equal(t, uint32(99), m.UserID("nobody-known"))
	assert.Equal(t, uint32(98), m.GroupID("x"))
	assert.Equal(t, "12", m.OwnerGroup(12))
}
