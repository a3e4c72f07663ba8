package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFileHandle(t *testing.T) {
	a := MustFileHandle([]byte{1, 2, 3})
	b := MustFileHandle([]byte{1, 2, 3})
	c := MustFileHandle([]byte{1, 2, 3, 0})

	assert.True(t, a.IsValid())
	assert.Equal(t, a, b)
	assert.True(t, a == b)
	assert.False(t, a == c, "trailing zero byte must not compare equal")
	assert.Equal(t, "010203", a.String())
	assert.Equal(t, 3, a.Len())

	assert.False(t, InvalidFileHandle.IsValid())
	assert.Equal(t, "<invalid>", InvalidFileHandle.String())

	_, err := NewFileHandle(nil)
	assert.Error(t, err)
	_, err = NewFileHandle(make([]byte, NFS4_FHSIZE+1))
	assert.Error(t, err)

	raw := a.Bytes()
	raw[0] = 9
	assert.Equal(t, byte(1), a.Bytes()[0], "Bytes must return a copy")
}

func TestChangeInfoApplies(t *testing.T) {
	tests := []struct {
		name    string
		ci      ChangeInfo
		current uint64
		want    bool
	}{
		{"AtomicMatching", ChangeInfo{Atomic: true, Before: 5, After: 6}, 5, true},
		{"AtomicStale", ChangeInfo{Atomic: true, Before: 4, After: 6}, 5, false},
		{"NonAtomicMatching", ChangeInfo{Atomic: false, Before: 5, After: 6}, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ci.Applies(tt.current))
		})
	}
}

func TestStateid(t *testing.T) {
	assert.True(t, AnonymousStateid.IsAnonymous())
	s := Stateid4{Seqid: 1}
	s.Other[0] = 0xab
	assert.False(t, s.IsAnonymous())
	assert.Equal(t, "1:ab0000000000000000000000", s.String())
}

func TestNFS4Time(t *testing.T) {
	now := time.Unix(1700000000, 123)
	assert.True(t, TimeFrom(now).Time().Equal(now))
}

func TestNFS4Error(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewError(NFS4ERR_NOENT, OP_LOOKUP))

	assert.True(t, errors.Is(err, unix.ENOENT))
	assert.False(t, errors.Is(err, unix.EACCES))
	assert.True(t, errors.Is(err, &NFS4Error{Status: NFS4ERR_NOENT}))
	assert.True(t, IsStatus(err, NFS4ERR_NOENT))
	assert.Equal(t, uint32(NFS4ERR_NOENT), StatusOf(err))
	assert.Equal(t, uint32(NFS4_OK), StatusOf(nil))
	assert.Equal(t, uint32(NFS4ERR_SERVERFAULT), StatusOf(errors.New("transport down")))
	assert.Contains(t, err.Error(), "LOOKUP failed: NFS4ERR_NOENT")

	var nerr *NFS4Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, unix.ENOENT, nerr.Errno())
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, IsFileHandleInvalid(NFS4ERR_FHEXPIRED))
	assert.True(t, IsFileHandleInvalid(NFS4ERR_BADHANDLE))
	assert.False(t, IsFileHandleInvalid(NFS4ERR_STALE))

	assert.True(t, IncrementsSequence(NFS4_OK))
	assert.True(t, IncrementsSequence(NFS4ERR_DENIED))
	assert.False(t, IncrementsSequence(NFS4ERR_BAD_SEQID))
	assert.False(t, IncrementsSequence(NFS4ERR_STALE_CLIENTID))

	assert.Equal(t, unix.ESTALE, StatusToErrno(NFS4ERR_STALE))
	assert.Equal(t, unix.EIO, StatusToErrno(NFS4ERR_SERVERFAULT))
	assert.Equal(t, "NFS4ERR_DELAY", StatusName(NFS4ERR_DELAY))
	assert.Equal(t, "NFS4ERR_4242", StatusName(4242))
	assert.Equal(t, "OPEN_CONFIRM", OpName(OP_OPEN_CONFIRM))
	assert.Equal(t, "UNKNOWN", OpName(999))
}
