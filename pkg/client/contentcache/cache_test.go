package contentcache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a server-side file image.
type fakeBackend struct {
	mu     sync.Mutex
	data   []byte
	reads  int
	writes []uint64
}

func (b *fakeBackend) ReadBlock(_ context.Context, off uint64, p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if off >= uint64(len(b.data)) {
		return 0, nil
	}
	return copy(p, b.data[off:]), nil
}

func (b *fakeBackend) WriteBlock(_ context.Context, off uint64, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if need := off + uint64(len(p)); need > uint64(len(b.data)) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], p)
	b.writes = append(b.writes, off)
	return nil
}

func providers(t *testing.T) map[string]Provider {
	t.Helper()
	bp, err := NewBadger(context.Background(), BadgerConfig{InMemory: true, BlockSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bp.Close() })
	return map[string]Provider{
		"memory": NewMemory(8),
		"badger": bp,
	}
}

func TestReadMissesThroughOncePerBlock(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			be := &fakeBackend{data: []byte("0123456789abcdefXYZ")}
			f, err := p.Create(ctx, Key{Dev: 1, FileID: 2}, uint64(len(be.data)), be)
			require.NoError(t, err)

			buf := make([]byte, 10)
			n, err := f.ReadAt(ctx, buf, 4)
			require.NoError(t, err)
			assert.Equal(t, 10, n)
			assert.Equal(t, "456789abcd", string(buf))
			assert.Equal(t, 2, be.reads)

			n, err = f.ReadAt(ctx, buf, 0)
			require.NoError(t, err)
			assert.Equal(t, "0123456789", string(buf[:n]))
			assert.Equal(t, 2, be.reads, "blocks are served from cache")

			n, err = f.ReadAt(ctx, buf, 15)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "fXYZ", string(buf[:n]))

			_, err = f.ReadAt(ctx, buf, 19)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestWriteSyncAndTruncate(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			be := &fakeBackend{}
			f, err := p.Create(ctx, Key{Dev: 1, FileID: 3}, 0, be)
			require.NoError(t, err)

			n, err := f.WriteAt(ctx, []byte("hello, world!"), 0)
			require.NoError(t, err)
			assert.Equal(t, 13, n)
			assert.Equal(t, uint64(13), f.Size())
			assert.True(t, f.Dirty())
			assert.Empty(t, be.data, "writes stay in the cache until Sync")

			require.NoError(t, f.Sync(ctx))
			assert.False(t, f.Dirty())
			assert.Equal(t, "hello, world!", string(be.data))
			assert.Equal(t, []uint64{0, 8}, be.writes)

			require.NoError(t, f.SetSize(5))
			buf := make([]byte, 16)
			n, err = f.ReadAt(ctx, buf, 0)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "hello", string(buf[:n]))

			// Growing exposes zeros, not the truncated bytes.
			be.data = be.data[:5]
			require.NoError(t, f.SetSize(10))
			n, _ = f.ReadAt(ctx, buf, 0)
			assert.Equal(t, append([]byte("hello"), 0, 0, 0, 0, 0), buf[:n])
		})
	}
}

func TestSparseWrite(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			be := &fakeBackend{}
			f, err := p.Create(ctx, Key{Dev: 9, FileID: 9}, 0, be)
			require.NoError(t, err)

			_, err = f.WriteAt(ctx, []byte("ab"), 3)
			require.NoError(t, err)
			_, err = f.WriteAt(ctx, []byte("z"), 20)
			require.NoError(t, err)

			buf := make([]byte, 21)
			n, err := f.ReadAt(ctx, buf, 0)
			require.NoError(t, err)
			want := make([]byte, 21)
			copy(want[3:], "ab")
			want[20] = 'z'
			assert.Equal(t, want, buf[:n])
		})
	}
}

func TestDeleteAndRecreate(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Dev: 5, FileID: 5}
			be := &fakeBackend{data: bytes.Repeat([]byte{'x'}, 8)}

			f, err := p.Create(ctx, key, 8, be)
			require.NoError(t, err)
			_, err = f.WriteAt(ctx, []byte("yy"), 0)
			require.NoError(t, err)
			require.NoError(t, f.Delete())
			require.NoError(t, f.Delete())

			_, err = f.ReadAt(ctx, make([]byte, 1), 0)
			assert.ErrorIs(t, err, ErrDeleted)
			_, err = f.WriteAt(ctx, []byte("a"), 0)
			assert.ErrorIs(t, err, ErrDeleted)
			assert.NoError(t, f.Sync(ctx))

			g, err := p.Create(ctx, key, 8, be)
			require.NoError(t, err)
			buf := make([]byte, 8)
			_, err = g.ReadAt(ctx, buf, 0)
			require.NoError(t, err)
			assert.Equal(t, "xxxxxxxx", string(buf), "recreated cache does not see old blocks")
		})
	}
}

func TestProviderNames(t *testing.T) {
	for name, p := range providers(t) {
		assert.Equal(t, name, p.Name())
	}
	assert.Equal(t, "1:2", Key{Dev: 1, FileID: 2}.String())
}
