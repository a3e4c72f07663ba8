// Package contentcache caches file content in fixed-size blocks keyed by
// (device, file id). Writes are held dirty until Sync pushes them to the
// Backend; reads miss through to the Backend one block at a time.
package contentcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/nfs4client/internal/bytesize"
)

// DefaultBlockSize is used when a provider is created with a zero block size.
const DefaultBlockSize = 64 * bytesize.KiB

// ErrDeleted is returned by operations on a deleted File.
var ErrDeleted = errors.New("content cache file deleted")

// Key identifies the cached content of one file.
type Key struct {
	Dev    uint64
	FileID uint64
}

func (k Key) String() string { return fmt.Sprintf("%d:%d", k.Dev, k.FileID) }

// Backend moves block data between the cache and the server.
type Backend interface {
	// ReadBlock fills p with file data starting at off and returns the
	// number of bytes read. A short count means end of file.
	ReadBlock(ctx context.Context, off uint64, p []byte) (int, error)

	// WriteBlock stores p at off.
	WriteBlock(ctx context.Context, off uint64, p []byte) error
}

// Provider creates per-file caches.
type Provider interface {
	// Create returns an empty cache for key sized to size bytes. Any
	// content left over from an earlier file with the same key is dropped.
	Create(ctx context.Context, key Key, size uint64, backend Backend) (File, error)

	// Name identifies the provider in logs.
	Name() string

	Close() error
}

// File is the content cache of one file.
type File interface {
	ReadAt(ctx context.Context, p []byte, off uint64) (int, error)
	WriteAt(ctx context.Context, p []byte, off uint64) (int, error)
	SetSize(size uint64) error
	Size() uint64
	Dirty() bool
	Sync(ctx context.Context) error
	Delete() error
}

// blockStore is the storage a file keeps its blocks in.
type blockStore interface {
	get(idx uint64) ([]byte, bool, error)
	put(idx uint64, data []byte) error
	// truncate drops every block at or after idx.
	truncate(idx uint64) error
	dropAll() error
}

type file struct {
	key       Key
	blockSize uint64
	backend   Backend
	store     blockStore

	mu      sync.Mutex
	size    uint64
	dirty   map[uint64]struct{}
	deleted bool
}

func newFile(key Key, blockSize, size uint64, backend Backend, store blockStore) *file {
	if blockSize == 0 {
		blockSize = uint64(DefaultBlockSize)
	}
	return &file{
		key:       key,
		blockSize: blockSize,
		backend:   backend,
		store:     store,
		size:      size,
		dirty:     make(map[uint64]struct{}),
	}
}

func (f *file) Size() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *file) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty) != 0
}

// blockLen is the number of valid bytes in block idx. Caller holds f.mu.
func (f *file) blockLen(idx uint64) uint64 {
	start := idx * f.blockSize
	if start >= f.size {
		return 0
	}
	return min(f.blockSize, f.size-start)
}

// load returns block idx, fetching it from the backend on a miss. Caller
// holds f.mu.
func (f *file) load(ctx context.Context, idx uint64) ([]byte, error) {
	data, ok, err := f.store.get(idx)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	want := f.blockLen(idx)
	buf := make([]byte, want)
	if want > 0 && f.backend != nil {
		n, err := f.backend.ReadBlock(ctx, idx*f.blockSize, buf)
		if err != nil {
			return nil, err
		}
		clear(buf[n:])
	}
	if err := f.store.put(idx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *file) ReadAt(ctx context.Context, p []byte, off uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return 0, ErrDeleted
	}
	if off >= f.size {
		return 0, io.EOF
	}

	end := min(off+uint64(len(p)), f.size)
	n := 0
	for pos := off; pos < end; {
		idx := pos / f.blockSize
		data, err := f.load(ctx, idx)
		if err != nil {
			return n, err
		}
		inBlock := pos - idx*f.blockSize
		chunk := min(end-pos, f.blockSize-inBlock)
		seg := p[n : n+int(chunk)]
		clear(seg)
		if inBlock < uint64(len(data)) {
			copy(seg, data[inBlock:])
		}
		n += int(chunk)
		pos += chunk
	}
	if end < off+uint64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(ctx context.Context, p []byte, off uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return 0, ErrDeleted
	}

	end := off + uint64(len(p))
	n := 0
	for pos := off; pos < end; {
		idx := pos / f.blockSize
		inBlock := pos - idx*f.blockSize
		chunk := min(end-pos, f.blockSize-inBlock)

		var data []byte
		if inBlock == 0 && chunk == f.blockSize {
			data = make([]byte, f.blockSize)
		} else {
			loaded, err := f.load(ctx, idx)
			if err != nil {
				return n, err
			}
			data = loaded
		}
		if need := inBlock + chunk; uint64(len(data)) < need {
			grown := make([]byte, need)
			copy(grown, data)
			data = grown
		}
		copy(data[inBlock:], p[n:n+int(chunk)])
		if err := f.store.put(idx, data); err != nil {
			return n, err
		}
		f.dirty[idx] = struct{}{}
		n += int(chunk)
		pos += chunk
	}
	if end > f.size {
		f.size = end
	}
	return n, nil
}

func (f *file) SetSize(size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrDeleted
	}
	if size < f.size {
		first := (size + f.blockSize - 1) / f.blockSize
		if err := f.store.truncate(first); err != nil {
			return err
		}
		for idx := range f.dirty {
			if idx >= first {
				delete(f.dirty, idx)
			}
		}
		if rem := size % f.blockSize; rem != 0 {
			last := size / f.blockSize
			data, ok, err := f.store.get(last)
			if err != nil {
				return err
			}
			if ok && uint64(len(data)) > rem {
				if err := f.store.put(last, data[:rem]); err != nil {
					return err
				}
			}
		}
	}
	f.size = size
	return nil
}

func (f *file) Sync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted || len(f.dirty) == 0 {
		return nil
	}

	idxs := make([]uint64, 0, len(f.dirty))
	for idx := range f.dirty {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

	for _, idx := range idxs {
		data, ok, err := f.store.get(idx)
		if err != nil {
			return err
		}
		valid := f.blockLen(idx)
		if !ok || valid == 0 {
			delete(f.dirty, idx)
			continue
		}
		if uint64(len(data)) > valid {
			data = data[:valid]
		}
		if err := f.backend.WriteBlock(ctx, idx*f.blockSize, data); err != nil {
			return fmt.Errorf("write back block %d of %s: %w", idx, f.key, err)
		}
		delete(f.dirty, idx)
	}
	return nil
}

func (f *file) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return nil
	}
	f.deleted = true
	clear(f.dirty)
	return f.store.dropAll()
}
