package contentcache

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps blocks in process memory.
type Memory struct {
	blockSize uint64
}

var _ Provider = (*Memory)(nil)

// NewMemory returns an in-memory provider. Zero blockSize selects
// DefaultBlockSize.
func NewMemory(blockSize uint64) *Memory {
	return &Memory{blockSize: blockSize}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error { return nil }

func (m *Memory) Create(_ context.Context, key Key, size uint64, backend Backend) (File, error) {
	return newFile(key, m.blockSize, size, backend, &memoryBlocks{blocks: make(map[uint64][]byte)}), nil
}

type memoryBlocks struct {
	mu     sync.Mutex
	blocks map[uint64][]byte
}

func (s *memoryBlocks) get(idx uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[idx]
	return slices.Clone(b), ok, nil
}

func (s *memoryBlocks) put(idx uint64, data []byte) error {
	s.mu.Lock()
	s.blocks[idx] = slices.Clone(data)
	s.mu.Unlock()
	return nil
}

func (s *memoryBlocks) truncate(idx uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blocks {
		if i >= idx {
			delete(s.blocks, i)
		}
	}
	return nil
}

func (s *memoryBlocks) dropAll() error {
	s.mu.Lock()
	clear(s.blocks)
	s.mu.Unlock()
	return nil
}
