package contentcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const badgerKeyPrefix = "cc/"

// BadgerConfig configures a Badger-backed provider.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory (tests, diskless clients).
	InMemory bool

	// BlockSize is the cache block size. Zero selects DefaultBlockSize.
	BlockSize uint64

	// BadgerOptions overrides every other setting when non-nil.
	BadgerOptions *badger.Options
}

// Badger keeps blocks in a BadgerDB database so cached content survives
// memory pressure and, for a persistent Path, client restarts.
type Badger struct {
	db        *badger.DB
	blockSize uint64
}

var _ Provider = (*Badger)(nil)

// NewBadger opens the database described by cfg.
func NewBadger(ctx context.Context, cfg BadgerConfig) (*Badger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.BadgerOptions != nil {
		opts = *cfg.BadgerOptions
	} else {
		if cfg.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			opts = badger.DefaultOptions(cfg.Path)
		}
		// Content blocks are mostly incompressible and read back whole.
		opts = opts.WithLoggingLevel(badger.WARNING).
			WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open content cache at %q: %w", cfg.Path, err)
	}
	return &Badger{db: db, blockSize: cfg.BlockSize}, nil
}

func (b *Badger) Name() string { return "badger" }

func (b *Badger) Close() error { return b.db.Close() }

func (b *Badger) Create(_ context.Context, key Key, size uint64, backend Backend) (File, error) {
	blocks := &badgerBlocks{db: b.db, prefix: filePrefix(key)}
	if err := blocks.dropAll(); err != nil {
		return nil, err
	}
	return newFile(key, b.blockSize, size, backend, blocks), nil
}

func filePrefix(key Key) []byte {
	p := make([]byte, 0, len(badgerKeyPrefix)+16)
	p = append(p, badgerKeyPrefix...)
	p = binary.BigEndian.AppendUint64(p, key.Dev)
	p = binary.BigEndian.AppendUint64(p, key.FileID)
	return p
}

type badgerBlocks struct {
	db     *badger.DB
	prefix []byte
}

func (s *badgerBlocks) key(idx uint64) []byte {
	k := make([]byte, 0, len(s.prefix)+8)
	k = append(k, s.prefix...)
	return binary.BigEndian.AppendUint64(k, idx)
}

func (s *badgerBlocks) get(idx uint64) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(idx))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache block: %w", err)
	}
	return data, true, nil
}

func (s *badgerBlocks) put(idx uint64, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(idx), data)
	})
}

func (s *badgerBlocks) truncate(idx uint64) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.key(idx)); it.ValidForPrefix(s.prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *badgerBlocks) dropAll() error {
	return s.db.DropPrefix(s.prefix)
}
