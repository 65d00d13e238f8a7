// Package badger keeps a journal of scheduler cycles in BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
)

var cyclePrefix = []byte("cycle/")

// Journal stores aggregation cycles ordered by start time
type Journal struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing, or when no journal directory is configured)
	InMemory bool
}

// New opens the journal
func New(cfg Config) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	const memTableSize = int64(16 << 20)

	// Cycle reports are small and few; keep badger's footprint bounded.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Journal{db: db}, nil
}

// Save records a finished cycle.
func (j *Journal) Save(ctx context.Context, c *aggregation.Cycle) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cycle: %w", err)
	}
	key := makeKey(c.Started, c.ID)

	return j.run(ctx, "save", func() error {
		return j.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, value)
		})
	})
}

// Recent returns up to limit cycles, newest first. limit <= 0 returns all.
func (j *Journal) Recent(ctx context.Context, limit int) ([]aggregation.Cycle, error) {
	var out []aggregation.Cycle
	err := j.run(ctx, "recent", func() error {
		return j.db.View(func(txn *badger.Txn) error {
			return iterateNewest(txn, true, func(item *badger.Item) (bool, error) {
				if err := ctx.Err(); err != nil {
					return false, err
				}
				var c aggregation.Cycle
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &c)
				}); err != nil {
					return false, fmt.Errorf("failed to decode cycle: %w", err)
				}
				out = append(out, c)
				return limit <= 0 || len(out) < limit, nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes all but the newest keep cycles and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int, error) {
	var removed int
	err := j.run(ctx, "prune", func() error {
		var stale [][]byte
		if err := j.db.View(func(txn *badger.Txn) error {
			seen := 0
			return iterateNewest(txn, false, func(item *badger.Item) (bool, error) {
				seen++
				if seen > keep {
					stale = append(stale, item.KeyCopy(nil))
				}
				return true, nil
			})
		}); err != nil {
			return err
		}

		wb := j.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range stale {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		if err := wb.Flush(); err != nil {
			return err
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Len returns the number of stored cycles.
func (j *Journal) Len(ctx context.Context) (int, error) {
	var n int
	err := j.run(ctx, "len", func() error {
		return j.db.View(func(txn *badger.Txn) error {
			return iterateNewest(txn, false, func(*badger.Item) (bool, error) {
				n++
				return true, nil
			})
		})
	})
	return n, err
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (j *Journal) RunGC(discardRatio float64) error {
	return j.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly
func (j *Journal) Close() error {
	return j.db.Close()
}

// run executes fn and stops waiting for it when ctx is done.
func (j *Journal) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// iterateNewest walks cycle keys from newest to oldest until fn returns false.
func iterateNewest(txn *badger.Txn, values bool, fn func(*badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = values
	opts.Prefix = cyclePrefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(seekLast()); it.ValidForPrefix(cyclePrefix); it.Next() {
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// makeKey creates a sortable key: prefix + start time + id hash
// Format: [cycle/][started unix nanos (8 bytes)][xxhash(id) (8 bytes)]
func makeKey(started time.Time, id string) []byte {
	key := make([]byte, len(cyclePrefix)+16)
	n := copy(key, cyclePrefix)
	binary.BigEndian.PutUint64(key[n:n+8], uint64(started.UnixNano()))
	binary.BigEndian.PutUint64(key[n+8:], xxhash.Sum64String(id))
	return key
}

func seekLast() []byte {
	key := make([]byte, len(cyclePrefix)+16)
	n := copy(key, cyclePrefix)
	for i := n; i < len(key); i++ {
		key[i] = 0xFF
	}
	return key
}
