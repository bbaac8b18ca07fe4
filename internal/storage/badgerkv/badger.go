// Package badgerkv stores digest runs in an embedded BadgerDB.
package badgerkv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/FranksOps/newsdigest/internal/storage"
)

// ensure badgerBackend implements storage.Backend
var _ storage.Backend = (*badgerBackend)(nil)

const runPrefix = "run/"

type badgerBackend struct {
	db *badger.DB
}

// loggerAdapter routes badger's internal logging through slog.
type loggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*loggerAdapter)(nil)

func (l *loggerAdapter) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// New opens a BadgerDB at dir, creating it if needed. An empty dir opens an
// in-memory database.
func New(dir string) (storage.Backend, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &loggerAdapter{logger: slog.Default().With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerBackend{db: db}, nil
}

// runKey sorts by creation time, then ID.
func runKey(run *storage.Run) []byte {
	key := make([]byte, 0, len(runPrefix)+8+1+len(run.ID))
	key = append(key, runPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(run.CreatedAt.UnixNano()))
	key = append(key, '/')
	return append(key, run.ID...)
}

func (b *badgerBackend) Save(ctx context.Context, run *storage.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run), data)
	})
	if err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	return nil
}

func (b *badgerBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	var matched []*storage.Run

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var r storage.Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("decode run: %w", err)
			}
			if filter.Match(&r) {
				matched = append(matched, &r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}

	storage.SortNewestFirst(matched)
	return filter.Page(matched), nil
}

func (b *badgerBackend) Close() error {
	return b.db.Close()
}
