package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/dgraph-io/badger/v4"
)

// Call entries are a few hundred bytes and are written a handful of times
// per announcement, so the store runs with small tables.
const (
	badgerMemTableSize = 8 << 20
	badgerVlogFileSize = 16 << 20
	badgerVlogGCRatio  = 0.5
)

// BadgerDB implements DB on Badger.
type BadgerDB struct {
	db   *badger.DB
	path string
}

// NewBadger opens (or creates) a Badger database at path. Writes are synced
// before they return: a call lost after its hash went on chain cannot be
// executed or checked.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithMemTableSize(badgerMemTableSize).
		WithValueLogFileSize(badgerVlogFileSize)

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") ||
			strings.Contains(err.Error(), "resource temporarily unavailable") {
			return nil, fmt.Errorf("call store at %s is in use by another proxyguard process: %w", path, err)
		}
		return nil, fmt.Errorf("open call store at %s: %w", path, err)
	}
	log.Storage.Debug().Str("path", path).Msg("Opened badger database")
	return &BadgerDB{db: db, path: path}, nil
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Set(key, value) }); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (b *BadgerDB) Delete(key []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ForEach visits keys with the given prefix in byte order.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compact reclaims value log space left by deleted calls. It returns
// false when there was nothing worth rewriting.
func (b *BadgerDB) Compact() (bool, error) {
	err := b.db.RunValueLogGC(badgerVlogGCRatio)
	switch {
	case err == nil:
		log.Storage.Info().Str("path", b.path).Msg("Value log compacted")
		return true, nil
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		return false, nil
	default:
		return false, fmt.Errorf("badger gc: %w", err)
	}
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's own messages to the storage logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	log.Storage.Error().Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	log.Storage.Warn().Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Infof(f string, v ...interface{}) {
	log.Storage.Debug().Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Debugf(f string, v ...interface{}) {
	log.Storage.Trace().Msgf(strings.TrimSpace(f), v...)
}
