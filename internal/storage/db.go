// Package storage provides key/value database abstractions.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Open opens a database of the named backend. path is ignored for memory.
func Open(backend, path string) (DB, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendBadger:
		if path == "" {
			return nil, fmt.Errorf("badger backend requires a path")
		}
		db, err := NewBadger(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Compacter is implemented by backends that can reclaim deleted space.
type Compacter interface {
	Compact() (bool, error)
}

// Compact compacts db if its backend supports it, and reports whether
// anything was reclaimed.
func Compact(db DB) (bool, error) {
	c, ok := db.(Compacter)
	if !ok {
		return false, nil
	}
	return c.Compact()
}
