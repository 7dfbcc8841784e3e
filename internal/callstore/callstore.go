// Package callstore keeps encoded calls by their call hash.
//
// proxy.announce and multisig.approve_as_multi put only a call hash on
// chain. Executing the call later needs the exact original bytes, so every
// announced or approved call is written here first.
package callstore

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/storage"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// ErrUnknownCall is returned when no call is stored under a hash.
var ErrUnknownCall = errors.New("unknown call hash")

// Store maps call hashes to encoded calls.
type Store struct {
	db    storage.DB
	calls *storage.Bucket
	notes *storage.Bucket
}

// New creates a Store on db. The store owns the "callstore" bucket.
func New(db storage.DB) *Store {
	ns := storage.NewBucket(db, "callstore")
	return &Store{
		db:    db,
		calls: ns.Bucket("call"),
		notes: ns.Bucket("note"),
	}
}

// Put stores an encoded call and returns its hash.
func (s *Store) Put(call []byte) (types.Hash, error) {
	h := extrinsic.Hash(call)
	if err := s.calls.Put(h[:], call); err != nil {
		return types.Hash{}, fmt.Errorf("store call %s: %w", h, err)
	}
	log.Storage.Debug().Str("call_hash", h.String()).Int("size", len(call)).Msg("Stored call")
	return h, nil
}

// PutNote stores an encoded call with a short human-readable note, such as
// the operation that produced it.
func (s *Store) PutNote(call []byte, note string) (types.Hash, error) {
	h, err := s.Put(call)
	if err != nil {
		return h, err
	}
	if err := s.notes.Put(h[:], []byte(note)); err != nil {
		return h, fmt.Errorf("store note %s: %w", h, err)
	}
	return h, nil
}

// Get returns the call stored under h.
func (s *Store) Get(h types.Hash) ([]byte, error) {
	call, err := s.calls.Get(h[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, h)
	}
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", h, err)
	}
	// A corrupted entry must not be handed out as the announced call.
	if extrinsic.Hash(call) != h {
		return nil, fmt.Errorf("stored call does not hash to %s", h)
	}
	return call, nil
}

// Note returns the note stored with h, or "" when there is none.
func (s *Store) Note(h types.Hash) string {
	b, err := s.notes.Get(h[:])
	if err != nil {
		return ""
	}
	return string(b)
}

// Has reports whether a call is stored under h.
func (s *Store) Has(h types.Hash) (bool, error) {
	return s.calls.Has(h[:])
}

// Delete removes the call stored under h.
func (s *Store) Delete(h types.Hash) error {
	if err := s.calls.Delete(h[:]); err != nil {
		return err
	}
	return s.notes.Delete(h[:])
}

// Hashes returns the hashes of all stored calls.
func (s *Store) Hashes() ([]types.Hash, error) {
	var out []types.Hash
	err := s.calls.ForEach(nil, func(key, _ []byte) error {
		if len(key) != types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], key)
		out = append(out, h)
		return nil
	})
	return out, err
}

// Len returns the number of stored calls.
func (s *Store) Len() (int, error) {
	return s.calls.Count()
}

// Compact reclaims space freed by Delete when the backend supports it.
func (s *Store) Compact() (bool, error) {
	return storage.Compact(s.db)
}
