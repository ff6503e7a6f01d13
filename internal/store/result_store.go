// Package store persists extraction outcomes keyed by segment content, so a
// re-fetched segment or another session playing the same content does not
// reach the verifier again.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"c2pastreamd/internal/c2pa"
)

const keyPrefix = "res:"

// Options configures the result store.
type Options struct {
	// Path of the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// TTL of an entry; zero keeps entries until the store is deleted.
	TTL time.Duration
}

// Entry is a cached extraction outcome. A nil Manifest means the segment
// carries no manifest.
type Entry struct {
	Manifest *c2pa.Manifest `cbor:"1,keyasint,omitempty"`
	StoredAt time.Time      `cbor:"2,keyasint"`
}

// ResultStore is a badger-backed cache of extraction outcomes.
type ResultStore struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) the store.
func Open(opts Options) (*ResultStore, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case opts.Path != "":
		bopts = badger.DefaultOptions(opts.Path)
	default:
		return nil, errors.New("result store needs a path or in-memory mode")
	}

	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &ResultStore{db: db, ttl: opts.TTL}, nil
}

// Close releases the underlying database.
func (s *ResultStore) Close() error { return s.db.Close() }

// Key derives the store key of an (init, media) pair from their digests.
func Key(init, media []byte) []byte {
	ih := sha256.Sum256(init)
	mh := sha256.Sum256(media)
	return []byte(keyPrefix + hex.EncodeToString(ih[:]) + hex.EncodeToString(mh[:]))
}

// Get returns the entry stored under key. The bool is false on a miss.
func (s *ResultStore) Get(key []byte) (Entry, bool, error) {
	var out Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return c2pa.DecodeCBOR(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read result %s: %w", key, err)
	}
	return out, true, nil
}

// Put stores an extraction outcome under key.
func (s *ResultStore) Put(key []byte, m *c2pa.Manifest) error {
	buf, err := c2pa.EncodeCBOR(Entry{Manifest: m, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, buf)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}
