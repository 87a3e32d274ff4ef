// Package store is the local-record store (spec.md §4.1): a single-node
// durable map of key -> (value, ts, request_id) with compare-and-swap on
// ts. It is the only component in clusterkv that touches disk.
//
// The teacher repo (ppriyankuu-godkv) hand-rolled this with a JSON
// write-ahead log and periodic snapshots. clusterkv instead backs the
// store with github.com/syndtr/goleveldb (as AryanBagade-dynamoDB does for
// its storage layer): LevelDB already gives write-ahead durability and
// crash-safe atomic puts, so the CAS-on-ts invariant only needs a
// process-local mutex around the read-modify-write, not a hand-rolled log
// format.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"clusterkv/internal/kvrecord"
)

// PutResult is the outcome of a put_if_newer call.
type PutResult int

const (
	Applied PutResult = iota
	Superseded
)

func (r PutResult) String() string {
	if r == Applied {
		return "replicated"
	}
	return "old_write_ignored"
}

// Store is the local-record store contract used by the node and by
// anti-entropy. Implementations must serialize writes at node granularity
// so that the ts compare-and-swap in PutIfNewer is atomic.
type Store interface {
	PutIfNewer(key, value string, ts float64, requestID string) (PutResult, error)
	Get(key string) (kvrecord.Record, bool, error)
	GetMany(keys []string) (map[string]kvrecord.Record, error)
	AllKeys() ([]string, error)
	Close() error
}

// LevelStore is the goleveldb-backed Store implementation.
type LevelStore struct {
	mu sync.Mutex // serializes writes at node granularity, per §4.1/§5
	db *leveldb.DB
}

// Open opens (creating if necessary) a LevelDB database at path.
func Open(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// PutIfNewer implements spec.md §4.1's put_if_newer:
//   - no prior record: store, return Applied
//   - prior request_id == requestID: return Applied (idempotent replay)
//   - ts < prior.ts: return Superseded
//   - else (ts > prior.ts, or ts == prior.ts with a lexicographically
//     greater-or-equal request_id): replace, return Applied
func (s *LevelStore) PutIfNewer(key, value string, ts float64, requestID string) (PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, found, err := s.getLocked(key)
	if err != nil {
		return Superseded, err
	}

	next := kvrecord.Record{Key: key, Value: value, Ts: ts, RequestID: requestID}
	if !next.Newer(prev, found) {
		return Superseded, nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return Superseded, fmt.Errorf("marshal record: %w", err)
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return Superseded, fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return Applied, nil
}

// Get returns the stored record for key, if any.
func (s *LevelStore) Get(key string) (kvrecord.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *LevelStore) getLocked(key string) (kvrecord.Record, bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return kvrecord.Record{}, false, nil
	}
	if err != nil {
		return kvrecord.Record{}, false, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	var rec kvrecord.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return kvrecord.Record{}, false, fmt.Errorf("unmarshal record %s: %w", key, err)
	}
	return rec, true, nil
}

// GetMany returns the records held for any of keys that exist locally.
func (s *LevelStore) GetMany(keys []string) (map[string]kvrecord.Record, error) {
	out := make(map[string]kvrecord.Record, len(keys))
	for _, k := range keys {
		rec, ok, err := s.Get(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = rec
		}
	}
	return out, nil
}

// AllKeys returns every key currently held locally.
func (s *LevelStore) AllKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
