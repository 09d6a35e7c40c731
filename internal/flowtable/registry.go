// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"grimm.is/flowplane/internal/errors"
)

// HashParams describes how a registry derives bucket positions from flow
// keys. Supplied by the flow table's type provider.
type HashParams struct {
	// Seed perturbs the hash so distinct tables bucket differently.
	Seed uint64
	// MaxEntries caps the registry; zero means unlimited.
	MaxEntries int
}

const registryShards = 64

// Entry is one flow record in a registry. The state is opaque to the
// registry itself; type providers store their per-family flow representation
// in it. Deadline is the expiry instant in unix nanoseconds, refreshed by the
// fast path without locking.
type Entry struct {
	key      []byte
	hash     uint64
	State    any
	Deadline atomic.Int64
}

// Key returns the entry's flow identity.
func (e *Entry) Key() []byte { return e.key }

type regShard struct {
	mu      sync.RWMutex
	buckets map[uint64][]*Entry
}

// Registry is the concurrent hash index of active flows for one flow table.
// The data-plane hook and the garbage collector are its only callers: the
// fast path inserts, looks up and removes entries under per-shard locks; the
// collector iterates. Teardown happens once, after the collector has been
// cancelled and waited for.
type Registry struct {
	params HashParams
	shards [registryShards]regShard
	count  atomic.Int64
	closed atomic.Bool
}

// NewRegistry initializes a registry from the type's hash parameters.
func NewRegistry(params HashParams) *Registry {
	r := &Registry{params: params}
	for i := range r.shards {
		r.shards[i].buckets = make(map[uint64][]*Entry)
	}
	return r
}

func (r *Registry) hashKey(key []byte) uint64 {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], r.params.Seed)
	d := xxhash.New()
	d.Write(seed[:])
	d.Write(key)
	return d.Sum64()
}

func (r *Registry) shardFor(hash uint64) *regShard {
	return &r.shards[hash%registryShards]
}

// Insert adds a flow entry. Fails if the registry is at capacity or has been
// torn down, or if the key is already present.
func (r *Registry) Insert(key []byte, state any) (*Entry, error) {
	if r.closed.Load() {
		return nil, errors.New(errors.KindUnavailable, "registry is closed")
	}
	// Reserve a slot up front so concurrent inserts cannot overshoot the
	// cap; any failure below returns the reservation.
	if n := r.count.Add(1); r.params.MaxEntries > 0 && int(n) > r.params.MaxEntries {
		r.count.Add(-1)
		return nil, errors.Errorf(errors.KindExhausted, "registry full (%d entries)", r.params.MaxEntries)
	}
	hash := r.hashKey(key)
	e := &Entry{key: append([]byte(nil), key...), hash: hash, State: state}

	s := r.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets == nil {
		r.count.Add(-1)
		return nil, errors.New(errors.KindUnavailable, "registry is closed")
	}
	for _, existing := range s.buckets[hash] {
		if bytes.Equal(existing.key, key) {
			r.count.Add(-1)
			return nil, errors.New(errors.KindConflict, "flow already present")
		}
	}
	s.buckets[hash] = append(s.buckets[hash], e)
	return e, nil
}

// Get looks up a flow entry by key, or nil if absent.
func (r *Registry) Get(key []byte) *Entry {
	hash := r.hashKey(key)
	s := r.shardFor(hash)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.buckets[hash] {
		if bytes.Equal(e.key, key) {
			return e
		}
	}
	return nil
}

// Remove drops a flow entry by key. Returns false if absent.
func (r *Registry) Remove(key []byte) bool {
	hash := r.hashKey(key)
	s := r.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.buckets[hash]
	for i, e := range bucket {
		if bytes.Equal(e.key, key) {
			s.buckets[hash] = append(bucket[:i], bucket[i+1:]...)
			if len(s.buckets[hash]) == 0 {
				delete(s.buckets, hash)
			}
			r.count.Add(-1)
			return true
		}
	}
	return false
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Iterate visits every entry. The visitor may call Remove; it must not block
// for long, since it holds a shard read lock while visiting that shard's
// entries. Returning false stops the iteration.
func (r *Registry) Iterate(visit func(*Entry) bool) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		entries := make([]*Entry, 0, 16)
		for _, bucket := range s.buckets {
			entries = append(entries, bucket...)
		}
		s.mu.RUnlock()
		for _, e := range entries {
			if !visit(e) {
				return
			}
		}
	}
}

// Close tears the registry down, releasing every remaining entry. The
// owning flow table's collector must already have been stopped. Subsequent
// inserts fail; lookups miss.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		s.buckets = nil
		s.mu.Unlock()
	}
	r.count.Store(0)
}
