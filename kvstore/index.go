package kvstore

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// Number of shards for the index map (power of 2 for efficient modulo)
	numShards = 256
	shardMask = numShards - 1
)

// entry is the location of a key's latest record.
type entry struct {
	segmentID uint64
	offset    int64
	length    int32
}

// keyedEntry pairs a key with its location, for walking the index.
type keyedEntry struct {
	key string
	entry
}

// shard is a single partition of the index map
type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// index maps every live key to its latest record. Removed keys are dropped,
// not kept as tombstones.
type index struct {
	shards [numShards]*shard
	count  atomic.Int64
}

func newIndex() *index {
	ix := &index{}
	for i := 0; i < numShards; i++ {
		ix.shards[i] = &shard{
			entries: make(map[string]entry),
		}
	}
	return ix
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() & shardMask
}

func (ix *index) get(key string) (entry, bool) {
	s := ix.shards[shardIndex(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// put points key at e and returns the entry it replaced, if any.
func (ix *index) put(key string, e entry) (entry, bool) {
	s := ix.shards[shardIndex(key)]
	s.mu.Lock()
	prev, existed := s.entries[key]
	s.entries[key] = e
	s.mu.Unlock()

	if !existed {
		ix.count.Add(1)
	}
	return prev, existed
}

// delete drops key and returns the entry it had, if any.
func (ix *index) delete(key string) (entry, bool) {
	s := ix.shards[shardIndex(key)]
	s.mu.Lock()
	prev, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		ix.count.Add(-1)
	}
	return prev, existed
}

// len returns the total number of keys
func (ix *index) len() int64 {
	return ix.count.Load()
}

// liveBytes sums the record lengths of all live entries.
func (ix *index) liveBytes() int64 {
	var total int64
	for _, s := range ix.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			total += int64(e.length)
		}
		s.mu.RUnlock()
	}
	return total
}

// snapshot copies out every entry. It is consistent only while writers
// are excluded.
func (ix *index) snapshot() []keyedEntry {
	out := make([]keyedEntry, 0, ix.len())
	for _, s := range ix.shards {
		s.mu.RLock()
		for k, e := range s.entries {
			out = append(out, keyedEntry{key: k, entry: e})
		}
		s.mu.RUnlock()
	}
	return out
}

// apply repoints the given keys, shard by shard. Used by compaction to move
// every live key into the compacted segment; keys must already be present.
func (ix *index) apply(moved map[string]entry) {
	var byShard [numShards][]keyedEntry
	for k, e := range moved {
		i := shardIndex(k)
		byShard[i] = append(byShard[i], keyedEntry{key: k, entry: e})
	}

	for i, updates := range byShard {
		if len(updates) == 0 {
			continue
		}
		s := ix.shards[i]
		s.mu.Lock()
		for _, u := range updates {
			s.entries[u.key] = u.entry
		}
		s.mu.Unlock()
	}
}
