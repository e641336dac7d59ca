package window

import (
	"hash/fnv"
	"sync"

	"github.com/ilift/wellstream/reading"
)

// storeShards spreads key lookups across independent locks so unrelated
// wells never contend on a single global mutex.
const storeShards = 32

type shard struct {
	mu     sync.RWMutex
	states map[reading.WindowKey]*State
}

// Store is a sharded map of WindowKey to window State. The shard lock
// protects only map access; State mutation is single-writer per key,
// enforced by the pipeline's key-routed workers.
type Store struct {
	shards   [storeShards]shard
	capacity int
}

// NewStore creates a store whose windows hold capacity readings each.
func NewStore(capacity int) *Store {
	st := &Store{capacity: capacity}
	for i := range st.shards {
		st.shards[i].states = make(map[reading.WindowKey]*State)
	}
	return st
}

func (st *Store) shardFor(key reading.WindowKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.WellID))
	h.Write([]byte{0})
	h.Write([]byte(key.SensorType))
	return &st.shards[h.Sum32()%storeShards]
}

// Get returns the window state for key, creating it lazily on first use.
// Windows survive for the process lifetime; memory stays bounded because
// window length is fixed and the key set is finite.
func (st *Store) Get(key reading.WindowKey) *State {
	sh := st.shardFor(key)

	sh.mu.RLock()
	state, ok := sh.states[key]
	sh.mu.RUnlock()
	if ok {
		return state
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if state, ok = sh.states[key]; ok {
		return state
	}
	state = NewState(st.capacity)
	sh.states[key] = state
	return state
}

// Lookup returns the window state for key without creating one.
func (st *Store) Lookup(key reading.WindowKey) (*State, bool) {
	sh := st.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	state, ok := sh.states[key]
	return state, ok
}

// Count returns the number of distinct keys with window state.
func (st *Store) Count() int {
	total := 0
	for i := range st.shards {
		st.shards[i].mu.RLock()
		total += len(st.shards[i].states)
		st.shards[i].mu.RUnlock()
	}
	return total
}
