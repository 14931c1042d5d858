// Package lockmap provides one lock per uint64 key (an inode number, in this
// repository) without keeping a lock for every key.
//
// Keys hash into NSHARD shards. A shard records the keys currently held and
// wakes its waiters on every release; entries disappear once released, so
// memory tracks the number of held keys rather than the key space.
package lockmap

import (
	"fmt"
	"sync"
)

const NSHARD uint64 = 43

type shard struct {
	mu   *sync.Mutex
	cond *sync.Cond
	held map[uint64]bool
}

func mkShard() *shard {
	mu := new(sync.Mutex)
	return &shard{
		mu:   mu,
		cond: sync.NewCond(mu),
		held: make(map[uint64]bool),
	}
}

type LockMap struct {
	shards []*shard
}

func MkLockMap() *LockMap {
	shards := make([]*shard, NSHARD)
	for i := range shards {
		shards[i] = mkShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(key uint64) *shard {
	return lmap.shards[key%NSHARD]
}

// Acquire blocks until key is free and then takes it.
func (lmap *LockMap) Acquire(key uint64) {
	s := lmap.shard(key)
	s.mu.Lock()
	for s.held[key] {
		s.cond.Wait()
	}
	s.held[key] = true
	s.mu.Unlock()
}

// Release panics if key is not held.
func (lmap *LockMap) Release(key uint64) {
	s := lmap.shard(key)
	s.mu.Lock()
	if !s.held[key] {
		s.mu.Unlock()
		panic(fmt.Sprintf("lockmap: release of unheld key %d", key))
	}
	delete(s.held, key)
	s.cond.Broadcast()
	s.mu.Unlock()
}

