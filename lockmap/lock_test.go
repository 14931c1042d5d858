package lockmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	lmap := MkLockMap()
	// same shard, different keys
	lmap.Acquire(1)
	lmap.Acquire(1 + NSHARD)
	lmap.Release(1)
	lmap.Release(1 + NSHARD)
	lmap.Acquire(1)
	lmap.Release(1)
}

func TestAcquireBlocks(t *testing.T) {
	lmap := MkLockMap()
	lmap.Acquire(5)
	acquired := make(chan struct{})
	go func() {
		lmap.Acquire(5)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second Acquire returned while the key was held")
	case <-time.After(50 * time.Millisecond):
	}
	lmap.Release(5)
	<-acquired
	lmap.Release(5)
}

func TestReleaseUnheld(t *testing.T) {
	lmap := MkLockMap()
	assert.Panics(t, func() { lmap.Release(7) })
}

func TestMutualExclusion(t *testing.T) {
	lmap := MkLockMap()
	counters := make([]int, 4)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := uint64(i % len(counters))
				lmap.Acquire(k)
				counters[k]++
				lmap.Release(k)
			}
		}()
	}
	wg.Wait()
	for _, c := range counters {
		assert.Equal(t, 2000, c)
	}
}
