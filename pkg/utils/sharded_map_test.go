// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMap_BasicOperations(t *testing.T) {
	sm := NewShardedMap[int]()

	sm.Store("key1", 100)
	sm.Store("key2", 200)

	v1, ok1 := sm.Load("key1")
	assert.True(t, ok1)
	assert.Equal(t, 100, v1)

	v2, ok2 := sm.Load("key2")
	assert.True(t, ok2)
	assert.Equal(t, 200, v2)

	_, ok3 := sm.Load("missing")
	assert.False(t, ok3)

	assert.Equal(t, 2, sm.Len())

	sm.Delete("key1")
	_, ok4 := sm.Load("key1")
	assert.False(t, ok4)
	assert.Equal(t, 1, sm.Len())
}

func TestShardedMap_LoadOrStore(t *testing.T) {
	sm := NewShardedMap[string]()

	v1, loaded1 := sm.LoadOrStore("key", "value1")
	assert.False(t, loaded1)
	assert.Equal(t, "value1", v1)

	v2, loaded2 := sm.LoadOrStore("key", "value2")
	assert.True(t, loaded2)
	assert.Equal(t, "value1", v2) // Original value, not new one
}

func TestShardedMap_Mutate(t *testing.T) {
	sm := NewShardedMap[[]string]()

	// Insert through Mutate on a missing key
	exists := sm.Mutate("obj", func(cur []string, ok bool) ([]string, bool) {
		assert.False(t, ok)
		return append(cur, "cache"), true
	})
	assert.True(t, exists)

	// Append to the existing entry
	sm.Mutate("obj", func(cur []string, ok bool) ([]string, bool) {
		assert.True(t, ok)
		return append(cur, "cloud"), true
	})

	v, ok := sm.Load("obj")
	assert.True(t, ok)
	assert.Equal(t, []string{"cache", "cloud"}, v)

	// Returning keep=false deletes the entry
	exists = sm.Mutate("obj", func(cur []string, ok bool) ([]string, bool) {
		return nil, false
	})
	assert.False(t, exists)
	_, ok = sm.Load("obj")
	assert.False(t, ok)
}

func TestShardedMap_MutateConcurrent(t *testing.T) {
	sm := NewShardedMap[int]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Mutate("counter", func(cur int, _ bool) (int, bool) {
				return cur + 1, true
			})
		}()
	}
	wg.Wait()

	v, ok := sm.Load("counter")
	assert.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestShardedMap_Range(t *testing.T) {
	sm := NewShardedMap[int]()

	for i := 0; i < 100; i++ {
		sm.Store(fmt.Sprintf("key%d", i), i)
	}

	count := 0
	sm.Range(func(key string, value int) bool {
		count++
		return true
	})
	assert.Equal(t, 100, count)

	// Early termination
	count = 0
	sm.Range(func(key string, value int) bool {
		count++
		return count < 10
	})
	assert.Equal(t, 10, count)
}

func TestShardedMap_DeleteIf(t *testing.T) {
	sm := NewShardedMap[int]()

	for i := 0; i < 100; i++ {
		sm.Store(fmt.Sprintf("key%d", i), i)
	}

	deleted := sm.DeleteIf(func(_ string, v int) bool {
		return v%2 == 0
	})

	assert.Equal(t, 50, deleted)
	assert.Equal(t, 50, sm.Len())

	sm.Range(func(_ string, v int) bool {
		assert.Equal(t, 1, v%2)
		return true
	})
}

func TestShardedMap_Concurrent(t *testing.T) {
	sm := NewShardedMap[int]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sm.Store(fmt.Sprintf("key%d", n), n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, sm.Len())

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, ok := sm.Load(fmt.Sprintf("key%d", n))
			assert.True(t, ok)
			assert.Equal(t, n, v)
		}(i)
	}
	wg.Wait()
}

func BenchmarkShardedMap_Mutate(b *testing.B) {
	sm := NewShardedMap[int]()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			sm.Mutate(fmt.Sprintf("key%d", i%1024), func(cur int, _ bool) (int, bool) {
				return cur + 1, true
			})
			i++
		}
	})
}
