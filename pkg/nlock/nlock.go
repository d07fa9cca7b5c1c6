// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package nlock provides per-name reader/writer locks for object
// mutations. Entries exist only while held or waited on, so the table
// stays proportional to in-flight work, not to the number of objects.
package nlock

import (
	"sync"

	"github.com/coldfront/coldfront/pkg/utils"
)

// Locker hands out named locks. The same name always resolves to the
// same lock; unrelated names never contend beyond a shard lookup.
type Locker struct {
	table *utils.ShardedMap[*nameLock]
}

type nameLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
	// ref counts holders plus waiters; the entry is dropped at zero.
	ref int
}

func New() *Locker {
	return &Locker{table: utils.NewShardedMap[*nameLock]()}
}

func (l *Locker) enter(name string) *nameLock {
	var e *nameLock
	l.table.Mutate(name, func(cur *nameLock, ok bool) (*nameLock, bool) {
		if !ok {
			cur = &nameLock{}
			cur.cond = sync.NewCond(&cur.mu)
		}
		cur.ref++
		e = cur
		return cur, true
	})
	return e
}

func (l *Locker) leave(name string, e *nameLock) {
	l.table.Mutate(name, func(cur *nameLock, ok bool) (*nameLock, bool) {
		cur.ref--
		return cur, cur.ref > 0
	})
}

// Lock acquires the named lock, blocking until available. Pass exclusive
// for writers; shared holders may coexist.
func (l *Locker) Lock(name string, exclusive bool) {
	e := l.enter(name)
	e.mu.Lock()
	if exclusive {
		for e.writer || e.readers > 0 {
			e.cond.Wait()
		}
		e.writer = true
	} else {
		for e.writer {
			e.cond.Wait()
		}
		e.readers++
	}
	e.mu.Unlock()
}

// TryLock acquires the named lock without blocking and reports success.
func (l *Locker) TryLock(name string, exclusive bool) bool {
	e := l.enter(name)
	e.mu.Lock()
	ok := false
	if exclusive {
		if !e.writer && e.readers == 0 {
			e.writer = true
			ok = true
		}
	} else {
		if !e.writer {
			e.readers++
			ok = true
		}
	}
	e.mu.Unlock()
	if !ok {
		l.leave(name, e)
	}
	return ok
}

// DowngradeLock converts an exclusive hold into a shared one without a
// release window: no writer can take the lock in between.
func (l *Locker) DowngradeLock(name string) {
	e, ok := l.table.Load(name)
	if !ok {
		panic("nlock: downgrade of unheld lock " + name)
	}
	e.mu.Lock()
	if !e.writer {
		e.mu.Unlock()
		panic("nlock: downgrade of non-exclusive lock " + name)
	}
	e.writer = false
	e.readers++
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Unlock releases the named lock. The exclusive flag must match the
// acquisition (after DowngradeLock the hold is shared).
func (l *Locker) Unlock(name string, exclusive bool) {
	e, ok := l.table.Load(name)
	if !ok {
		panic("nlock: unlock of unheld lock " + name)
	}
	e.mu.Lock()
	if exclusive {
		e.writer = false
	} else {
		e.readers--
	}
	e.cond.Broadcast()
	e.mu.Unlock()
	l.leave(name, e)
}

// Held reports how many names currently have holders or waiters.
// Intended for tests and debug output.
func (l *Locker) Held() int {
	return l.table.Len()
}
