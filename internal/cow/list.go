// Package cow provides copy-on-write collections for read-mostly data.
//
// Readers load an immutable snapshot without locking. Writers serialize on a
// per-collection mutex and publish a fresh slice, so a reader never observes a
// partially applied write.
package cow

import (
	"sync"
	"sync/atomic"
)

// List is an append-mostly slice with lock-free snapshot reads.
// The zero value is an empty list ready for use.
type List[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
}

// Load returns the current snapshot. Callers must not modify it.
func (l *List[T]) Load() []T {
	p := l.items.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of items in the current snapshot.
func (l *List[T]) Len() int {
	return len(l.Load())
}

// Append publishes a snapshot with v added at the end.
func (l *List[T]) Append(v ...T) {
	if len(v) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.Load()
	next := make([]T, len(cur), len(cur)+len(v))
	copy(next, cur)
	next = append(next, v...)
	l.items.Store(&next)
}

// Filter keeps the items for which keep returns true and reports how many were removed.
func (l *List[T]) Filter(keep func(T) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.Load()
	next := make([]T, 0, len(cur))
	for _, v := range cur {
		if keep(v) {
			next = append(next, v)
		}
	}
	removed := len(cur) - len(next)
	if removed > 0 {
		l.items.Store(&next)
	}
	return removed
}
