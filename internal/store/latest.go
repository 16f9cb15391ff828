// Package store provides the thread-safe holder for the most recent
// collection result shared between the collector goroutine and HTTP readers.
package store

import (
	"sync"
	"time"
)

// Latest retains the most recently stored value of T. A single writer
// replaces the value wholesale; any number of readers may load it
// concurrently. The zero value of T is returned until the first Store.
type Latest[T any] struct {
	mu        sync.RWMutex
	val       T
	set       bool
	updatedAt time.Time
}

// NewLatest creates an empty holder.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{}
}

// Store replaces the held value.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.val = v
	l.set = true
	l.updatedAt = time.Now()
}

// Load returns the held value, or the zero value of T before the first Store.
func (l *Latest[T]) Load() T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.val
}

// Loaded reports whether Store has been called at least once.
func (l *Latest[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set
}

// UpdatedAt returns the time of the last Store, or the zero time.
func (l *Latest[T]) UpdatedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updatedAt
}
