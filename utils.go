package sensorplot

import (
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Float | constraints.Integer
}

func Filter[T any](slice []T, predicate func(T) bool) []T {
	filtered := make([]T, 0, len(slice))
	for _, elem := range slice {
		if predicate(elem) {
			filtered = append(filtered, elem)
		}
	}
	return filtered
}

func Min[T Number](a T, b T) T {
	if a > b {
		return b
	}

	return a
}

func Clamp[T Number](value, lo, hi T) T {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// A fixed capacity FIFO ring. Pushing into a full ring evicts the oldest
// element. There is no locking here: the owner (the Window, and through it
// the Session) is responsible for serializing access.
type ThreadUnsafeRing[T any] struct {
	data  []T
	head  int // index of the oldest element
	count int
}

// Panics if capacity < 1, as a ring that can hold nothing is a programming
// error.
func NewRing[T any](capacity int) *ThreadUnsafeRing[T] {
	if capacity < 1 {
		panic("ring capacity must be at least 1")
	}

	return &ThreadUnsafeRing[T]{
		data: make([]T, capacity),
	}
}

// Push appends data at the newest end. If the ring was full, the evicted
// oldest element is returned along with true.
func (r *ThreadUnsafeRing[T]) Push(data T) (T, bool) {
	var evicted T

	if r.count < len(r.data) {
		r.data[(r.head+r.count)%len(r.data)] = data
		r.count++
		return evicted, false
	}

	evicted = r.data[r.head]
	r.data[r.head] = data
	r.head = (r.head + 1) % len(r.data)
	return evicted, true
}

func (r *ThreadUnsafeRing[T]) Len() int {
	return r.count
}

func (r *ThreadUnsafeRing[T]) Capacity() int {
	return len(r.data)
}

// ReadAllOrdered returns a copy of the contents, oldest first.
func (r *ThreadUnsafeRing[T]) ReadAllOrdered() []T {
	arr := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		arr = append(arr, r.data[(r.head+i)%len(r.data)])
	}

	return arr
}
