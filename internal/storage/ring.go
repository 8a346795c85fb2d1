package storage

// Ring is a fixed-capacity FIFO buffer; pushing into a full ring evicts the oldest value.
// It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	head  int // Next write position
	count int
}

// NewRing creates a ring with the given capacity
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("storage: ring capacity must be positive")
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v and returns the evicted value, if any
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.count == len(r.items) {
		evicted, ok = r.items[r.head], true
	} else {
		r.count++
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	return evicted, ok
}

// Len returns the number of retained values
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Last returns the newest value
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx = len(r.items) - 1
	}
	return r.items[idx], true
}

// Items returns a copy of the retained values, oldest first
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.items)
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}
