package container

// Ring is a fixed-capacity first-in first-out buffer.
//
// Push on a full ring returns false and leaves the ring unchanged.
// Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf        []T
	head, tail int
	size       int
}

// NewRing creates a ring holding at most capacity items
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Len returns the number of buffered items
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity
func (r *Ring[T]) Cap() int { return len(r.buf) }

// IsFull reports whether Push would fail
func (r *Ring[T]) IsFull() bool { return r.size == len(r.buf) }

// IsEmpty reports whether the ring holds no items
func (r *Ring[T]) IsEmpty() bool { return r.size == 0 }

// Push inserts v at the tail
func (r *Ring[T]) Push(v T) bool {
	if r.size == len(r.buf) {
		return false
	}
	r.buf[r.tail] = v
	r.tail = (r.tail + 1) % len(r.buf)
	r.size++
	return true
}

// Pop removes and returns the oldest item
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Peek returns the oldest item without removing it
func (r *Ring[T]) Peek() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Clear drops all items
func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head, r.tail, r.size = 0, 0, 0
}
