package container

const minDequeCapacity = 8

// Deque is a growable double-ended queue on a circular buffer.
// Push and pop at either end are amortized O(1). Not safe for concurrent use.
type Deque[T any] struct {
	buf  []T
	head int
	size int
}

// NewDeque creates an empty deque
func NewDeque[T any]() *Deque[T] {
	return &Deque[T]{buf: make([]T, minDequeCapacity)}
}

// Len returns the number of items
func (d *Deque[T]) Len() int { return d.size }

// IsEmpty reports whether the deque holds no items
func (d *Deque[T]) IsEmpty() bool { return d.size == 0 }

// PushBack appends v
func (d *Deque[T]) PushBack(v T) {
	d.grow()
	d.buf[(d.head+d.size)%len(d.buf)] = v
	d.size++
}

// PushFront prepends v
func (d *Deque[T]) PushFront(v T) {
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = v
	d.size++
}

// PopFront removes and returns the first item
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return v, true
}

// PopBack removes and returns the last item
func (d *Deque[T]) PopBack() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	i := (d.head + d.size - 1) % len(d.buf)
	v := d.buf[i]
	d.buf[i] = zero
	d.size--
	return v, true
}

// Front returns the first item without removing it
func (d *Deque[T]) Front() (T, bool) {
	if d.size == 0 {
		var zero T
		return zero, false
	}
	return d.buf[d.head], true
}

// Back returns the last item without removing it
func (d *Deque[T]) Back() (T, bool) {
	if d.size == 0 {
		var zero T
		return zero, false
	}
	return d.buf[(d.head+d.size-1)%len(d.buf)], true
}

// Drain removes and returns all items front to back
func (d *Deque[T]) Drain() []T {
	out := make([]T, 0, d.size)
	for {
		v, ok := d.PopFront()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (d *Deque[T]) grow() {
	if d.buf == nil {
		d.buf = make([]T, minDequeCapacity)
	}
	if d.size < len(d.buf) {
		return
	}
	next := make([]T, len(d.buf)*2)
	n := copy(next, d.buf[d.head:])
	copy(next[n:], d.buf[:d.head])
	d.buf = next
	d.head = 0
}
