package container

// PriorityQueue keeps items ordered by non-increasing priority.
//
// An item is inserted before the first entry with a strictly lower priority,
// so equal priorities keep insertion order. Insert is O(n); Peek and Pop are
// O(1) at the head.
type PriorityQueue[T any] struct {
	items    []T
	priority func(T) int
}

// NewPriorityQueue creates a queue ranking items with priority
func NewPriorityQueue[T any](priority func(T) int) *PriorityQueue[T] {
	return &PriorityQueue[T]{priority: priority}
}

// Len returns the number of items
func (q *PriorityQueue[T]) Len() int { return len(q.items) }

// Push inserts v at its priority position
func (q *PriorityQueue[T]) Push(v T) {
	q.items = InsertByPriority(q.items, v, q.priority)
}

// Peek returns the highest priority item
func (q *PriorityQueue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Pop removes and returns the highest priority item
func (q *PriorityQueue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Items returns a copy of the items in dispatch order
func (q *PriorityQueue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// InsertByPriority inserts v into items, which must already be ordered by
// non-increasing priority, before the first entry ranked strictly lower.
func InsertByPriority[T any](items []T, v T, priority func(T) int) []T {
	p := priority(v)
	for i, it := range items {
		if priority(it) < p {
			items = append(items, v)
			copy(items[i+1:], items[i:])
			items[i] = v
			return items
		}
	}
	return append(items, v)
}
