package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	name string
	prio int
}

func byPrio(i item) int { return i.prio }

func TestPriorityQueue_Order(t *testing.T) {
	q := NewPriorityQueue(byPrio)
	q.Push(item{"low", 1})
	q.Push(item{"high-a", 10})
	q.Push(item{"mid", 5})
	q.Push(item{"high-b", 10})
	q.Push(item{"low-b", 1})

	var got []string
	for q.Len() > 0 {
		v, ok := q.Pop()
		require.True(t, ok)
		got = append(got, v.name)
	}
	assert.Equal(t, []string{"high-a", "high-b", "mid", "low", "low-b"}, got)

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPriorityQueue_NonIncreasing(t *testing.T) {
	q := NewPriorityQueue(func(v int) int { return v })
	for _, v := range []int{3, -1, 7, 0, 7, 2, 9, -4, 3} {
		q.Push(v)
	}

	items := q.Items()
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1], items[i])
	}

	top, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 9, top)
	assert.Equal(t, 9, q.Len())
}

func TestInsertByPriority_Empty(t *testing.T) {
	got := InsertByPriority(nil, item{"a", 0}, byPrio)
	assert.Equal(t, []item{{"a", 0}}, got)
}

func TestRing_Capacity(t *testing.T) {
	r := NewRing[int](3)

	assert.True(t, r.Push(1))
	assert.True(t, r.Push(2))
	assert.True(t, r.Push(3))
	assert.True(t, r.IsFull())
	assert.False(t, r.Push(4))
	assert.Equal(t, 3, r.Len())

	v, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, _ = r.Pop()
	assert.Equal(t, 1, v)
	assert.True(t, r.Push(4))

	var got []int
	for !r.IsEmpty() {
		v, _ := r.Pop()
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)

	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestRing_NeverExceedsCapacity(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			r.Pop()
		}
		r.Push(i)
		assert.LessOrEqual(t, r.Len(), r.Cap())
	}
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[string](0)
	assert.Equal(t, 1, r.Cap())
	r.Push("a")
	r.Clear()
	assert.True(t, r.IsEmpty())
	assert.True(t, r.Push("b"))
}

func TestDeque_BothEnds(t *testing.T) {
	d := NewDeque[int]()
	d.PushBack(2)
	d.PushBack(3)
	d.PushFront(1)
	d.PushFront(0)

	front, _ := d.Front()
	back, _ := d.Back()
	assert.Equal(t, 0, front)
	assert.Equal(t, 3, back)

	v, _ := d.PopBack()
	assert.Equal(t, 3, v)
	v, _ = d.PopFront()
	assert.Equal(t, 0, v)
	assert.Equal(t, []int{1, 2}, d.Drain())
	assert.True(t, d.IsEmpty())

	_, ok := d.PopFront()
	assert.False(t, ok)
	_, ok = d.PopBack()
	assert.False(t, ok)
}

func TestDeque_Grows(t *testing.T) {
	d := NewDeque[int]()
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			d.PushBack(i)
		} else {
			d.PushFront(i)
		}
	}
	assert.Equal(t, 50, d.Len())

	got := d.Drain()
	assert.Len(t, got, 50)
	assert.Equal(t, 49, got[0])
	assert.Equal(t, 48, got[49])
}

func TestDeque_ZeroValue(t *testing.T) {
	var d Deque[string]
	d.PushBack("x")
	v, ok := d.PopFront()
	require.True(t, ok)
	assert.Equal(t, "x", v)
}
