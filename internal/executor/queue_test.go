package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tthsd/tthsd/internal/engine/types"
)

func TestRangeQueue_PopReturnsInOrder(t *testing.T) {
	q := NewRangeQueue([]types.Range{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 10, End: 20},
	})
	r1, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 0, r1.Index)

	r2, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, r2.Index)
}

func TestRangeQueue_CloseUnblocksPop(t *testing.T) {
	q := NewRangeQueue(nil)
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	q.Close()
	assert.False(t, <-done)
}

func TestRangeQueue_PushRequeues(t *testing.T) {
	q := NewRangeQueue(nil)
	q.Push(types.Range{Index: 5, Start: 0, End: 1})
	r, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 5, r.Index)
}

func TestRangeQueue_Drain(t *testing.T) {
	q := NewRangeQueue([]types.Range{{Index: 0}, {Index: 1}})
	items := q.Drain()
	assert.Len(t, items, 2)
	assert.Equal(t, 0, q.Len())
}
