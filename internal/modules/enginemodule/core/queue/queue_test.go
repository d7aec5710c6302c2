package queue

import (
	"fmt"
	"sync"
	"testing"

	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(id string, logical uint32, pass types.Pass) *types.Job {
	return &types.Job{ID: id, Sequence: types.NewSequenceID(logical, pass)}
}

func TestQueueFIFO(t *testing.T) {
	q := New()
	for i := 1; i <= 5; i++ {
		q.Push(job(fmt.Sprint(i), uint32(i), types.PassSingle))
	}
	assert.Equal(t, 5, q.Len())

	for i := 1; i <= 5; i++ {
		j, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), j.ID)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueRemoveDropsAllPasses(t *testing.T) {
	q := New()
	q.Push(job("a", 1, types.PassFirst), job("a", 1, types.PassSecond), job("b", 2, types.PassSingle))

	n, err := q.Remove("a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, q.Len())

	head, err := q.At(0)
	require.NoError(t, err)
	assert.Equal(t, "b", head.ID)

	_, err = q.Remove("a")
	assert.ErrorIs(t, err, eErrors.ErrJobNotFound)
}

func TestQueueAtOutOfRange(t *testing.T) {
	q := New()
	_, err := q.At(0)
	assert.ErrorIs(t, err, eErrors.ErrJobNotFound)
	_, err = q.At(-1)
	assert.ErrorIs(t, err, eErrors.ErrJobNotFound)
}

func TestQueueClear(t *testing.T) {
	q := New()
	q.Push(job("a", 1, types.PassSingle), job("b", 2, types.PassSingle))
	dropped := q.Clear()
	assert.Len(t, dropped, 2)
	assert.Equal(t, 0, q.Len())
}

func TestQueueConcurrentPush(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(job(fmt.Sprint(i), uint32(i), types.PassSingle))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
	assert.Len(t, q.Snapshot(), 50)
}

func TestQueueReadsAreCopies(t *testing.T) {
	q := New()
	q.Push(&types.Job{ID: "a", Filters: []types.FilterSpec{{ID: "grayscale"}}}, job("b", 2, types.PassSingle))

	got, err := q.At(0)
	require.NoError(t, err)
	got.Filters[0].ID = "changed"
	got.Close()

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "grayscale", snap[0].Filters[0].ID)
	assert.False(t, snap[0].Closed())
	assert.Equal(t, "b", snap[1].ID)

	// closing the dropped values leaves earlier copies intact
	for _, j := range q.Clear() {
		j.Close()
	}
	assert.Len(t, snap[0].Filters, 1)
}
