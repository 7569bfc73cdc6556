package hft

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidQueue(t *testing.T) {
	q := newBidQueue()

	q.set(10, 1)
	q.set(30, 3)
	q.set(20, 2)

	best, ok := q.best()
	require.True(t, ok)
	assert.Equal(t, Price(30), best.Price)
	assert.Equal(t, Qty(3), best.Qty)

	assert.Equal(t, []Level{{30, 3}, {20, 2}, {10, 1}}, q.depth(0))
	assert.Equal(t, []Level{{30, 3}, {20, 2}}, q.depth(2))
}

func TestAskQueue(t *testing.T) {
	q := newAskQueue()

	q.set(30, 3)
	q.set(10, 1)
	q.set(20, 2)

	best, ok := q.best()
	require.True(t, ok)
	assert.Equal(t, Price(10), best.Price)
	assert.Equal(t, []Level{{10, 1}, {20, 2}, {30, 3}}, q.depth(5))
}

func TestQueue_UpsertAndRemove(t *testing.T) {
	q := newAskQueue()

	assert.True(t, q.set(10, 1))
	assert.False(t, q.set(10, 1), "same qty is not a change")
	assert.True(t, q.set(10, 5))
	assert.Equal(t, 1, q.depthCount())

	qty, ok := q.get(10)
	require.True(t, ok)
	assert.Equal(t, Qty(5), qty)

	// zero qty removes, removing again is a no-op
	assert.True(t, q.set(10, 0))
	assert.False(t, q.set(10, 0))
	assert.False(t, q.remove(99))
	assert.Equal(t, 0, q.depthCount())

	_, ok = q.best()
	assert.False(t, ok)
}

func TestQueue_RandomOrdering(t *testing.T) {
	q := newBidQueue()
	rng := rand.New(rand.NewSource(1))
	want := map[Price]Qty{}

	for i := 0; i < 2000; i++ {
		price := Price(rng.Intn(200) + 1)
		qty := Qty(rng.Intn(4))
		q.set(price, qty)
		if qty == 0 {
			delete(want, price)
		} else {
			want[price] = qty
		}
	}

	levels := q.depth(0)
	require.Len(t, levels, len(want))
	for i, lvl := range levels {
		assert.Equal(t, want[lvl.Price], lvl.Qty)
		if i > 0 {
			assert.Less(t, lvl.Price, levels[i-1].Price)
		}
	}

	q.clear()
	assert.Equal(t, 0, q.depthCount())
	assert.Empty(t, q.depth(0))
}
