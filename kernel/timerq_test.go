package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerQueue(t *testing.T) {
	var q timerQueue
	_, ok := q.next()
	assert.False(t, ok)

	a, b, c, d := new(SchedTimerItem), new(SchedTimerItem), new(SchedTimerItem), new(SchedTimerItem)
	q.insert(a, 10)
	q.insert(b, 5)
	q.insert(c, 10)
	q.insert(d, 20)
	assert.Equal(t, 4, q.len())
	assert.True(t, c.Armed())

	next, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, int64(5), next)

	var fired []*SchedTimerItem
	collect := func(ti *SchedTimerItem) { fired = append(fired, ti) }

	q.advance(5, collect)
	assert.Equal(t, []*SchedTimerItem{b}, fired)
	assert.False(t, b.Armed())
	next, _ = q.next()
	assert.Equal(t, int64(5), next)

	assert.True(t, q.remove(c))
	assert.False(t, q.remove(c))
	assert.False(t, q.remove(b))

	q.advance(3, collect)
	next, _ = q.next()
	assert.Equal(t, int64(2), next)

	fired = nil
	q.advance(100, collect)
	assert.Equal(t, []*SchedTimerItem{a, d}, fired)
	assert.Zero(t, q.len())
}

func TestTimerQueue_TiesFireInInsertionOrder(t *testing.T) {
	var q timerQueue
	items := make([]*SchedTimerItem, 5)
	for i := range items {
		items[i] = new(SchedTimerItem)
		q.insert(items[i], 7)
	}
	var fired []*SchedTimerItem
	q.advance(7, func(ti *SchedTimerItem) { fired = append(fired, ti) })
	assert.Equal(t, items, fired)
}

func TestTimerQueue_RemoveKeepsLaterExpiry(t *testing.T) {
	var q timerQueue
	a, b := new(SchedTimerItem), new(SchedTimerItem)
	q.insert(a, 10)
	q.insert(b, 25)
	q.remove(a)
	next, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, int64(25), next)
}
