package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemQueue_TakeInSubmissionOrder(t *testing.T) {
	var q itemQueue
	a, b, c := &SchedItem{kind: ItemTick}, &SchedItem{kind: ItemEventChange}, &SchedItem{kind: ItemSemRelease}
	q.push(a)
	q.push(b)
	q.push(c)
	assert.Equal(t, 3, q.Pending())

	items, n := q.take()
	require.Equal(t, 3, n)
	assert.Same(t, a, items)
	assert.Same(t, b, items.next)
	assert.Same(t, c, items.next.next)
	assert.Nil(t, c.next)
	assert.Equal(t,
		[]ItemKind{ItemTick, ItemEventChange, ItemSemRelease},
		[]ItemKind{items.Kind(), items.next.Kind(), items.next.next.Kind()})
	assert.Zero(t, q.Pending())
	assert.True(t, a.before(b))

	items, n = q.take()
	assert.Nil(t, items)
	assert.Zero(t, n)
}

func TestItem_BeforeOrdersByTimestamp(t *testing.T) {
	early := &SchedItem{timestamp: 5, seq: 9}
	late := &SchedItem{timestamp: 7, seq: 1}
	assert.True(t, early.before(late))
	assert.False(t, late.before(early))
}

func TestScheduler_Election(t *testing.T) {
	k := newIdleKernel(t)
	c0, c1 := k.cores[0], k.cores[1]

	assert.Nil(t, k.tryBecomeScheduler(c0), "no pending work")

	k.submit(&SchedItem{kind: ItemTick})
	p := k.tryBecomeScheduler(c1)
	require.NotNil(t, p)
	owner, ok := k.items.Owner()
	require.True(t, ok)
	assert.Equal(t, c1.id, owner)

	k.submit(&SchedItem{kind: ItemTick})
	assert.Nil(t, k.tryBecomeScheduler(c0), "already owned")

	assert.False(t, p.tryRelease(), "work pending")
	_, n := k.items.take()
	assert.Equal(t, 2, n)
	assert.True(t, p.tryRelease())

	_, ok = k.items.Owner()
	assert.False(t, ok)
}

func TestScheduler_SpliceKeepsTimestampOrder(t *testing.T) {
	k := newIdleKernel(t)
	p := &schedPass{k: k, s: &k.sched, core: k.cores[0]}

	first := &SchedItem{kind: ItemTick}
	second := &SchedItem{kind: ItemTick}
	k.items.push(second)
	second.timestamp = 20
	k.items.push(first)
	first.timestamp = 10
	p.splice()

	require.Len(t, k.sched.work, 2)
	assert.Same(t, first, k.sched.work[0])
	assert.Same(t, second, k.sched.work[1])
	assert.Equal(t, 2, p.items)
}

func TestScheduler_CompleteTwicePanics(t *testing.T) {
	k := newIdleKernel(t)
	p := &schedPass{k: k, s: &k.sched, core: k.cores[0]}
	it := &SchedItem{kind: ItemEventChange, done: make(chan struct{}, 1)}
	p.complete(it, nil)
	require.Panics(t, func() { p.complete(it, nil) })
	assert.Equal(t, KernelHalted, k.State())
}

func TestItemKind_String(t *testing.T) {
	assert.Equal(t, `ThreadWait`, ItemThreadWait.String())
	assert.Equal(t, `PurgePageTable`, ItemPurgePageTable.String())
	assert.Equal(t, `ItemKind(200)`, ItemKind(200).String())
	for kind := ItemThreadCreate; kind < itemKindCount; kind++ {
		assert.NotNil(t, itemHandlers[kind], kind.String())
	}
}
