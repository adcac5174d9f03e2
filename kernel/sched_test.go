package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prioThread(prio uint8) *Thread {
	th := &Thread{}
	th.sched.priority = prio
	th.sched.affinity = AffinityAll
	return th
}

func TestReadyLists(t *testing.T) {
	var r readyLists
	_, ok := r.highest()
	assert.False(t, ok)

	t1, t2, t3, t4 := prioThread(3), prioThread(3), prioThread(3), prioThread(1)
	r.pushBack(t1)
	r.pushBack(t2)
	r.pushFront(t3)
	r.pushBack(t4)
	assert.Equal(t, 4, r.count)

	prio, ok := r.highest()
	require.True(t, ok)
	assert.Equal(t, 1, prio)
	assert.Equal(t, []*Thread{t3, t1, t2}, r.levels[3])

	assert.True(t, r.remove(t1))
	assert.False(t, r.remove(t1))
	assert.Equal(t, []*Thread{t3, t2}, r.levels[3])
	assert.Equal(t, 3, r.count)
}

func TestInsertOrdered_StableAmongEquals(t *testing.T) {
	type pair struct{ key, id int }
	key := func(p pair) int { return p.key }

	var s []pair
	for i, k := range []int{3, 1, 3, 2, 1, 3} {
		s = insertOrdered(s, pair{k, i}, key)
	}
	assert.Equal(t, []pair{{1, 1}, {1, 4}, {2, 3}, {3, 0}, {3, 2}, {3, 5}}, s)
}

func TestWaitList_PriorityOrder(t *testing.T) {
	var l waitList
	entry := func(prio uint8) *WaitEntry {
		return &WaitEntry{macro: &MacroWait{thread: prioThread(prio)}}
	}
	low, high, mid, high2 := entry(9), entry(0), entry(4), entry(0)
	for _, e := range []*WaitEntry{low, high, mid, high2} {
		l.insert(e)
	}
	assert.Equal(t, []*WaitEntry{high, high2, mid, low}, l.snapshot())

	l.remove(mid)
	assert.Equal(t, 3, l.len())
	assert.Equal(t, []*WaitEntry{high, high2, low}, l.snapshot())
}

func TestScheduler_PickCorePrefersIdle(t *testing.T) {
	k := newIdleKernel(t, WithCores(3))
	s := &k.sched

	busy := prioThread(5)
	k.cores[0].assigned.Store(busy)
	s.sortCores()
	assert.NotSame(t, k.cores[0], s.corePrio[0])
	assert.Same(t, k.cores[0], s.corePrio[2])

	th := prioThread(7)
	th.sched.affinity = 1 << 0
	assert.Nil(t, s.pickCore(th), "lower priority cannot preempt")

	th.sched.priority = 2
	assert.Same(t, k.cores[0], s.pickCore(th))

	th.sched.affinity = AffinityAll
	c := s.pickCore(th)
	require.NotNil(t, c)
	assert.Nil(t, c.assigned.Load())
}

func TestScheduler_QuantumExpiryRotates(t *testing.T) {
	k := newIdleKernel(t, WithCores(1))
	p := &schedPass{k: k, s: &k.sched, core: k.cores[0]}
	c := k.cores[0]

	running, waiting, other := prioThread(4), prioThread(4), prioThread(4)
	running.sched.quantum, waiting.sched.quantum = 100, 100
	other.sched.affinity = 0
	p.runOn(c, running)
	k.sched.ready.pushBack(other)

	running.sched.quantumLeft = 0
	assert.False(t, p.quantumExpired(c, running), "nothing eligible")
	assert.Equal(t, int64(100), running.sched.quantumLeft)

	k.sched.ready.pushBack(waiting)
	running.sched.quantumLeft = 0
	require.True(t, p.quantumExpired(c, running))
	assert.Same(t, waiting, c.assigned.Load())
	assert.Equal(t, ThreadRunning, waiting.State())
	assert.Equal(t, ThreadReady, running.State())
	assert.Equal(t, []*Thread{other, running}, k.sched.ready.levels[4])
	assert.Equal(t, uint64(1), k.stats.quantumExpiries.Load())
	assert.Zero(t, k.stats.preemptions.Load())
}

func TestScheduler_DistributePreemptsLowerPriority(t *testing.T) {
	k := newIdleKernel(t, WithCores(1))
	p := &schedPass{k: k, s: &k.sched, core: k.cores[0]}
	c := k.cores[0]

	low, high := prioThread(10), prioThread(1)
	p.runOn(c, low)
	p.makeReady(high)
	p.distribute()

	assert.Same(t, high, c.assigned.Load())
	assert.Equal(t, []*Thread{low}, k.sched.ready.levels[10])
	assert.Equal(t, uint64(1), k.stats.preemptions.Load())
	assert.True(t, low.stopRequested.Load())
}
