package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_CreateValidation(t *testing.T) {
	k := newIdleKernel(t)
	for _, tc := range []struct{ max, initial int }{
		{0, 0},
		{2, 3},
		{2, -1},
	} {
		_, err := k.CreateSemaphore(``, tc.max, tc.initial)
		assert.ErrorIs(t, err, ErrInvalidArgument, "max %d initial %d", tc.max, tc.initial)
	}
	sem, err := k.CreateSemaphore(``, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, sem.Count())
	assert.Equal(t, 4, sem.Max())
}

func TestSemaphore_ReleaseWakesWaitersInOrder(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.CreateSemaphore(``, 2, 0)
	require.NoError(t, err)

	var (
		threads []*Thread
		outs    []<-chan waitOutcome
	)
	for range 3 {
		th, out := waiter(t, k, false, Infinite, sem)
		waitState(t, th, ThreadWaiting)
		threads = append(threads, th)
		outs = append(outs, out)
	}

	require.NoError(t, k.ReleaseSemaphore(testContext(t), sem, 2))
	assert.Equal(t, WaitSignaled, outcome(t, outs[0]).result.Status)
	assert.Equal(t, WaitSignaled, outcome(t, outs[1]).result.Status)
	assert.Zero(t, sem.Count())
	assert.Equal(t, ThreadWaiting, threads[2].State())

	require.NoError(t, k.ReleaseSemaphore(testContext(t), sem, 1))
	assert.Equal(t, WaitSignaled, outcome(t, outs[2]).result.Status)
	assert.Zero(t, sem.Count())
}

func TestSemaphore_DisposeDoesNotRefundHeldUnits(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.CreateSemaphore(``, 1, 0)
	require.NoError(t, err)
	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)

	holder, heldOut := waiter(t, k, true, Infinite, sem, ev)
	waitState(t, holder, ThreadWaiting)
	// the wait-all holds the only unit while ev is unsignaled
	require.NoError(t, k.ReleaseSemaphore(testContext(t), sem, 1))
	assert.Zero(t, sem.Count())
	queued, queuedOut := waiter(t, k, false, Infinite, sem)
	waitState(t, queued, ThreadWaiting)

	require.True(t, k.Objects().Release(sem))
	assert.Equal(t, WaitResult{Index: 0, Status: WaitAbandoned}, outcome(t, heldOut).result)
	assert.Equal(t, WaitResult{Index: 0, Status: WaitAbandoned}, outcome(t, queuedOut).result)
	assert.Zero(t, sem.Count())
	assertNoWaiters(t, sem, ev)
}

func TestSemaphore_Overflow(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.CreateSemaphore(``, 2, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, k.ReleaseSemaphore(testContext(t), sem, 2), ErrSemaphoreOverflow)
	assert.Equal(t, 1, sem.Count())
	assert.ErrorIs(t, k.ReleaseSemaphore(testContext(t), sem, 0), ErrInvalidArgument)
	require.NoError(t, k.ReleaseSemaphore(testContext(t), sem, 1))
	assert.Equal(t, 2, sem.Count())
}

func TestSemaphore_ZeroTimeoutPoll(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.CreateSemaphore(``, 3, 1)
	require.NoError(t, err)

	results := make(chan WaitResult, 2)
	th := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		for range 2 {
			r, err := th.WaitOne(sem, 0)
			if err != nil {
				return 1
			}
			results <- r
		}
		return 0
	})
	require.Zero(t, waitExit(t, th))
	assert.Equal(t, WaitResult{Status: WaitSignaled}, <-results)
	assert.Equal(t, WaitResult{Index: -1, Status: WaitTimeout}, <-results)
	assert.Zero(t, sem.Count())
}

func TestSemaphore_ProducerConsumer(t *testing.T) {
	k := newTestKernel(t, WithCores(3))
	const n = 50
	full, err := k.CreateSemaphore(``, n, 0)
	require.NoError(t, err)
	empty, err := k.CreateSemaphore(``, n, n)
	require.NoError(t, err)

	producer := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		for range n * 4 {
			if _, err := th.WaitOne(empty, Infinite); err != nil {
				return 1
			}
			if err := th.ReleaseSemaphore(full, 1); err != nil {
				return 2
			}
		}
		return 0
	})
	consumer := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		for range n * 4 {
			if _, err := th.WaitOne(full, time.Minute); err != nil {
				return 1
			}
			if err := th.ReleaseSemaphore(empty, 1); err != nil {
				return 2
			}
		}
		return 0
	})
	assert.Zero(t, waitExit(t, producer))
	assert.Zero(t, waitExit(t, consumer))
	assert.Zero(t, full.Count())
	assert.Equal(t, n, empty.Count())
}
