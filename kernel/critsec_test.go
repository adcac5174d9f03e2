package kernel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCritSec_MutualExclusion(t *testing.T) {
	k := newTestKernel(t, WithCores(3))
	cs := NewCritSec(`counter`)
	assert.Equal(t, `counter`, cs.Name())

	var (
		counter int
		inside  atomic.Int32
	)
	body := func(th *Thread) uint32 {
		for range 200 {
			th.Enter(cs)
			if inside.Add(1) != 1 {
				return 1
			}
			counter++
			th.Checkpoint()
			inside.Add(-1)
			if err := th.Leave(cs); err != nil {
				return 2
			}
		}
		return 0
	}
	var threads []*Thread
	for range 3 {
		threads = append(threads, startThread(t, k, ThreadParams{}, body))
	}
	for _, th := range threads {
		assert.Zero(t, waitExit(t, th))
	}
	assert.Equal(t, 600, counter)
	assert.Zero(t, cs.Owner())
	assert.False(t, cs.Contended())
}

func TestCritSec_ContendedHandOff(t *testing.T) {
	k := newTestKernel(t)
	cs := NewCritSec(``)
	var held atomic.Bool

	owner := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		th.Enter(cs)
		th.Enter(cs)
		held.Store(true)
		if err := th.Sleep(30 * time.Millisecond); err != nil {
			return 1
		}
		if err := th.Leave(cs); err != nil {
			return 2
		}
		if cs.Owner() != th.TID() {
			return 3
		}
		if err := th.Leave(cs); err != nil {
			return 4
		}
		return 0
	})
	require.Eventually(t, held.Load, testTimeout, time.Millisecond)

	owners := make(chan uint32, 1)
	contender := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		if th.TryEnter(cs) {
			return 1
		}
		th.Enter(cs)
		owners <- cs.Owner()
		if err := th.Leave(cs); err != nil {
			return 2
		}
		return 0
	})
	waitState(t, contender, ThreadWaiting)
	assert.True(t, cs.Contended())

	assert.Zero(t, waitExit(t, owner))
	assert.Zero(t, waitExit(t, contender))
	assert.Equal(t, contender.TID(), <-owners)
	assert.Zero(t, cs.Owner())
}

func TestCritSec_LeaveNotOwned(t *testing.T) {
	k := newTestKernel(t)
	cs := NewCritSec(``)
	errs := make(chan error, 1)
	th := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		errs <- th.Leave(cs)
		return 0
	})
	waitExit(t, th)
	assert.ErrorIs(t, <-errs, ErrNotOwner)
}

func TestCritSec_ReleasedOnExit(t *testing.T) {
	k := newTestKernel(t)
	cs := NewCritSec(``)

	owner := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		th.Enter(cs)
		return 0
	})
	waitExit(t, owner)
	assert.Zero(t, cs.Owner())

	next := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		if !th.TryEnter(cs) {
			return 1
		}
		return 0
	})
	assert.Zero(t, waitExit(t, next))
}
