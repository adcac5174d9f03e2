package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Semaphore is a counted signal, bounded by a maximum count.
type Semaphore struct {
	ObjectHeader
	count atomic.Int64
	// units held by incomplete wait-all waiters, scheduler-owned
	held int
	max  int
	// set by the scheduler once disposal begins
	closing bool
}

func (*Semaphore) isObject() {}

// CreateSemaphore creates and registers a semaphore, optionally named.
// The caller owns the returned reference.
func (k *Kernel) CreateSemaphore(name string, maxCount, initial int) (*Semaphore, error) {
	if maxCount < 1 || initial < 0 || initial > maxCount {
		return nil, fmt.Errorf("%w: semaphore count %d of max %d", ErrInvalidArgument, initial, maxCount)
	}
	sem := &Semaphore{max: maxCount}
	if err := k.initObject(&sem.ObjectHeader, ObjectTypeSemaphore, 0, ObjectPages); err != nil {
		return nil, err
	}
	sem.count.Store(int64(initial))
	if err := k.objects.Add(sem, name); err != nil {
		k.abortObject(&sem.ObjectHeader)
		return nil, err
	}
	return sem, nil
}

// Count returns the number of available units.
func (s *Semaphore) Count() int { return int(s.count.Load()) }

// Max returns the maximum count.
func (s *Semaphore) Max() int { return s.max }

// ReleaseSemaphore adds n units to sem, from outside any kernel thread.
func (k *Kernel) ReleaseSemaphore(ctx context.Context, sem *Semaphore, n int) error {
	return k.call(ctx, &SchedItem{kind: ItemSemRelease, sem: sem, count: n})
}

// ReleaseSemaphore adds n units to sem.
func (t *Thread) ReleaseSemaphore(sem *Semaphore, n int) error {
	it := t.prepare(ItemSemRelease)
	it.sem = sem
	it.count = n
	t.trap()
	return it.err
}

func (p *schedPass) execSemRelease(it *SchedItem) bool {
	err := p.releaseSemaphore(it.sem, it.count)
	p.complete(it, err)
	return err == nil
}

// releaseSemaphore hands n units to waiters in priority order, one each,
// and adds the remainder to the count. A wait-all waiter holds its unit
// until the rest of its wait is satisfied.
func (p *schedPass) releaseSemaphore(sem *Semaphore, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: release of %d units", ErrInvalidArgument, n)
	}
	if int(sem.count.Load())+sem.held+n > sem.max {
		return ErrSemaphoreOverflow
	}
	remaining := n
	for _, e := range sem.waiters.snapshot() {
		if remaining == 0 {
			break
		}
		if !e.linked || e.satisfied {
			continue
		}
		mw := e.macro
		remaining--
		if !mw.waitAll {
			p.wake(mw, WaitSignaled, e.index)
			continue
		}
		e.satisfied = true
		sem.held++
		if p.othersSatisfiable(mw, e) {
			p.completeAll(mw, e.index)
		}
	}
	sem.count.Add(int64(remaining))
	return nil
}
