package kernel

import (
	"fmt"
	"time"
)

// prepare resets the thread's trap item for a new kernel entry.
func (t *Thread) prepare(kind ItemKind) *SchedItem {
	it := &t.sched.item
	*it = SchedItem{
		done:   it.done,
		thread: t,
		kind:   kind,
	}
	return it
}

// trap enters the kernel: the thread vacates its core, submits its item,
// and nudges its core to run the scheduler. Once the item completes, the
// thread parks until it is granted a core again.
func (t *Thread) trap() {
	k := t.k
	c := t.current
	t.current = nil
	if c != nil {
		c.executing.CompareAndSwap(t, nil)
	} else {
		c = k.schedulingCore()
	}

	it := &t.sched.item
	k.submit(it)
	c.post(CoreEventSchedulerCall, c.id)

	select {
	case <-it.done:
	case <-k.done:
		exitGoroutine()
	}

	if it.kind == ItemThreadExit {
		return
	}
	t.current = t.park()
}

// park blocks until a core that is still assigned to the thread grants it
// execution.
func (t *Thread) park() *cpuCore {
	for {
		t.parked.Store(true)
		if c := t.sched.core.Load(); c != nil {
			c.wake()
		}
		select {
		case c := <-t.grant:
			if c.assigned.Load() == t {
				t.stopRequested.Store(false)
				return c
			}
			// reassigned between the grant and now
			c.executing.CompareAndSwap(t, nil)
			c.wake()
		case <-t.k.done:
			exitGoroutine()
		}
	}
}

// Checkpoint is a preemption point. If the scheduler has given the
// thread's core to another thread, the thread vacates it and parks until
// it is scheduled again. Long running thread functions must call it
// periodically.
func (t *Thread) Checkpoint() {
	if t.k.stopping() {
		exitGoroutine()
	}
	c := t.current
	if !t.stopRequested.Load() && c.assigned.Load() == t {
		return
	}
	t.current = nil
	c.executing.CompareAndSwap(t, nil)
	c.wake()
	t.k.stats.checkpointYields.Add(1)
	t.current = t.park()
}

// Core returns the core the thread is executing on. It must be called by
// t itself.
func (t *Thread) Core() CoreID { return t.current.id }

// Wait blocks until any, or all, of objs are signaled, or timeout elapses.
// A zero timeout polls, and [Infinite] never times out.
func (t *Thread) Wait(waitAll bool, timeout time.Duration, objs ...Object) (WaitResult, error) {
	if len(objs) == 0 || len(objs) > MaxWaitObjects {
		return WaitResult{}, fmt.Errorf("%w: wait on %d objects", ErrInvalidArgument, len(objs))
	}
	for i, obj := range objs {
		switch o := obj.(type) {
		case nil:
			return WaitResult{}, fmt.Errorf("%w: nil object at %d", ErrInvalidArgument, i)
		case *Thread:
			if o == t {
				return WaitResult{}, ErrWaitOnSelf
			}
		case *Process:
			if o == t.proc {
				return WaitResult{}, ErrWaitOnSelf
			}
		}
		for _, prev := range objs[:i] {
			if prev == obj {
				return WaitResult{}, fmt.Errorf("%w: object %d repeated", ErrInvalidArgument, obj.Header().id)
			}
		}
	}
	return t.wait(waitAll, timeout, objs)
}

// WaitOne blocks until obj is signaled, or timeout elapses.
func (t *Thread) WaitOne(obj Object, timeout time.Duration) (WaitResult, error) {
	return t.Wait(false, timeout, obj)
}

// WaitAny blocks until one of objs is signaled, or timeout elapses.
func (t *Thread) WaitAny(timeout time.Duration, objs ...Object) (WaitResult, error) {
	return t.Wait(false, timeout, objs...)
}

// WaitAll blocks until all of objs are signaled, or timeout elapses.
func (t *Thread) WaitAll(timeout time.Duration, objs ...Object) (WaitResult, error) {
	return t.Wait(true, timeout, objs...)
}

// Sleep blocks for d.
func (t *Thread) Sleep(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative sleep", ErrInvalidArgument)
	}
	_, err := t.wait(false, d, nil)
	return err
}

func (t *Thread) wait(waitAll bool, timeout time.Duration, objs []Object) (WaitResult, error) {
	if timeout < 0 {
		timeout = Infinite
	}
	mw := newMacroWait(t, waitAll, timeout, objs)
	it := t.prepare(ItemThreadWait)
	it.macro = mw
	t.trap()
	return mw.result, it.err
}
