package kernel

import (
	"fmt"
	"time"
)

const (
	// MaxWaitObjects bounds the number of objects in a single wait.
	MaxWaitObjects = 32

	// Infinite is the timeout of a wait that never times out.
	Infinite time.Duration = -1
)

// WaitStatus is how a wait ended.
type WaitStatus uint8

const (
	WaitSignaled WaitStatus = iota
	WaitTimeout
	WaitAbandoned
)

func (s WaitStatus) String() string {
	switch s {
	case WaitSignaled:
		return "Signaled"
	case WaitTimeout:
		return "Timeout"
	case WaitAbandoned:
		return "Abandoned"
	default:
		return fmt.Sprintf("WaitStatus(%d)", uint8(s))
	}
}

// WaitResult is the outcome of a wait. Index is the position of the
// object that satisfied, or was abandoned by, the wait, or -1 on timeout.
type WaitResult struct {
	Index  int
	Status WaitStatus
}

// WaitEntry links one object of a [MacroWait] into that object's wait list.
type WaitEntry struct {
	macro *MacroWait
	obj   Object
	index int
	// on the object's wait list
	linked bool
	// holds a semaphore unit on behalf of a wait-all
	satisfied bool
}

// MacroWait is a thread's wait on a set of objects, for any or all of
// them, with an optional timeout. It is resolved exactly once.
type MacroWait struct {
	thread   *Thread
	entries  []WaitEntry
	timer    SchedTimerItem
	result   WaitResult
	timeout  time.Duration
	waitAll  bool
	resolved bool
}

func newMacroWait(t *Thread, waitAll bool, timeout time.Duration, objs []Object) *MacroWait {
	mw := &MacroWait{
		thread:  t,
		entries: make([]WaitEntry, len(objs)),
		timeout: timeout,
		waitAll: waitAll,
	}
	for i, obj := range objs {
		mw.entries[i] = WaitEntry{macro: mw, obj: obj, index: i}
	}
	mw.timer.item.kind = ItemWaitTimeout
	mw.timer.item.macro = mw
	return mw
}

// waitHeader returns the header whose wait list obj's waiters join.
func waitHeader(obj Object) *ObjectHeader {
	if a, ok := obj.(*Alarm); ok {
		return &a.ev.ObjectHeader
	}
	return obj.Header()
}

// satisfiable reports whether e's object would satisfy it now.
func (p *schedPass) satisfiable(e *WaitEntry) bool {
	switch o := e.obj.(type) {
	case *Event:
		return o.signaled.Load()
	case *Alarm:
		return o.ev.signaled.Load()
	case *Semaphore:
		return o.count.Load() > 0
	case *Thread:
		return o.State().Terminal()
	case *Process:
		return o.exited.Load()
	default:
		return false
	}
}

// consume applies the side effect of e being satisfied.
func (p *schedPass) consume(e *WaitEntry) {
	switch o := e.obj.(type) {
	case *Event:
		if o.autoReset {
			o.signaled.Store(false)
		}
	case *Alarm:
		if o.ev.autoReset {
			o.ev.signaled.Store(false)
		}
	case *Semaphore:
		if e.satisfied {
			o.held--
		} else {
			o.count.Add(-1)
		}
	}
	e.satisfied = false
}

// othersSatisfiable reports whether every entry of mw, besides except, is
// held or satisfiable.
func (p *schedPass) othersSatisfiable(mw *MacroWait, except *WaitEntry) bool {
	for i := range mw.entries {
		e := &mw.entries[i]
		if e != except && !e.satisfied && !p.satisfiable(e) {
			return false
		}
	}
	return true
}

// completeAll consumes every entry of a wait-all, then wakes it.
func (p *schedPass) completeAll(mw *MacroWait, index int) {
	for i := range mw.entries {
		p.consume(&mw.entries[i])
	}
	p.wake(mw, WaitSignaled, index)
}

// execThreadWait evaluates a wait, completing it immediately if it can be
// satisfied or has a zero timeout, otherwise blocking the thread.
func (p *schedPass) execThreadWait(it *SchedItem) bool {
	mw, t := it.macro, it.thread

	if len(mw.entries) != 0 {
		if mw.waitAll {
			if p.othersSatisfiable(mw, nil) {
				for i := range mw.entries {
					p.consume(&mw.entries[i])
				}
				p.resolve(it, mw, WaitResult{Index: len(mw.entries) - 1})
				return false
			}
		} else {
			for i := range mw.entries {
				if e := &mw.entries[i]; p.satisfiable(e) {
					p.consume(e)
					p.resolve(it, mw, WaitResult{Index: i})
					return false
				}
			}
		}
	}

	if mw.timeout == 0 {
		p.k.stats.timeouts.Add(1)
		p.resolve(it, mw, WaitResult{Index: -1, Status: WaitTimeout})
		return false
	}

	p.unschedule(t)
	t.setState(ThreadWaiting)
	t.sched.wait = mw
	for i := range mw.entries {
		e := &mw.entries[i]
		waitHeader(e.obj).waiters.insert(e)
		e.linked = true
	}
	if mw.timeout > 0 {
		p.s.timers.insert(&mw.timer, int64(mw.timeout))
	}
	return true
}

// resolve completes a wait that never blocked.
func (p *schedPass) resolve(it *SchedItem, mw *MacroWait, result WaitResult) {
	mw.resolved = true
	mw.result = result
	p.complete(it, nil)
}

// wake resolves a blocked wait, unlinking it from every object and the
// timer queue, and readies its thread. Semaphore units held by an
// unsuccessful wait-all are released back to their semaphores, unless the
// semaphore is being disposed.
func (p *schedPass) wake(mw *MacroWait, status WaitStatus, index int) {
	if mw.resolved {
		return
	}
	mw.resolved = true

	var refunds []*Semaphore
	for i := range mw.entries {
		e := &mw.entries[i]
		if e.linked {
			waitHeader(e.obj).waiters.remove(e)
			e.linked = false
		}
		if e.satisfied {
			e.satisfied = false
			if sem, ok := e.obj.(*Semaphore); ok {
				sem.held--
				refunds = append(refunds, sem)
			}
		}
	}
	p.s.timers.remove(&mw.timer)

	switch status {
	case WaitTimeout:
		p.k.stats.timeouts.Add(1)
	case WaitAbandoned:
		p.k.stats.abandoned.Add(1)
	}

	mw.result = WaitResult{Index: index, Status: status}
	t := mw.thread
	t.sched.wait = nil
	p.makeReady(t)
	p.complete(&t.sched.item, nil)

	for _, sem := range refunds {
		if sem.closing {
			continue
		}
		if err := p.releaseSemaphore(sem, 1); err != nil {
			p.k.panicf(p.core.id, "semaphore %d refund: %v", sem.id, err)
		}
	}
}

func (p *schedPass) execWaitTimeout(it *SchedItem) bool {
	mw := it.macro
	if mw.resolved {
		return false
	}
	p.wake(mw, WaitTimeout, -1)
	return true
}

// signalTerminal wakes waiters on an object that has become permanently
// signaled, a thread or a process.
func (p *schedPass) signalTerminal(h *ObjectHeader) {
	for _, e := range h.waiters.snapshot() {
		if !e.linked {
			continue
		}
		mw := e.macro
		if !mw.waitAll {
			p.wake(mw, WaitSignaled, e.index)
		} else if p.othersSatisfiable(mw, e) {
			p.completeAll(mw, e.index)
		}
	}
}

// abandonWaiters wakes every waiter on a disposed object.
func (p *schedPass) abandonWaiters(h *ObjectHeader) {
	for _, e := range h.waiters.snapshot() {
		if e.linked {
			p.wake(e.macro, WaitAbandoned, e.index)
		}
	}
}
