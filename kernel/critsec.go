package kernel

import (
	"slices"
	"sync/atomic"
)

const csContended = 1 << 32

// CritSec is a recursive mutual exclusion lock between kernel threads.
// Uncontended entry and exit never enter the kernel; contended entry
// blocks in the scheduler, and ownership is handed to the highest
// priority waiter on release. Critical sections still owned by an exiting
// thread are released on its behalf.
type CritSec struct {
	// owner tid, and csContended while there are waiters
	word atomic.Uint64
	// scheduler-owned
	waiters []*Thread
	// owner-owned
	depth int
	name  string
}

// NewCritSec returns an unowned critical section.
func NewCritSec(name string) *CritSec {
	return &CritSec{name: name}
}

func (cs *CritSec) Name() string { return cs.name }

// Owner returns the tid of the owning thread, or 0.
func (cs *CritSec) Owner() uint32 { return uint32(cs.word.Load()) }

// Contended reports whether threads are waiting to enter.
func (cs *CritSec) Contended() bool { return cs.word.Load()&csContended != 0 }

// TryEnter enters cs if it is free or already owned by t.
func (t *Thread) TryEnter(cs *CritSec) bool {
	if cs.Owner() == t.tid {
		cs.depth++
		return true
	}
	if !cs.word.CompareAndSwap(0, uint64(t.tid)) {
		return false
	}
	cs.depth = 1
	t.sched.critSecs = append(t.sched.critSecs, cs)
	return true
}

// Enter enters cs, blocking while another thread owns it.
func (t *Thread) Enter(cs *CritSec) {
	if t.TryEnter(cs) {
		return
	}
	it := t.prepare(ItemContendedCritSec)
	it.cs = cs
	t.trap()
	cs.depth = 1
	t.sched.critSecs = append(t.sched.critSecs, cs)
}

// Leave exits cs once per matching Enter.
func (t *Thread) Leave(cs *CritSec) error {
	if cs.Owner() != t.tid {
		return ErrNotOwner
	}
	if cs.depth > 1 {
		cs.depth--
		return nil
	}
	cs.depth = 0
	t.removeCritSec(cs)
	if cs.word.CompareAndSwap(uint64(t.tid), 0) {
		return nil
	}
	it := t.prepare(ItemCritSecRelease)
	it.cs = cs
	t.trap()
	return it.err
}

func (p *schedPass) execContendedCritSec(it *SchedItem) bool {
	cs, t := it.cs, it.thread
	for {
		w := cs.word.Load()
		if uint32(w) == 0 {
			nw := uint64(t.tid)
			if len(cs.waiters) != 0 {
				nw |= csContended
			}
			if cs.word.CompareAndSwap(w, nw) {
				p.complete(it, nil)
				return false
			}
			continue
		}
		if cs.word.CompareAndSwap(w, w|csContended) {
			break
		}
	}
	cs.waiters = insertOrdered(cs.waiters, t, threadPriority)
	p.unschedule(t)
	t.setState(ThreadWaiting)
	t.sched.blockedOn = cs
	return true
}

func (p *schedPass) execCritSecRelease(it *SchedItem) bool {
	p.handOff(it.cs)
	p.complete(it, nil)
	return true
}

// handOff passes ownership of cs to its best waiter, or frees it.
func (p *schedPass) handOff(cs *CritSec) {
	if len(cs.waiters) == 0 {
		cs.word.Store(0)
		return
	}
	u := cs.waiters[0]
	cs.waiters = slices.Delete(cs.waiters, 0, 1)
	nw := uint64(u.tid)
	if len(cs.waiters) != 0 {
		nw |= csContended
	}
	cs.word.Store(nw)
	u.sched.blockedOn = nil
	p.makeReady(u)
	p.complete(&u.sched.item, nil)
}
