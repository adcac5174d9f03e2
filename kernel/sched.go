package kernel

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// minTimerDelay bounds how soon the hardware timer is re-armed.
const minTimerDelay = 50 * time.Microsecond

// scheduler is the state owned by whichever core holds the ownership
// word. Outside of a pass, only the atomic fields may be touched.
type scheduler struct {
	k *Kernel

	ready  readyLists
	timers timerQueue

	// items taken but not yet executed, in (timestamp, seq) order
	work []*SchedItem

	// cores, lowest priority (idle) first
	corePrio []*cpuCore

	stops []pendingStop

	// hardware timer, a single one-shot shared by all cores
	hwMu sync.Mutex
	hw   *time.Timer

	// the core the hardware timer interrupts, also the core external
	// callers nudge
	timerCore atomic.Pointer[cpuCore]

	tickItem   SchedItem
	tickQueued atomic.Bool

	lastAccount int64

	// cores whose assignment changed during the current pass
	changed AffinityMask
}

type pendingStop struct {
	core   *cpuCore
	thread *Thread
}

func (s *scheduler) init(k *Kernel) {
	s.k = k
	s.corePrio = slices.Clone(k.cores)
	s.tickItem.kind = ItemTick
}

// schedPass is held by the core that won the ownership word, for the
// duration of one scheduling pass.
type schedPass struct {
	k    *Kernel
	s    *scheduler
	core *cpuCore

	items int
	dirty bool
}

// run drains every submitted item, then redistributes threads and
// re-arms the hardware timer, repeating until ownership can be released.
func (p *schedPass) run() {
	start := timeNow()
	s := p.s
	s.disarm()
	for {
		p.account()
		for p.splice(); len(s.work) != 0; p.splice() {
			it := s.work[0]
			s.work[0] = nil
			s.work = s.work[1:]
			p.execute(it)
		}
		p.distribute()
		p.rearm()
		if p.tryRelease() {
			break
		}
	}
	p.k.stats.recordPass(timeNow().Sub(start), p.items)
}

// account charges elapsed time against running quanta and the timer
// queue. Expired timers submit their items for this pass.
func (p *schedPass) account() {
	s := p.s
	now := p.k.now()
	elapsed := now - s.lastAccount
	s.lastAccount = now
	if elapsed <= 0 {
		return
	}

	for _, c := range p.k.cores {
		if t := c.assigned.Load(); t != nil {
			t.sched.quantumLeft -= elapsed
		}
	}

	s.timers.advance(elapsed, func(ti *SchedTimerItem) {
		p.k.submit(&ti.item)
	})

	for _, c := range p.k.cores {
		if t := c.assigned.Load(); t != nil && t.sched.quantumLeft <= 0 {
			if p.quantumExpired(c, t) {
				p.dirty = true
			}
		}
	}
}

// splice moves newly submitted items into the working list, keeping it
// ordered by timestamp.
func (p *schedPass) splice() {
	items, n := p.k.items.take()
	if n == 0 {
		return
	}
	p.items += n
	s := p.s
	for it := items; it != nil; {
		next := it.next
		it.next = nil
		i := len(s.work)
		for i > 0 && it.before(s.work[i-1]) {
			i--
		}
		s.work = slices.Insert(s.work, i, it)
		it = next
	}
}

func (p *schedPass) execute(it *SchedItem) {
	if it.kind >= itemKindCount || itemHandlers[it.kind] == nil {
		p.k.panicf(p.core.id, "unknown scheduler item kind %d", uint8(it.kind))
	}
	p.k.stats.items[it.kind].Add(1)
	if itemHandlers[it.kind](p, it) {
		p.dirty = true
	}
}

// complete reports an item's outcome to whoever submitted it.
func (p *schedPass) complete(it *SchedItem, err error) {
	it.err = err
	if it.done == nil {
		return
	}
	select {
	case it.done <- struct{}{}:
	default:
		p.k.panicf(p.core.id, "%s item completed twice", it.kind)
	}
}

// distribute places ready threads on idle or lower priority cores, then
// notifies every core whose assignment changed.
func (p *schedPass) distribute() {
	s := p.s
	if p.dirty {
		p.dirty = false
		for p.placeOne() {
		}
		s.sortCores()
	}

	for _, st := range s.stops {
		p.k.stopThread(p.core, st.core, st.thread)
		if st.core != p.core {
			// the Stop ICI doubles as the wakeup
			s.changed &^= 1 << st.core.id
		}
	}
	clear(s.stops)
	s.stops = s.stops[:0]

	for _, c := range p.k.cores {
		if c != p.core && s.changed.Has(c.id) {
			p.k.sendICI(p.core, c, CoreEventWakeup, nil, PageRange{})
		}
	}
	s.changed = 0
}

func (p *schedPass) placeOne() bool {
	s := p.s
	for prio := range s.ready.levels {
		for i, t := range s.ready.levels[prio] {
			if c := s.pickCore(t); c != nil {
				s.ready.removeAt(prio, i)
				p.runOn(c, t)
				s.sortCores()
				return true
			}
		}
	}
	return false
}

// pickCore returns the lowest priority core that t may run on and would
// preempt, or nil.
func (s *scheduler) pickCore(t *Thread) *cpuCore {
	for _, c := range s.corePrio {
		if !t.sched.affinity.Has(c.id) {
			continue
		}
		if r := c.assigned.Load(); r == nil || r.sched.priority > t.sched.priority {
			return c
		}
	}
	return nil
}

func coreRank(c *cpuCore) int {
	if t := c.assigned.Load(); t != nil {
		return int(t.sched.priority)
	}
	return NumPriorities
}

func (s *scheduler) sortCores() {
	slices.SortStableFunc(s.corePrio, func(a, b *cpuCore) int {
		return cmp.Compare(coreRank(b), coreRank(a))
	})
}

// runOn assigns t to c, preempting whatever c was running.
func (p *schedPass) runOn(c *cpuCore, t *Thread) {
	if r := c.assigned.Load(); r != nil {
		p.preempt(c, r, true)
	}
	if t.sched.quantumLeft <= 0 {
		t.sched.quantumLeft = t.sched.quantum
	}
	t.setState(ThreadRunning)
	c.assigned.Store(t)
	t.sched.core.Store(c)
	p.s.changed |= 1 << c.id
}

// preempt returns r, assigned to c, to the ready lists. Preempted threads
// resume first within their priority; rotated threads queue at the back.
func (p *schedPass) preempt(c *cpuCore, r *Thread, front bool) {
	s := p.s
	c.assigned.Store(nil)
	r.sched.core.Store(nil)
	r.setState(ThreadReady)
	if front {
		s.ready.pushFront(r)
		p.k.stats.preemptions.Add(1)
	} else {
		s.ready.pushBack(r)
	}
	s.stops = append(s.stops, pendingStop{core: c, thread: r})
	s.changed |= 1 << c.id
}

// unschedule takes t off its core or out of the ready lists.
func (p *schedPass) unschedule(t *Thread) {
	s := p.s
	if c := t.sched.core.Load(); c != nil {
		if c.assigned.CompareAndSwap(t, nil) {
			s.changed |= 1 << c.id
		}
		t.sched.core.Store(nil)
	}
	if t.State() == ThreadReady {
		s.ready.remove(t)
	}
	p.dirty = true
}

// makeReady queues a thread that was waiting.
func (p *schedPass) makeReady(t *Thread) {
	t.setState(ThreadReady)
	p.s.ready.pushBack(t)
	p.dirty = true
}

func (p *schedPass) anyIdle() bool {
	for _, c := range p.k.cores {
		if c.assigned.Load() == nil {
			return true
		}
	}
	return false
}

// rearm sets the hardware timer for the sooner of the shortest remaining
// quantum and the head of the timer queue.
func (p *schedPass) rearm() {
	s := p.s
	next := int64(-1)
	for _, c := range p.k.cores {
		if t := c.assigned.Load(); t != nil && (next < 0 || t.sched.quantumLeft < next) {
			next = t.sched.quantumLeft
		}
	}
	if d, ok := s.timers.next(); ok && (next < 0 || d < next) {
		next = d
	}
	if len(s.corePrio) != 0 {
		s.timerCore.Store(s.corePrio[0])
	}
	if next < 0 {
		return
	}
	s.arm(max(time.Duration(next), minTimerDelay))
}

func (s *scheduler) arm(d time.Duration) {
	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	if s.k.stopping() {
		return
	}
	if s.hw == nil {
		s.hw = time.AfterFunc(d, s.fire)
		return
	}
	s.hw.Reset(d)
}

func (s *scheduler) disarm() {
	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	if s.hw != nil {
		s.hw.Stop()
	}
}

// fire is the hardware timer interrupt.
func (s *scheduler) fire() {
	if s.k.stopping() {
		return
	}
	c := s.k.schedulingCore()
	c.post(CoreEventTimerFired, c.id)
}

// submitTick queues the tick item, so a timer-driven pass always has work
// to drain.
func (k *Kernel) submitTick() {
	if k.sched.tickQueued.CompareAndSwap(false, true) {
		k.submit(&k.sched.tickItem)
	}
}
