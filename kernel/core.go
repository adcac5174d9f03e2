package kernel

import (
	"context"
	"runtime"
	"sync/atomic"
)

// cpuCore is a logical core. Its loop goroutine is the only reader of its
// mailbox and local events, and the only goroutine that grants it to a
// thread.
type cpuCore struct {
	k *Kernel

	// wakes the core loop, capacity 1
	kick chan struct{}

	// one slot per sending core
	mailbox []iciSlot

	// assigned is the scheduler's decision; only scheduler passes write it
	assigned atomic.Pointer[Thread]

	// executing is the thread that currently holds the core, set by the core
	// loop when granting, and cleared by the thread when it vacates
	executing atomic.Pointer[Thread]

	events eventList
	locals [coreEventTypeCount]localEvent

	tlbFlushes atomic.Uint64
	delivered  atomic.Uint64

	idle atomic.Bool
	id   CoreID
}

func newCore(k *Kernel, id CoreID, cores int) *cpuCore {
	c := &cpuCore{
		k:       k,
		id:      id,
		kick:    make(chan struct{}, 1),
		mailbox: make([]iciSlot, cores),
	}
	c.idle.Store(true)
	return c
}

func (c *cpuCore) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// post queues a local event, at most once per type until it is delivered.
func (c *cpuCore) post(typ CoreEventType, source CoreID) {
	switch typ {
	case CoreEventSchedulerCall, CoreEventTimerFired, CoreEventWakeup, CoreEventPanic, CoreEventDebug:
	default:
		c.k.panicf(source, "core event type %s cannot be posted locally", typ)
	}
	le := &c.locals[typ]
	if le.queued.CompareAndSwap(false, true) {
		le.ev.Type = typ
		le.ev.Source = source
		le.ev.Timestamp = c.k.now()
		c.events.push(&le.ev)
	}
	c.wake()
}

// loop runs the core until ctx is done or the kernel halts. A kernel panic
// raised on the core ends its loop, and is returned.
func (c *cpuCore) loop(ctx context.Context) (err error) {
	c.k.log.Debug().Uint64(`core`, uint64(c.id)).Log(`core loop started`)
	defer func() {
		if r := recover(); r != nil {
			kp, ok := r.(*KernelPanic)
			if !ok {
				panic(r)
			}
			err = kp
		}
		c.k.log.Debug().Uint64(`core`, uint64(c.id)).Log(`core loop stopped`)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.k.halted:
			c.drain()
			return nil
		case <-c.kick:
		}
		c.drain()
		c.reconcile()
	}
}

// drain delivers acknowledged ICIs first, then local events in the order
// they were posted.
func (c *cpuCore) drain() {
	for i := range c.mailbox {
		slot := &c.mailbox[i]
		if CoreEventType(slot.typ.Load()) == CoreEventNone {
			continue
		}
		c.dispatch(&slot.ev)
		slot.ev.thread = nil
		slot.typ.Store(uint32(CoreEventNone))
	}

	for ev := c.events.take(); ev != nil; {
		next := ev.next
		local := CoreEvent{Timestamp: ev.Timestamp, Type: ev.Type, Source: ev.Source}
		ev.next = nil
		// re-arm before dispatch, so posts made during dispatch are kept
		c.locals[local.Type].queued.Store(false)
		c.dispatch(&local)
		ev = next
	}
}

func (c *cpuCore) dispatch(ev *CoreEvent) {
	c.delivered.Add(1)
	switch ev.Type {
	case CoreEventSchedulerCall:
		c.schedule()

	case CoreEventTimerFired:
		c.k.submitTick()
		c.schedule()

	case CoreEventWakeup:
		// reconcile follows every drain

	case CoreEventStop:
		if t := ev.thread; t != nil && c.executing.Load() == t {
			t.stopRequested.Store(true)
		}

	case CoreEventTLBInvalidate:
		c.tlbFlushes.Add(1)
		if hook := c.k.opts.tlbHook; hook != nil {
			hook(c.id, ev.pages)
		}

	case CoreEventPanic:
		c.k.log.Err().
			Uint64(`core`, uint64(c.id)).
			Uint64(`source`, uint64(ev.Source)).
			Log(`core halted`)

	case CoreEventDebug:
		c.logState()

	default:
		c.k.panicf(c.id, "unknown core event type %d from core %d", uint32(ev.Type), ev.Source)
	}
}

func (c *cpuCore) schedule() {
	if c.k.state.IsTerminal() {
		return
	}
	if p := c.k.tryBecomeScheduler(c); p != nil {
		p.run()
	}
}

// reconcile brings the executing thread in line with the assigned one. A
// thread that must give up the core is flagged, and vacates at its next
// kernel entry or checkpoint; a vacant core is granted to its assigned
// thread once that thread has parked.
func (c *cpuCore) reconcile() {
	a := c.assigned.Load()
	if e := c.executing.Load(); e != nil {
		if e != a {
			e.stopRequested.Store(true)
		}
		c.idle.Store(false)
		return
	}
	if a == nil {
		c.idle.Store(true)
		return
	}
	c.idle.Store(false)
	if !a.parked.CompareAndSwap(true, false) {
		// not yet parked, it kicks this core when it is
		return
	}
	c.executing.Store(a)
	a.grant <- c
	c.k.stats.contextSwitches.Add(1)
}

func (c *cpuCore) logState() {
	b := c.k.log.Info()
	if !b.Enabled() {
		return
	}
	b = b.Uint64(`core`, uint64(c.id)).
		Bool(`idle`, c.idle.Load()).
		Uint64(`tlb_flushes`, c.tlbFlushes.Load()).
		Uint64(`delivered`, c.delivered.Load())
	if t := c.assigned.Load(); t != nil {
		b = b.Uint64(`assigned`, uint64(t.tid))
	}
	if t := c.executing.Load(); t != nil {
		b = b.Uint64(`executing`, uint64(t.tid))
	}
	b.Log(`core state`)
}

type iciRoute struct {
	from, to CoreID
}

// sendICI delivers an event to another core's mailbox, spinning while the
// slot reserved for the sender still holds an unacknowledged event. Only a
// core running a scheduler pass sends, so each slot has a single writer.
func (k *Kernel) sendICI(from, to *cpuCore, typ CoreEventType, t *Thread, pages PageRange) {
	slot := &to.mailbox[from.id]
	for spins := 1; slot.typ.Load() != uint32(CoreEventNone); spins++ {
		if k.stopping() {
			return
		}
		if spins%k.opts.iciStallSpins == 0 {
			if _, ok := k.stallLimiter.Allow(iciRoute{from.id, to.id}); ok {
				k.log.Warning().
					Uint64(`from`, uint64(from.id)).
					Uint64(`to`, uint64(to.id)).
					Int(`spins`, spins).
					Log(`ICI mailbox slot stalled`)
			}
		}
		runtime.Gosched()
	}
	slot.ev.Source = from.id
	slot.ev.Timestamp = k.now()
	slot.ev.thread = t
	slot.ev.pages = pages
	slot.ev.Type = typ
	slot.typ.Store(uint32(typ))
	k.stats.icis.Add(1)
	to.wake()
}

// awaitICI spins until to has acknowledged the last event from.
func (k *Kernel) awaitICI(from, to *cpuCore) {
	slot := &to.mailbox[from.id]
	for slot.typ.Load() != uint32(CoreEventNone) && !k.stopping() {
		runtime.Gosched()
	}
}

// stopThread makes target give up t, returning once t no longer holds it.
func (k *Kernel) stopThread(from, target *cpuCore, t *Thread) {
	if from == target {
		t.stopRequested.Store(true)
		return
	}
	k.sendICI(from, target, CoreEventStop, t, PageRange{})
	for target.executing.Load() == t && !k.stopping() {
		runtime.Gosched()
	}
}
