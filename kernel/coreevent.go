package kernel

import (
	"fmt"
	"sync/atomic"
)

// CoreID identifies a logical core, in [0, MaxCores).
type CoreID uint32

// AffinityMask is a set of cores, bit i representing [CoreID] i.
type AffinityMask uint64

// AffinityAll permits every core.
const AffinityAll = ^AffinityMask(0)

// Has reports whether the mask contains core c.
func (m AffinityMask) Has(c CoreID) bool { return c < MaxCores && m&(1<<c) != 0 }

// CoreEventType is the kind of a [CoreEvent].
type CoreEventType uint32

const (
	CoreEventNone CoreEventType = iota
	// CoreEventSchedulerCall asks the core to try to become the scheduler.
	CoreEventSchedulerCall
	// CoreEventTimerFired is the hardware timer expiring.
	CoreEventTimerFired
	// CoreEventWakeup asks the core to re-examine its assignment.
	CoreEventWakeup
	// CoreEventStop asks the core to vacate the thread it is executing.
	CoreEventStop
	// CoreEventTLBInvalidate asks the core to purge a page range.
	CoreEventTLBInvalidate
	// CoreEventPanic announces a kernel panic.
	CoreEventPanic
	// CoreEventDebug asks the core to log its state.
	CoreEventDebug

	coreEventTypeCount
)

func (t CoreEventType) String() string {
	switch t {
	case CoreEventNone:
		return "None"
	case CoreEventSchedulerCall:
		return "SchedulerCall"
	case CoreEventTimerFired:
		return "TimerFired"
	case CoreEventWakeup:
		return "Wakeup"
	case CoreEventStop:
		return "Stop"
	case CoreEventTLBInvalidate:
		return "TLBInvalidate"
	case CoreEventPanic:
		return "Panic"
	case CoreEventDebug:
		return "Debug"
	default:
		return fmt.Sprintf("CoreEventType(%d)", uint32(t))
	}
}

// CoreEvent is a message delivered to a core, either through its ICI
// mailbox or its pending local event list.
type CoreEvent struct {
	next      *CoreEvent
	thread    *Thread
	pages     PageRange
	Timestamp int64
	Type      CoreEventType
	Source    CoreID
}

// Thread returns the thread a Stop event refers to.
func (e *CoreEvent) Thread() *Thread { return e.thread }

// Pages returns the range a TLBInvalidate event refers to.
func (e *CoreEvent) Pages() PageRange { return e.pages }

// eventList is a lock-free LIFO of pending events, drained in one swap.
type eventList struct {
	head atomic.Pointer[CoreEvent]
}

func (l *eventList) push(ev *CoreEvent) {
	for {
		old := l.head.Load()
		ev.next = old
		if l.head.CompareAndSwap(old, ev) {
			return
		}
	}
}

// take detaches every pending event, returning them oldest first.
func (l *eventList) take() *CoreEvent {
	var ordered *CoreEvent
	for ev := l.head.Swap(nil); ev != nil; {
		next := ev.next
		ev.next = ordered
		ordered = ev
		ev = next
	}
	return ordered
}

// localEvent is a core's preallocated instance of a local event type,
// queued at most once at a time.
type localEvent struct {
	ev     CoreEvent
	queued atomic.Bool
}

// iciSlot is the mailbox entry reserved for a single sending core. The
// payload is valid while typ is not CoreEventNone, and the receiver
// acknowledges by storing CoreEventNone.
type iciSlot struct { // betteralign:ignore
	ev  CoreEvent
	typ atomic.Uint32
	_   [40]byte
}
