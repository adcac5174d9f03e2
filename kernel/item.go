package kernel

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ItemKind selects the scheduler handler for a [SchedItem].
type ItemKind uint8

const (
	ItemNone ItemKind = iota
	ItemThreadCreate
	ItemThreadExit
	ItemThreadWait
	ItemThreadSetAttr
	ItemContendedCritSec
	ItemCritSecRelease
	ItemEventChange
	ItemSemRelease
	ItemAlarmMount
	ItemAlarmChange
	ItemAlarmFire
	ItemWaitTimeout
	ItemObjectDispose
	ItemPurgePageTable
	ItemTick

	itemKindCount
)

var itemKindNames = [itemKindCount]string{
	ItemNone:             `None`,
	ItemThreadCreate:     `ThreadCreate`,
	ItemThreadExit:       `ThreadExit`,
	ItemThreadWait:       `ThreadWait`,
	ItemThreadSetAttr:    `ThreadSetAttr`,
	ItemContendedCritSec: `ContendedCritSec`,
	ItemCritSecRelease:   `CritSecRelease`,
	ItemEventChange:      `EventChange`,
	ItemSemRelease:       `SemRelease`,
	ItemAlarmMount:       `AlarmMount`,
	ItemAlarmChange:      `AlarmChange`,
	ItemAlarmFire:        `AlarmFire`,
	ItemWaitTimeout:      `WaitTimeout`,
	ItemObjectDispose:    `ObjectDispose`,
	ItemPurgePageTable:   `PurgePageTable`,
	ItemTick:             `Tick`,
}

func (k ItemKind) String() string {
	if k < itemKindCount {
		return itemKindNames[k]
	}
	return fmt.Sprintf("ItemKind(%d)", uint8(k))
}

// SchedItem is a unit of scheduler work. Items are usually embedded in the
// object or thread they act upon, and an embedded item is never submitted
// twice before it completes.
type SchedItem struct {
	next *SchedItem

	// done, if set, receives once when the item completes
	done chan struct{}
	err  error

	thread *Thread
	target *Thread
	obj    Object
	event  *Event
	sem    *Semaphore
	alarm  *Alarm
	macro  *MacroWait
	cs     *CritSec

	timestamp int64
	seq       uint64
	period    int64
	count     int
	attr      threadAttr
	exitCode  uint32
	kind      ItemKind
	signal    bool
	periodic  bool
	stop      bool
}

// Kind returns the item's kind.
func (it *SchedItem) Kind() ItemKind { return it.kind }

// before orders items by timestamp, then submission order.
func (it *SchedItem) before(other *SchedItem) bool {
	if it.timestamp != other.timestamp {
		return it.timestamp < other.timestamp
	}
	return it.seq < other.seq
}

const (
	ownerShift = 32
	countMask  = 1<<ownerShift - 1
)

// itemQueue is the lock-free stack of submitted items, plus the scheduler
// ownership word: the owning core (id+1) in the high half, and the number
// of submitted but not yet taken items in the low half. The count is raised
// before an item becomes visible, so it never underflows when taken.
type itemQueue struct { // betteralign:ignore
	_    cpu.CacheLinePad
	word atomic.Uint64
	_    cpu.CacheLinePad
	head atomic.Pointer[SchedItem]
	seq  atomic.Uint64
}

func (q *itemQueue) push(it *SchedItem) {
	it.seq = q.seq.Add(1)
	q.word.Add(1)
	for {
		old := q.head.Load()
		it.next = old
		if q.head.CompareAndSwap(old, it) {
			return
		}
	}
}

// take detaches all visible items, in submission order, and deducts them
// from the pending count.
func (q *itemQueue) take() (items *SchedItem, n int) {
	for it := q.head.Swap(nil); it != nil; n++ {
		next := it.next
		it.next = items
		items = it
		it = next
	}
	if n != 0 {
		q.word.Add(^uint64(n - 1))
	}
	return items, n
}

// Owner returns the core running the scheduler, if any.
func (q *itemQueue) Owner() (CoreID, bool) {
	w := q.word.Load()
	if w>>ownerShift == 0 {
		return 0, false
	}
	return CoreID(w>>ownerShift - 1), true
}

// Pending returns the number of submitted items not yet taken.
func (q *itemQueue) Pending() int {
	return int(q.word.Load() & countMask)
}

// tryBecomeScheduler installs c as the scheduler, if there is pending work
// and no current owner. The returned pass is the only way to drain the
// queue.
func (k *Kernel) tryBecomeScheduler(c *cpuCore) *schedPass {
	for {
		w := k.items.word.Load()
		if w>>ownerShift != 0 || w&countMask == 0 {
			return nil
		}
		if k.items.word.CompareAndSwap(w, w|uint64(c.id+1)<<ownerShift) {
			return &schedPass{k: k, core: c, s: &k.sched}
		}
	}
}

// tryRelease gives up ownership, failing if items were submitted since the
// last take.
func (p *schedPass) tryRelease() bool {
	q := &p.k.items
	w := q.word.Load()
	if w&countMask != 0 {
		if q.head.Load() == nil {
			// counted, but not yet visible
			runtime.Gosched()
		}
		return false
	}
	if w>>ownerShift != uint64(p.core.id+1) {
		p.k.panicf(p.core.id, "scheduler ownership word %#x not owned by core %d", w, p.core.id)
	}
	return q.word.CompareAndSwap(w, 0)
}
