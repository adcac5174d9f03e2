package kernel

import (
	"slices"
)

// NumPriorities is the number of thread priority levels. Priority 0 is the
// highest.
const NumPriorities = 32

// readyLists holds one FIFO of ready threads per priority level.
type readyLists struct {
	levels [NumPriorities][]*Thread
	count  int
}

func (r *readyLists) pushBack(t *Thread) {
	p := t.sched.priority
	r.levels[p] = append(r.levels[p], t)
	r.count++
}

func (r *readyLists) pushFront(t *Thread) {
	p := t.sched.priority
	r.levels[p] = slices.Insert(r.levels[p], 0, t)
	r.count++
}

func (r *readyLists) removeAt(prio, i int) {
	r.levels[prio] = slices.Delete(r.levels[prio], i, i+1)
	r.count--
}

func (r *readyLists) remove(t *Thread) bool {
	p := int(t.sched.priority)
	if i := slices.Index(r.levels[p], t); i >= 0 {
		r.removeAt(p, i)
		return true
	}
	return false
}

// highest returns the priority of the best ready thread.
func (r *readyLists) highest() (int, bool) {
	for p := range r.levels {
		if len(r.levels[p]) != 0 {
			return p, true
		}
	}
	return 0, false
}
