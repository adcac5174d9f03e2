package kernel

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// insertOrdered inserts v into s, which is sorted by key, after every
// element with an equal key.
func insertOrdered[T any, K constraints.Ordered](s []T, v T, key func(T) K) []T {
	k := key(v)
	i := len(s)
	for i > 0 && key(s[i-1]) > k {
		i--
	}
	return slices.Insert(s, i, v)
}

func entryPriority(e *WaitEntry) uint8 { return e.macro.thread.sched.priority }

func threadPriority(t *Thread) uint8 { return t.sched.priority }

// waitList is an object's queue of wait entries, ordered by the priority
// of the waiting thread at the time it blocked, FIFO among equals.
type waitList struct {
	entries []*WaitEntry
}

// insert places e by its thread's current priority. The position is fixed
// at block time; a later priority change does not reorder the entry.
func (l *waitList) insert(e *WaitEntry) {
	l.entries = insertOrdered(l.entries, e, entryPriority)
}

func (l *waitList) remove(e *WaitEntry) {
	if i := slices.Index(l.entries, e); i >= 0 {
		l.entries = slices.Delete(l.entries, i, i+1)
	}
}

// snapshot copies the entries, for iteration while waking.
func (l *waitList) snapshot() []*WaitEntry {
	return slices.Clone(l.entries)
}

func (l *waitList) len() int { return len(l.entries) }
