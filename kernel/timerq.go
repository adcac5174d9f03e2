package kernel

// SchedTimerItem is an entry in the scheduler's timer queue. When it
// expires, its embedded item is submitted.
type SchedTimerItem struct {
	next *SchedTimerItem
	item SchedItem
	// nanoseconds after the previous entry
	delta int64
	armed bool
}

// Armed reports whether the timer is queued.
func (ti *SchedTimerItem) Armed() bool { return ti.armed }

// timerQueue is a delta queue: each entry stores its expiry relative to
// the entry before it, so advancing time only touches the head.
type timerQueue struct {
	head *SchedTimerItem
	n    int
}

// insert queues ti to expire after d nanoseconds. Entries with equal
// expiry fire in insertion order.
func (q *timerQueue) insert(ti *SchedTimerItem, d int64) {
	d = max(d, 0)
	var prev *SchedTimerItem
	cur := q.head
	for cur != nil && cur.delta <= d {
		d -= cur.delta
		prev = cur
		cur = cur.next
	}
	ti.delta = d
	ti.next = cur
	ti.armed = true
	if cur != nil {
		cur.delta -= d
	}
	if prev == nil {
		q.head = ti
	} else {
		prev.next = ti
	}
	q.n++
}

// remove dequeues ti, returning false if it was not queued.
func (q *timerQueue) remove(ti *SchedTimerItem) bool {
	if !ti.armed {
		return false
	}
	var prev *SchedTimerItem
	for cur := q.head; cur != nil; prev, cur = cur, cur.next {
		if cur != ti {
			continue
		}
		if ti.next != nil {
			ti.next.delta += ti.delta
		}
		if prev == nil {
			q.head = ti.next
		} else {
			prev.next = ti.next
		}
		ti.next = nil
		ti.armed = false
		q.n--
		return true
	}
	return false
}

// advance consumes elapsed nanoseconds, calling fn for each expired entry
// in expiry order.
func (q *timerQueue) advance(elapsed int64, fn func(ti *SchedTimerItem)) {
	for q.head != nil && q.head.delta <= elapsed {
		ti := q.head
		elapsed -= ti.delta
		q.head = ti.next
		ti.next = nil
		ti.delta = 0
		ti.armed = false
		q.n--
		fn(ti)
	}
	if q.head != nil {
		q.head.delta -= elapsed
	}
}

// next returns the nanoseconds until the head expires.
func (q *timerQueue) next() (int64, bool) {
	if q.head == nil {
		return 0, false
	}
	return q.head.delta, true
}

func (q *timerQueue) len() int { return q.n }
