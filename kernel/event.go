package kernel

import (
	"context"
	"sync/atomic"
)

// Event is a signal that is either manual-reset, staying signaled until
// reset, or auto-reset, satisfying one waiter per signal.
type Event struct {
	ObjectHeader
	signaled  atomic.Bool
	autoReset bool
}

func (*Event) isObject() {}

// CreateEvent creates and registers an event, optionally named. The caller
// owns the returned reference.
func (k *Kernel) CreateEvent(name string, autoReset, signaled bool) (*Event, error) {
	ev := &Event{autoReset: autoReset}
	if err := k.initObject(&ev.ObjectHeader, ObjectTypeEvent, 0, ObjectPages); err != nil {
		return nil, err
	}
	ev.signaled.Store(signaled)
	if err := k.objects.Add(ev, name); err != nil {
		k.abortObject(&ev.ObjectHeader)
		return nil, err
	}
	return ev, nil
}

// Signaled reports the current state.
func (e *Event) Signaled() bool { return e.signaled.Load() }

// AutoReset reports whether the event resets as it satisfies a waiter.
func (e *Event) AutoReset() bool { return e.autoReset }

// SetEvent signals ev, from outside any kernel thread.
func (k *Kernel) SetEvent(ctx context.Context, ev *Event) error {
	return k.call(ctx, &SchedItem{kind: ItemEventChange, event: ev, signal: true})
}

// ResetEvent clears ev, from outside any kernel thread.
func (k *Kernel) ResetEvent(ctx context.Context, ev *Event) error {
	return k.call(ctx, &SchedItem{kind: ItemEventChange, event: ev})
}

// SetEvent signals ev.
func (t *Thread) SetEvent(ev *Event) error {
	it := t.prepare(ItemEventChange)
	it.event = ev
	it.signal = true
	t.trap()
	return it.err
}

// ResetEvent clears ev.
func (t *Thread) ResetEvent(ev *Event) error {
	it := t.prepare(ItemEventChange)
	it.event = ev
	t.trap()
	return it.err
}

func (p *schedPass) execEventChange(it *SchedItem) bool {
	var changed bool
	if it.signal {
		changed = p.signalEvent(it.event)
	} else {
		it.event.signaled.Store(false)
	}
	p.complete(it, nil)
	return changed
}

// signalEvent sets ev and releases its waiters. A manual-reset event
// releases every waiter that it completes. An auto-reset event releases
// the first waiter, in priority order, that it completes on its own, and
// stays signaled if there is none.
func (p *schedPass) signalEvent(ev *Event) bool {
	ev.signaled.Store(true)
	changed := false
	for _, e := range ev.waiters.snapshot() {
		if !e.linked {
			continue
		}
		mw := e.macro
		if mw.waitAll && !p.othersSatisfiable(mw, e) {
			continue
		}
		if mw.waitAll {
			p.completeAll(mw, e.index)
		} else {
			p.consume(e)
			p.wake(mw, WaitSignaled, e.index)
		}
		changed = true
		if ev.autoReset {
			break
		}
	}
	return changed
}
