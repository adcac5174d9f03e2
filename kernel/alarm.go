package kernel

import (
	"context"
	"fmt"
	"time"
)

// Alarm is an event signaled by the scheduler's timer queue, once or
// periodically. Waiting on an alarm waits on its event.
type Alarm struct {
	ObjectHeader
	ev    Event
	timer SchedTimerItem
	// scheduler-owned
	period   int64
	periodic bool
	mounted  bool
}

func (*Alarm) isObject() {}

// AlarmParams configures an [Alarm].
type AlarmParams struct {
	Name      string
	Period    time.Duration
	Periodic  bool
	AutoReset bool
}

func (k *Kernel) newAlarm(params AlarmParams) (*Alarm, error) {
	if params.Period <= 0 {
		return nil, fmt.Errorf("%w: alarm period must be positive", ErrInvalidArgument)
	}
	a := &Alarm{}
	if err := k.initObject(&a.ObjectHeader, ObjectTypeAlarm, 0, ObjectPages); err != nil {
		return nil, err
	}
	a.ev.autoReset = params.AutoReset
	if err := k.initObject(&a.ev.ObjectHeader, ObjectTypeEvent, FlagEmbedded, 0); err != nil {
		return nil, err
	}
	a.timer.item.kind = ItemAlarmFire
	a.timer.item.alarm = a
	if err := k.objects.Add(a, params.Name); err != nil {
		k.abortObject(&a.ObjectHeader)
		return nil, err
	}
	return a, nil
}

func mountItem(it *SchedItem, a *Alarm, params AlarmParams) {
	it.alarm = a
	it.period = int64(params.Period)
	it.periodic = params.Periodic
}

// CreateAlarm creates, registers and starts an alarm, from outside any
// kernel thread. The caller owns the returned reference.
func (k *Kernel) CreateAlarm(ctx context.Context, params AlarmParams) (*Alarm, error) {
	if err := k.checkRunning(); err != nil {
		return nil, err
	}
	a, err := k.newAlarm(params)
	if err != nil {
		return nil, err
	}
	it := &SchedItem{kind: ItemAlarmMount}
	mountItem(it, a, params)
	if err := k.call(ctx, it); err != nil {
		k.objects.Release(a)
		return nil, err
	}
	return a, nil
}

// CreateAlarm creates, registers and starts an alarm.
func (t *Thread) CreateAlarm(params AlarmParams) (*Alarm, error) {
	a, err := t.k.newAlarm(params)
	if err != nil {
		return nil, err
	}
	it := t.prepare(ItemAlarmMount)
	mountItem(it, a, params)
	t.trap()
	return a, it.err
}

// SetAlarm restarts a with a new period, from outside any kernel thread.
func (k *Kernel) SetAlarm(ctx context.Context, a *Alarm, period time.Duration, periodic bool) error {
	if period <= 0 {
		return fmt.Errorf("%w: alarm period must be positive", ErrInvalidArgument)
	}
	return k.call(ctx, &SchedItem{kind: ItemAlarmChange, alarm: a, period: int64(period), periodic: periodic})
}

// CancelAlarm stops a, from outside any kernel thread. Its event keeps its
// state.
func (k *Kernel) CancelAlarm(ctx context.Context, a *Alarm) error {
	return k.call(ctx, &SchedItem{kind: ItemAlarmChange, alarm: a, stop: true})
}

// SetAlarm restarts a with a new period.
func (t *Thread) SetAlarm(a *Alarm, period time.Duration, periodic bool) error {
	if period <= 0 {
		return fmt.Errorf("%w: alarm period must be positive", ErrInvalidArgument)
	}
	it := t.prepare(ItemAlarmChange)
	it.alarm = a
	it.period = int64(period)
	it.periodic = periodic
	t.trap()
	return it.err
}

// CancelAlarm stops a.
func (t *Thread) CancelAlarm(a *Alarm) error {
	it := t.prepare(ItemAlarmChange)
	it.alarm = a
	it.stop = true
	t.trap()
	return it.err
}

// Signaled reports the state of the alarm's event.
func (a *Alarm) Signaled() bool { return a.ev.Signaled() }

// ResetAlarm clears the alarm's event, from outside any kernel thread.
func (k *Kernel) ResetAlarm(ctx context.Context, a *Alarm) error {
	return k.ResetEvent(ctx, &a.ev)
}

func (p *schedPass) execAlarmMount(it *SchedItem) bool {
	a := it.alarm
	a.period = it.period
	a.periodic = it.periodic
	a.mounted = true
	p.s.timers.remove(&a.timer)
	p.s.timers.insert(&a.timer, a.period)
	p.complete(it, nil)
	return false
}

func (p *schedPass) execAlarmChange(it *SchedItem) bool {
	a := it.alarm
	p.s.timers.remove(&a.timer)
	if it.stop {
		a.mounted = false
	} else {
		a.period = it.period
		a.periodic = it.periodic
		a.mounted = true
		p.s.timers.insert(&a.timer, a.period)
	}
	p.complete(it, nil)
	return false
}

// execAlarmFire signals the alarm. A fire is stale if the alarm was
// stopped, or its timer re-armed, after the timer expired.
func (p *schedPass) execAlarmFire(it *SchedItem) bool {
	a := it.alarm
	if !a.mounted || a.timer.armed {
		return false
	}
	if a.periodic {
		p.s.timers.insert(&a.timer, a.period)
	} else {
		a.mounted = false
	}
	return p.signalEvent(&a.ev)
}
