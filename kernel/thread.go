package kernel

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// ExitCodeFault is the exit code of a thread whose function panicked.
const ExitCodeFault = ^uint32(0)

// ThreadFunc is the body of a thread. Its return value is the exit code.
type ThreadFunc func(t *Thread) uint32

// ThreadParams configures a new [Thread].
type ThreadParams struct {
	Name string
	// Process defaults to the kernel process.
	Process *Process
	// Quantum defaults to the kernel's quantum.
	Quantum time.Duration
	// Affinity defaults to every core.
	Affinity AffinityMask
	// Priority is in [0, NumPriorities), 0 being the highest.
	Priority uint8
}

type threadAttr struct {
	affinity    AffinityMask
	priority    uint8
	setPriority bool
	setAffinity bool
}

// threadSched is the scheduling state of a thread. Apart from the atomic
// fields, it is scheduler-owned once the thread has been created.
type threadSched struct {
	// the thread's trap item, reused for every kernel entry
	item SchedItem

	// the core the thread is assigned to, if any
	core atomic.Pointer[cpuCore]

	wait      *MacroWait
	blockedOn *CritSec

	// owned critical sections, maintained by the thread itself
	critSecs []*CritSec

	quantum     int64
	quantumLeft int64
	affinity    AffinityMask
	priority    uint8
}

// Thread is a schedulable kernel object, backed by a goroutine that only
// executes user code while it holds a core.
type Thread struct {
	ObjectHeader

	k     *Kernel
	proc  *Process
	entry ThreadFunc

	// receives the core granting it execution
	grant chan *cpuCore
	// closed once the thread has exited
	exited chan struct{}

	// owned by the thread goroutine
	current *cpuCore
	exiting bool

	sched threadSched

	state         atomic.Uint32
	exitCode      atomic.Uint32
	parked        atomic.Bool
	stopRequested atomic.Bool

	tid uint32
}

func (*Thread) isObject() {}

func (k *Kernel) coreMask() AffinityMask {
	if len(k.cores) >= MaxCores {
		return AffinityAll
	}
	return AffinityMask(1)<<len(k.cores) - 1
}

func (k *Kernel) newThread(params ThreadParams, fn ThreadFunc) (*Thread, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil thread function", ErrInvalidArgument)
	}
	if params.Priority >= NumPriorities {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidArgument, params.Priority)
	}
	if params.Affinity == 0 {
		params.Affinity = AffinityAll
	}
	if params.Affinity&k.coreMask() == 0 {
		return nil, fmt.Errorf("%w: affinity %#x excludes every core", ErrInvalidArgument, params.Affinity)
	}
	if params.Quantum <= 0 {
		params.Quantum = k.opts.quantum
	}
	proc := params.Process
	if proc == nil {
		proc = k.kernelProc
	}
	if proc.Exited() {
		return nil, fmt.Errorf("%w: process %d has exited", ErrInvalidArgument, proc.pid)
	}

	t := &Thread{
		k:      k,
		proc:   proc,
		entry:  fn,
		grant:  make(chan *cpuCore, 1),
		exited: make(chan struct{}),
		tid:    k.nextTID.Add(1),
	}
	t.sched.item.thread = t
	t.sched.item.done = make(chan struct{}, 1)
	t.sched.quantum = int64(params.Quantum)
	t.sched.affinity = params.Affinity
	t.sched.priority = params.Priority
	if err := k.initObject(&t.ObjectHeader, ObjectTypeThread, 0, ThreadPages); err != nil {
		return nil, err
	}
	if err := k.objects.Add(t, params.Name); err != nil {
		k.abortObject(&t.ObjectHeader)
		return nil, err
	}
	// the self reference, dropped on exit
	k.objects.AddRef(t)
	k.objects.AddRef(proc)

	go t.run()

	return t, nil
}

// CreateThread creates a thread and makes it ready, from outside any
// kernel thread. The caller owns the returned reference. If ctx is done
// before the scheduler acknowledges the thread, it may still start.
func (k *Kernel) CreateThread(ctx context.Context, params ThreadParams, fn ThreadFunc) (*Thread, error) {
	if err := k.checkRunning(); err != nil {
		return nil, err
	}
	t, err := k.newThread(params, fn)
	if err != nil {
		return nil, err
	}
	if err := k.call(ctx, &SchedItem{kind: ItemThreadCreate, target: t}); err != nil {
		return t, err
	}
	return t, nil
}

// CreateThread creates a thread and makes it ready. The calling thread
// owns the returned reference.
func (t *Thread) CreateThread(params ThreadParams, fn ThreadFunc) (*Thread, error) {
	child, err := t.k.newThread(params, fn)
	if err != nil {
		return nil, err
	}
	it := t.prepare(ItemThreadCreate)
	it.target = child
	t.trap()
	return child, it.err
}

// TID returns the thread id, which is never 0.
func (t *Thread) TID() uint32 { return t.tid }

// Kernel returns the kernel the thread belongs to.
func (t *Thread) Kernel() *Kernel { return t.k }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.proc }

// State returns the current run state.
func (t *Thread) State() ThreadState { return ThreadState(t.state.Load()) }

func (t *Thread) setState(s ThreadState) { t.state.Store(uint32(s)) }

// Done is closed once the thread has exited.
func (t *Thread) Done() <-chan struct{} { return t.exited }

// ExitCode returns the exit code, valid once Done is closed.
func (t *Thread) ExitCode() uint32 { return t.exitCode.Load() }

// Exit terminates the calling thread. It must be called by t itself.
func (t *Thread) Exit(code uint32) {
	t.exit(code)
	exitGoroutine()
}

func (t *Thread) run() {
	defer func() {
		if t.exiting {
			return
		}
		r := recover()
		if r == nil {
			// released by shutdown or halt
			return
		}
		if _, ok := r.(*KernelPanic); ok {
			// the kernel has halted
			return
		}
		t.k.log.Err().
			Uint64(`tid`, uint64(t.tid)).
			Any(`panic`, r).
			Log(`thread faulted`)
		t.exit(ExitCodeFault)
	}()
	t.current = t.park()
	t.exit(t.entry(t))
}

func (t *Thread) exit(code uint32) {
	t.exiting = true
	it := t.prepare(ItemThreadExit)
	it.exitCode = code
	t.trap()
}

// SetPriority changes target's priority. A waiting thread keeps its
// position in any wait lists.
func (t *Thread) SetPriority(target *Thread, priority uint8) error {
	if priority >= NumPriorities {
		return fmt.Errorf("%w: priority %d", ErrInvalidArgument, priority)
	}
	it := t.prepare(ItemThreadSetAttr)
	it.target = target
	it.attr = threadAttr{priority: priority, setPriority: true}
	t.trap()
	return it.err
}

// SetAffinity changes the set of cores target may run on.
func (t *Thread) SetAffinity(target *Thread, mask AffinityMask) error {
	if mask&t.k.coreMask() == 0 {
		return fmt.Errorf("%w: affinity %#x excludes every core", ErrInvalidArgument, mask)
	}
	it := t.prepare(ItemThreadSetAttr)
	it.target = target
	it.attr = threadAttr{affinity: mask, setAffinity: true}
	t.trap()
	return it.err
}

// SetThreadPriority changes target's priority, from outside any kernel
// thread.
func (k *Kernel) SetThreadPriority(ctx context.Context, target *Thread, priority uint8) error {
	if priority >= NumPriorities {
		return fmt.Errorf("%w: priority %d", ErrInvalidArgument, priority)
	}
	return k.call(ctx, &SchedItem{
		kind:   ItemThreadSetAttr,
		target: target,
		attr:   threadAttr{priority: priority, setPriority: true},
	})
}

// SetThreadAffinity changes the cores target may run on, from outside any
// kernel thread.
func (k *Kernel) SetThreadAffinity(ctx context.Context, target *Thread, mask AffinityMask) error {
	if mask&k.coreMask() == 0 {
		return fmt.Errorf("%w: affinity %#x excludes every core", ErrInvalidArgument, mask)
	}
	return k.call(ctx, &SchedItem{
		kind:   ItemThreadSetAttr,
		target: target,
		attr:   threadAttr{affinity: mask, setAffinity: true},
	})
}

func (p *schedPass) execThreadCreate(it *SchedItem) bool {
	t := it.target
	if t.State() != ThreadInstantiated {
		p.complete(it, fmt.Errorf("%w: thread %d already started", ErrInvalidArgument, t.tid))
		return false
	}
	t.proc.live++
	p.makeReady(t)
	p.complete(it, nil)
	p.k.log.Debug().
		Uint64(`tid`, uint64(t.tid)).
		Int(`priority`, int(t.sched.priority)).
		Log(`thread created`)
	return true
}

// execThreadExit retires a thread: its critical sections are handed on,
// its waiters released, and its process signaled if it was the last.
func (p *schedPass) execThreadExit(it *SchedItem) bool {
	t := it.thread
	p.unschedule(t)
	t.exitCode.Store(it.exitCode)
	t.setState(ThreadExited)

	for _, cs := range t.sched.critSecs {
		cs.depth = 0
		p.handOff(cs)
	}
	t.sched.critSecs = nil

	p.signalTerminal(&t.ObjectHeader)

	if proc := t.proc; proc.flags&FlagPermanent == 0 {
		proc.live--
		if proc.live == 0 {
			proc.exited.Store(true)
			p.signalTerminal(&proc.ObjectHeader)
		}
	}

	close(t.exited)
	p.complete(it, nil)
	p.k.log.Debug().
		Uint64(`tid`, uint64(t.tid)).
		Uint64(`code`, uint64(it.exitCode)).
		Log(`thread exited`)
	p.k.objects.Release(t)
	return true
}

func (p *schedPass) execThreadSetAttr(it *SchedItem) bool {
	s := p.s
	t, a := it.target, it.attr
	state := t.State()
	if state.Terminal() {
		p.complete(it, nil)
		return false
	}
	if a.setPriority && a.priority != t.sched.priority {
		if state == ThreadReady {
			s.ready.remove(t)
			t.sched.priority = a.priority
			s.ready.pushBack(t)
		} else {
			t.sched.priority = a.priority
		}
	}
	if a.setAffinity {
		t.sched.affinity = a.affinity
		if c := t.sched.core.Load(); c != nil && !a.affinity.Has(c.id) && c.assigned.Load() == t {
			p.preempt(c, t, true)
		}
	}
	p.complete(it, nil)
	return true
}

// removeCritSec drops cs from the thread's owned list.
func (t *Thread) removeCritSec(cs *CritSec) {
	if i := slices.Index(t.sched.critSecs, cs); i >= 0 {
		t.sched.critSecs = slices.Delete(t.sched.critSecs, i, i+1)
	}
}
