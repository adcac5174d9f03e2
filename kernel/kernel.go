package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// for testing purposes
var timeNow = time.Now

// Kernel is a set of logical cores sharing one scheduler and one object
// namespace. Create with [New], then [Kernel.Start].
type Kernel struct { // betteralign:ignore
	_ [0]func()

	opts    *kernelOptions
	log     *logiface.Logger[logiface.Event]
	objects *ObjectManager

	// rate limits stall warnings, per (from, to) mailbox slot
	stallLimiter *catrate.Limiter

	group  *errgroup.Group
	cancel context.CancelFunc

	// closed on kernel panic
	halted chan struct{}
	// closed on kernel panic or shutdown, releasing parked threads
	done chan struct{}

	haltErr    atomic.Pointer[KernelPanic]
	kernelProc *Process
	epoch      time.Time
	cores      []*cpuCore

	items itemQueue
	sched scheduler
	tlb   tlbQueue
	stats kernelStats
	state fastState

	nextTID      atomic.Uint32
	nextPID      atomic.Uint32
	nextObjectID atomic.Uint64

	haltOnce sync.Once
	doneOnce sync.Once
}

// New creates a kernel, in the [KernelCreated] state.
func New(opts ...Option) (*Kernel, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		opts:   cfg,
		log:    cfg.logger,
		halted: make(chan struct{}),
		done:   make(chan struct{}),
		epoch:  timeNow(),
		stallLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
	k.objects = newObjectManager(k)
	k.cores = make([]*cpuCore, cfg.cores)
	for i := range k.cores {
		k.cores[i] = newCore(k, CoreID(i), cfg.cores)
	}
	k.sched.init(k)
	k.stats.init()

	if k.kernelProc, err = k.newProcess(``, FlagPermanent); err != nil {
		return nil, err
	}

	return k, nil
}

// Start launches the core loops. They run until [Kernel.Shutdown], ctx is
// canceled, or a kernel panic.
func (k *Kernel) Start(ctx context.Context) error {
	if !k.state.TryTransition(KernelCreated, KernelRunning) {
		if k.state.Load() == KernelHalted {
			return k.Err()
		}
		return ErrAlreadyStarted
	}

	ctx, k.cancel = context.WithCancel(ctx)
	k.group, ctx = errgroup.WithContext(ctx)
	for _, c := range k.cores {
		k.group.Go(func() error {
			return c.loop(ctx)
		})
	}

	k.log.Info().
		Int(`cores`, len(k.cores)).
		Dur(`quantum`, k.opts.quantum).
		Log(`kernel started`)

	return nil
}

// Shutdown stops every core loop and releases all threads, waiting until
// the loops have exited or ctx is done. Threads still executing user code
// exit at their next kernel entry or checkpoint.
func (k *Kernel) Shutdown(ctx context.Context) error {
	for {
		switch state := k.state.Load(); state {
		case KernelCreated:
			if k.state.TryTransition(state, KernelStopped) {
				k.closeDone()
				return nil
			}
			continue
		case KernelRunning:
			if !k.state.TryTransition(state, KernelStopping) {
				continue
			}
		case KernelHalted:
			if k.cancel == nil {
				return k.Err()
			}
		default:
			return ErrNotStarted
		}
		break
	}

	k.closeDone()
	k.cancel()
	k.sched.disarm()
	k.tlb.abort(k.terminalErr())

	waited := make(chan error, 1)
	go func() { waited <- k.group.Wait() }()
	select {
	case err := <-waited:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if k.state.TryTransition(KernelStopping, KernelStopped) {
		k.log.Info().Log(`kernel stopped`)
		return nil
	}
	return k.Err()
}

// State returns the lifecycle state.
func (k *Kernel) State() KernelState { return k.state.Load() }

// Err returns the [*KernelPanic] that halted the kernel, if any.
func (k *Kernel) Err() error {
	if kp := k.haltErr.Load(); kp != nil {
		return kp
	}
	return nil
}

// Halted is closed if the kernel panics.
func (k *Kernel) Halted() <-chan struct{} { return k.halted }

// NumCores returns the number of logical cores.
func (k *Kernel) NumCores() int { return len(k.cores) }

// Objects returns the object manager.
func (k *Kernel) Objects() *ObjectManager { return k.objects }

// KernelProcess returns the permanent process that owns threads created
// without one.
func (k *Kernel) KernelProcess() *Process { return k.kernelProc }

// Debug asks every core to log its state.
func (k *Kernel) Debug() {
	for _, c := range k.cores {
		c.post(CoreEventDebug, c.id)
	}
}

// now returns monotonic nanoseconds since the kernel was created.
func (k *Kernel) now() int64 {
	return int64(timeNow().Sub(k.epoch))
}

func (k *Kernel) stopping() bool {
	select {
	case <-k.done:
		return true
	default:
		return false
	}
}

func (k *Kernel) closeDone() {
	k.doneOnce.Do(func() { close(k.done) })
}

func (k *Kernel) terminalErr() error {
	if err := k.Err(); err != nil {
		return err
	}
	return ErrNotStarted
}

func (k *Kernel) checkRunning() error {
	if k.state.Load() != KernelRunning {
		return k.terminalErr()
	}
	return nil
}

var haltableStates = []KernelState{KernelCreated, KernelRunning, KernelStopping, KernelStopped}

// halt stops the kernel following an invariant violation. Every core is
// notified, and parked threads are released.
func (k *Kernel) halt(kp *KernelPanic) {
	k.haltOnce.Do(func() {
		k.haltErr.Store(kp)
		k.state.TransitionAny(haltableStates, KernelHalted)
		k.log.Err().
			Uint64(`core`, uint64(kp.Core)).
			Str(`reason`, kp.Reason).
			Log(`kernel panic`)
		for _, c := range k.cores {
			c.post(CoreEventPanic, kp.Core)
		}
		close(k.halted)
		k.closeDone()
	})
}

func (k *Kernel) panicf(core CoreID, format string, args ...any) {
	kp := &KernelPanic{Core: core, Reason: fmt.Sprintf(format, args...)}
	k.halt(kp)
	panic(kp)
}

// schedulingCore picks the core that external callers nudge: the core
// running the lowest priority work as of the last pass.
func (k *Kernel) schedulingCore() *cpuCore {
	if c := k.sched.timerCore.Load(); c != nil {
		return c
	}
	return k.cores[0]
}

// submit queues an item, stamped with the current time.
func (k *Kernel) submit(it *SchedItem) {
	it.timestamp = k.now()
	k.items.push(it)
}

// call submits an item on behalf of a caller that is not a kernel thread,
// and waits for it to complete. It must not be used from a thread.
func (k *Kernel) call(ctx context.Context, it *SchedItem) error {
	if err := k.checkRunning(); err != nil {
		return err
	}
	if it.done == nil {
		it.done = make(chan struct{}, 1)
	}
	k.submit(it)
	c := k.schedulingCore()
	c.post(CoreEventSchedulerCall, c.id)
	select {
	case <-it.done:
		return it.err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.done:
		return k.terminalErr()
	}
}

// exitGoroutine ends a thread goroutine after shutdown or halt.
func exitGoroutine() {
	runtime.Goexit()
}
