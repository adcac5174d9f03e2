// Package kernel implements the core of a preemptible, multi-core kernel,
// hosted as a set of goroutines.
//
// # Model
//
// Each logical core is a goroutine (the core loop) that owns a mailbox of
// inter-core interrupts (ICIs) and a list of pending local events. Threads are
// goroutines that may only execute user code while granted a core; a thread
// gives up its core whenever it enters the kernel (any blocking or
// state-changing call on [Thread]), or at a [Thread.Checkpoint], if the
// scheduler has assigned its core to another thread. Preemption therefore takes
// effect at the next kernel entry or checkpoint, which is the hosted analogue of
// an interrupt boundary.
//
// # Scheduler
//
// All scheduler state (ready lists, the timer queue, wait lists, core
// assignments) is mutated by exactly one core at a time. Work is submitted as a
// [SchedItem] to a lock-free stack; any core holding a SchedulerCall event may
// try to become the scheduler, and the winner drains every submitted item, in
// timestamp order, before redistributing threads across cores and re-arming the
// hardware timer. The ownership word combines the owning core with the number
// of submitted but unprocessed items, which is what guarantees that no
// submission is ever stranded.
//
// # Objects
//
// Events, semaphores, alarms, threads and processes are reference counted
// kernel objects, registered with an [ObjectManager], optionally named. They
// are all waitable: threads may block on up to [MaxWaitObjects] of them at
// once, for any or all, with an optional timeout.
//
// # Fatal conditions
//
// Invariant violations (an unknown event or item type, a reference count going
// negative) halt the kernel: every core is notified, the halt is logged, and
// the detecting goroutine panics with a [*KernelPanic].
package kernel
