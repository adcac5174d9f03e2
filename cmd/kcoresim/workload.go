package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/joeycumines/go-kcore/kconfig"
	"github.com/joeycumines/go-kcore/kernel"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

type workloadCounters struct {
	produced atomic.Uint64
	consumed atomic.Uint64
	ticks    atomic.Uint64
	spins    atomic.Uint64
	purges   atomic.Uint64
	sink     atomic.Uint64
}

// runWorkload runs producers, consumers, compute threads and an alarm
// watcher in one process, until the configured duration elapses or ctx is
// done, then signals them to stop and waits for the process to exit.
func runWorkload(ctx context.Context, k *kernel.Kernel, cfg *kconfig.WorkloadConfig, logger *logiface.Logger[logiface.Event]) error {
	proc, err := k.CreateProcess(`workload`)
	if err != nil {
		return err
	}
	defer k.Objects().Release(proc)

	stop, err := k.CreateEvent(`workload.stop`, false, false)
	if err != nil {
		return err
	}
	defer k.Objects().Release(stop)
	full, err := k.CreateSemaphore(`workload.full`, cfg.Buffer, 0)
	if err != nil {
		return err
	}
	defer k.Objects().Release(full)
	empty, err := k.CreateSemaphore(`workload.empty`, cfg.Buffer, cfg.Buffer)
	if err != nil {
		return err
	}
	defer k.Objects().Release(empty)
	alarm, err := k.CreateAlarm(ctx, kernel.AlarmParams{
		Name:      `workload.alarm`,
		Period:    cfg.AlarmPeriod.Duration,
		Periodic:  true,
		AutoReset: true,
	})
	if err != nil {
		return err
	}
	defer k.Objects().Release(alarm)

	var (
		counters workloadCounters
		balance  int64
		threads  []*kernel.Thread
	)
	ledger := kernel.NewCritSec(`workload.ledger`)

	// transfer moves one unit from one semaphore to the other, until stop.
	transfer := func(from, to *kernel.Semaphore, delta int64, count *atomic.Uint64) kernel.ThreadFunc {
		return func(t *kernel.Thread) uint32 {
			for {
				r, err := t.WaitAny(kernel.Infinite, stop, from)
				if err != nil || r.Status != kernel.WaitSignaled {
					return 1
				}
				if r.Index == 0 {
					return 0
				}
				t.Enter(ledger)
				balance += delta
				if err := t.Leave(ledger); err != nil {
					return 2
				}
				if err := t.ReleaseSemaphore(to, 1); err != nil {
					return 3
				}
				count.Add(1)
			}
		}
	}

	spawn := func(name string, prio uint8, fn kernel.ThreadFunc) error {
		th, err := k.CreateThread(ctx, kernel.ThreadParams{Name: name, Process: proc, Priority: prio}, fn)
		if err != nil {
			return err
		}
		threads = append(threads, th)
		return nil
	}

	for i := range cfg.Producers {
		if err := spawn(fmt.Sprintf("producer.%d", i), 8, transfer(empty, full, 1, &counters.produced)); err != nil {
			return err
		}
	}
	for i := range cfg.Consumers {
		if err := spawn(fmt.Sprintf("consumer.%d", i), 8, transfer(full, empty, -1, &counters.consumed)); err != nil {
			return err
		}
	}
	for i := range cfg.Compute {
		err := spawn(fmt.Sprintf("compute.%d", i), kernel.NumPriorities-1, func(t *kernel.Thread) uint32 {
			x := uint64(i + 1)
			for !stop.Signaled() {
				for range 1 << 10 {
					x = x*6364136223846793005 + 1442695040888963407
				}
				counters.spins.Add(1)
				t.Checkpoint()
			}
			counters.sink.Add(x)
			return 0
		})
		if err != nil {
			return err
		}
	}
	err = spawn(`alarm`, 2, func(t *kernel.Thread) uint32 {
		for {
			r, err := t.WaitAny(kernel.Infinite, stop, alarm)
			if err != nil {
				return 1
			}
			if r.Index == 0 {
				return 0
			}
			counters.ticks.Add(1)
		}
	})
	if err != nil {
		return err
	}

	logger.Info().
		Int(`threads`, len(threads)).
		Dur(`duration`, cfg.Duration.Duration).
		Log(`workload started`)

	purgeCtx, cancelPurge := context.WithCancel(ctx)
	defer cancelPurge()
	g, gctx := errgroup.WithContext(purgeCtx)
	g.Go(func() error {
		return purgeLoop(gctx, k, cfg.TLBInterval.Duration, &counters.purges)
	})

	timer := time.NewTimer(cfg.Duration.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-k.Halted():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.SetEvent(stopCtx, stop); err != nil {
		return err
	}

	var codes []uint32
	for _, th := range threads {
		select {
		case <-th.Done():
			codes = append(codes, th.ExitCode())
		case <-stopCtx.Done():
			return fmt.Errorf("kcoresim: thread %d did not exit: %w", th.TID(), stopCtx.Err())
		case <-k.Halted():
			return k.Err()
		}
		k.Objects().Release(th)
	}

	cancelPurge()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().
		Uint64(`produced`, counters.produced.Load()).
		Uint64(`consumed`, counters.consumed.Load()).
		Uint64(`alarm_ticks`, counters.ticks.Load()).
		Uint64(`compute_slices`, counters.spins.Load()).
		Uint64(`tlb_purges`, counters.purges.Load()).
		Int64(`balance`, balance).
		Bool(`process_exited`, proc.Exited()).
		Log(`workload finished`)

	if slices.ContainsFunc(codes, func(c uint32) bool { return c != 0 }) {
		return fmt.Errorf("kcoresim: thread exit codes %v", codes)
	}
	return nil
}

// purgeLoop invalidates a random page range every interval.
func purgeLoop(ctx context.Context, k *kernel.Kernel, interval time.Duration, count *atomic.Uint64) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-k.Halted():
			return k.Err()
		case <-ticker.C:
		}
		r := kernel.PageRange{
			Base:  uintptr(rand.IntN(1<<20)) * kernel.PageSize,
			Pages: 1 + rand.IntN(16),
		}
		if err := k.InvalidateTLB(ctx, r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		count.Add(1)
	}
}

func printStats(w io.Writer, st kernel.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(name string, v any) { fmt.Fprintf(tw, "%s\t%v\n", name, v) }
	row(`passes`, st.Passes)
	row(`pass items`, st.PassItems)
	row(`pass p50`, st.Latency.P50)
	row(`pass p99`, st.Latency.P99)
	row(`pass max`, st.Latency.Max)
	row(`icis`, st.ICIs)
	row(`context switches`, st.ContextSwitches)
	row(`preemptions`, st.Preemptions)
	row(`quantum expiries`, st.QuantumExpiries)
	row(`checkpoint yields`, st.CheckpointYields)
	row(`timeouts`, st.Timeouts)
	row(`abandoned`, st.Abandoned)
	row(`disposed`, st.Disposed)
	row(`tlb shootdowns`, st.TLBShootdowns)
	row(`objects`, st.Objects)
	for kind := kernel.ItemThreadCreate; kind <= kernel.ItemTick; kind++ {
		if n := st.Items[kind]; n != 0 {
			row(`items `+kind.String(), n)
		}
	}
	for _, c := range st.Cores {
		row(fmt.Sprintf("core %d", c.Core), fmt.Sprintf("delivered=%d tlb=%d idle=%t", c.Delivered, c.TLBFlushes, c.Idle))
	}
	_ = tw.Flush()
}
