package kernel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-kcore/internal/psquare"
)

// kernelStats holds the kernel's counters. Counters are updated without
// locks, the pass latency summary under mu.
type kernelStats struct {
	items [itemKindCount]atomic.Uint64

	icis             atomic.Uint64
	contextSwitches  atomic.Uint64
	preemptions      atomic.Uint64
	quantumExpiries  atomic.Uint64
	timeouts         atomic.Uint64
	abandoned        atomic.Uint64
	disposed         atomic.Uint64
	tlbShootdowns    atomic.Uint64
	checkpointYields atomic.Uint64

	mu        sync.Mutex
	passes    *psquare.Summary
	passItems uint64
	passCount uint64
}

func (s *kernelStats) init() {
	s.passes = psquare.NewSummary(0.5, 0.9, 0.99)
}

func (s *kernelStats) recordPass(d time.Duration, items int) {
	s.mu.Lock()
	s.passes.Observe(float64(d))
	s.passCount++
	s.passItems += uint64(items)
	s.mu.Unlock()
}

// PassLatency summarizes the duration of scheduler passes.
type PassLatency struct {
	P50  time.Duration
	P90  time.Duration
	P99  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// CoreStats is a snapshot of one core's counters.
type CoreStats struct {
	Executing  uint32
	TLBFlushes uint64
	Delivered  uint64
	Core       CoreID
	Idle       bool
}

// Stats is a point in time snapshot of the kernel's counters.
type Stats struct {
	Items            map[ItemKind]uint64
	Cores            []CoreStats
	Latency          PassLatency
	Passes           uint64
	PassItems        uint64
	ICIs             uint64
	ContextSwitches  uint64
	Preemptions      uint64
	QuantumExpiries  uint64
	Timeouts         uint64
	Abandoned        uint64
	Disposed         uint64
	TLBShootdowns    uint64
	CheckpointYields uint64
	Objects          int
}

// Stats returns a snapshot of the kernel's counters. Executing is the TID
// of the thread holding each core, or zero.
func (k *Kernel) Stats() Stats {
	s := &k.stats
	st := Stats{
		Items:            make(map[ItemKind]uint64),
		ICIs:             s.icis.Load(),
		ContextSwitches:  s.contextSwitches.Load(),
		Preemptions:      s.preemptions.Load(),
		QuantumExpiries:  s.quantumExpiries.Load(),
		Timeouts:         s.timeouts.Load(),
		Abandoned:        s.abandoned.Load(),
		Disposed:         s.disposed.Load(),
		TLBShootdowns:    s.tlbShootdowns.Load(),
		CheckpointYields: s.checkpointYields.Load(),
		Objects:          k.objects.Len(),
	}
	for kind := range s.items {
		if n := s.items[kind].Load(); n != 0 {
			st.Items[ItemKind(kind)] = n
		}
	}

	s.mu.Lock()
	st.Passes = s.passCount
	st.PassItems = s.passItems
	if s.passes.Count() != 0 {
		st.Latency = PassLatency{
			P50:  time.Duration(s.passes.Quantile(0)),
			P90:  time.Duration(s.passes.Quantile(1)),
			P99:  time.Duration(s.passes.Quantile(2)),
			Max:  time.Duration(s.passes.Max()),
			Mean: time.Duration(s.passes.Mean()),
		}
	}
	s.mu.Unlock()

	st.Cores = make([]CoreStats, len(k.cores))
	for i, c := range k.cores {
		cs := CoreStats{
			Core:       c.id,
			Idle:       c.idle.Load(),
			TLBFlushes: c.tlbFlushes.Load(),
			Delivered:  c.delivered.Load(),
		}
		if t := c.executing.Load(); t != nil {
			cs.Executing = t.tid
		}
		st.Cores[i] = cs
	}
	return st
}
