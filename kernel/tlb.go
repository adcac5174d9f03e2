package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// PageRange is a run of pages, starting at a page-aligned address.
type PageRange struct {
	Base  uintptr
	Pages int
}

// End returns the address just past the range.
func (r PageRange) End() uintptr { return r.Base + uintptr(r.Pages)*PageSize }

type tlbRequest struct {
	done chan error
	r    PageRange
}

// tlbQueue coalesces concurrent invalidation requests. At most one purge
// item is queued at a time, and each pass purges up to a batch of ranges,
// merged.
type tlbQueue struct {
	item    SchedItem
	pending []*tlbRequest
	mu      sync.Mutex
	queued  bool
}

// InvalidateTLB purges r from every core, returning once every core has
// acknowledged.
func (k *Kernel) InvalidateTLB(ctx context.Context, r PageRange) error {
	if r.Pages < 1 || r.Base%PageSize != 0 {
		return fmt.Errorf("%w: page range %#x+%d", ErrInvalidArgument, r.Base, r.Pages)
	}
	if err := k.checkRunning(); err != nil {
		return err
	}

	req := &tlbRequest{r: r, done: make(chan error, 1)}
	q := &k.tlb
	q.mu.Lock()
	q.pending = append(q.pending, req)
	submit := !q.queued
	if submit {
		q.queued = true
		q.item = SchedItem{kind: ItemPurgePageTable}
		k.submit(&q.item)
	}
	q.mu.Unlock()
	if submit {
		c := k.schedulingCore()
		c.post(CoreEventSchedulerCall, c.id)
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.done:
		return k.terminalErr()
	}
}

// abort fails every pending request.
func (q *tlbQueue) abort(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, req := range pending {
		req.done <- err
	}
}

// mergeRanges sorts ranges and joins those that overlap or touch.
func mergeRanges(reqs []*tlbRequest) []PageRange {
	ranges := make([]PageRange, len(reqs))
	for i, req := range reqs {
		ranges[i] = req.r
	}
	slices.SortFunc(ranges, func(a, b PageRange) int { return cmp.Compare(a.Base, b.Base) })
	merged := ranges[:0]
	for _, r := range ranges {
		if n := len(merged); n != 0 && r.Base <= merged[n-1].End() {
			last := &merged[n-1]
			if end := r.End(); end > last.End() {
				last.Pages = int((end - last.Base) / PageSize)
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// execPurgePageTable broadcasts a batch of invalidations, purging the
// local core directly and the rest by ICI, then waits for every
// acknowledgement.
func (p *schedPass) execPurgePageTable(it *SchedItem) bool {
	q := &p.k.tlb
	q.mu.Lock()
	n := min(len(q.pending), p.k.opts.tlbBatchSize)
	batch := slices.Clone(q.pending[:n])
	q.pending = slices.Delete(q.pending, 0, n)
	more := len(q.pending) != 0
	if more {
		q.item = SchedItem{kind: ItemPurgePageTable}
		p.k.submit(&q.item)
	} else {
		q.queued = false
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return false
	}

	ranges := mergeRanges(batch)
	for _, r := range ranges {
		for _, c := range p.k.cores {
			if c == p.core {
				c.tlbFlushes.Add(1)
				if hook := p.k.opts.tlbHook; hook != nil {
					hook(c.id, r)
				}
				continue
			}
			p.k.sendICI(p.core, c, CoreEventTLBInvalidate, nil, r)
		}
	}
	for _, c := range p.k.cores {
		if c != p.core {
			p.k.awaitICI(p.core, c)
		}
	}
	p.k.stats.tlbShootdowns.Add(uint64(len(ranges)))

	var err error
	if p.k.stopping() {
		// acknowledgements may have been abandoned
		err = p.k.terminalErr()
	}
	for _, req := range batch {
		req.done <- err
	}
	return false
}
