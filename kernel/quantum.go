package kernel

// quantumExpired handles t using up its time slice on c. The slice is
// simply recharged unless another thread of the same priority is ready and
// may run on c, and no core is idle, in which case the two swap.
func (p *schedPass) quantumExpired(c *cpuCore, t *Thread) bool {
	s := p.s
	t.sched.quantumLeft = t.sched.quantum
	if s.ready.count == 0 || p.anyIdle() {
		return false
	}
	prio := int(t.sched.priority)
	for i, u := range s.ready.levels[prio] {
		if !u.sched.affinity.Has(c.id) {
			continue
		}
		s.ready.removeAt(prio, i)
		p.preempt(c, t, false)
		u.sched.quantumLeft = u.sched.quantum
		p.runOn(c, u)
		p.k.stats.quantumExpiries.Add(1)
		return true
	}
	return false
}
