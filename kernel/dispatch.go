package kernel

// itemHandlers maps each item kind to its handler. A handler reports
// whether it changed the set of runnable threads.
var itemHandlers [itemKindCount]func(*schedPass, *SchedItem) bool

func init() {
	itemHandlers = [itemKindCount]func(*schedPass, *SchedItem) bool{
		ItemThreadCreate:     (*schedPass).execThreadCreate,
		ItemThreadExit:       (*schedPass).execThreadExit,
		ItemThreadWait:       (*schedPass).execThreadWait,
		ItemThreadSetAttr:    (*schedPass).execThreadSetAttr,
		ItemContendedCritSec: (*schedPass).execContendedCritSec,
		ItemCritSecRelease:   (*schedPass).execCritSecRelease,
		ItemEventChange:      (*schedPass).execEventChange,
		ItemSemRelease:       (*schedPass).execSemRelease,
		ItemAlarmMount:       (*schedPass).execAlarmMount,
		ItemAlarmChange:      (*schedPass).execAlarmChange,
		ItemAlarmFire:        (*schedPass).execAlarmFire,
		ItemWaitTimeout:      (*schedPass).execWaitTimeout,
		ItemObjectDispose:    (*schedPass).execObjectDispose,
		ItemPurgePageTable:   (*schedPass).execPurgePageTable,
		ItemTick:             (*schedPass).execTick,
	}
}

// execTick runs on every hardware timer interrupt. Accounting has already
// happened by the time it executes.
func (p *schedPass) execTick(*SchedItem) bool {
	p.s.tickQueued.Store(false)
	return false
}
