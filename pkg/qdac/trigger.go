package qdac

import "errors"

// NumTriggers is the number of internal trigger lines per instrument.
const NumTriggers = 16

// ErrTriggersExhausted is returned by Allocate when every internal trigger is
// in use.
var ErrTriggersExhausted = errors.New("qdac: no free internal triggers")

// Trigger is a lease on one internal trigger line. The holder releases it
// back to the pool with Release, typically via defer so error paths cannot
// leak it.
type Trigger struct {
	pool     *TriggerPool
	value    int
	gen      uint64
	released bool
}

// Value is the trigger line number (1..NumTriggers) embedded in trigger
// commands such as "tint 3" and "outp:trig4:sour int3".
func (t *Trigger) Value() int { return t.value }

// Release returns the trigger to the pool. Releasing twice, or releasing a
// lease that a Reset has invalidated, is a no-op.
func (t *Trigger) Release() {
	if t.released || t.gen != t.pool.gen {
		return
	}
	t.released = true
	t.pool.free[t.value] = true
}

// TriggerPool tracks which internal trigger lines of one instrument are free.
// It is pure driver-side bookkeeping: allocation and release never touch the
// hardware (the lines exist whether or not anything is routed to them).
type TriggerPool struct {
	free [NumTriggers + 1]bool
	gen  uint64
}

// NewTriggerPool returns a pool with all NumTriggers lines free.
func NewTriggerPool() *TriggerPool {
	p := &TriggerPool{}
	p.Reset()
	return p
}

// Allocate removes and returns the lowest-numbered free trigger.
func (p *TriggerPool) Allocate() (*Trigger, error) {
	for n := 1; n <= NumTriggers; n++ {
		if p.free[n] {
			p.free[n] = false
			return &Trigger{pool: p, value: n, gen: p.gen}, nil
		}
	}
	return nil, ErrTriggersExhausted
}

// Free reports how many triggers are currently unallocated.
func (p *TriggerPool) Free() int {
	count := 0
	for n := 1; n <= NumTriggers; n++ {
		if p.free[n] {
			count++
		}
	}
	return count
}

// Reset repopulates the full pool and invalidates all outstanding leases:
// their later Release calls become no-ops.
func (p *TriggerPool) Reset() {
	p.gen++
	for n := 1; n <= NumTriggers; n++ {
		p.free[n] = true
	}
}
