package core

import (
	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/insts"
)

// scoreboard holds, per register, the cycle at which the result of the last
// resource access writing it is delivered. Consumers issue at that cycle at
// the earliest.
type scoreboard struct {
	x [emu.NumRegs]int64
	f [emu.NumRegs]int64
}

// entry returns the ready cycle of the register in slot, or nil for x0,
// which never carries a dependency.
func (s *scoreboard) entry(slot *insts.RegSlot) *int64 {
	if slot.Flags.Has(insts.FlagFReg) {
		return &s.f[slot.Index%emu.NumRegs]
	}
	if slot.Index <= 0 || slot.Index >= emu.NumRegs {
		return nil
	}
	return &s.x[slot.Index]
}

// produce marks the output registers of rec as ready at rec.Ready.
func (s *scoreboard) produce(rec *insts.Record) {
	for i := range rec.Out {
		if !rec.Out[i].Valid {
			continue
		}
		if e := s.entry(&rec.Out[i]); e != nil {
			*e = rec.Ready
		}
	}
}

// ready returns the cycle at which rec may issue: every register it reads
// is available and no pending result is still to land in a register it
// writes.
func (s *scoreboard) ready(rec *insts.Record) int64 {
	var at int64
	for i := range rec.In {
		if rec.In[i].Valid {
			at = s.later(at, &rec.In[i])
		}
	}
	for i := range rec.Out {
		if rec.Out[i].Valid {
			at = s.later(at, &rec.Out[i])
		}
	}
	return at
}

func (s *scoreboard) later(at int64, slot *insts.RegSlot) int64 {
	if e := s.entry(slot); e != nil && *e > at {
		return *e
	}
	return at
}

func (s *scoreboard) reset() {
	*s = scoreboard{}
}
