package core

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/issim/insts"
)

// MaxHWLoops is the number of hardware loops of the core.
const MaxHWLoops = 2

// ErrHWLoopResource is returned when the last instruction of a hardware
// loop accesses a shared resource. Such an instruction would need both the
// loop and the resource role.
var ErrHWLoopResource = errors.New("hardware loop end instruction uses a resource")

type hwLoop struct {
	active bool
	start  uint64
	end    uint64
	count  uint64
}

// SetHWLoop configures hardware loop index to run the instructions from
// start to end, end being the address of the last instruction of the body,
// count times. The end instruction is decoded immediately.
func (c *Core) SetHWLoop(index int, start, end, count uint64) error {
	if index < 0 || index >= MaxHWLoops {
		return fmt.Errorf("hardware loop %d does not exist", index)
	}
	if count == 0 {
		return fmt.Errorf("hardware loop %d: count must be > 0", index)
	}
	if end < start {
		return fmt.Errorf("hardware loop %d: end 0x%x before start 0x%x", index, end, start)
	}

	rec, _, err := c.icache.LookupOrDecode(end)
	if err != nil {
		return fmt.Errorf("hardware loop %d: %w", index, err)
	}
	if rec.HasResource() {
		return fmt.Errorf("hardware loop %d: %s at 0x%x: %w",
			index, rec.Label(), end, ErrHWLoopResource)
	}

	c.ClearHWLoop(index)
	c.loops[index] = hwLoop{active: true, start: start, end: end, count: count}
	rec.SetHandler(insts.RoleHWLoop, c.hwLoopFn)

	return nil
}

// ClearHWLoop disables hardware loop index.
func (c *Core) ClearHWLoop(index int) {
	if index < 0 || index >= MaxHWLoops {
		return
	}

	l := &c.loops[index]
	if !l.active {
		return
	}
	l.active = false
	l.count = 0

	c.uninstallHWLoop(l.end)
}

// HWLoop returns the state of hardware loop index.
func (c *Core) HWLoop(index int) (start, end, count uint64, active bool) {
	l := c.loops[index]
	return l.start, l.end, l.count, l.active
}

func (c *Core) loopEndsAt(addr uint64) bool {
	for i := range c.loops {
		if c.loops[i].active && c.loops[i].end == addr {
			return true
		}
	}
	return false
}

func (c *Core) uninstallHWLoop(end uint64) {
	if c.loopEndsAt(end) {
		return
	}
	if rec, _, ok := c.icache.Lookup(end); ok {
		rec.SetHandler(insts.RoleHWLoop, nil)
	}
}

// installHWLoop puts the loop handler back on a re-decoded loop end.
func (c *Core) installHWLoop(rec *insts.Record) {
	if !c.loopEndsAt(rec.Addr) {
		return
	}

	if !rec.HasResource() {
		rec.SetHandler(insts.RoleHWLoop, c.hwLoopFn)
		return
	}

	for i := range c.loops {
		if c.loops[i].active && c.loops[i].end == rec.Addr {
			c.loops[i].active = false
			c.loops[i].count = 0
		}
	}
	c.logger.WithFields(logrus.Fields{
		"pc":    fmt.Sprintf("0x%x", rec.Addr),
		"label": rec.Label(),
	}).Error(ErrHWLoopResource.Error())
}

// hwLoopHandler runs the body of a loop end instruction, then jumps back to
// the loop start while iterations remain. Loops ending at the same address
// are served in index order.
func (c *Core) hwLoopHandler(rec *insts.Record) uint64 {
	fallthroughAddr := rec.Fallthrough()
	addr := rec.Addr

	next := c.body(rec)
	if next != fallthroughAddr {
		return next
	}

	for i := range c.loops {
		l := &c.loops[i]
		if !l.active || l.end != addr {
			continue
		}

		if l.count > 1 {
			l.count--
			c.stats.HWLoopIterations++
			c.loopJumped = true
			return l.start
		}

		l.active = false
		l.count = 0
	}

	c.uninstallHWLoop(addr)
	return next
}
