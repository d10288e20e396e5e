package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/issim/insts"
)

// Mode selects how instructions are dispatched.
type Mode uint8

// Dispatch modes.
const (
	// ModeNormal runs the baseline handlers and accounts resource
	// contention and instruction cache timing.
	ModeNormal Mode = iota
	// ModeFast runs the fast handlers and skips auxiliary accounting.
	ModeFast
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFast:
		return "fast"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// SelectRole returns the role the core invokes for rec in mode. A record
// closing an active hardware loop always runs its loop handler, which runs
// the body role selected by BodyRole.
func SelectRole(rec *insts.Record, mode Mode) insts.Role {
	if rec.Handler(insts.RoleHWLoop) != nil {
		return insts.RoleHWLoop
	}
	return BodyRole(rec, mode)
}

// BodyRole returns the role executing the effect of rec in mode, ignoring
// hardware loops.
func BodyRole(rec *insts.Record, mode Mode) insts.Role {
	if mode == ModeFast {
		return insts.RoleFast
	}
	if rec.Handler(insts.RoleResource) != nil {
		return insts.RoleResource
	}
	return insts.RoleBaseline
}

// Dispatch executes rec in mode and returns the address of the next
// instruction.
func (c *Core) Dispatch(rec *insts.Record, mode Mode) uint64 {
	c.dispatchMode = mode
	role := SelectRole(rec, mode)
	return rec.Handler(role)(rec)
}

func (c *Core) body(rec *insts.Record) uint64 {
	return rec.Handler(BodyRole(rec, c.dispatchMode))(rec)
}

// Reserve accounts the resource access of rec at the current cycle and
// returns the number of cycles it must wait for a free instance.
func (c *Core) Reserve(rec *insts.Record) int64 {
	now := c.Now()
	res := c.resources.ReserveRecord(rec, now)

	if res.Stall > 0 {
		c.logger.WithFields(logrus.Fields{
			"pc":       fmt.Sprintf("0x%x", rec.Addr),
			"label":    rec.Label(),
			"resource": c.resources.Get(rec.ResourceID).Name(),
			"stall":    res.Stall,
		}).Debug("resource contention")
	}

	return res.Stall
}

// resourceHandler charges the resource access of rec before running its
// baseline effect. On contention the instruction is held and runs once the
// instance is free, without being charged again. The registers rec writes
// become available to consumers at rec.Ready.
func (c *Core) resourceHandler(rec *insts.Record) uint64 {
	if c.granted == rec {
		c.granted = nil
		return c.issue(rec)
	}

	stall := c.Reserve(rec)
	if stall == 0 {
		return c.issue(rec)
	}

	c.granted = rec
	c.held = rec
	c.holdUntil = c.Now() + stall

	return rec.Handler(insts.RoleStall)(rec)
}

func (c *Core) issue(rec *insts.Record) uint64 {
	c.board.produce(rec)
	return rec.Handler(insts.RoleBaseline)(rec)
}
