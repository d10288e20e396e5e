package insts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyResolved is returned when a resolved record is resolved again
// without being invalidated first.
var ErrAlreadyResolved = errors.New("record already resolved")

// Handler executes a record and returns the address of the next instruction.
type Handler func(rec *Record) uint64

// Role selects one of the handlers of a record.
type Role uint8

// Handler roles.
const (
	// RoleBaseline is the interpreter handler, always present.
	RoleBaseline Role = iota
	// RoleFast skips auxiliary accounting.
	RoleFast
	// RoleHWLoop replaces the baseline at the end of an active hardware loop.
	RoleHWLoop
	// RoleResource wraps the baseline with resource contention accounting.
	RoleResource
	// RoleStall runs on cycles where the instruction is held by a stall.
	// Fast mode never holds an instruction and has no stall variant.
	RoleStall

	NumRoles
)

var roleNames = [...]string{"baseline", "fast", "hwloop", "resource", "stall"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Handle identifies a record in the block cache that owns it. The zero value
// is NoHandle.
type Handle uint32

// NoHandle is the empty link.
const NoHandle Handle = 0

// RegisterResolver turns register indexes into references into the register
// file.
type RegisterResolver interface {
	InputRef(index int, flags OperandFlag) *uint64
	OutputRef(index int, flags OperandFlag) *uint64
}

type recordState uint8

const (
	stateUnresolved recordState = iota
	stateResolved
)

// Record is the decoded form of the instruction at one address.
//
// Decode-derived fields are written once by Resolve. Ready and the Next and
// Branch links change during execution.
type Record struct {
	Addr   uint64
	Opcode uint64
	Size   int
	Insn   *Insn

	Out  [MaxOutRegs]RegSlot
	In   [MaxInRegs]RegSlot
	UImm [MaxImmediates]uint64
	SImm [MaxImmediates]int64

	Args   [MaxDecodeArgs]Arg
	NbArgs int

	Latency           int
	ResourceID        int
	ResourceLatency   int
	ResourceBandwidth int

	// Ready is the cycle at which the last resource access of this record
	// delivers its result.
	Ready int64

	// Next links the sequentially following record, Branch the last taken
	// target.
	Next   Handle
	Branch Handle

	handlers [NumRoles]Handler
	state    recordState
}

// Resolved reports whether the record holds a decoded instruction.
func (r *Record) Resolved() bool {
	return r.state == stateResolved
}

// Resolve writes the decode result into the record and resolves every
// register operand through regs. regs may be nil, in which case register
// references stay unset.
func (r *Record) Resolve(addr uint64, d *Decoded, regs RegisterResolver) error {
	if r.state == stateResolved {
		return ErrAlreadyResolved
	}

	insn := d.Insn
	*r = Record{
		Addr:              addr,
		Opcode:            d.Opcode,
		Size:              insn.Size,
		Insn:              insn,
		Out:               d.Out,
		In:                d.In,
		UImm:              d.UImm,
		SImm:              d.SImm,
		Args:              d.Args,
		NbArgs:            d.NbArgs,
		Latency:           insn.Latency,
		ResourceID:        d.ResourceID,
		ResourceLatency:   insn.ResourceLatency,
		ResourceBandwidth: insn.ResourceBandwidth,
	}

	if regs != nil {
		for i := range r.Out {
			if r.Out[i].Valid {
				r.Out[i].Ref = regs.OutputRef(r.Out[i].Index, r.Out[i].Flags)
			}
		}
		for i := range r.In {
			if r.In[i].Valid {
				r.In[i].Ref = regs.InputRef(r.In[i].Index, r.In[i].Flags)
			}
		}
	}

	r.handlers[RoleBaseline] = insn.Handler
	r.handlers[RoleFast] = insn.FastHandler
	if r.handlers[RoleFast] == nil {
		r.handlers[RoleFast] = insn.Handler
	}
	r.handlers[RoleStall] = insn.StallHandler
	if r.handlers[RoleStall] == nil {
		r.handlers[RoleStall] = hold
	}

	if insn.Decode != nil {
		insn.Decode(r)
	}

	r.state = stateResolved
	return nil
}

// Invalidate returns the record to the unresolved state, dropping its
// decoded content and its links.
func (r *Record) Invalidate() {
	r.Reset(r.Addr)
}

// Reset binds an empty, unresolved record to addr.
func (r *Record) Reset(addr uint64) {
	*r = Record{Addr: addr, ResourceID: NoResource}
}

// Handler returns the handler installed for role, or nil.
func (r *Record) Handler(role Role) Handler {
	return r.handlers[role]
}

// SetHandler installs h for role. Passing nil removes the handler.
func (r *Record) SetHandler(role Role, h Handler) {
	r.handlers[role] = h
}

// HasResource reports whether the record accesses a shared resource.
func (r *Record) HasResource() bool {
	return r.ResourceID != NoResource
}

// Fallthrough returns the address of the sequentially next instruction.
func (r *Record) Fallthrough() uint64 {
	return r.Addr + uint64(r.Size)
}

// Label returns the instruction label, or "?" for unresolved records.
func (r *Record) Label() string {
	if r.Insn == nil {
		return "?"
	}
	return r.Insn.Label
}

// String renders the record as a one-line trace entry.
func (r *Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%x: %s", r.Addr, r.Label())

	for i := 0; i < r.NbArgs; i++ {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(formatArg(&r.Args[i]))
	}

	return sb.String()
}

func formatArg(a *Arg) string {
	var s string
	switch a.Kind {
	case KindOutReg, KindInReg:
		s = regName(a.Reg, a.Flags)
	case KindUImm, KindFlag:
		s = fmt.Sprintf("0x%x", a.UImm)
	case KindSImm:
		s = fmt.Sprintf("%d", a.SImm)
	case KindIndirectImm:
		s = fmt.Sprintf("%d(%s)", a.SImm, regName(a.Reg, a.Flags))
	case KindIndirectReg:
		s = fmt.Sprintf("%s(%s)", regName(a.OffsetReg, a.Flags), regName(a.Reg, a.Flags))
	}

	if a.Flags.Has(FlagPostInc) {
		s += "!"
	}
	if a.Flags.Has(FlagDumpName) && a.Name != "" {
		s = a.Name + "=" + s
	}
	return s
}

func regName(idx int, flags OperandFlag) string {
	if flags.Has(FlagFReg) {
		return fmt.Sprintf("f%d", idx)
	}
	return fmt.Sprintf("x%d", idx)
}

// hold keeps the instruction in place for one more cycle.
func hold(rec *Record) uint64 {
	return rec.Addr
}
