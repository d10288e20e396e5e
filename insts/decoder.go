package insts

import (
	"errors"
	"fmt"
)

// NoResource is the resource id of instructions without a shared resource.
const NoResource = -1

var (
	// ErrUnknownEncoding reports an opcode that matches no leaf and no
	// others default.
	ErrUnknownEncoding = errors.New("unknown encoding")
	// ErrInactiveEncoding reports an opcode that matches a leaf disabled for
	// the current ISA configuration.
	ErrInactiveEncoding = errors.New("inactive encoding")
)

// IllegalInstructionError is returned for opcodes the decoder cannot turn
// into a record. It wraps ErrUnknownEncoding or ErrInactiveEncoding.
type IllegalInstructionError struct {
	Addr   uint64
	Opcode uint64
	Label  string // leaf label for inactive encodings
	Err    error
}

func (e *IllegalInstructionError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("illegal instruction 0x%x at 0x%x (%s): %v", e.Opcode, e.Addr, e.Label, e.Err)
	}
	return fmt.Sprintf("illegal instruction 0x%x at 0x%x: %v", e.Opcode, e.Addr, e.Err)
}

func (e *IllegalInstructionError) Unwrap() error {
	return e.Err
}

// MatchStatus is the outcome of walking the decode tree.
type MatchStatus uint8

// Match outcomes.
const (
	MatchFound MatchStatus = iota
	MatchUnknown
	MatchInactive
)

func (s MatchStatus) String() string {
	switch s {
	case MatchFound:
		return "found"
	case MatchUnknown:
		return "unknown"
	case MatchInactive:
		return "inactive"
	default:
		return fmt.Sprintf("MatchStatus(%d)", uint8(s))
	}
}

// Decoded is the pure result of decoding one opcode. It is written into a
// Record by Record.Resolve.
type Decoded struct {
	Insn       *Insn
	Opcode     uint64
	ResourceID int

	Args   [MaxDecodeArgs]Arg
	NbArgs int

	Out  [MaxOutRegs]RegSlot
	In   [MaxInRegs]RegSlot
	UImm [MaxImmediates]uint64
	SImm [MaxImmediates]int64
}

// Decoder classifies opcodes against a compiled decode tree. A Decoder is
// immutable once built and may be shared by several cores.
type Decoder struct {
	root compiledNode
}

// NewDecoder compiles the tree rooted at root. resources maps the resource
// names referenced by leaves to their ids; it may be nil when no leaf uses a
// resource.
func NewDecoder(root Node, resources map[string]int) (*Decoder, error) {
	c := &compiler{
		resources: resources,
		leaves:    make(map[*Insn]*compiledInsn),
	}

	compiled, err := c.compile(root)
	if err != nil {
		return nil, fmt.Errorf("failed to compile decode tree: %w", err)
	}

	return &Decoder{root: compiled}, nil
}

func (d *Decoder) walk(opcode uint64) (*compiledInsn, MatchStatus) {
	n := d.root
	for {
		switch v := n.(type) {
		case *compiledGroup:
			child := v.table[(opcode>>v.bit)&v.mask]
			if child == nil {
				child = v.others
			}
			if child == nil {
				return nil, MatchUnknown
			}
			n = child
		case *compiledInsn:
			if v.insn.Inactive {
				return v, MatchInactive
			}
			return v, MatchFound
		default:
			return nil, MatchUnknown
		}
	}
}

// Match returns the leaf selected by opcode. The leaf is also returned for
// MatchInactive so callers can name the disabled encoding.
func (d *Decoder) Match(opcode uint64) (*Insn, MatchStatus) {
	leaf, status := d.walk(opcode)
	if leaf == nil {
		return nil, status
	}
	return leaf.insn, status
}

// Decode classifies opcode and extracts all its operands.
func (d *Decoder) Decode(opcode uint64) (*Decoded, error) {
	leaf, status := d.walk(opcode)
	switch status {
	case MatchUnknown:
		return nil, &IllegalInstructionError{Opcode: opcode, Err: ErrUnknownEncoding}
	case MatchInactive:
		return nil, &IllegalInstructionError{
			Opcode: opcode,
			Label:  leaf.insn.Label,
			Err:    ErrInactiveEncoding,
		}
	}

	out := &Decoded{
		Insn:       leaf.insn,
		Opcode:     opcode,
		ResourceID: leaf.resourceID,
		NbArgs:     len(leaf.insn.Operands),
	}

	for i, op := range leaf.insn.Operands {
		out.Args[i] = out.extract(op, opcode)
	}

	return out, nil
}

func (d *Decoded) extract(op Operand, opcode uint64) Arg {
	arg := Arg{Kind: op.Kind(), Flags: op.Flags(), Name: op.Name()}

	switch v := op.(type) {
	case *RegOperand:
		arg.Reg = d.bindReg(v, opcode)
	case *ImmOperand:
		arg.UImm, arg.SImm = d.bindImm(v, opcode)
	case *IndirectImmOperand:
		arg.Reg = d.bindReg(v.Base, opcode)
		if v.updatesBase() {
			d.Out[v.Base.ID] = d.In[v.Base.ID]
		}
		arg.UImm, arg.SImm = d.bindImm(v.Offset, opcode)
	case *IndirectRegOperand:
		arg.Reg = d.bindReg(v.Base, opcode)
		arg.OffsetReg = d.bindReg(v.Offset, opcode)
		if v.updatesBase() {
			d.Out[v.Base.ID] = d.In[v.Base.ID]
		}
	case *FlagOperand:
		arg.UImm = v.Field.Unsigned(opcode)
		arg.SImm = int64(arg.UImm)
		d.UImm[v.ID] = arg.UImm
	}

	return arg
}

func (d *Decoded) bindReg(op *RegOperand, opcode uint64) int {
	slot := RegSlot{Valid: true, Index: op.index(opcode), Flags: op.Mods}
	if op.Dir == KindOutReg {
		d.Out[op.ID] = slot
	} else {
		d.In[op.ID] = slot
	}
	return slot.Index
}

func (d *Decoded) bindImm(op *ImmOperand, opcode uint64) (uint64, int64) {
	if op.Signed {
		v := op.Field.Signed(opcode)
		d.SImm[op.ID] = v
		return uint64(v), v
	}
	v := op.Field.Unsigned(opcode)
	d.UImm[op.ID] = v
	return v, int64(v)
}
