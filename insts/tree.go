package insts

import "fmt"

// maxGroupWidth bounds the width of a group so its child table stays small.
const maxGroupWidth = 16

// Node is a node of the static decode tree, either a *Group or an *Insn.
type Node interface {
	node()
}

// Case binds a child node to one value of a group's bit field. A case with
// Others set matches every value no other case matches.
type Case struct {
	Value  uint64
	Others bool
	Node   Node
}

// On selects n when the group's field equals value.
func On(value uint64, n Node) Case {
	return Case{Value: value, Node: n}
}

// Otherwise selects n when no other case of the group matches.
func Otherwise(n Node) Case {
	return Case{Others: true, Node: n}
}

// Group classifies an opcode on the Width-bit field starting at Bit.
type Group struct {
	Bit   int
	Width int
	Cases []Case
}

// NewGroup builds a group node.
func NewGroup(bit, width int, cases ...Case) *Group {
	return &Group{Bit: bit, Width: width, Cases: cases}
}

func (*Group) node() {}

// Insn is a leaf of the decode tree describing one instruction.
type Insn struct {
	Label string

	// Inactive marks an encoding that is reserved or disabled for the
	// current ISA configuration.
	Inactive bool

	// Opcode is the fixed bit pattern of the instruction.
	Opcode uint64
	// Size is the instruction size in bytes.
	Size int
	// Latency is the base latency in cycles.
	Latency int

	Handler      Handler
	FastHandler  Handler // optional, defaults to Handler
	StallHandler Handler // optional, defaults to holding the instruction

	// Decode runs once on the record after operand extraction.
	Decode func(rec *Record)

	Operands []Operand

	// Resource names the shared unit this instruction accesses, if any.
	Resource          string
	ResourceLatency   int // cycles until the result is available
	ResourceBandwidth int // cycles until the instance accepts another access
}

func (*Insn) node() {}

// HasResource reports whether the instruction accesses a shared resource.
func (i *Insn) HasResource() bool {
	return i.Resource != ""
}

func (i *Insn) validate(resources map[string]int) (int, error) {
	if i.Size <= 0 {
		return NoResource, fmt.Errorf("insn %q: size must be > 0", i.Label)
	}
	if i.Handler == nil && !i.Inactive {
		return NoResource, fmt.Errorf("insn %q: missing handler", i.Label)
	}
	if i.Latency < 0 {
		return NoResource, fmt.Errorf("insn %q: negative latency", i.Label)
	}
	if len(i.Operands) > MaxDecodeArgs {
		return NoResource, fmt.Errorf("insn %q: %d operands, at most %d allowed",
			i.Label, len(i.Operands), MaxDecodeArgs)
	}
	var slots slotUse
	for _, op := range i.Operands {
		if op == nil {
			return NoResource, fmt.Errorf("insn %q: nil operand", i.Label)
		}
		if err := op.validate(); err != nil {
			return NoResource, fmt.Errorf("insn %q: %w", i.Label, err)
		}
		if err := slots.add(op); err != nil {
			return NoResource, fmt.Errorf("insn %q: %w", i.Label, err)
		}
	}

	if !i.HasResource() {
		return NoResource, nil
	}
	id, ok := resources[i.Resource]
	if !ok {
		return NoResource, fmt.Errorf("insn %q: unknown resource %q", i.Label, i.Resource)
	}
	if i.ResourceLatency < 0 || i.ResourceBandwidth < 0 {
		return NoResource, fmt.Errorf("insn %q: negative resource timing", i.Label)
	}
	return id, nil
}

// slotUse records the record slots claimed by the operands of one leaf.
// Each slot has a single writer.
type slotUse struct {
	out [MaxOutRegs]bool
	in  [MaxInRegs]bool
	imm [MaxImmediates]bool
}

func claim(slots []bool, id int, what, name string) error {
	if slots[id] {
		return fmt.Errorf("operand %q: %s slot %d already written", name, what, id)
	}
	slots[id] = true
	return nil
}

func (u *slotUse) reg(op *RegOperand) error {
	if op.Dir == KindOutReg {
		return claim(u.out[:], op.ID, "out register", op.Label)
	}
	return claim(u.in[:], op.ID, "in register", op.Label)
}

// indirect claims the base register and the out slot of an updated base.
func (u *slotUse) indirect(name string, base *RegOperand, updates bool) error {
	if err := u.reg(base); err != nil {
		return err
	}
	if updates {
		return claim(u.out[:], base.ID, "out register", name)
	}
	return nil
}

func (u *slotUse) add(op Operand) error {
	switch v := op.(type) {
	case *RegOperand:
		return u.reg(v)
	case *ImmOperand:
		return claim(u.imm[:], v.ID, "immediate", v.Label)
	case *FlagOperand:
		return claim(u.imm[:], v.ID, "immediate", v.Label)
	case *IndirectImmOperand:
		if err := u.indirect(v.Label, v.Base, v.updatesBase()); err != nil {
			return err
		}
		return claim(u.imm[:], v.Offset.ID, "immediate", v.Offset.Label)
	case *IndirectRegOperand:
		if err := u.indirect(v.Label, v.Base, v.updatesBase()); err != nil {
			return err
		}
		return u.reg(v.Offset)
	}
	return nil
}

// compiled forms of the tree, built once by NewDecoder.

type compiledNode interface {
	compiled()
}

type compiledGroup struct {
	bit    uint
	mask   uint64
	table  []compiledNode
	others compiledNode
}

func (*compiledGroup) compiled() {}

type compiledInsn struct {
	insn       *Insn
	resourceID int
}

func (*compiledInsn) compiled() {}

type compiler struct {
	resources map[string]int
	leaves    map[*Insn]*compiledInsn
}

func (c *compiler) compile(n Node) (compiledNode, error) {
	switch v := n.(type) {
	case *Group:
		return c.compileGroup(v)
	case *Insn:
		if leaf, ok := c.leaves[v]; ok {
			return leaf, nil
		}
		id, err := v.validate(c.resources)
		if err != nil {
			return nil, err
		}
		leaf := &compiledInsn{insn: v, resourceID: id}
		c.leaves[v] = leaf
		return leaf, nil
	case nil:
		return nil, fmt.Errorf("nil decode node")
	default:
		return nil, fmt.Errorf("unsupported decode node %T", n)
	}
}

func (c *compiler) compileGroup(g *Group) (*compiledGroup, error) {
	if g.Width <= 0 || g.Width > maxGroupWidth {
		return nil, fmt.Errorf("group at bit %d: width %d out of range [1, %d]",
			g.Bit, g.Width, maxGroupWidth)
	}
	if g.Bit < 0 || g.Bit+g.Width > 64 {
		return nil, fmt.Errorf("group at bit %d: field exceeds 64 bits", g.Bit)
	}

	cg := &compiledGroup{
		bit:   uint(g.Bit),
		mask:  lowMask(g.Width),
		table: make([]compiledNode, 1<<uint(g.Width)),
	}

	for _, cs := range g.Cases {
		child, err := c.compile(cs.Node)
		if err != nil {
			return nil, err
		}

		if cs.Others {
			if cg.others != nil {
				return nil, fmt.Errorf("group at bit %d: more than one others case", g.Bit)
			}
			cg.others = child
			continue
		}

		if cs.Value > cg.mask {
			return nil, fmt.Errorf("group at bit %d: value 0x%x does not fit in %d bits",
				g.Bit, cs.Value, g.Width)
		}
		if cg.table[cs.Value] != nil {
			return nil, fmt.Errorf("group at bit %d: duplicate value 0x%x", g.Bit, cs.Value)
		}
		cg.table[cs.Value] = child
	}

	return cg, nil
}
