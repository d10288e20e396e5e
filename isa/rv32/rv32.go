// Package rv32 describes a subset of the RISC-V RV32IMC instruction set as
// an isa.Set.
//
// Registers are 64-bit slots holding zero-extended 32-bit values. The M
// extension instructions use the shared "mul" and "div" resources.
package rv32

import (
	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/insts"
	"github.com/sarchlab/issim/isa"
	"github.com/sarchlab/issim/timing/resource"
)

// ISA names.
const (
	NameIMC = "rv32imc"
	NameI   = "rv32i"
)

// Resource names.
const (
	ResourceMul = "mul"
	ResourceDiv = "div"
)

// Memory is the data memory accessed by loads and stores.
type Memory interface {
	Read32(addr uint64) uint32
	Write32(addr uint64, value uint32)
}

// Option configures the handlers of a set.
type Option func(*handlers)

// WithSyscalls makes ecall serve syscalls with sys. exit is called when the
// program exits. Without it, ecall is an inactive encoding.
func WithSyscalls(sys emu.SyscallHandler, exit func(code int64)) Option {
	return func(h *handlers) {
		h.sys = sys
		h.exit = exit
	}
}

// NewSet returns the RV32 set. It holds NameIMC, with the M and C
// extensions, and NameI, where the M encodings are inactive and compressed
// encodings are unknown.
func NewSet(mem Memory, opts ...Option) *isa.Set {
	h := &handlers{mem: mem}
	for _, opt := range opts {
		opt(h)
	}

	return &isa.Set{
		Name: "rv32",
		ISAs: []isa.ISA{
			{Name: NameIMC, Root: h.tree(true, true)},
			{Name: NameI, Root: h.tree(false, false)},
		},
		Resources: []resource.Decl{
			{Name: ResourceMul, Instances: 1},
			{Name: ResourceDiv, Instances: 1},
		},
	}
}

// Operand descriptors shared by several leaves.
var (
	rd  = insts.OutReg("rd", 0, insts.Bitfield(7, 5))
	rs1 = insts.InReg("rs1", 0, insts.Bitfield(15, 5))
	rs2 = insts.InReg("rs2", 1, insts.Bitfield(20, 5))

	immI = insts.SImm("imm", 0, insts.Bitfield(20, 12))
	immU = insts.UImm("imm", 0, insts.Bits(insts.Range{Bit: 12, Width: 20, Shift: 12}))
	immS = insts.SImm("offset", 0, insts.Bits(
		insts.Range{Bit: 7, Width: 5, Shift: 0},
		insts.Range{Bit: 25, Width: 7, Shift: 5},
	))
	immB = insts.SImm("offset", 0, insts.Bits(
		insts.Range{Bit: 8, Width: 4, Shift: 1},
		insts.Range{Bit: 25, Width: 6, Shift: 5},
		insts.Range{Bit: 7, Width: 1, Shift: 11},
		insts.Range{Bit: 31, Width: 1, Shift: 12},
	))
	immJ = insts.SImm("offset", 0, insts.Bits(
		insts.Range{Bit: 21, Width: 10, Shift: 1},
		insts.Range{Bit: 20, Width: 1, Shift: 11},
		insts.Range{Bit: 12, Width: 8, Shift: 12},
		insts.Range{Bit: 31, Width: 1, Shift: 20},
	))

	// Compressed forms.
	crd   = insts.OutReg("rd", 0, insts.Bitfield(7, 5))
	crs1  = insts.InReg("rs1", 0, insts.Bitfield(7, 5))
	cimm6 = insts.SImm("imm", 0, insts.Bits(
		insts.Range{Bit: 2, Width: 5, Shift: 0},
		insts.Range{Bit: 12, Width: 1, Shift: 5},
	))
	cimmJ = insts.SImm("offset", 0, insts.Bits(
		insts.Range{Bit: 3, Width: 3, Shift: 1},
		insts.Range{Bit: 11, Width: 1, Shift: 4},
		insts.Range{Bit: 2, Width: 1, Shift: 5},
		insts.Range{Bit: 7, Width: 1, Shift: 6},
		insts.Range{Bit: 6, Width: 1, Shift: 7},
		insts.Range{Bit: 9, Width: 2, Shift: 8},
		insts.Range{Bit: 8, Width: 1, Shift: 10},
		insts.Range{Bit: 12, Width: 1, Shift: 11},
	))

	link = insts.OutReg("ra", 0, insts.ConstU(1))
	zero = insts.OutReg("rd", 0, insts.ConstU(0))
)

// Major opcodes, bits [2:7) of a 32-bit encoding.
const (
	opLoad    = 0x00
	opCustom0 = 0x02
	opOpImm   = 0x04
	opStore   = 0x08
	opOp      = 0x0C
	opLUI     = 0x0D
	opBranch  = 0x18
	opJALR    = 0x19
	opJAL     = 0x1B
	opSystem  = 0x1C
)

func (h *handlers) tree(withM, withC bool) insts.Node {
	quadrants := []insts.Case{
		insts.On(0x3, insts.NewGroup(2, 5,
			insts.On(opLUI, &insts.Insn{
				Label: "lui", Opcode: 0x37, Size: 4, Latency: 1,
				Handler:  h.lui,
				Operands: []insts.Operand{rd, immU},
			}),
			insts.On(opOpImm, insts.NewGroup(12, 3,
				insts.On(0, &insts.Insn{
					Label: "addi", Opcode: 0x13, Size: 4, Latency: 1,
					Handler:  h.addi,
					Operands: []insts.Operand{rd, rs1, immI},
				}),
				insts.On(7, &insts.Insn{
					Label: "andi", Opcode: 0x7013, Size: 4, Latency: 1,
					Handler:  h.andi,
					Operands: []insts.Operand{rd, rs1, immI},
				}),
			)),
			insts.On(opOp, insts.NewGroup(25, 7,
				insts.On(0x00, insts.NewGroup(12, 3,
					insts.On(0, &insts.Insn{
						Label: "add", Opcode: 0x33, Size: 4, Latency: 1,
						Handler:  h.add,
						Operands: []insts.Operand{rd, rs1, rs2},
					}),
					insts.On(7, &insts.Insn{
						Label: "and", Opcode: 0x7033, Size: 4, Latency: 1,
						Handler:  h.and,
						Operands: []insts.Operand{rd, rs1, rs2},
					}),
				)),
				insts.On(0x20, insts.NewGroup(12, 3,
					insts.On(0, &insts.Insn{
						Label: "sub", Opcode: 0x40000033, Size: 4, Latency: 1,
						Handler:  h.sub,
						Operands: []insts.Operand{rd, rs1, rs2},
					}),
				)),
				insts.On(0x01, insts.NewGroup(12, 3,
					insts.On(0, &insts.Insn{
						Label: "mul", Opcode: 0x02000033, Size: 4, Latency: 1,
						Inactive:          !withM,
						Handler:           h.mul,
						Operands:          []insts.Operand{rd, rs1, rs2},
						Resource:          ResourceMul,
						ResourceLatency:   3,
						ResourceBandwidth: 1,
					}),
					insts.On(4, &insts.Insn{
						Label: "div", Opcode: 0x02004033, Size: 4, Latency: 1,
						Inactive:          !withM,
						Handler:           h.div,
						Operands:          []insts.Operand{rd, rs1, rs2},
						Resource:          ResourceDiv,
						ResourceLatency:   12,
						ResourceBandwidth: 12,
					}),
				)),
			)),
			insts.On(opLoad, insts.NewGroup(12, 3,
				insts.On(2, &insts.Insn{
					Label: "lw", Opcode: 0x2003, Size: 4, Latency: 2,
					Handler: h.lw,
					Operands: []insts.Operand{
						rd,
						insts.IndirectImm("addr", rs1, immI),
					},
				}),
			)),
			insts.On(opStore, insts.NewGroup(12, 3,
				insts.On(2, &insts.Insn{
					Label: "sw", Opcode: 0x2023, Size: 4, Latency: 1,
					Handler: h.sw,
					Operands: []insts.Operand{
						rs2,
						insts.IndirectImm("addr", rs1, immS),
					},
				}),
			)),
			insts.On(opBranch, insts.NewGroup(12, 3,
				insts.On(0, &insts.Insn{
					Label: "beq", Opcode: 0x63, Size: 4, Latency: 1,
					Handler:  h.beq,
					Decode:   pcRelative,
					Operands: []insts.Operand{rs1, rs2, immB},
				}),
				insts.On(1, &insts.Insn{
					Label: "bne", Opcode: 0x1063, Size: 4, Latency: 1,
					Handler:  h.bne,
					Decode:   pcRelative,
					Operands: []insts.Operand{rs1, rs2, immB},
				}),
			)),
			insts.On(opJAL, &insts.Insn{
				Label: "jal", Opcode: 0x6F, Size: 4, Latency: 1,
				Handler:  h.jal,
				Decode:   pcRelative,
				Operands: []insts.Operand{rd, immJ},
			}),
			insts.On(opJALR, &insts.Insn{
				Label: "jalr", Opcode: 0x67, Size: 4, Latency: 1,
				Handler:  h.jalr,
				Operands: []insts.Operand{rd, rs1, immI},
			}),
			insts.On(opSystem, insts.NewGroup(12, 3,
				insts.On(0, insts.NewGroup(20, 12,
					insts.On(0, &insts.Insn{
						Label: "ecall", Opcode: 0x73, Size: 4, Latency: 1,
						Inactive: h.sys == nil,
						Handler:  h.ecall,
					}),
				)),
			)),
			insts.On(opCustom0, &insts.Insn{
				Label: "custom0", Opcode: 0x0B, Size: 4, Inactive: true,
			}),
		)),
	}

	if withC {
		quadrants = append(quadrants, insts.On(0x1, insts.NewGroup(13, 3,
			insts.On(0, &insts.Insn{
				Label: "c.addi", Opcode: 0x0001, Size: 2, Latency: 1,
				Handler:  h.addi,
				Operands: []insts.Operand{crd, crs1, cimm6},
			}),
			insts.On(2, &insts.Insn{
				Label: "c.li", Opcode: 0x4001, Size: 2, Latency: 1,
				Handler:  h.li,
				Operands: []insts.Operand{crd, cimm6},
			}),
			insts.On(5, &insts.Insn{
				Label: "c.j", Opcode: 0xA001, Size: 2, Latency: 1,
				Handler:  h.jal,
				Decode:   pcRelative,
				Operands: []insts.Operand{zero, cimmJ},
			}),
			insts.On(1, &insts.Insn{
				Label: "c.jal", Opcode: 0x2001, Size: 2, Latency: 1,
				Handler:  h.jal,
				Decode:   pcRelative,
				Operands: []insts.Operand{link, cimmJ},
			}),
		)))
	}

	return insts.NewGroup(0, 2, quadrants...)
}

// pcRelative stores the absolute target of a pc-relative control transfer
// in UImm[1].
func pcRelative(rec *insts.Record) {
	rec.UImm[1] = uint64(uint32(rec.Addr) + uint32(rec.SImm[0]))
}
