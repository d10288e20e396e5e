// Package emu provides the storage the simulator core works on: the register
// file and the simulated memory. The core does not own this storage; decoded
// records hold references into it.
package emu

import "github.com/sarchlab/issim/insts"

// NumRegs is the number of integer and of floating-point registers.
const NumRegs = 32

// RegFile represents the register file of a RISC-style core.
// It contains 32 integer registers (x0-x31), 32 floating-point registers
// (f0-f31) and the program counter.
type RegFile struct {
	// X holds the integer registers. X[0] is hard-wired to zero.
	X [NumRegs]uint64

	// F holds the floating-point registers.
	F [NumRegs]uint64

	// PC is the program counter.
	PC uint64

	// zero backs reads of x0, sink absorbs writes to x0.
	zero uint64
	sink uint64
}

// ReadReg reads an integer register. Register 0 and out-of-range indexes
// return 0.
func (r *RegFile) ReadReg(reg int) uint64 {
	if reg <= 0 || reg >= NumRegs {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes an integer register. Writes to register 0 are ignored.
func (r *RegFile) WriteReg(reg int, value uint64) {
	if reg <= 0 || reg >= NumRegs {
		return
	}
	r.X[reg] = value
}

// ReadReg32 reads the lower 32 bits of an integer register.
func (r *RegFile) ReadReg32(reg int) uint32 {
	return uint32(r.ReadReg(reg))
}

// InputRef returns the storage an instruction reads register index from.
// Reads of x0 go to a slot that always holds zero.
func (r *RegFile) InputRef(index int, flags insts.OperandFlag) *uint64 {
	if flags.Has(insts.FlagFReg) {
		return &r.F[index%NumRegs]
	}
	if index <= 0 || index >= NumRegs {
		r.zero = 0
		return &r.zero
	}
	return &r.X[index]
}

// OutputRef returns the storage an instruction writes register index to.
// Writes to x0 land in a sink slot that nothing reads.
func (r *RegFile) OutputRef(index int, flags insts.OperandFlag) *uint64 {
	if flags.Has(insts.FlagFReg) {
		return &r.F[index%NumRegs]
	}
	if index <= 0 || index >= NumRegs {
		return &r.sink
	}
	return &r.X[index]
}

// Reset clears every register, keeping the storage addresses stable so
// that resolved references stay valid.
func (r *RegFile) Reset() {
	r.X = [NumRegs]uint64{}
	r.F = [NumRegs]uint64{}
	r.PC = 0
	r.zero = 0
	r.sink = 0
}
