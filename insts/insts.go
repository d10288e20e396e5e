// Package insts provides the static decode tree and decoded instruction records.
//
// An ISA is described as a tree of nodes. Group nodes test a bit field of the
// opcode and select a child; Insn leaves describe one instruction: its
// handlers, its operands and its timing annotations. A Decoder compiles the
// tree once and classifies opcodes against it. The result of a decode is
// written once into a Record, the address-bound form that the simulator core
// caches and dispatches.
//
// Usage:
//
//	decoder, err := insts.NewDecoder(root, nil)
//	decoded, err := decoder.Decode(0x00500093) // addi x1, x0, 5
//	rec.Resolve(0x1000, decoded, regFile)
//	next := rec.Handler(insts.RoleBaseline)(rec)
package insts
