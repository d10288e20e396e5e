package rv32

import (
	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/insts"
)

type handlers struct {
	mem  Memory
	sys  emu.SyscallHandler
	exit func(code int64)
}

func in(rec *insts.Record, i int) uint32 {
	return uint32(rec.In[i].Load())
}

func out(rec *insts.Record, v uint32) {
	rec.Out[0].Store(uint64(v))
}

func (h *handlers) lui(rec *insts.Record) uint64 {
	out(rec, uint32(rec.UImm[0]))
	return rec.Fallthrough()
}

func (h *handlers) li(rec *insts.Record) uint64 {
	out(rec, uint32(rec.SImm[0]))
	return rec.Fallthrough()
}

func (h *handlers) addi(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)+uint32(rec.SImm[0]))
	return rec.Fallthrough()
}

func (h *handlers) andi(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)&uint32(rec.SImm[0]))
	return rec.Fallthrough()
}

func (h *handlers) add(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)+in(rec, 1))
	return rec.Fallthrough()
}

func (h *handlers) sub(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)-in(rec, 1))
	return rec.Fallthrough()
}

func (h *handlers) and(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)&in(rec, 1))
	return rec.Fallthrough()
}

func (h *handlers) mul(rec *insts.Record) uint64 {
	out(rec, in(rec, 0)*in(rec, 1))
	return rec.Fallthrough()
}

func (h *handlers) div(rec *insts.Record) uint64 {
	a, b := int32(in(rec, 0)), int32(in(rec, 1))
	switch {
	case b == 0:
		out(rec, 0xFFFFFFFF)
	case a == -1<<31 && b == -1:
		out(rec, uint32(a))
	default:
		out(rec, uint32(a/b))
	}
	return rec.Fallthrough()
}

func (h *handlers) lw(rec *insts.Record) uint64 {
	addr := uint32(in(rec, 0) + uint32(rec.SImm[0]))
	out(rec, h.mem.Read32(uint64(addr)))
	return rec.Fallthrough()
}

func (h *handlers) sw(rec *insts.Record) uint64 {
	// The store may overwrite this very instruction and invalidate rec.
	next := rec.Fallthrough()
	addr := uint32(in(rec, 0) + uint32(rec.SImm[0]))
	h.mem.Write32(uint64(addr), in(rec, 1))
	return next
}

func (h *handlers) beq(rec *insts.Record) uint64 {
	if in(rec, 0) == in(rec, 1) {
		return rec.UImm[1]
	}
	return rec.Fallthrough()
}

func (h *handlers) bne(rec *insts.Record) uint64 {
	if in(rec, 0) != in(rec, 1) {
		return rec.UImm[1]
	}
	return rec.Fallthrough()
}

func (h *handlers) jal(rec *insts.Record) uint64 {
	out(rec, uint32(rec.Fallthrough()))
	return rec.UImm[1]
}

func (h *handlers) jalr(rec *insts.Record) uint64 {
	target := (in(rec, 0) + uint32(rec.SImm[0])) &^ 1
	out(rec, uint32(rec.Fallthrough()))
	return uint64(target)
}

func (h *handlers) ecall(rec *insts.Record) uint64 {
	// A read syscall may overwrite code and invalidate rec.
	next := rec.Fallthrough()
	if res := h.sys.Handle(); res.Exited && h.exit != nil {
		h.exit(res.ExitCode)
	}
	return next
}
