package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/emu"
)

var _ = Describe("Memory", func() {
	var memory *emu.Memory

	BeforeEach(func() {
		memory = emu.NewMemory()
	})

	It("should read zero from untouched memory", func() {
		Expect(memory.Read32(0x1000)).To(Equal(uint32(0)))
		Expect(memory.Mapped(0x1000)).To(BeFalse())
	})

	It("should store little-endian values", func() {
		memory.Write32(0x1000, 0x11223344)
		Expect(memory.Read8(0x1000)).To(Equal(uint8(0x44)))
		Expect(memory.Read8(0x1003)).To(Equal(uint8(0x11)))
		Expect(memory.Read16(0x1002)).To(Equal(uint16(0x1122)))
		Expect(memory.Read32(0x1000)).To(Equal(uint32(0x11223344)))
	})

	It("should handle values crossing a page boundary", func() {
		memory.Write64(0x1FFC, 0x0102030405060708)
		Expect(memory.Read64(0x1FFC)).To(Equal(uint64(0x0102030405060708)))
		Expect(memory.Mapped(0x2000)).To(BeTrue())
	})

	It("should load a program image", func() {
		memory.LoadProgram(0x100, []byte{0x93, 0x00, 0x50, 0x00})
		Expect(memory.Read32(0x100)).To(Equal(uint32(0x00500093)))
	})

	Describe("FetchOpcode", func() {
		It("should fetch four bytes from mapped memory", func() {
			memory.Write32(0x1000, 0x00500093)
			opcode, err := memory.FetchOpcode(0x1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(opcode).To(Equal(uint64(0x00500093)))
		})

		It("should fail on unmapped memory", func() {
			_, err := memory.FetchOpcode(0x8000_0000)
			Expect(errors.Is(err, emu.ErrUnmapped)).To(BeTrue())
		})
	})

	Describe("Write hook", func() {
		It("should report every written range", func() {
			type write struct {
				addr uint64
				size int
			}
			var writes []write
			memory.SetWriteHook(func(addr uint64, size int) {
				writes = append(writes, write{addr, size})
			})

			memory.Write8(0x10, 1)
			memory.Write32(0x20, 2)
			memory.LoadProgram(0x30, make([]byte, 6))

			Expect(writes).To(Equal([]write{{0x10, 1}, {0x20, 4}, {0x30, 6}}))
		})

		It("should stop reporting once removed", func() {
			calls := 0
			memory.SetWriteHook(func(uint64, int) { calls++ })
			memory.Write8(0x10, 1)
			memory.SetWriteHook(nil)
			memory.Write8(0x10, 2)
			Expect(calls).To(Equal(1))
		})
	})
})
