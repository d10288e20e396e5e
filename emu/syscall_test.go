package emu_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/emu"
)

var _ = Describe("Syscall Handler", func() {
	var (
		regFile *emu.RegFile
		memory  *emu.Memory
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.DefaultSyscallHandler
	)

	errno := func(e int) uint64 {
		return uint64(uint32(-int32(e)))
	}

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		memory = emu.NewMemory()
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		handler = emu.NewDefaultSyscallHandler(regFile, memory, stdout, stderr)
	})

	Describe("Unknown syscall", func() {
		It("should return ENOSYS for unknown syscall numbers", func() {
			regFile.WriteReg(emu.RegA7, 999)

			result := handler.Handle()

			Expect(result.Exited).To(BeFalse())
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(errno(emu.ENOSYS)))
		})
	})

	Describe("Exit syscall", func() {
		It("should exit with specified code", func() {
			regFile.WriteReg(emu.RegA7, emu.SyscallExit)
			regFile.WriteReg(emu.RegA0, 42)

			result := handler.Handle()

			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(42)))
		})

		It("should sign-extend the 32-bit status", func() {
			regFile.WriteReg(emu.RegA7, emu.SyscallExit)
			regFile.WriteReg(emu.RegA0, 0xFFFFFFFF)

			Expect(handler.Handle().ExitCode).To(Equal(int64(-1)))
		})
	})

	Describe("Write syscall", func() {
		BeforeEach(func() {
			memory.LoadProgram(0x2000, []byte("hello"))
			regFile.WriteReg(emu.RegA7, emu.SyscallWrite)
			regFile.WriteReg(emu.RegA1, 0x2000)
			regFile.WriteReg(emu.RegA2, 5)
		})

		It("should write buffer to stdout", func() {
			regFile.WriteReg(emu.RegA0, 1)

			result := handler.Handle()

			Expect(result.Exited).To(BeFalse())
			Expect(stdout.String()).To(Equal("hello"))
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint64(5)))
		})

		It("should write buffer to stderr", func() {
			regFile.WriteReg(emu.RegA0, 2)

			handler.Handle()

			Expect(stderr.String()).To(Equal("hello"))
			Expect(stdout.Len()).To(BeZero())
		})

		It("should return EBADF for invalid file descriptor", func() {
			regFile.WriteReg(emu.RegA0, 42)

			handler.Handle()

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(errno(emu.EBADF)))
		})
	})

	Describe("Read syscall", func() {
		BeforeEach(func() {
			regFile.WriteReg(emu.RegA7, emu.SyscallRead)
			regFile.WriteReg(emu.RegA0, 0)
			regFile.WriteReg(emu.RegA1, 0x3000)
			regFile.WriteReg(emu.RegA2, 16)
		})

		It("should read stdin into memory", func() {
			handler.SetStdin(strings.NewReader("abc"))

			handler.Handle()

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint64(3)))
			Expect(memory.Read8(0x3000)).To(Equal(uint8('a')))
			Expect(memory.Read8(0x3002)).To(Equal(uint8('c')))
		})

		It("should read EOF without stdin", func() {
			handler.Handle()

			Expect(regFile.ReadReg(emu.RegA0)).To(BeZero())
		})

		It("should return EBADF for other descriptors", func() {
			regFile.WriteReg(emu.RegA0, 3)

			handler.Handle()

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(errno(emu.EBADF)))
		})
	})
})
