package loader_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/isa/rv32"
	"github.com/sarchlab/issim/loader"
)

// testSegment describes one program header of a generated ELF.
type testSegment struct {
	typ     uint32
	flags   uint32
	addr    uint64
	data    []byte
	memSize uint64
}

// buildELF assembles a little-endian ELF image. class is 1 for 32-bit and
// 2 for 64-bit files.
func buildELF(class byte, machine uint16, entry uint64, segs ...testSegment) []byte {
	ehSize, phSize := 52, 32
	if class == 2 {
		ehSize, phSize = 64, 56
	}

	header := make([]byte, ehSize)
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4] = class
	header[5] = 1 // little endian
	header[6] = 1 // version
	le := binary.LittleEndian
	le.PutUint16(header[16:18], 2) // executable
	le.PutUint16(header[18:20], machine)
	le.PutUint32(header[20:24], 1)

	phoff := uint64(ehSize)
	offset := phoff + uint64(phSize*len(segs))

	var phdrs, payload bytes.Buffer
	for _, s := range segs {
		memSize := s.memSize
		if memSize == 0 {
			memSize = uint64(len(s.data))
		}

		ph := make([]byte, phSize)
		if class == 2 {
			le.PutUint32(ph[0:4], s.typ)
			le.PutUint32(ph[4:8], s.flags)
			le.PutUint64(ph[8:16], offset)
			le.PutUint64(ph[16:24], s.addr)
			le.PutUint64(ph[24:32], s.addr)
			le.PutUint64(ph[32:40], uint64(len(s.data)))
			le.PutUint64(ph[40:48], memSize)
			le.PutUint64(ph[48:56], 0x1000)
		} else {
			le.PutUint32(ph[0:4], s.typ)
			le.PutUint32(ph[4:8], uint32(offset))
			le.PutUint32(ph[8:12], uint32(s.addr))
			le.PutUint32(ph[12:16], uint32(s.addr))
			le.PutUint32(ph[16:20], uint32(len(s.data)))
			le.PutUint32(ph[20:24], uint32(memSize))
			le.PutUint32(ph[24:28], s.flags)
			le.PutUint32(ph[28:32], 0x1000)
		}
		phdrs.Write(ph)
		payload.Write(s.data)
		offset += uint64(len(s.data))
	}

	if class == 2 {
		le.PutUint64(header[24:32], entry)
		le.PutUint64(header[32:40], phoff)
		le.PutUint16(header[52:54], uint16(ehSize))
		le.PutUint16(header[54:56], uint16(phSize))
		le.PutUint16(header[56:58], uint16(len(segs)))
	} else {
		le.PutUint32(header[24:28], uint32(entry))
		le.PutUint32(header[28:32], uint32(phoff))
		le.PutUint16(header[40:42], uint16(ehSize))
		le.PutUint16(header[42:44], uint16(phSize))
		le.PutUint16(header[44:46], uint16(len(segs)))
	}

	out := append(header, phdrs.Bytes()...)
	return append(out, payload.Bytes()...)
}

func code(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

const (
	ptLoad = 1
	ptNote = 4
	pfRX   = 0x5
	pfRW   = 0x6
)

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	write := func(name string, image []byte) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, image, 0o644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("with a valid RV32 ELF binary", func() {
			var (
				elfPath  string
				codeData []byte
			)

			BeforeEach(func() {
				codeData = code(rv32.ADDI(10, 0, 42), rv32.JALR(0, 1, 0))
				elfPath = write("test.elf", buildELF(1, uint16(elf.EM_RISCV), 0x10074,
					testSegment{typ: ptLoad, flags: pfRX, addr: 0x10074, data: codeData}))
			})

			It("should extract the entry point and class", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x10074)))
				Expect(prog.Class).To(Equal(elf.ELFCLASS32))
			})

			It("should load segment contents and permissions", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))

				seg := prog.Segments[0]
				Expect(seg.VirtAddr).To(Equal(uint64(0x10074)))
				Expect(seg.Data).To(Equal(codeData))
				Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should set up initial stack pointer", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
				Expect(prog.InitialSP).To(BeNumerically("<", uint64(1)<<32))
			})
		})

		It("should accept 64-bit RISC-V binaries", func() {
			path := write("rv64.elf", buildELF(2, uint16(elf.EM_RISCV), 0x400000,
				testSegment{typ: ptLoad, flags: pfRX, addr: 0x400000, data: code(rv32.ADDI(1, 0, 1))}))

			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Class).To(Equal(elf.ELFCLASS64))
			Expect(prog.Segments).To(HaveLen(1))
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				_, err := loader.Load(write("not-elf.bin", []byte("not an elf file")))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				_, err := loader.Load(write("empty.elf", nil))
				Expect(err).To(HaveOccurred())
			})

			It("should reject other architectures", func() {
				_, err := loader.Load(write("arm64.elf", buildELF(2, uint16(elf.EM_AARCH64), 0)))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not a RISC-V"))
			})
		})
	})

	Describe("Parse", func() {
		It("should read from memory", func() {
			image := buildELF(1, uint16(elf.EM_RISCV), 0x1000,
				testSegment{typ: ptLoad, flags: pfRX, addr: 0x1000, data: code(rv32.ADDI(1, 0, 1))})

			prog, err := loader.Parse(bytes.NewReader(image))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint64(0x1000)))
		})
	})

	Describe("Segments", func() {
		It("should load code and data segments", func() {
			codeData := code(rv32.ADDI(1, 0, 1))
			dataData := []byte{0x01, 0x02, 0x03, 0x04}
			prog, err := loader.Parse(bytes.NewReader(buildELF(1, uint16(elf.EM_RISCV), 0x1000,
				testSegment{typ: ptLoad, flags: pfRX, addr: 0x1000, data: codeData},
				testSegment{typ: ptLoad, flags: pfRW, addr: 0x3000, data: dataData},
			)))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))

			Expect(prog.Segments[0].Data).To(Equal(codeData))
			Expect(prog.Segments[1].Data).To(Equal(dataData))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())

			Expect(prog.Executable(0x1000)).To(BeTrue())
			Expect(prog.Executable(0x3000)).To(BeFalse())
		})

		It("should handle BSS segments where Memsz > Filesz", func() {
			prog, err := loader.Parse(bytes.NewReader(buildELF(1, uint16(elf.EM_RISCV), 0x1000,
				testSegment{typ: ptLoad, flags: pfRW, addr: 0x3000, data: []byte{1, 2, 3, 4}, memSize: 1024},
			)))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(HaveLen(4))
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(1024)))
		})

		It("should skip segments that are not PT_LOAD", func() {
			prog, err := loader.Parse(bytes.NewReader(buildELF(1, uint16(elf.EM_RISCV), 0x1000,
				testSegment{typ: ptNote, flags: 0x4},
			)))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
		})
	})

	Describe("LoadInto", func() {
		It("should copy segments and zero-fill BSS", func() {
			prog, err := loader.Parse(bytes.NewReader(buildELF(1, uint16(elf.EM_RISCV), 0x1000,
				testSegment{typ: ptLoad, flags: pfRX, addr: 0x1000, data: code(rv32.ADDI(1, 0, 1))},
				testSegment{typ: ptLoad, flags: pfRW, addr: 0x3000, data: []byte{0xAA}, memSize: 0x2000},
			)))
			Expect(err).NotTo(HaveOccurred())

			mem := emu.NewMemory()
			prog.LoadInto(mem)

			Expect(mem.Read32(0x1000)).To(Equal(rv32.ADDI(1, 0, 1)))
			Expect(mem.Read8(0x3000)).To(Equal(uint8(0xAA)))
			Expect(mem.Mapped(0x4fff)).To(BeTrue())
			Expect(mem.Mapped(prog.InitialSP - 8)).To(BeTrue())

			opcode, err := mem.FetchOpcode(prog.EntryPoint)
			Expect(err).NotTo(HaveOccurred())
			Expect(opcode).To(Equal(uint64(rv32.ADDI(1, 0, 1))))
		})
	})
})
