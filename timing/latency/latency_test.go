package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/insts"
	"github.com/sarchlab/issim/isa/rv32"
	"github.com/sarchlab/issim/timing/latency"
)

var _ = Describe("Latency", func() {
	var (
		table   *latency.Table
		decoder *insts.Decoder
		regFile *emu.RegFile
	)

	decode := func(opcode uint32) *insts.Record {
		d, err := decoder.Decode(uint64(opcode))
		Expect(err).NotTo(HaveOccurred())
		rec := &insts.Record{}
		Expect(rec.Resolve(0x1000, d, regFile)).To(Succeed())
		return rec
	}

	BeforeEach(func() {
		table = latency.NewTable()
		regFile = &emu.RegFile{}

		tables, err := rv32.NewSet(emu.NewMemory()).Build()
		Expect(err).NotTo(HaveOccurred())
		decoder = tables.Decoders[0]
	})

	Describe("Default Timing Values", func() {
		It("should have correct default latency", func() {
			Expect(table.Config().DefaultLatency).To(Equal(uint64(1)))
		})

		It("should have correct branch taken penalty", func() {
			Expect(table.Config().BranchTakenPenalty).To(Equal(uint64(2)))
		})

		It("should leave the L1I model disabled", func() {
			Expect(table.Config().L1IEnabled).To(BeFalse())
		})
	})

	Describe("Instruction Latencies", func() {
		It("should return the leaf latency for ADD", func() {
			Expect(table.GetLatency(decode(rv32.ADD(1, 2, 3)))).To(Equal(uint64(1)))
		})

		It("should return the leaf latency for LW", func() {
			Expect(table.GetLatency(decode(rv32.LW(1, 2, 0)))).To(Equal(uint64(2)))
		})

		It("should not include resource latency", func() {
			Expect(table.GetLatency(decode(rv32.MUL(1, 2, 3)))).To(Equal(uint64(1)))
		})
	})

	Describe("Cycles", func() {
		It("should add the penalty to taken transfers only", func() {
			beq := decode(rv32.BEQ(1, 2, 8))
			Expect(table.Cycles(beq, false)).To(Equal(uint64(1)))
			Expect(table.Cycles(beq, true)).To(Equal(uint64(3)))
		})
	})

	Describe("Unresolved Record Handling", func() {
		It("should return the default latency", func() {
			Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
			Expect(table.GetLatency(&insts.Record{})).To(Equal(uint64(1)))
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := latency.DefaultTimingConfig()
			config.DefaultLatency = 2
			config.BranchTakenPenalty = 5
			config.LatencyOverrides = map[string]uint64{"lw": 4}
			customTable := latency.NewTableWithConfig(config)

			Expect(customTable.GetLatency(decode(rv32.LW(1, 2, 0)))).To(Equal(uint64(4)))
			Expect(customTable.GetLatency(decode(rv32.ADD(1, 2, 3)))).To(Equal(uint64(1)))
			Expect(customTable.Cycles(decode(rv32.JAL(0, 8)), true)).To(Equal(uint64(6)))
			Expect(customTable.GetLatency(&insts.Record{})).To(Equal(uint64(2)))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})

		It("should validate the default L1I geometry", func() {
			config := latency.DefaultTimingConfig()
			config.L1IEnabled = true
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero default latency", func() {
			config := latency.DefaultTimingConfig()
			config.DefaultLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero frequency", func() {
			config := latency.DefaultTimingConfig()
			config.FrequencyMHz = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject resources without instances", func() {
			config := latency.DefaultTimingConfig()
			config.ResourceInstances = map[string]int{"mul": 0}
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a block size that is not a power of two", func() {
			config := latency.DefaultTimingConfig()
			config.L1IEnabled = true
			config.L1IBlockSize = 48
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a size that does not fill whole sets", func() {
			config := latency.DefaultTimingConfig()
			config.L1IEnabled = true
			config.L1ISize = 1000
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a miss latency below the hit latency", func() {
			config := latency.DefaultTimingConfig()
			config.L1IEnabled = true
			config.L1IHitLatency = 5
			config.L1IMissLatency = 2
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			original.ResourceInstances = map[string]int{"mul": 2}
			clone := original.Clone()

			clone.DefaultLatency = 100
			clone.ResourceInstances["mul"] = 4

			Expect(original.DefaultLatency).To(Equal(uint64(1)))
			Expect(original.ResourceInstances["mul"]).To(Equal(2))
			Expect(clone.DefaultLatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.BranchTakenPenalty = 5
			original.ResourceInstances = map[string]int{"div": 2}

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.BranchTakenPenalty).To(Equal(uint64(5)))
			Expect(loaded.ResourceInstances).To(HaveKeyWithValue("div", 2))
		})

		It("should keep defaults for fields missing from the file", func() {
			path := filepath.Join(tempDir, "partial.json")
			Expect(os.WriteFile(path, []byte(`{"l1i_enabled": true}`), 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.L1IEnabled).To(BeTrue())
			Expect(loaded.L1ISize).To(Equal(uint64(16 * 1024)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
