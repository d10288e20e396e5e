package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/insts"
)

var _ = Describe("Record", func() {
	var (
		decoder *insts.Decoder
		regs    *regFile
		rec     *insts.Record
	)

	decode := func(opcode uint64) *insts.Decoded {
		d, err := decoder.Decode(opcode)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	BeforeEach(func() {
		var err error
		decoder, err = insts.NewDecoder(testTree(), testResources())
		Expect(err).NotTo(HaveOccurred())
		regs = &regFile{}
		rec = &insts.Record{}
		rec.Reset(0x1000)
	})

	It("should start unresolved without a resource", func() {
		Expect(rec.Resolved()).To(BeFalse())
		Expect(rec.HasResource()).To(BeFalse())
		Expect(rec.Label()).To(Equal("?"))
	})

	It("should copy the decode result and resolve registers", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())

		Expect(rec.Resolved()).To(BeTrue())
		Expect(rec.Addr).To(Equal(uint64(0x1000)))
		Expect(rec.Opcode).To(Equal(uint64(0x3211)))
		Expect(rec.Size).To(Equal(4))
		Expect(rec.Latency).To(Equal(1))
		Expect(rec.Out[0].Ref).To(BeIdenticalTo(&regs.x[1]))
		Expect(rec.In[0].Ref).To(BeIdenticalTo(&regs.x[2]))
		Expect(rec.In[1].Ref).To(BeIdenticalTo(&regs.x[3]))
	})

	It("should execute through the resolved references", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
		regs.x[2] = 40
		regs.x[3] = 2

		next := rec.Handler(insts.RoleBaseline)(rec)

		Expect(next).To(Equal(uint64(0x1004)))
		Expect(regs.x[1]).To(Equal(uint64(42)))
	})

	It("should route register zero to the resolver's zero and sink slots", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_0001), regs)).To(Succeed())
		regs.zero = 0

		rec.Handler(insts.RoleBaseline)(rec)

		Expect(rec.In[0].Ref).To(BeIdenticalTo(&regs.zero))
		Expect(rec.Out[0].Ref).To(BeIdenticalTo(&regs.sink))
	})

	It("should be written once", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
		err := rec.Resolve(0x1000, decode(splitImm(1)|0x12), regs)
		Expect(err).To(MatchError(insts.ErrAlreadyResolved))
		Expect(rec.Label()).To(Equal("add"))
	})

	It("should accept a new decode after invalidation", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
		rec.Branch = insts.Handle(7)

		rec.Invalidate()
		Expect(rec.Resolved()).To(BeFalse())
		Expect(rec.Branch).To(Equal(insts.NoHandle))
		Expect(rec.Addr).To(Equal(uint64(0x1000)))

		Expect(rec.Resolve(0x1000, decode(splitImm(1)|0x12), regs)).To(Succeed())
		Expect(rec.Label()).To(Equal("li"))
	})

	Describe("Handler roles", func() {
		It("should default the fast handler to the baseline", func() {
			Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
			regs.x[2] = 1
			regs.x[3] = 1

			Expect(rec.Handler(insts.RoleFast)(rec)).To(Equal(uint64(0x1004)))
			Expect(regs.x[1]).To(Equal(uint64(2)))
		})

		It("should hold the instruction in the stall role", func() {
			Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
			Expect(rec.Handler(insts.RoleStall)(rec)).To(Equal(uint64(0x1000)))
		})

		It("should leave hardware-loop and resource roles empty", func() {
			Expect(rec.Resolve(0x1000, decode(0x0000_3215), regs)).To(Succeed())
			Expect(rec.Handler(insts.RoleHWLoop)).To(BeNil())
			Expect(rec.Handler(insts.RoleResource)).To(BeNil())
		})

		It("should install a handler for a role", func() {
			Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
			rec.SetHandler(insts.RoleHWLoop, func(r *insts.Record) uint64 { return 0x2000 })
			Expect(rec.Handler(insts.RoleHWLoop)(rec)).To(Equal(uint64(0x2000)))
		})
	})

	It("should copy resource annotations", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3215), regs)).To(Succeed())
		Expect(rec.HasResource()).To(BeTrue())
		Expect(rec.ResourceID).To(Equal(1))
		Expect(rec.ResourceLatency).To(Equal(3))
		Expect(rec.ResourceBandwidth).To(Equal(2))
	})

	It("should run the decode hook once", func() {
		calls := 0
		leaf := &insts.Insn{
			Label:   "hook",
			Size:    4,
			Handler: immHandler,
			Decode: func(r *insts.Record) {
				calls++
				r.Latency = 9
			},
		}
		dec, err := insts.NewDecoder(leaf, nil)
		Expect(err).NotTo(HaveOccurred())
		d, err := dec.Decode(0)
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Resolve(0x1000, d, nil)).To(Succeed())
		Expect(calls).To(Equal(1))
		Expect(rec.Latency).To(Equal(9))
	})

	It("should render a trace line", func() {
		Expect(rec.Resolve(0x1000, decode(0x0000_3211), regs)).To(Succeed())
		Expect(rec.String()).To(Equal("0x1000: add x1, x2, x3"))

		other := &insts.Record{}
		other.Reset(0x1004)
		Expect(other.Resolve(0x1004, decode(splitImm(0xFFF)|0x52), regs)).To(Succeed())
		Expect(other.String()).To(Equal("0x1004: li x5, imm=-1"))
	})
})
