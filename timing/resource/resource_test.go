package resource_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/issim/insts"
	"github.com/sarchlab/issim/timing/resource"
)

var _ = Describe("Resource Table", func() {
	Describe("Declaration", func() {
		It("should assign ids in declaration order", func() {
			table, err := resource.NewTable([]resource.Decl{
				{Name: "mul", Instances: 1},
				{Name: "lsu", Instances: 2},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(table.Len()).To(Equal(2))

			id, ok := table.ID("lsu")
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(1))
			Expect(table.Get(id).Instances()).To(Equal(2))
			Expect(table.IDs()).To(Equal(map[string]int{"mul": 0, "lsu": 1}))
		})

		It("should reject a resource with zero instances", func() {
			_, err := resource.NewTable([]resource.Decl{{Name: "mul", Instances: 0}})
			Expect(errors.Is(err, resource.ErrMisconfigured)).To(BeTrue())
		})

		It("should reject duplicate names", func() {
			_, err := resource.NewTable([]resource.Decl{
				{Name: "mul", Instances: 1},
				{Name: "mul", Instances: 1},
			})
			Expect(errors.Is(err, resource.ErrMisconfigured)).To(BeTrue())
		})

		It("should panic when reserving an undeclared resource", func() {
			table, err := resource.NewTable(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(func() { table.Reserve(0, 1, 1, 0) }).To(Panic())
		})
	})

	Describe("Serialization on a single instance", func() {
		var table *resource.Table

		BeforeEach(func() {
			var err error
			table, err = resource.NewTable([]resource.Decl{{Name: "mul", Instances: 1}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should stall the second of two close accesses", func() {
			first := table.Reserve(0, 3, 2, 0)
			Expect(first.Stall).To(Equal(int64(0)))
			Expect(first.Ready).To(Equal(int64(3)))
			Expect(table.Get(0).NextFree(0)).To(Equal(int64(2)))

			second := table.Reserve(0, 3, 2, 1)
			Expect(second.Stall).To(Equal(int64(1)))
			Expect(second.Ready).To(Equal(int64(5)))
			Expect(table.Get(0).NextFree(0)).To(Equal(int64(4)))
		})

		It("should not stall accesses spaced by the bandwidth", func() {
			Expect(table.Reserve(0, 3, 2, 0).Stall).To(Equal(int64(0)))
			Expect(table.Reserve(0, 3, 2, 2).Stall).To(Equal(int64(0)))
			Expect(table.Reserve(0, 3, 2, 10).Stall).To(Equal(int64(0)))
		})

		It("should accumulate statistics", func() {
			table.Reserve(0, 3, 2, 0)
			table.Reserve(0, 3, 2, 0)
			table.Reserve(0, 3, 2, 0)

			stats := table.Stats()["mul"]
			Expect(stats.Accesses).To(Equal(uint64(3)))
			Expect(stats.Stalled).To(Equal(uint64(2)))
			Expect(stats.StallCycles).To(Equal(uint64(2 + 4)))
		})

		It("should make the instance available again after reset", func() {
			table.Reserve(0, 3, 5, 0)
			table.Reset()

			Expect(table.Reserve(0, 3, 5, 0).Stall).To(Equal(int64(0)))
			Expect(table.Stats()["mul"].Accesses).To(Equal(uint64(1)))
		})
	})

	Describe("Several instances", func() {
		var table *resource.Table

		BeforeEach(func() {
			var err error
			table, err = resource.NewTable([]resource.Decl{{Name: "lsu", Instances: 2}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should serve concurrent accesses on distinct instances", func() {
			a := table.Reserve(0, 4, 4, 0)
			b := table.Reserve(0, 4, 4, 0)

			Expect(a.Instance).To(Equal(0))
			Expect(b.Instance).To(Equal(1))
			Expect(a.Stall).To(Equal(int64(0)))
			Expect(b.Stall).To(Equal(int64(0)))
		})

		It("should prefer the lowest free instance", func() {
			table.Reserve(0, 1, 1, 0)
			res := table.Reserve(0, 1, 1, 5)
			Expect(res.Instance).To(Equal(0))
		})

		It("should wait for the instance that frees soonest", func() {
			table.Reserve(0, 1, 6, 0) // instance 0 busy until 6
			table.Reserve(0, 1, 3, 0) // instance 1 busy until 3

			res := table.Reserve(0, 1, 1, 1)
			Expect(res.Instance).To(Equal(1))
			Expect(res.Stall).To(Equal(int64(2)))
			Expect(res.Ready).To(Equal(int64(4)))
		})

		It("should break ties between busy instances by index", func() {
			table.Reserve(0, 1, 4, 0)
			table.Reserve(0, 1, 4, 0)

			res := table.Reserve(0, 1, 1, 1)
			Expect(res.Instance).To(Equal(0))
			Expect(res.Stall).To(Equal(int64(3)))
		})
	})

	It("should record the completion cycle on the instruction record", func() {
		table, err := resource.NewTable([]resource.Decl{{Name: "mul", Instances: 1}})
		Expect(err).NotTo(HaveOccurred())

		rec := &insts.Record{ResourceID: 0, ResourceLatency: 3, ResourceBandwidth: 2}
		res := table.ReserveRecord(rec, 10)

		Expect(res.Ready).To(Equal(int64(13)))
		Expect(rec.Ready).To(Equal(int64(13)))
	})
})
