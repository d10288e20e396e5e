// Package resource models shared execution units with a bounded number of
// instances, such as a multiplier shared by several instruction variants.
//
// Each instance remembers the cycle at which it accepts its next access.
// Contention is resolved by comparing that cycle with the time of the
// access, without any queue.
package resource

import (
	"errors"
	"fmt"

	"github.com/sarchlab/issim/insts"
)

// ErrMisconfigured reports a resource declaration that cannot serve any
// access.
var ErrMisconfigured = errors.New("misconfigured resource")

// Decl declares a resource of an ISA.
type Decl struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
}

// Reservation is the outcome of one access to a resource.
type Reservation struct {
	// Instance is the index of the instance serving the access.
	Instance int
	// Stall is the number of cycles the access waited for the instance.
	Stall int64
	// Ready is the cycle at which the result is available.
	Ready int64
}

// Statistics holds contention statistics of one resource.
type Statistics struct {
	Accesses    uint64
	Stalled     uint64 // accesses that waited
	StallCycles uint64
}

// Resource is a named shared unit.
type Resource struct {
	name string
	// nextFree holds, per instance, the cycle of its next possible access.
	nextFree []int64
	stats    Statistics
}

// Name returns the resource name.
func (r *Resource) Name() string {
	return r.name
}

// Instances returns the number of instances.
func (r *Resource) Instances() int {
	return len(r.nextFree)
}

// NextFree returns the cycle at which instance i accepts its next access.
func (r *Resource) NextFree(i int) int64 {
	return r.nextFree[i]
}

// Stats returns the contention statistics of the resource.
func (r *Resource) Stats() Statistics {
	return r.stats
}

// pick returns the first instance free at now, or else the one that frees
// soonest. Ties go to the lowest index.
func (r *Resource) pick(now int64) int {
	best := 0
	for i, free := range r.nextFree {
		if free <= now {
			return i
		}
		if free < r.nextFree[best] {
			best = i
		}
	}
	return best
}

func (r *Resource) reserve(latency, bandwidth, now int64) Reservation {
	i := r.pick(now)

	stall := r.nextFree[i] - now
	if stall < 0 {
		stall = 0
	}
	start := now + stall
	r.nextFree[i] = start + bandwidth

	r.stats.Accesses++
	if stall > 0 {
		r.stats.Stalled++
		r.stats.StallCycles += uint64(stall)
	}

	return Reservation{Instance: i, Stall: stall, Ready: start + latency}
}

// Table holds the resources of an ISA, indexed by id.
type Table struct {
	resources []*Resource
	ids       map[string]int
}

// NewTable creates the resources in declaration order; the id of a
// resource is its position in decls.
func NewTable(decls []Decl) (*Table, error) {
	t := &Table{ids: make(map[string]int, len(decls))}

	for i, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("resource %d has no name: %w", i, ErrMisconfigured)
		}
		if d.Instances <= 0 {
			return nil, fmt.Errorf("resource %q declares %d instances: %w",
				d.Name, d.Instances, ErrMisconfigured)
		}
		if _, dup := t.ids[d.Name]; dup {
			return nil, fmt.Errorf("resource %q declared twice: %w", d.Name, ErrMisconfigured)
		}

		t.ids[d.Name] = i
		t.resources = append(t.resources, &Resource{
			name:     d.Name,
			nextFree: make([]int64, d.Instances),
		})
	}

	return t, nil
}

// Len returns the number of resources.
func (t *Table) Len() int {
	return len(t.resources)
}

// IDs returns the name to id mapping used to compile decode trees.
func (t *Table) IDs() map[string]int {
	ids := make(map[string]int, len(t.ids))
	for name, id := range t.ids {
		ids[name] = id
	}
	return ids
}

// ID returns the id of the named resource.
func (t *Table) ID(name string) (int, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// Get returns the resource with the given id.
func (t *Table) Get(id int) *Resource {
	return t.resources[id]
}

// Reserve accounts one access at cycle now to resource id. latency is the
// time until the result is available, bandwidth the time until the chosen
// instance accepts another access.
//
// Reserve panics on an id the table does not declare: such a reference is a
// defect of the static ISA data that validation must reject at load time.
func (t *Table) Reserve(id int, latency, bandwidth, now int64) Reservation {
	if id < 0 || id >= len(t.resources) {
		panic(fmt.Sprintf("resource id %d not declared: %v", id, ErrMisconfigured))
	}
	return t.resources[id].reserve(latency, bandwidth, now)
}

// ReserveRecord accounts the resource access of rec at cycle now and records
// the completion cycle in rec.Ready.
func (t *Table) ReserveRecord(rec *insts.Record, now int64) Reservation {
	res := t.Reserve(rec.ResourceID,
		int64(rec.ResourceLatency), int64(rec.ResourceBandwidth), now)
	rec.Ready = res.Ready
	return res
}

// Reset makes every instance available at cycle 0 and clears statistics.
func (t *Table) Reset() {
	for _, r := range t.resources {
		for i := range r.nextFree {
			r.nextFree[i] = 0
		}
		r.stats = Statistics{}
	}
}

// Stats returns the statistics of every resource keyed by name.
func (t *Table) Stats() map[string]Statistics {
	stats := make(map[string]Statistics, len(t.resources))
	for _, r := range t.resources {
		stats[r.name] = r.stats
	}
	return stats
}
