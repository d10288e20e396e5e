// Package isa groups the decode trees and resource declarations a core is
// built from.
//
// A Set holds one or more named ISAs sharing one resource table. Build
// validates the whole set and compiles every tree, so that defects of the
// static data (unknown resources, resources without instances, malformed
// groups) abort the load instead of surfacing mid-run.
package isa

import (
	"errors"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"

	"github.com/sarchlab/issim/insts"
	"github.com/sarchlab/issim/timing/resource"
)

// ErrNoISA is returned when a set declares no ISA.
var ErrNoISA = errors.New("isa set declares no ISA")

// ISA is one named decode tree.
type ISA struct {
	Name string
	Root insts.Node
}

// Set is the static description of a core: its ISAs and its resources.
type Set struct {
	Name      string
	ISAs      []ISA
	Resources []resource.Decl
}

// Tables is a compiled Set.
type Tables struct {
	Set      *Set
	Decoders []*insts.Decoder
	// Resources is the resource table built from the declarations. Each
	// core needs its own, see NewResources.
	Resources *resource.Table
}

// WithInstances returns a copy of s whose named resources declare the given
// number of instances. Unknown names are reported as an error.
func (s *Set) WithInstances(overrides map[string]int) (*Set, error) {
	out := *s
	out.Resources = make([]resource.Decl, len(s.Resources))
	copy(out.Resources, s.Resources)

	for name, n := range overrides {
		found := false
		for i := range out.Resources {
			if out.Resources[i].Name == name {
				out.Resources[i].Instances = n
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("override of undeclared resource %q: %w",
				name, resource.ErrMisconfigured)
		}
	}

	return &out, nil
}

// Validate checks the set without keeping the compiled tables.
func (s *Set) Validate() error {
	_, err := s.Build()
	return err
}

// Build validates the set and compiles its trees.
func (s *Set) Build() (*Tables, error) {
	if len(s.ISAs) == 0 {
		return nil, ErrNoISA
	}

	resources, err := resource.NewTable(s.Resources)
	if err != nil {
		return nil, fmt.Errorf("isa set %q: %w", s.Name, err)
	}

	t := &Tables{Set: s, Resources: resources}
	seen := make(map[string]bool, len(s.ISAs))
	for _, isa := range s.ISAs {
		if isa.Name == "" {
			return nil, fmt.Errorf("isa set %q: unnamed ISA", s.Name)
		}
		if seen[isa.Name] {
			return nil, fmt.Errorf("isa set %q: ISA %q declared twice", s.Name, isa.Name)
		}
		seen[isa.Name] = true

		if isa.Root == nil {
			return nil, fmt.Errorf("isa %q: no decode tree", isa.Name)
		}

		d, err := insts.NewDecoder(isa.Root, resources.IDs())
		if err != nil {
			return nil, fmt.Errorf("isa %q: %w", isa.Name, err)
		}
		t.Decoders = append(t.Decoders, d)
	}

	return t, nil
}

// Index returns the position of the named ISA.
func (t *Tables) Index(name string) (int, bool) {
	for i, isa := range t.Set.ISAs {
		if isa.Name == name {
			return i, true
		}
	}
	return -1, false
}

// NewResources returns a fresh resource table for one more core.
func (t *Tables) NewResources() *resource.Table {
	// Declarations were validated by Build.
	table, err := resource.NewTable(t.Set.Resources)
	if err != nil {
		panic(err)
	}
	return table
}

// Leaves calls visit on every leaf of the tree rooted at n, depth first in
// case order. Leaves reachable through several cases are visited once.
func Leaves(n insts.Node, visit func(*insts.Insn)) {
	seen := make(map[*insts.Insn]bool)

	var walk func(insts.Node)
	walk = func(n insts.Node) {
		switch v := n.(type) {
		case *insts.Group:
			for _, c := range v.Cases {
				walk(c.Node)
			}
		case *insts.Insn:
			if !seen[v] {
				seen[v] = true
				visit(v)
			}
		}
	}
	walk(n)
}

// Find returns the leaf labelled label.
func Find(root insts.Node, label string) *insts.Insn {
	var found *insts.Insn
	Leaves(root, func(insn *insts.Insn) {
		if found == nil && insn.Label == label {
			found = insn
		}
	})
	return found
}

// Labels returns the labels of every active leaf of the tree.
func Labels(root insts.Node) []string {
	var labels []string
	Leaves(root, func(insn *insts.Insn) {
		if !insn.Inactive {
			labels = append(labels, insn.Label)
		}
	})
	return labels
}

// Dump writes a deep dump of v, such as a leaf or a record, to w.
func Dump(w io.Writer, v interface{}) {
	cfg := spew.ConfigState{
		Indent:                  "  ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		DisableMethods:          true,
		SortKeys:                true,
	}
	cfg.Fdump(w, v)
}
