// Package latency provides the per-instruction cycle costs of the core.
//
// The base latency of an instruction comes from its decode leaf and can be
// overridden per label through TimingConfig. Taken control transfers pay an
// extra redirect penalty.
package latency

import (
	"github.com/sarchlab/issim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles of rec, excluding
// resource contention and branch penalties.
func (t *Table) GetLatency(rec *insts.Record) uint64 {
	if rec == nil || !rec.Resolved() {
		return t.config.DefaultLatency
	}

	if lat, ok := t.config.LatencyOverrides[rec.Label()]; ok {
		return lat
	}
	if rec.Latency > 0 {
		return uint64(rec.Latency)
	}
	return t.config.DefaultLatency
}

// Cycles returns the number of cycles rec occupies the core. taken tells
// whether its execution redirected the control flow.
func (t *Table) Cycles(rec *insts.Record, taken bool) uint64 {
	cycles := t.GetLatency(rec)
	if taken {
		cycles += t.config.BranchTakenPenalty
	}
	return cycles
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
