package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds the timing parameters of the core.
type TimingConfig struct {
	// DefaultLatency is the execution latency of instructions whose decode
	// leaf declares none. Default: 1 cycle.
	DefaultLatency uint64 `json:"default_latency"`

	// BranchTakenPenalty is the number of cycles added when an instruction
	// transfers control anywhere but its fallthrough address.
	// Default: 2 cycles (fetch redirect of a short in-order pipeline).
	BranchTakenPenalty uint64 `json:"branch_taken_penalty"`

	// LatencyOverrides replaces the latency of instructions by label.
	LatencyOverrides map[string]uint64 `json:"latency_overrides,omitempty"`

	// ResourceInstances overrides the number of instances of the named
	// resources declared by the ISA.
	ResourceInstances map[string]int `json:"resource_instances,omitempty"`

	// FrequencyMHz is the core clock used to convert simulated time into
	// cycles. Default: 100 MHz.
	FrequencyMHz uint64 `json:"frequency_mhz"`

	// L1IEnabled turns on the instruction cache timing model.
	L1IEnabled bool `json:"l1i_enabled"`

	// L1ISize is the L1 instruction cache capacity in bytes. Default: 16 KB.
	L1ISize uint64 `json:"l1i_size"`

	// L1IAssociativity is the number of ways. Default: 4.
	L1IAssociativity int `json:"l1i_associativity"`

	// L1IBlockSize is the cache line size in bytes. Default: 32.
	L1IBlockSize uint64 `json:"l1i_block_size"`

	// L1IHitLatency is the fetch latency on a hit. Default: 0 cycles, the
	// fetch overlaps execution.
	L1IHitLatency uint64 `json:"l1i_hit_latency"`

	// L1IMissLatency is the fetch latency on a miss. Default: 10 cycles.
	L1IMissLatency uint64 `json:"l1i_miss_latency"`
}

// DefaultTimingConfig returns a TimingConfig for a small in-order core.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		DefaultLatency:     1,
		BranchTakenPenalty: 2,
		FrequencyMHz:       100,
		L1IEnabled:         false,
		L1ISize:            16 * 1024,
		L1IAssociativity:   4,
		L1IBlockSize:       32,
		L1IHitLatency:      0,
		L1IMissLatency:     10,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// Validate checks that the configuration describes a buildable core.
func (c *TimingConfig) Validate() error {
	if c.DefaultLatency == 0 {
		return fmt.Errorf("default_latency must be > 0")
	}
	if c.FrequencyMHz == 0 {
		return fmt.Errorf("frequency_mhz must be > 0")
	}
	for name, n := range c.ResourceInstances {
		if n <= 0 {
			return fmt.Errorf("resource_instances[%q] must be > 0", name)
		}
	}

	if !c.L1IEnabled {
		return nil
	}
	if !isPowerOfTwo(c.L1IBlockSize) {
		return fmt.Errorf("l1i_block_size must be a power of two")
	}
	if c.L1IAssociativity <= 0 {
		return fmt.Errorf("l1i_associativity must be > 0")
	}
	lineBytes := c.L1IBlockSize * uint64(c.L1IAssociativity)
	if c.L1ISize < lineBytes || c.L1ISize%lineBytes != 0 {
		return fmt.Errorf("l1i_size must be a multiple of l1i_block_size * l1i_associativity")
	}
	if c.L1IMissLatency < c.L1IHitLatency {
		return fmt.Errorf("l1i_miss_latency must be >= l1i_hit_latency")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c

	if c.LatencyOverrides != nil {
		clone.LatencyOverrides = make(map[string]uint64, len(c.LatencyOverrides))
		for k, v := range c.LatencyOverrides {
			clone.LatencyOverrides[k] = v
		}
	}
	if c.ResourceInstances != nil {
		clone.ResourceInstances = make(map[string]int, len(c.ResourceInstances))
		for k, v := range c.ResourceInstances {
			clone.ResourceInstances[k] = v
		}
	}

	return &clone
}
