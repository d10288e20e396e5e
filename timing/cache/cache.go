// Package cache models the timing of the L1 instruction cache using Akita
// cache components.
//
// Only tags are kept: instruction bytes always come from the simulated
// memory, the model decides how many cycles each fetch costs.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes memory access time)
	MissLatency uint64
}

// DefaultL1IConfig returns the default configuration of the L1 instruction
// cache of a small embedded core: 16KB, 4-way, 32B lines.
func DefaultL1IConfig() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     32,
		HitLatency:    0,
		MissLatency:   10,
	}
}

// AccessResult contains the result of a fetch.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Evicted is true if a valid line was replaced.
	Evicted bool
	// EvictedAddr is the address of the evicted line (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Accesses      uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// ICache is a tag-only instruction cache.
type ICache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	stats Statistics
}

// New creates a new instruction cache with the given configuration.
func New(config Config) *ICache {
	numSets := config.Size / (config.Associativity * config.BlockSize)

	return &ICache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *ICache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *ICache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *ICache) ResetStats() {
	c.stats = Statistics{}
}

func (c *ICache) lineAddr(addr uint64) uint64 {
	return addr / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

// Access charges the fetch of the instruction at addr.
func (c *ICache) Access(addr uint64) AccessResult {
	c.stats.Accesses++

	lineAddr := c.lineAddr(addr)
	block := c.directory.Lookup(0, lineAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	result := AccessResult{Latency: c.config.MissLatency}

	victim := c.directory.FindVictim(lineAddr)
	if victim == nil {
		return result
	}

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
	}

	victim.Tag = lineAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)

	return result
}

// Contains reports whether the line holding addr is cached.
func (c *ICache) Contains(addr uint64) bool {
	block := c.directory.Lookup(0, c.lineAddr(addr))
	return block != nil && block.IsValid
}

// Invalidate drops the line holding addr.
func (c *ICache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.lineAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		c.stats.Invalidations++
	}
}

// InvalidateRange drops every line overlapping the size bytes at addr.
func (c *ICache) InvalidateRange(addr uint64, size int) {
	if size <= 0 {
		return
	}
	last := addr + uint64(size) - 1
	for line := c.lineAddr(addr); line <= last; line += uint64(c.config.BlockSize) {
		c.Invalidate(line)
	}
}

// Reset invalidates all cache lines and clears statistics.
func (c *ICache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
