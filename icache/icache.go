// Package icache stores decoded instruction records indexed by address.
//
// The cache is a direct-mapped table of NumBuckets buckets. Each bucket
// heads a chain of blocks; a block covers BlockSize consecutive instruction
// slots starting at an aligned base address. Blocks are allocated on the
// first lookup of their range and records are decoded on their first fetch.
// Nothing is ever evicted: entries live until they are invalidated or the
// cache is flushed.
package icache

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/issim/insts"
)

// Geometry of the cache.
const (
	// PCBits is the number of low address bits below the instruction granule.
	PCBits = 1
	// BlockSizeLog2 is the log2 of the number of records per block.
	BlockSizeLog2 = 8
	// BlockSize is the number of records per block.
	BlockSize = 1 << BlockSizeLog2
	// BlockIDBits is the number of address bits selecting a bucket.
	BlockIDBits = 12
	// NumBuckets is the number of buckets.
	NumBuckets = 1 << BlockIDBits

	// BlockSpan is the number of bytes of address space covered by a block.
	BlockSpan = BlockSize << PCBits

	// MaxInsnSize is the largest instruction size in bytes.
	MaxInsnSize = 4

	granule = 1 << PCBits
)

// ErrMisaligned is returned for addresses that are not on an instruction
// granule boundary.
var ErrMisaligned = errors.New("misaligned instruction address")

// Fetcher reads the raw opcode at an address of the simulated memory.
type Fetcher interface {
	FetchOpcode(addr uint64) (uint64, error)
}

// Decoder turns an opcode into a decode result. *insts.Decoder implements it.
type Decoder interface {
	Decode(opcode uint64) (*insts.Decoded, error)
}

// Block holds the records of one aligned address range.
type Block struct {
	base    uint64
	next    int32 // arena index + 1 of the next block of the chain, 0 ends it
	isInit  bool
	records [BlockSize]insts.Record
}

// Base returns the first address covered by the block.
func (b *Block) Base() uint64 {
	return b.base
}

// Statistics holds cache statistics.
type Statistics struct {
	Lookups       uint64
	Hits          uint64
	Decodes       uint64
	DecodeErrors  uint64
	Blocks        uint64
	ChainSteps    uint64 // blocks skipped while walking bucket chains
	Invalidations uint64
	Flushes       uint64
}

// Cache is the decoded instruction cache.
type Cache struct {
	decoder  Decoder
	fetcher  Fetcher
	regs     insts.RegisterResolver
	onDecode func(rec *insts.Record)
	logger   logrus.FieldLogger

	// buckets hold arena index + 1 of the chain head, 0 when empty.
	buckets [NumBuckets]int32
	blocks  []*Block

	stats Statistics
}

// Option configures a Cache.
type Option func(*Cache)

// WithRegisters sets the register file that register operands resolve into.
func WithRegisters(regs insts.RegisterResolver) Option {
	return func(c *Cache) {
		c.regs = regs
	}
}

// WithDecodeHook sets a function run on every newly decoded record.
func WithDecodeHook(hook func(rec *insts.Record)) Option {
	return func(c *Cache) {
		c.onDecode = hook
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache decoding with decoder the opcodes read from
// fetcher.
func New(decoder Decoder, fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		decoder: decoder,
		fetcher: fetcher,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}

	return c
}

// BucketIndex returns the bucket an address maps to.
func BucketIndex(addr uint64) int {
	return int((addr >> (PCBits + BlockSizeLog2)) & (NumBuckets - 1))
}

// BlockBase returns the base address of the block covering addr.
func BlockBase(addr uint64) uint64 {
	return addr &^ (BlockSpan - 1)
}

// SlotIndex returns the slot of addr inside its block.
func SlotIndex(addr uint64) int {
	return int((addr >> PCBits) & (BlockSize - 1))
}

func makeHandle(blockIdx int, slot int) insts.Handle {
	return insts.Handle(uint32(blockIdx+1)<<BlockSizeLog2 | uint32(slot))
}

// findBlock walks the chain of addr's bucket. With alloc set, a missing
// block is created and linked at the head of the chain.
func (c *Cache) findBlock(addr uint64, alloc bool) (*Block, int) {
	base := BlockBase(addr)
	bucket := &c.buckets[BucketIndex(addr)]

	for i := *bucket; i != 0; {
		blk := c.blocks[i-1]
		if blk.base == base {
			return blk, int(i - 1)
		}
		c.stats.ChainSteps++
		i = blk.next
	}

	if !alloc {
		return nil, -1
	}

	blk := &Block{base: base, next: *bucket}
	c.blocks = append(c.blocks, blk)
	*bucket = int32(len(c.blocks))
	c.stats.Blocks++

	c.logger.WithFields(logrus.Fields{
		"block":   fmt.Sprintf("0x%x", base),
		"bucket":  BucketIndex(addr),
		"chained": blk.next != 0,
	}).Debug("instruction block allocated")

	return blk, len(c.blocks) - 1
}

func (b *Block) init() {
	for i := range b.records {
		b.records[i].Reset(b.base + uint64(i)<<PCBits)
	}
	b.isInit = true
}

// LookupOrDecode returns the record for addr, decoding it on its first
// lookup. Later lookups of the same address return the same record without
// decoding again.
func (c *Cache) LookupOrDecode(addr uint64) (*insts.Record, insts.Handle, error) {
	if addr&(granule-1) != 0 {
		return nil, insts.NoHandle, fmt.Errorf("fetch at 0x%x: %w", addr, ErrMisaligned)
	}

	c.stats.Lookups++

	blk, idx := c.findBlock(addr, true)
	if !blk.isInit {
		blk.init()
	}

	slot := SlotIndex(addr)
	rec := &blk.records[slot]
	if rec.Resolved() {
		c.stats.Hits++
		return rec, makeHandle(idx, slot), nil
	}

	if err := c.decode(rec, addr); err != nil {
		return nil, insts.NoHandle, err
	}

	return rec, makeHandle(idx, slot), nil
}

func (c *Cache) decode(rec *insts.Record, addr uint64) error {
	opcode, err := c.fetcher.FetchOpcode(addr)
	if err != nil {
		return fmt.Errorf("failed to fetch instruction: %w", err)
	}

	decoded, err := c.decoder.Decode(opcode)
	if err != nil {
		c.stats.DecodeErrors++

		var ill *insts.IllegalInstructionError
		if errors.As(err, &ill) {
			ill.Addr = addr
		}

		c.logger.WithFields(logrus.Fields{
			"pc":     fmt.Sprintf("0x%x", addr),
			"opcode": fmt.Sprintf("0x%x", opcode),
		}).Warn(err.Error())

		return err
	}

	if err := rec.Resolve(addr, decoded, c.regs); err != nil {
		return fmt.Errorf("failed to resolve instruction at 0x%x: %w", addr, err)
	}
	if rec.Size < 8 {
		rec.Opcode &= (uint64(1) << uint(rec.Size*8)) - 1
	}
	c.stats.Decodes++

	if c.onDecode != nil {
		c.onDecode(rec)
	}

	return nil
}

// Lookup returns the decoded record for addr without decoding.
func (c *Cache) Lookup(addr uint64) (*insts.Record, insts.Handle, bool) {
	blk, idx := c.findBlock(addr, false)
	if blk == nil || !blk.isInit {
		return nil, insts.NoHandle, false
	}

	slot := SlotIndex(addr)
	rec := &blk.records[slot]
	if !rec.Resolved() || rec.Addr != addr {
		return nil, insts.NoHandle, false
	}

	return rec, makeHandle(idx, slot), true
}

// Record returns the record identified by h, or nil for NoHandle and for
// handles that do not belong to this cache.
func (c *Cache) Record(h insts.Handle) *insts.Record {
	blockIdx := int(h>>BlockSizeLog2) - 1
	if blockIdx < 0 || blockIdx >= len(c.blocks) {
		return nil
	}
	return &c.blocks[blockIdx].records[int(h)&(BlockSize-1)]
}

// Invalidate drops the decoded record at addr, if any.
func (c *Cache) Invalidate(addr uint64) {
	blk, _ := c.findBlock(addr, false)
	if blk == nil || !blk.isInit {
		return
	}

	rec := &blk.records[SlotIndex(addr)]
	if rec.Resolved() {
		rec.Invalidate()
		c.stats.Invalidations++
	}
}

// InvalidateRange drops every decoded record overlapping the size bytes at
// addr. It is meant to be called from the memory write path.
func (c *Cache) InvalidateRange(addr uint64, size int) {
	if size <= 0 {
		return
	}

	end := addr + uint64(size)
	start := addr &^ (granule - 1)
	if start >= MaxInsnSize-granule {
		start -= MaxInsnSize - granule
	} else {
		start = 0
	}

	for a := start; a < end; a += granule {
		rec, _, ok := c.Lookup(a)
		if !ok {
			continue
		}
		if rec.Addr+uint64(rec.Size) > addr {
			rec.Invalidate()
			c.stats.Invalidations++
		}
	}
}

// SetDecoder replaces the decoder, e.g. on an ISA mode switch. Records
// decoded by the previous decoder are flushed.
func (c *Cache) SetDecoder(decoder Decoder) {
	c.decoder = decoder
	c.Flush()
}

// Flush drops every block.
func (c *Cache) Flush() {
	c.buckets = [NumBuckets]int32{}
	c.blocks = nil
	c.stats.Flushes++
}

// Blocks returns the number of allocated blocks.
func (c *Cache) Blocks() int {
	return len(c.blocks)
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}
