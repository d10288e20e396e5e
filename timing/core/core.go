// Package core provides the instruction-set simulator core.
//
// The core fetches decoded records from the instruction block cache,
// dispatches them through their handler roles and accounts their cost in
// cycles: base latency, taken-branch penalty, instruction cache misses and
// contention on shared resources.
package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/issim/emu"
	"github.com/sarchlab/issim/icache"
	"github.com/sarchlab/issim/insts"
	"github.com/sarchlab/issim/isa"
	"github.com/sarchlab/issim/timing/cache"
	"github.com/sarchlab/issim/timing/latency"
	"github.com/sarchlab/issim/timing/resource"
)

// ErrExternalClock is returned by Run when time is driven by an external
// clock.
var ErrExternalClock = errors.New("core time is driven by an external clock")

// Clock tells the current simulated time. Akita engines implement it.
type Clock interface {
	CurrentTime() sim.VTimeInSec
}

// IllegalHandler is called when the instruction at pc cannot be fetched or
// decoded. It returns the address to continue at, typically the entry of a
// trap handler.
type IllegalHandler func(pc uint64, err error) uint64

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// StallCycles is the number of cycles instructions were held waiting
	// for a shared resource.
	StallCycles uint64
	// DependencyStallCycles is the number of cycles instructions waited for
	// a register produced by a resource access.
	DependencyStallCycles uint64
	// BusyCycles is the number of cycles spent in multi-cycle instructions.
	BusyCycles uint64
	// TakenBranches is the number of instructions that redirected control.
	TakenBranches uint64
	// LinkHits counts fetches served by a cached next or branch link.
	LinkHits uint64
	// HWLoopIterations is the number of jumps back to a loop start.
	HWLoopIterations uint64
	// IllegalInstructions is the number of fetch or decode faults.
	IllegalInstructions uint64

	ICache    icache.Statistics
	L1I       cache.Statistics
	Resources map[string]resource.Statistics
}

// CPI returns the cycles per retired instruction.
func (s Stats) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// link remembers which link of a record to fill once the next pc is
// looked up.
type link struct {
	rec   *insts.Record
	addr  uint64
	taken bool
}

// Core represents an instruction-set simulator core.
type Core struct {
	tables    *isa.Tables
	active    int
	regFile   *emu.RegFile
	icache    *icache.Cache
	resources *resource.Table
	latency   *latency.Table
	l1i       *cache.ICache

	clock   Clock
	freq    sim.Freq
	logger  logrus.FieldLogger
	tracing bool

	mode         Mode
	dispatchMode Mode
	onIllegal    IllegalHandler
	exitAddr     uint64
	hasExit      bool

	pc       uint64
	pcHandle insts.Handle
	pending  link

	cycle     int64
	nextIssue int64
	held      *insts.Record
	holdUntil int64
	granted   *insts.Record
	waiting   bool
	board     scoreboard

	loops      [MaxHWLoops]hwLoop
	loopJumped bool

	resourceFn insts.Handler
	hwLoopFn   insts.Handler

	halted   bool
	exitCode int64
	err      error

	stats Stats
}

type options struct {
	config    *latency.TimingConfig
	logger    logrus.FieldLogger
	clock     Clock
	mode      Mode
	isaName   string
	onIllegal IllegalHandler
	exitAddr  *uint64
}

// Option configures a Core.
type Option func(*options)

// WithTimingConfig sets the timing configuration.
func WithTimingConfig(config *latency.TimingConfig) Option {
	return func(o *options) {
		o.config = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock makes the core read the time from clock instead of counting its
// own ticks. The clock period is given by the configured frequency.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithMode sets the initial dispatch mode.
func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithISA selects the initial ISA of the set. The first ISA is used by
// default.
func WithISA(name string) Option {
	return func(o *options) {
		o.isaName = name
	}
}

// WithIllegalHandler sets the handler of illegal instructions. Without one
// the core halts on the first illegal instruction.
func WithIllegalHandler(h IllegalHandler) Option {
	return func(o *options) {
		o.onIllegal = h
	}
}

// WithExitAddr halts the core when it is about to fetch addr.
func WithExitAddr(addr uint64) Option {
	return func(o *options) {
		o.exitAddr = &addr
	}
}

type levelEnabler interface {
	IsLevelEnabled(level logrus.Level) bool
}

// NewCore creates a core executing the ISAs of set. Register operands are
// resolved into regFile and opcodes are read through fetcher.
func NewCore(set *isa.Set, regFile *emu.RegFile, fetcher icache.Fetcher, opts ...Option) (*Core, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.config == nil {
		o.config = latency.DefaultTimingConfig()
	}
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing config: %w", err)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.logger = l
	}

	set, err := set.WithInstances(o.config.ResourceInstances)
	if err != nil {
		return nil, err
	}
	tables, err := set.Build()
	if err != nil {
		return nil, err
	}

	c := &Core{
		tables:    tables,
		regFile:   regFile,
		resources: tables.Resources,
		latency:   latency.NewTableWithConfig(o.config),
		clock:     o.clock,
		freq:      sim.Freq(o.config.FrequencyMHz) * sim.MHz,
		logger:    o.logger,
		mode:      o.mode,
		onIllegal: o.onIllegal,
	}
	c.resourceFn = c.resourceHandler
	c.hwLoopFn = c.hwLoopHandler

	if le, ok := o.logger.(levelEnabler); ok {
		c.tracing = le.IsLevelEnabled(logrus.TraceLevel)
	}
	if o.exitAddr != nil {
		c.exitAddr = *o.exitAddr
		c.hasExit = true
	}

	if o.isaName != "" {
		idx, ok := tables.Index(o.isaName)
		if !ok {
			return nil, fmt.Errorf("unknown ISA %q", o.isaName)
		}
		c.active = idx
	}

	c.icache = icache.New(tables.Decoders[c.active], fetcher,
		icache.WithRegisters(regFile),
		icache.WithDecodeHook(c.onDecode),
		icache.WithLogger(c.logger),
	)

	if o.config.L1IEnabled {
		c.l1i = cache.New(cache.Config{
			Size:          int(o.config.L1ISize),
			Associativity: o.config.L1IAssociativity,
			BlockSize:     int(o.config.L1IBlockSize),
			HitLatency:    o.config.L1IHitLatency,
			MissLatency:   o.config.L1IMissLatency,
		})
	}

	return c, nil
}

// onDecode installs the core-specific roles on a newly decoded record.
func (c *Core) onDecode(rec *insts.Record) {
	if rec.HasResource() {
		rec.SetHandler(insts.RoleResource, c.resourceFn)
	}
	c.installHWLoop(rec)
}

// Now returns the current cycle.
func (c *Core) Now() int64 {
	if c.clock != nil {
		return int64(c.freq.Cycle(c.clock.CurrentTime()))
	}
	return c.cycle
}

func (c *Core) advance() {
	if c.clock == nil {
		c.cycle++
	}
}

// PC returns the address of the next instruction to issue.
func (c *Core) PC() uint64 {
	return c.pc
}

// SetPC sets the program counter. A held instruction is dropped.
func (c *Core) SetPC(pc uint64) {
	c.pc = pc
	c.pcHandle = insts.NoHandle
	c.pending = link{}
	c.held = nil
	c.granted = nil
	c.waiting = false
}

// Mode returns the dispatch mode.
func (c *Core) Mode() Mode {
	return c.mode
}

// SetMode changes the dispatch mode from the next instruction on.
func (c *Core) SetMode(mode Mode) {
	c.mode = mode
}

// ISA returns the name of the active ISA.
func (c *Core) ISA() string {
	return c.tables.Set.ISAs[c.active].Name
}

// Resources returns the resource table of the core.
func (c *Core) Resources() *resource.Table {
	return c.resources
}

// Halted returns true if the core has stopped.
func (c *Core) Halted() bool {
	return c.halted
}

// Err returns the fault that halted the core, if any.
func (c *Core) Err() error {
	return c.err
}

// Exit halts the core after the current instruction with the given exit
// code. It is called by the environment on a program exit.
func (c *Core) Exit(code int64) {
	c.halted = true
	c.exitCode = code
	c.logger.WithFields(logrus.Fields{
		"pc":   fmt.Sprintf("0x%x", c.pc),
		"code": code,
	}).Info("program exited")
}

// ExitCode returns the code passed to Exit.
func (c *Core) ExitCode() int64 {
	return c.exitCode
}

// LookupOrDecode returns the record at addr, decoding it on first use.
func (c *Core) LookupOrDecode(addr uint64) (*insts.Record, error) {
	rec, _, err := c.icache.LookupOrDecode(addr)
	return rec, err
}

// fetch returns the record at the pc, following the link cached by the
// previous instruction when it still designates the pc.
func (c *Core) fetch() (*insts.Record, insts.Handle, error) {
	if c.pcHandle != insts.NoHandle {
		rec := c.icache.Record(c.pcHandle)
		if rec != nil && rec.Resolved() && rec.Addr == c.pc {
			c.stats.LinkHits++
			return rec, c.pcHandle, nil
		}
	}

	rec, h, err := c.icache.LookupOrDecode(c.pc)
	if err != nil {
		return nil, insts.NoHandle, err
	}

	if p := c.pending; p.rec != nil && p.rec.Resolved() && p.rec.Addr == p.addr {
		if p.taken {
			p.rec.Branch = h
		} else {
			p.rec.Next = h
		}
	}
	c.pending = link{}

	return rec, h, nil
}

// follow moves the pc to next, reusing the link of rec to next if it is
// cached.
func (c *Core) follow(rec *insts.Record, next uint64, taken bool) {
	c.pc = next
	c.pcHandle = insts.NoHandle
	c.pending = link{}

	if !rec.Resolved() {
		return
	}

	h := rec.Next
	if taken {
		h = rec.Branch
	}
	if target := c.icache.Record(h); target != nil && target.Resolved() && target.Addr == next {
		c.pcHandle = h
		return
	}

	c.pending = link{rec: rec, addr: rec.Addr, taken: taken}
}

func (c *Core) chargeFetch(rec *insts.Record) uint64 {
	if c.l1i == nil || c.mode == ModeFast {
		return 0
	}
	return c.l1i.Access(rec.Addr).Latency
}

// Tick advances the core by one cycle.
func (c *Core) Tick() {
	if c.halted {
		return
	}

	now := c.Now()
	c.stats.Cycles++

	if now < c.nextIssue {
		switch {
		case c.held != nil:
			c.stats.StallCycles++
			c.pc = c.held.Handler(insts.RoleStall)(c.held)
		case c.waiting:
			c.stats.DependencyStallCycles++
		default:
			c.stats.BusyCycles++
		}
		c.advance()
		return
	}
	c.held = nil
	c.waiting = false

	if c.hasExit && c.pc == c.exitAddr {
		c.halted = true
		c.logger.WithField("pc", fmt.Sprintf("0x%x", c.pc)).Info("exit address reached")
		return
	}

	rec, h, err := c.fetch()
	if err != nil {
		c.illegal(now, err)
		c.advance()
		return
	}

	if c.mode != ModeFast {
		if ready := c.board.ready(rec); ready > now {
			c.wait(rec, h, now, ready)
			return
		}
	}

	fallthroughAddr := rec.Fallthrough()
	fetchLatency := c.chargeFetch(rec)

	if c.tracing {
		c.logger.WithFields(logrus.Fields{
			"cycle": now,
			"pc":    fmt.Sprintf("0x%x", rec.Addr),
		}).Trace(rec.String())
	}

	c.loopJumped = false
	next := c.Dispatch(rec, c.mode)

	if c.held == rec {
		c.stats.StallCycles++
		c.pc = next
		c.pcHandle = h
		c.nextIssue = c.holdUntil
		c.advance()
		return
	}

	// Jumps back to a hardware loop start cost no redirect.
	taken := next != fallthroughAddr && !c.loopJumped
	c.stats.Instructions++
	if taken {
		c.stats.TakenBranches++
	}

	c.nextIssue = now + int64(c.latency.Cycles(rec, taken)+fetchLatency)
	c.follow(rec, next, next != fallthroughAddr)
	c.advance()
}

// wait keeps rec at the pc until the registers it depends on are ready.
func (c *Core) wait(rec *insts.Record, h insts.Handle, now, ready int64) {
	if c.tracing {
		c.logger.WithFields(logrus.Fields{
			"cycle": now,
			"pc":    fmt.Sprintf("0x%x", rec.Addr),
			"ready": ready,
		}).Trace("waiting for operands")
	}

	c.stats.DependencyStallCycles++
	c.waiting = true
	c.pcHandle = h
	c.nextIssue = ready
	c.advance()
}

func (c *Core) illegal(now int64, err error) {
	c.stats.IllegalInstructions++
	c.pcHandle = insts.NoHandle
	c.pending = link{}

	c.logger.WithFields(logrus.Fields{
		"pc":    fmt.Sprintf("0x%x", c.pc),
		"cycle": now,
	}).Warn(err.Error())

	if c.onIllegal == nil {
		c.halted = true
		c.err = fmt.Errorf("core halted at 0x%x: %w", c.pc, err)
		return
	}

	c.pc = c.onIllegal(c.pc, err)
	c.nextIssue = now + 1
}

// Run ticks the core until it halts or maxCycles cycles have elapsed.
// It returns the fault that halted the core, if any.
func (c *Core) Run(maxCycles uint64) error {
	if c.clock != nil {
		return ErrExternalClock
	}

	for i := uint64(0); i < maxCycles && !c.halted; i++ {
		c.Tick()
	}

	return c.err
}

// SwitchISA makes the named ISA active. Every decoded record is dropped.
func (c *Core) SwitchISA(name string) error {
	idx, ok := c.tables.Index(name)
	if !ok {
		return fmt.Errorf("unknown ISA %q", name)
	}
	if idx == c.active {
		return nil
	}

	c.logger.WithFields(logrus.Fields{
		"from": c.ISA(),
		"to":   name,
	}).Info("switching ISA")

	c.active = idx
	c.icache.SetDecoder(c.tables.Decoders[idx])
	c.SetPC(c.pc)

	return nil
}

// InvalidateRange drops the decoded records and cached lines overlapping
// the size bytes at addr. It matches emu.WriteHook so it can be installed
// on the memory write path.
func (c *Core) InvalidateRange(addr uint64, size int) {
	c.icache.InvalidateRange(addr, size)
	if c.l1i != nil {
		c.l1i.InvalidateRange(addr, size)
	}

	// A held instruction that was overwritten is fetched and decoded again
	// once its hold ends. Its grant does not carry over to the new record.
	if c.held != nil && !c.held.Resolved() {
		c.held = nil
	}
	if c.granted != nil && !c.granted.Resolved() {
		c.granted = nil
	}
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	s := c.stats
	s.ICache = c.icache.Stats()
	if c.l1i != nil {
		s.L1I = c.l1i.Stats()
	}
	s.Resources = c.resources.Stats()
	return s
}

// Reset clears all execution state. Decoded records are kept.
func (c *Core) Reset() {
	for i := range c.loops {
		c.ClearHWLoop(i)
	}

	c.resources.Reset()
	c.board.reset()
	c.icache.ResetStats()
	if c.l1i != nil {
		c.l1i.Reset()
	}

	c.SetPC(0)
	c.cycle = 0
	c.nextIssue = 0
	c.holdUntil = 0
	c.halted = false
	c.exitCode = 0
	c.err = nil
	c.stats = Stats{}
}
