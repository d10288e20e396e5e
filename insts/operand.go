package insts

import "fmt"

// Limits of the static decode data and of the decoded records.
const (
	MaxDecodeRanges = 8
	MaxDecodeArgs   = 5
	MaxImmediates   = 4
	MaxOutRegs      = 3
	MaxInRegs       = 3
)

// Range is one fragment of an operand field. Width bits are taken at Bit in
// the opcode and placed at Shift in the reconstructed value.
type Range struct {
	Bit   int
	Width int
	Shift int
}

func (r Range) extract(opcode uint64) uint64 {
	return ((opcode >> uint(r.Bit)) & lowMask(r.Width)) << uint(r.Shift)
}

func lowMask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

// RangeSet is the list of fragments of a field split across the opcode.
type RangeSet []Range

// Extract shifts every fragment into position and ORs them together.
func (s RangeSet) Extract(opcode uint64) uint64 {
	var value uint64
	for _, r := range s {
		value |= r.extract(opcode)
	}
	return value
}

// Width returns the number of significant bits of the reconstructed value.
func (s RangeSet) Width() int {
	width := 0
	for _, r := range s {
		if end := r.Shift + r.Width; end > width {
			width = end
		}
	}
	return width
}

// SignExtend interprets the low width bits of value as a two's complement
// number.
func SignExtend(value uint64, width int) int64 {
	if width <= 0 || width >= 64 {
		return int64(value)
	}
	shift := uint(64 - width)
	return int64(value<<shift) >> shift
}

// FieldKind tells where a Field takes its value from.
type FieldKind uint8

// Field kinds.
const (
	FieldRanges FieldKind = iota // bit ranges of the opcode
	FieldConstU                  // unsigned constant
	FieldConstS                  // signed constant
)

// Field describes how the value of an operand is obtained.
type Field struct {
	Kind   FieldKind
	Ranges RangeSet
	Const  uint64
}

// Bits builds a field from opcode fragments.
func Bits(ranges ...Range) Field {
	return Field{Kind: FieldRanges, Ranges: RangeSet(ranges)}
}

// Bitfield builds a field from a single contiguous range placed at bit 0.
func Bitfield(bit, width int) Field {
	return Bits(Range{Bit: bit, Width: width})
}

// ConstU builds a field with a fixed unsigned value.
func ConstU(v uint64) Field {
	return Field{Kind: FieldConstU, Const: v}
}

// ConstS builds a field with a fixed signed value.
func ConstS(v int64) Field {
	return Field{Kind: FieldConstS, Const: uint64(v)}
}

// Unsigned returns the raw value of the field for opcode.
func (f Field) Unsigned(opcode uint64) uint64 {
	if f.Kind == FieldRanges {
		return f.Ranges.Extract(opcode)
	}
	return f.Const
}

// Signed returns the value of the field sign-extended from its top bit.
func (f Field) Signed(opcode uint64) int64 {
	switch f.Kind {
	case FieldRanges:
		return SignExtend(f.Ranges.Extract(opcode), f.Ranges.Width())
	default:
		return int64(f.Const)
	}
}

func (f Field) validate() error {
	if f.Kind != FieldRanges {
		return nil
	}
	if len(f.Ranges) == 0 {
		return fmt.Errorf("field has no bit range")
	}
	if len(f.Ranges) > MaxDecodeRanges {
		return fmt.Errorf("field has %d ranges, at most %d allowed", len(f.Ranges), MaxDecodeRanges)
	}
	for _, r := range f.Ranges {
		if r.Width <= 0 || r.Bit < 0 || r.Shift < 0 || r.Bit+r.Width > 64 || r.Shift+r.Width > 64 {
			return fmt.Errorf("invalid range bit=%d width=%d shift=%d", r.Bit, r.Width, r.Shift)
		}
	}
	return nil
}

// OperandKind is the tag of an operand descriptor.
type OperandKind uint8

// Operand kinds.
const (
	KindNone OperandKind = iota
	KindOutReg
	KindInReg
	KindUImm
	KindSImm
	KindIndirectImm
	KindIndirectReg
	KindFlag
)

var kindNames = [...]string{
	KindNone:        "none",
	KindOutReg:      "out-reg",
	KindInReg:       "in-reg",
	KindUImm:        "uimm",
	KindSImm:        "simm",
	KindIndirectImm: "indirect-imm",
	KindIndirectReg: "indirect-reg",
	KindFlag:        "flag",
}

func (k OperandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("OperandKind(%d)", uint8(k))
}

// OperandFlag holds the modifiers of an operand.
type OperandFlag uint8

// Operand modifiers.
const (
	FlagPostInc    OperandFlag = 1 << iota // base register updated after the access
	FlagPreInc                             // base register updated before the access
	FlagCompressed                         // 3-bit register field of a compressed encoding (x8-x15)
	FlagFReg                               // floating-point register file
	FlagReg64                              // 64-bit register pair
	FlagDumpName                           // print the operand name in traces

	FlagNone OperandFlag = 0
)

// Has reports whether all bits of m are set.
func (f OperandFlag) Has(m OperandFlag) bool {
	return f&m == m
}

// Operand is a static operand descriptor. The concrete types are RegOperand,
// ImmOperand, IndirectImmOperand, IndirectRegOperand and FlagOperand.
type Operand interface {
	Kind() OperandKind
	Flags() OperandFlag
	Name() string

	validate() error
}

// RegOperand is an input or output register.
type RegOperand struct {
	Dir   OperandKind // KindOutReg or KindInReg
	Label string
	ID    int // register slot in the record
	Field Field
	Mods  OperandFlag
}

// OutReg declares an output register stored in out slot id.
func OutReg(name string, id int, field Field, mods ...OperandFlag) *RegOperand {
	return &RegOperand{Dir: KindOutReg, Label: name, ID: id, Field: field, Mods: mergeFlags(mods)}
}

// InReg declares an input register stored in in slot id.
func InReg(name string, id int, field Field, mods ...OperandFlag) *RegOperand {
	return &RegOperand{Dir: KindInReg, Label: name, ID: id, Field: field, Mods: mergeFlags(mods)}
}

// Kind implements Operand.
func (o *RegOperand) Kind() OperandKind { return o.Dir }

// Flags implements Operand.
func (o *RegOperand) Flags() OperandFlag { return o.Mods }

// Name implements Operand.
func (o *RegOperand) Name() string { return o.Label }

func (o *RegOperand) validate() error {
	limit := MaxInRegs
	switch o.Dir {
	case KindOutReg:
		limit = MaxOutRegs
	case KindInReg:
	default:
		return fmt.Errorf("register operand %q has kind %s", o.Label, o.Dir)
	}
	if o.ID < 0 || o.ID >= limit {
		return fmt.Errorf("register operand %q uses slot %d, must be below %d", o.Label, o.ID, limit)
	}
	return o.Field.validate()
}

// index returns the architectural register number encoded in opcode.
func (o *RegOperand) index(opcode uint64) int {
	idx := int(o.Field.Unsigned(opcode))
	if o.Mods.Has(FlagCompressed) {
		idx += 8
	}
	return idx
}

// ImmOperand is an unsigned or signed immediate.
type ImmOperand struct {
	Signed bool
	Label  string
	ID     int // immediate slot in the record
	Field  Field
	Mods   OperandFlag
}

// UImm declares an unsigned immediate stored in immediate slot id.
func UImm(name string, id int, field Field, mods ...OperandFlag) *ImmOperand {
	return &ImmOperand{Label: name, ID: id, Field: field, Mods: mergeFlags(mods)}
}

// SImm declares a signed immediate stored in immediate slot id.
func SImm(name string, id int, field Field, mods ...OperandFlag) *ImmOperand {
	return &ImmOperand{Signed: true, Label: name, ID: id, Field: field, Mods: mergeFlags(mods)}
}

// Kind implements Operand.
func (o *ImmOperand) Kind() OperandKind {
	if o.Signed {
		return KindSImm
	}
	return KindUImm
}

// Flags implements Operand.
func (o *ImmOperand) Flags() OperandFlag { return o.Mods }

// Name implements Operand.
func (o *ImmOperand) Name() string { return o.Label }

func (o *ImmOperand) validate() error {
	if o.ID < 0 || o.ID >= MaxImmediates {
		return fmt.Errorf("immediate %q uses slot %d, must be below %d", o.Label, o.ID, MaxImmediates)
	}
	return o.Field.validate()
}

// IndirectImmOperand is a memory operand addressed by base register plus
// immediate offset.
type IndirectImmOperand struct {
	Label  string
	Base   *RegOperand
	Offset *ImmOperand
	Mods   OperandFlag
}

// IndirectImm declares an offset(base) memory operand. With FlagPreInc or
// FlagPostInc the base register is also written to the out slot of the same
// id.
func IndirectImm(name string, base *RegOperand, offset *ImmOperand, mods ...OperandFlag) *IndirectImmOperand {
	return &IndirectImmOperand{Label: name, Base: base, Offset: offset, Mods: mergeFlags(mods)}
}

// Kind implements Operand.
func (o *IndirectImmOperand) Kind() OperandKind { return KindIndirectImm }

// Flags implements Operand.
func (o *IndirectImmOperand) Flags() OperandFlag { return o.Mods }

// Name implements Operand.
func (o *IndirectImmOperand) Name() string { return o.Label }

func (o *IndirectImmOperand) validate() error {
	if o.Base == nil || o.Offset == nil {
		return fmt.Errorf("indirect operand %q needs a base and an offset", o.Label)
	}
	if o.Base.Dir != KindInReg {
		return fmt.Errorf("indirect operand %q: base must be an input register", o.Label)
	}
	if err := o.Base.validate(); err != nil {
		return err
	}
	if o.updatesBase() && o.Base.ID >= MaxOutRegs {
		return fmt.Errorf("indirect operand %q: base slot %d has no out slot", o.Label, o.Base.ID)
	}
	return o.Offset.validate()
}

func (o *IndirectImmOperand) updatesBase() bool {
	return o.Mods&(FlagPostInc|FlagPreInc) != 0
}

// IndirectRegOperand is a memory operand addressed by base register plus
// offset register.
type IndirectRegOperand struct {
	Label  string
	Base   *RegOperand
	Offset *RegOperand
	Mods   OperandFlag
}

// IndirectReg declares an offset-register(base) memory operand.
func IndirectReg(name string, base, offset *RegOperand, mods ...OperandFlag) *IndirectRegOperand {
	return &IndirectRegOperand{Label: name, Base: base, Offset: offset, Mods: mergeFlags(mods)}
}

// Kind implements Operand.
func (o *IndirectRegOperand) Kind() OperandKind { return KindIndirectReg }

// Flags implements Operand.
func (o *IndirectRegOperand) Flags() OperandFlag { return o.Mods }

// Name implements Operand.
func (o *IndirectRegOperand) Name() string { return o.Label }

func (o *IndirectRegOperand) validate() error {
	if o.Base == nil || o.Offset == nil {
		return fmt.Errorf("indirect operand %q needs a base and an offset", o.Label)
	}
	if o.Base.Dir != KindInReg || o.Offset.Dir != KindInReg {
		return fmt.Errorf("indirect operand %q: base and offset must be input registers", o.Label)
	}
	if o.Base.ID == o.Offset.ID {
		return fmt.Errorf("indirect operand %q: base and offset share slot %d", o.Label, o.Base.ID)
	}
	if err := o.Base.validate(); err != nil {
		return err
	}
	if o.updatesBase() && o.Base.ID >= MaxOutRegs {
		return fmt.Errorf("indirect operand %q: base slot %d has no out slot", o.Label, o.Base.ID)
	}
	return o.Offset.validate()
}

func (o *IndirectRegOperand) updatesBase() bool {
	return o.Mods&(FlagPostInc|FlagPreInc) != 0
}

// FlagOperand is a small control field (e.g. a rounding mode or an
// acquire/release bit) stored as an unsigned immediate.
type FlagOperand struct {
	Label string
	ID    int
	Field Field
	Mods  OperandFlag
}

// Flag declares a flag operand stored in immediate slot id.
func Flag(name string, id int, field Field, mods ...OperandFlag) *FlagOperand {
	return &FlagOperand{Label: name, ID: id, Field: field, Mods: mergeFlags(mods)}
}

// Kind implements Operand.
func (o *FlagOperand) Kind() OperandKind { return KindFlag }

// Flags implements Operand.
func (o *FlagOperand) Flags() OperandFlag { return o.Mods }

// Name implements Operand.
func (o *FlagOperand) Name() string { return o.Label }

func (o *FlagOperand) validate() error {
	if o.ID < 0 || o.ID >= MaxImmediates {
		return fmt.Errorf("flag %q uses slot %d, must be below %d", o.Label, o.ID, MaxImmediates)
	}
	return o.Field.validate()
}

func mergeFlags(mods []OperandFlag) OperandFlag {
	var f OperandFlag
	for _, m := range mods {
		f |= m
	}
	return f
}

// Arg is the value of one operand extracted from an opcode.
type Arg struct {
	Kind  OperandKind
	Flags OperandFlag
	Name  string

	// Reg is the register index of register operands and the base register
	// of indirect operands.
	Reg int
	// OffsetReg is the offset register of indirect-register operands.
	OffsetReg int

	UImm uint64
	SImm int64
}

// RegSlot is a register operand of a record: its index and, once resolved,
// a reference into the register file.
type RegSlot struct {
	Valid bool
	Index int
	Flags OperandFlag
	Ref   *uint64
}

// Load reads the referenced register.
func (s *RegSlot) Load() uint64 {
	return *s.Ref
}

// Store writes the referenced register.
func (s *RegSlot) Store(v uint64) {
	*s.Ref = v
}
