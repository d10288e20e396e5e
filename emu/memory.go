package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

// MaxOpcodeSize is the number of bytes FetchOpcode reads.
const MaxOpcodeSize = 4

// ErrUnmapped is returned when an instruction is fetched from an address
// no program or data was ever written to.
var ErrUnmapped = errors.New("unmapped address")

// WriteHook is called after every write with the written range.
type WriteHook func(addr uint64, size int)

// Memory is a sparse little-endian byte-addressable memory. Pages are
// allocated on first write; reads of unallocated pages return zero.
type Memory struct {
	pages map[uint64]*[pageSize]byte
	hook  WriteHook
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[pageSize]byte)}
}

// SetWriteHook installs a hook run after every write, e.g. to invalidate
// decoded instructions on self-modifying code. Passing nil removes it.
func (m *Memory) SetWriteHook(hook WriteHook) {
	m.hook = hook
}

func (m *Memory) page(addr uint64, alloc bool) *[pageSize]byte {
	p := m.pages[addr>>pageBits]
	if p == nil && alloc {
		p = new([pageSize]byte)
		m.pages[addr>>pageBits] = p
	}
	return p
}

// Mapped reports whether addr lies in an allocated page.
func (m *Memory) Mapped(addr uint64) bool {
	return m.page(addr, false) != nil
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) uint8 {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr&pageMask]
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, value uint8) {
	m.page(addr, true)[addr&pageMask] = value
	if m.hook != nil {
		m.hook(addr, 1)
	}
}

func (m *Memory) read(addr uint64, buf []byte) {
	for i := range buf {
		buf[i] = m.Read8(addr + uint64(i))
	}
}

func (m *Memory) write(addr uint64, buf []byte) {
	for i, b := range buf {
		m.page(addr+uint64(i), true)[(addr+uint64(i))&pageMask] = b
	}
	if m.hook != nil {
		m.hook(addr, len(buf))
	}
}

// Read16 reads a little-endian 16-bit value.
func (m *Memory) Read16(addr uint64) uint16 {
	var buf [2]byte
	m.read(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

// Read32 reads a little-endian 32-bit value.
func (m *Memory) Read32(addr uint64) uint32 {
	var buf [4]byte
	m.read(addr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// Read64 reads a little-endian 64-bit value.
func (m *Memory) Read64(addr uint64) uint64 {
	var buf [8]byte
	m.read(addr, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Write16 writes a little-endian 16-bit value.
func (m *Memory) Write16(addr uint64, value uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	m.write(addr, buf[:])
}

// Write32 writes a little-endian 32-bit value.
func (m *Memory) Write32(addr uint64, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	m.write(addr, buf[:])
}

// Write64 writes a little-endian 64-bit value.
func (m *Memory) Write64(addr uint64, value uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	m.write(addr, buf[:])
}

// LoadProgram copies data to addr.
func (m *Memory) LoadProgram(addr uint64, data []byte) {
	m.write(addr, data)
}

// FetchOpcode reads MaxOpcodeSize bytes at addr for decoding. Fetching from
// an unallocated page fails with ErrUnmapped.
func (m *Memory) FetchOpcode(addr uint64) (uint64, error) {
	if !m.Mapped(addr) {
		return 0, fmt.Errorf("fetch at 0x%x: %w", addr, ErrUnmapped)
	}
	return uint64(m.Read32(addr)), nil
}
