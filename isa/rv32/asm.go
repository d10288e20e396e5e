package rv32

// Encoders for the instructions of the set. They do not range-check their
// operands; out-of-range values are truncated to the field width.

func rType(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | (rs2&31)<<20 | (rs1&31)<<15 | funct3<<12 | (rd&31)<<7 | opcode
}

func iType(imm int32, rs1, funct3, rd, opcode uint32) uint32 {
	return uint32(imm&0xFFF)<<20 | (rs1&31)<<15 | funct3<<12 | (rd&31)<<7 | opcode
}

func sType(imm int32, rs2, rs1, funct3, opcode uint32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | (rs2&31)<<20 | (rs1&31)<<15 | funct3<<12 | (u&0x1F)<<7 | opcode
}

func bType(offset int32, rs2, rs1, funct3 uint32) uint32 {
	u := uint32(offset)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | (rs2&31)<<20 | (rs1&31)<<15 |
		funct3<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | 0x63
}

// LUI encodes lui rd, imm.
func LUI(rd uint32, imm uint32) uint32 {
	return imm&0xFFFFF000 | (rd&31)<<7 | 0x37
}

// ADDI encodes addi rd, rs1, imm.
func ADDI(rd, rs1 uint32, imm int32) uint32 { return iType(imm, rs1, 0, rd, 0x13) }

// ANDI encodes andi rd, rs1, imm.
func ANDI(rd, rs1 uint32, imm int32) uint32 { return iType(imm, rs1, 7, rd, 0x13) }

// ADD encodes add rd, rs1, rs2.
func ADD(rd, rs1, rs2 uint32) uint32 { return rType(0x00, rs2, rs1, 0, rd, 0x33) }

// SUB encodes sub rd, rs1, rs2.
func SUB(rd, rs1, rs2 uint32) uint32 { return rType(0x20, rs2, rs1, 0, rd, 0x33) }

// AND encodes and rd, rs1, rs2.
func AND(rd, rs1, rs2 uint32) uint32 { return rType(0x00, rs2, rs1, 7, rd, 0x33) }

// MUL encodes mul rd, rs1, rs2.
func MUL(rd, rs1, rs2 uint32) uint32 { return rType(0x01, rs2, rs1, 0, rd, 0x33) }

// DIV encodes div rd, rs1, rs2.
func DIV(rd, rs1, rs2 uint32) uint32 { return rType(0x01, rs2, rs1, 4, rd, 0x33) }

// LW encodes lw rd, offset(rs1).
func LW(rd, rs1 uint32, offset int32) uint32 { return iType(offset, rs1, 2, rd, 0x03) }

// SW encodes sw rs2, offset(rs1).
func SW(rs2, rs1 uint32, offset int32) uint32 { return sType(offset, rs2, rs1, 2, 0x23) }

// BEQ encodes beq rs1, rs2, offset.
func BEQ(rs1, rs2 uint32, offset int32) uint32 { return bType(offset, rs2, rs1, 0) }

// BNE encodes bne rs1, rs2, offset.
func BNE(rs1, rs2 uint32, offset int32) uint32 { return bType(offset, rs2, rs1, 1) }

// JAL encodes jal rd, offset.
func JAL(rd uint32, offset int32) uint32 {
	u := uint32(offset)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | (rd&31)<<7 | 0x6F
}

// JALR encodes jalr rd, offset(rs1).
func JALR(rd, rs1 uint32, offset int32) uint32 { return iType(offset, rs1, 0, rd, 0x67) }

// ECALL encodes ecall.
func ECALL() uint32 { return 0x73 }

// CLI encodes c.li rd, imm.
func CLI(rd uint32, imm int32) uint16 {
	u := uint32(imm)
	return uint16(2<<13 | (u>>5&1)<<12 | (rd&31)<<7 | (u&0x1F)<<2 | 0x1)
}

// CADDI encodes c.addi rd, imm.
func CADDI(rd uint32, imm int32) uint16 {
	u := uint32(imm)
	return uint16((u>>5&1)<<12 | (rd&31)<<7 | (u&0x1F)<<2 | 0x1)
}

// CJ encodes c.j offset.
func CJ(offset int32) uint16 {
	u := uint32(offset)
	return uint16(5<<13 | (u>>11&1)<<12 | (u>>4&1)<<11 | (u>>8&3)<<9 | (u>>10&1)<<8 |
		(u>>6&1)<<7 | (u>>7&1)<<6 | (u>>1&7)<<3 | (u>>5&1)<<2 | 0x1)
}
