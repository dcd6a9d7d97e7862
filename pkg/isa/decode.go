// Package isa implements the RV32I instruction codec: field extraction
// and immediate decoding from a 32-bit instruction word.
//
// Instruction format
//
// RV32I instructions are a single 32-bit word. The fixed fields are:
//
//	<Funct7:7><RS2:5><RS1:5><Funct3:3><RD:5><Opcode:7>
//
// Five immediate encodings (I, S, U, B, J) reuse overlapping bit ranges of
// the same word; which one applies depends on the opcode. See Imm* below.
package isa

// Opcode values (bits [6:0] of the instruction word).
const (
	OpcodeLoad   = uint32(0x03)
	OpcodeFence  = uint32(0x0F)
	OpcodeOpImm  = uint32(0x13)
	OpcodeAuipc  = uint32(0x17)
	OpcodeStore  = uint32(0x23)
	OpcodeOp     = uint32(0x33)
	OpcodeLui    = uint32(0x37)
	OpcodeBranch = uint32(0x63)
	OpcodeJalr   = uint32(0x67)
	OpcodeJal    = uint32(0x6F)
	OpcodeSystem = uint32(0x73)
)

// funct3 values for OpcodeOpImm and OpcodeOp.
const (
	Funct3ADD_SUB = uint32(0x0)
	Funct3SLL     = uint32(0x1)
	Funct3SLT     = uint32(0x2)
	Funct3SLTU    = uint32(0x3)
	Funct3XOR     = uint32(0x4)
	Funct3SRL_SRA = uint32(0x5)
	Funct3OR      = uint32(0x6)
	Funct3AND     = uint32(0x7)
)

// funct3 values for OpcodeBranch.
const (
	Funct3BEQ  = uint32(0x0)
	Funct3BNE  = uint32(0x1)
	Funct3BLT  = uint32(0x4)
	Funct3BGE  = uint32(0x5)
	Funct3BLTU = uint32(0x6)
	Funct3BGEU = uint32(0x7)
)

// funct3 values for OpcodeLoad / OpcodeStore.
const (
	Funct3LB  = uint32(0x0)
	Funct3LH  = uint32(0x1)
	Funct3LW  = uint32(0x2)
	Funct3LBU = uint32(0x4)
	Funct3LHU = uint32(0x5)

	Funct3SB = uint32(0x0)
	Funct3SH = uint32(0x1)
	Funct3SW = uint32(0x2)
)

// Funct7 values distinguishing ADD/SUB and SRL/SRA.
const (
	Funct7Base = uint32(0x00)
	Funct7Alt  = uint32(0x20)
)

// Opcode decodes the opcode field I[6:0].
func Opcode(ci uint32) uint32 {
	return ci & 0b111_1111
}

// RD decodes the destination register field I[11:7].
func RD(ci uint32) uint32 {
	return (ci >> 7) & 0b1_1111
}

// Funct3 decodes the funct3 field I[14:12].
func Funct3(ci uint32) uint32 {
	return (ci >> 12) & 0b111
}

// RS1 decodes the first source register field I[19:15].
func RS1(ci uint32) uint32 {
	return (ci >> 15) & 0b1_1111
}

// RS2 decodes the second source register field I[24:20].
func RS2(ci uint32) uint32 {
	return (ci >> 20) & 0b1_1111
}

// Funct7 decodes the funct7 field I[31:25].
func Funct7(ci uint32) uint32 {
	return (ci >> 25) & 0b111_1111
}

// SignExtend interprets the low `bits` bits of v as a two's-complement
// signed integer and extends the sign through the remaining high bits of
// a 32-bit word. It is idempotent for values already within range.
func SignExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// ImmI decodes the 12-bit sign-extended I-type immediate, I[31:20].
func ImmI(ci uint32) uint32 {
	return SignExtend(ci>>20, 12)
}

// ImmS decodes the 12-bit sign-extended S-type immediate,
// {I[31:25], I[11:7]}.
func ImmS(ci uint32) uint32 {
	hi := (ci >> 25) & 0b111_1111
	lo := (ci >> 7) & 0b1_1111
	return SignExtend((hi<<5)|lo, 12)
}

// ImmU decodes the U-type immediate: I[31:12] occupies the upper 20 bits
// of a 32-bit value, zero-extended.
func ImmU(ci uint32) uint32 {
	return ci & 0xFFFFF000
}

// ImmB decodes the 13-bit sign-extended B-type immediate with bit 0
// forced to zero: {I[31], I[7], I[30:25], I[11:8], 0}.
func ImmB(ci uint32) uint32 {
	bit12 := (ci >> 31) & 0x1
	bit11 := (ci >> 7) & 0x1
	bits10_5 := (ci >> 25) & 0b11_1111
	bits4_1 := (ci >> 8) & 0b1111
	v := (bit12 << 12) | (bit11 << 11) | (bits10_5 << 5) | (bits4_1 << 1)
	return SignExtend(v, 13)
}

// ImmJ decodes the 21-bit sign-extended J-type immediate with bit 0
// forced to zero: {I[31], I[19:12], I[20], I[30:21], 0}.
func ImmJ(ci uint32) uint32 {
	bit20 := (ci >> 31) & 0x1
	bits19_12 := (ci >> 12) & 0xFF
	bit11 := (ci >> 20) & 0x1
	bits10_1 := (ci >> 21) & 0b11_1111_1111
	v := (bit20 << 20) | (bits19_12 << 12) | (bit11 << 11) | (bits10_1 << 1)
	return SignExtend(v, 21)
}

// Decode extracts every field of an instruction word in one call.
func Decode(ci uint32) (opcode, rd, funct3, rs1, rs2, funct7 uint32) {
	return Opcode(ci), RD(ci), Funct3(ci), RS1(ci), RS2(ci), Funct7(ci)
}
