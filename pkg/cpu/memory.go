package cpu

// Every memory access the guest performs — fetch, load, store — is
// masked independently per byte (§3, §4.2): addr & M. There are no
// faults on out-of-range addresses; the sandbox is modular. When
// DebugChecks is set, an address that required masking (i.e. differed
// from its pre-mask form) is reported through the diagnostic hook, but
// the access always proceeds using the masked address regardless.

func (vm *VM) maskedByte(addr uint32, pc, instr uint32) byte {
	masked := addr & vm.mask
	if vm.DebugChecks && masked != addr {
		vm.report("memory access out of bounds (pre-mask)", pc, instr)
	}
	return vm.Mem[masked]
}

func (vm *VM) setMaskedByte(addr uint32, v byte, pc, instr uint32) {
	masked := addr & vm.mask
	if vm.DebugChecks && masked != addr {
		vm.report("memory access out of bounds (pre-mask)", pc, instr)
	}
	vm.Mem[masked] = v
}

// ReadByte reads one masked byte of memory.
func (vm *VM) ReadByte(addr uint32) byte {
	return vm.maskedByte(addr, vm.PC, 0)
}

// WriteByte writes one masked byte of memory.
func (vm *VM) WriteByte(addr uint32, v byte) {
	vm.setMaskedByte(addr, v, vm.PC, 0)
}

// FetchWord fetches the 32-bit little-endian instruction word at pc & M,
// masking every one of the four byte reads independently.
func (vm *VM) FetchWord(pc uint32) uint32 {
	b0 := vm.maskedByte(pc+0, pc, 0)
	b1 := vm.maskedByte(pc+1, pc, 0)
	b2 := vm.maskedByte(pc+2, pc, 0)
	b3 := vm.maskedByte(pc+3, pc, 0)
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

// LoadByte loads one byte at addr, sign- or zero-extending to 32 bits.
func (vm *VM) LoadByte(addr uint32, signed bool, pc, instr uint32) uint32 {
	b := vm.maskedByte(addr, pc, instr)
	if signed {
		return uint32(int32(int8(b)))
	}
	return uint32(b)
}

// LoadHalf loads a little-endian halfword at addr, sign- or
// zero-extending to 32 bits. Unaligned accesses are permitted.
func (vm *VM) LoadHalf(addr uint32, signed bool, pc, instr uint32) uint32 {
	b0 := vm.maskedByte(addr+0, pc, instr)
	b1 := vm.maskedByte(addr+1, pc, instr)
	v := uint32(b0) | uint32(b1)<<8
	if signed {
		return uint32(int32(int16(v)))
	}
	return v
}

// LoadWord loads a little-endian word at addr. Unaligned accesses are
// permitted and defined byte-by-byte under the mask.
func (vm *VM) LoadWord(addr uint32, pc, instr uint32) uint32 {
	b0 := vm.maskedByte(addr+0, pc, instr)
	b1 := vm.maskedByte(addr+1, pc, instr)
	b2 := vm.maskedByte(addr+2, pc, instr)
	b3 := vm.maskedByte(addr+3, pc, instr)
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

// StoreByte stores the low 8 bits of v at addr.
func (vm *VM) StoreByte(addr uint32, v uint32, pc, instr uint32) {
	vm.setMaskedByte(addr, byte(v), pc, instr)
}

// StoreHalf stores the low 16 bits of v little-endian at addr.
func (vm *VM) StoreHalf(addr uint32, v uint32, pc, instr uint32) {
	vm.setMaskedByte(addr+0, byte(v), pc, instr)
	vm.setMaskedByte(addr+1, byte(v>>8), pc, instr)
}

// StoreWord stores v little-endian at addr.
func (vm *VM) StoreWord(addr uint32, v uint32, pc, instr uint32) {
	vm.setMaskedByte(addr+0, byte(v), pc, instr)
	vm.setMaskedByte(addr+1, byte(v>>8), pc, instr)
	vm.setMaskedByte(addr+2, byte(v>>16), pc, instr)
	vm.setMaskedByte(addr+3, byte(v>>24), pc, instr)
}
