package isa

// Register indices following the standard RV32I ABI naming convention.
const (
	RegZero = uint32(iota) // hardwired zero
	RegRA                  // return address
	RegSP                  // stack pointer
	RegGP                  // global pointer
	RegTP                  // thread pointer
	RegT0
	RegT1
	RegT2
	RegS0 // frame pointer alias
	RegS1
	RegA0
	RegA1
	RegA2
	RegA3
	RegA4
	RegA5
	RegA6
	RegA7
	RegS2
	RegS3
	RegS4
	RegS5
	RegS6
	RegS7
	RegS8
	RegS9
	RegS10
	RegS11
	RegT3
	RegT4
	RegT5
	RegT6
)

// RegNames maps register index to its ABI name, in index order.
var RegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of register index i, or "x?" if out of range.
func RegName(i uint32) string {
	if i < uint32(len(RegNames)) {
		return RegNames[i]
	}
	return "x?"
}
