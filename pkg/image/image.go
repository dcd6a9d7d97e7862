// Package image implements the binary image loader (C8): it parses the
// fixed-size header described in the repository's design notes, copies
// code and data into a fresh cpu.VM, zero-fills bss, and rejects
// anything the core does not support (64-bit images, truncated files,
// an overflowing layout).
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bassosimone/rv32vm/pkg/cpu"
)

// HeaderSize is the fixed on-disk size of Header, reserved padding
// included.
const HeaderSize = 64

var magic = [4]byte{'R', 'V', '3', '2'}

const flagBit64 = 1 << 0

// LoadError reports why an image failed to load. It always wraps one
// of the Err* sentinels below, so callers can branch with errors.Is
// without string matching.
type LoadError struct {
	Err error
	Msg string
}

func (e *LoadError) Error() string { return fmt.Sprintf("image: %s: %v", e.Msg, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Sentinels wrapped by LoadError.
var (
	ErrTruncated     = errors.New("truncated image")
	ErrBadMagic      = errors.New("bad magic")
	ErrUnsupported64 = errors.New("64-bit images are not supported")
	ErrOverflow      = errors.New("layout overflows the allocated memory")
)

// Header is the fixed 64-byte on-disk image header, little-endian.
type Header struct {
	Magic    [4]byte
	Version  uint16
	Flags    uint16
	Entry    uint32
	LoadAddr uint32
	CodeOff  uint32
	CodeSize uint32
	DataOff  uint32
	DataSize uint32
	BSSSize  uint32
	WantRAM  uint32
	_        [24]byte
}

// Encode serializes h to its 64-byte on-disk form, for tools and tests
// that build images in memory.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.Entry)
	binary.LittleEndian.PutUint32(buf[12:16], h.LoadAddr)
	binary.LittleEndian.PutUint32(buf[16:20], h.CodeOff)
	binary.LittleEndian.PutUint32(buf[20:24], h.CodeSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.DataOff)
	binary.LittleEndian.PutUint32(buf[28:32], h.DataSize)
	binary.LittleEndian.PutUint32(buf[32:36], h.BSSSize)
	binary.LittleEndian.PutUint32(buf[36:40], h.WantRAM)
	return buf
}

func decodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < HeaderSize {
		return h, &LoadError{Err: ErrTruncated, Msg: fmt.Sprintf("header needs %d bytes, got %d", HeaderSize, len(raw))}
	}
	copy(h.Magic[:], raw[0:4])
	h.Version = binary.LittleEndian.Uint16(raw[4:6])
	h.Flags = binary.LittleEndian.Uint16(raw[6:8])
	h.Entry = binary.LittleEndian.Uint32(raw[8:12])
	h.LoadAddr = binary.LittleEndian.Uint32(raw[12:16])
	h.CodeOff = binary.LittleEndian.Uint32(raw[16:20])
	h.CodeSize = binary.LittleEndian.Uint32(raw[20:24])
	h.DataOff = binary.LittleEndian.Uint32(raw[24:28])
	h.DataSize = binary.LittleEndian.Uint32(raw[28:32])
	h.BSSSize = binary.LittleEndian.Uint32(raw[32:36])
	h.WantRAM = binary.LittleEndian.Uint32(raw[36:40])
	if !bytes.Equal(h.Magic[:], magic[:]) {
		return h, &LoadError{Err: ErrBadMagic, Msg: fmt.Sprintf("got %q", h.Magic)}
	}
	if h.Flags&flagBit64 != 0 {
		return h, &LoadError{Err: ErrUnsupported64, Msg: "flags bit0 set"}
	}
	return h, nil
}

func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Load parses raw as an image and constructs a cpu.VM sized to hold it.
// On success the VM's CodeOffset/CodeSize/DataOffset/DataSize/BSSOffset/
// BSSSize/Entry fields describe the layout just installed; the core is
// never entered on a load error.
func Load(raw []byte) (*cpu.VM, error) {
	return LoadWithWantRAM(raw, 0)
}

// LoadWithWantRAM parses raw exactly like Load, but additionally treats
// wantRAMOverride as a floor on the declared RAM requirement before
// rounding to a power of two (SPEC_FULL.md §4.10's --mem/config
// override). A zero wantRAMOverride leaves the header's own WantRAM
// value in charge, matching Load. The override can only grow the
// allocation, never shrink it below what the image's own layout needs.
func LoadWithWantRAM(raw []byte, wantRAMOverride uint32) (*cpu.VM, error) {
	h, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	layoutEnd, ok := addOverflowCheck(h.LoadAddr, h.CodeSize, h.DataSize, h.BSSSize)
	if !ok {
		return nil, &LoadError{Err: ErrOverflow, Msg: "loadAddr+codeSize+dataSize+bssSize overflows uint32"}
	}
	want := h.WantRAM
	if wantRAMOverride > want {
		want = wantRAMOverride
	}
	if layoutEnd > want {
		want = layoutEnd
	}
	size := nextPow2(want)
	if size == 0 {
		return nil, &LoadError{Err: ErrOverflow, Msg: "requested memory size overflows uint32"}
	}

	vm, err := cpu.New(size)
	if err != nil {
		return nil, &LoadError{Err: err, Msg: "constructing VM"}
	}

	if int64(h.CodeOff)+int64(h.CodeSize) > int64(len(raw)) {
		return nil, &LoadError{Err: ErrTruncated, Msg: "code section extends past end of file"}
	}
	if int64(h.DataOff)+int64(h.DataSize) > int64(len(raw)) {
		return nil, &LoadError{Err: ErrTruncated, Msg: "data section extends past end of file"}
	}

	codeDst := h.LoadAddr
	copyIn(vm, codeDst, raw[h.CodeOff:h.CodeOff+h.CodeSize])
	dataDst := codeDst + h.CodeSize
	copyIn(vm, dataDst, raw[h.DataOff:h.DataOff+h.DataSize])
	bssDst := dataDst + h.DataSize
	// bss is already zero: cpu.New allocates a zeroed buffer.

	vm.CodeOffset = codeDst & vm.Mask()
	vm.CodeSize = h.CodeSize
	vm.DataOffset = dataDst & vm.Mask()
	vm.DataSize = h.DataSize
	vm.BSSOffset = bssDst & vm.Mask()
	vm.BSSSize = h.BSSSize
	vm.Entry = h.Entry & vm.Mask()
	return vm, nil
}

func copyIn(vm *cpu.VM, dst uint32, src []byte) {
	for i, b := range src {
		vm.WriteByte(dst+uint32(i), b)
	}
}

func addOverflowCheck(a, b, c, d uint32) (sum uint32, ok bool) {
	total := uint64(a) + uint64(b) + uint64(c) + uint64(d)
	if total > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(total), true
}
