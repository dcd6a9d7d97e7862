// Package execmem implements the executable-memory provider (C4): it
// allocates a host buffer that is simultaneously writable and executable
// so the JIT can emit machine code into it and then jump there, and
// releases that buffer afterwards. Because translation is single-pass and
// the buffer is only executed once translation has completed, the core
// needs no W^X toggling (§4.4).
package execmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrOverflow indicates an Emit call would exceed the buffer's capacity.
var ErrOverflow = errors.New("execmem: buffer overflow")

// Buffer is a fixed-capacity RWX region with an append cursor. Entries
// emitted past its capacity set Err() and are silently dropped (§4.7's
// "mark the buffer's error flag and stop").
type Buffer struct {
	mem []byte
	pos int
	err error
}

// Allocate reserves `size` bytes of host memory that is readable,
// writable, and executable.
func Allocate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("execmem: invalid size %d", size)
	}
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("execmem: mmap failed: %w", err)
	}
	return &Buffer{mem: mem}, nil
}

// Release unmaps the buffer. The Buffer must not be used afterwards.
func (b *Buffer) Release() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// Pos returns the current append cursor, i.e. the number of bytes
// written so far. It also serves as the offset of the next emitted byte.
func (b *Buffer) Pos() int {
	return b.pos
}

// Bytes returns the backing buffer. Only the [0:Pos()) prefix is
// meaningful; the rest is unused capacity.
func (b *Buffer) Bytes() []byte {
	return b.mem
}

// Err returns the first overflow error encountered, if any.
func (b *Buffer) Err() error {
	return b.err
}

// Emit appends raw bytes at the cursor, advancing it. On overflow it
// records Err() and performs no write; callers should check Err() after
// a translation pass rather than after every Emit call.
func (b *Buffer) Emit(bytes ...byte) {
	if b.err != nil {
		return
	}
	if b.pos+len(bytes) > len(b.mem) {
		b.err = fmt.Errorf("%w: at offset %d, capacity %d", ErrOverflow, b.pos, len(b.mem))
		return
	}
	copy(b.mem[b.pos:], bytes)
	b.pos += len(bytes)
}

// EmitU32 appends a little-endian 32-bit value.
func (b *Buffer) EmitU32(v uint32) {
	b.Emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
