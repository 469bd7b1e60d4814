// Package crc32engine implements the single CRC-32 algorithm shared by the
// host driver and the device receiver: bit-reversed polynomial 0xEDB88320,
// initial register 0xFFFFFFFF, final one's complement, little-endian on the
// wire. The table layout mirrors the teacher's hand-rolled CRC-16 table in
// pkg/usock, built the same way: a precomputed per-byte reflection table
// indexed by (register XOR byte) & 0xFF.
package crc32engine

// Polynomial is the bit-reversed form of the CRC-32 polynomial used by both
// ends of the upload protocol.
const Polynomial uint32 = 0xEDB88320

// InitialRegister is the shift register seed at the start of a computation.
const InitialRegister uint32 = 0xFFFFFFFF

var table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ Polynomial
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
}

// Engine is a streaming CRC-32 register. The zero value is not usable; use
// New. Engine is not safe for concurrent use.
type Engine struct {
	reg uint32
}

// New returns a freshly initialized streaming engine.
func New() *Engine {
	return &Engine{reg: InitialRegister}
}

// Reset returns the engine to its initial state, as at the start of a
// session.
func (e *Engine) Reset() {
	e.reg = InitialRegister
}

// UpdateByte folds a single byte into the register.
func (e *Engine) UpdateByte(b byte) {
	e.reg = (e.reg >> 8) ^ table[byte(e.reg)^b]
}

// Update folds an arbitrary byte slice into the register, in order.
func (e *Engine) Update(data []byte) {
	for _, b := range data {
		e.UpdateByte(b)
	}
}

// UpdateGroup folds four bytes, received in the given order, as a single
// 32-bit group. It is algebraically equivalent to four calls to UpdateByte
// with the same bytes in the same order (spec §4.4); the device receiver
// uses this form because it assembles a full group before folding.
func (e *Engine) UpdateGroup(group [4]byte) {
	for _, b := range group {
		e.UpdateByte(b)
	}
}

// Sum32 returns the finalized CRC-32 value (one's complement of the
// register) without mutating engine state, so a caller may keep folding
// after inspecting an intermediate value.
func (e *Engine) Sum32() uint32 {
	return e.reg ^ 0xFFFFFFFF
}

// Checksum computes the CRC-32 of a complete byte slice in one call, using
// the same 4-byte-group convention as the device's streaming fold: full
// groups are folded via UpdateGroup in receive order, and a trailing
// partial group (len(data) not a multiple of 4) is zero-padded on the
// right and folded once, exactly as the device's finalizeCRC does. This is
// the convention spec §4.4 calls CRC32_host, and it is required to be
// identical to CRC32_device_stream for every image length, not just
// multiples of 4 -- a plain byte-wise fold diverges from the device's
// value whenever len(data)%4 != 0.
func Checksum(data []byte) uint32 {
	e := New()
	i := 0
	for ; i+4 <= len(data); i += 4 {
		e.UpdateGroup([4]byte{data[i], data[i+1], data[i+2], data[i+3]})
	}
	if rem := len(data) - i; rem > 0 {
		var group [4]byte
		copy(group[:], data[i:])
		e.UpdateGroup(group)
	}
	return e.Sum32()
}
