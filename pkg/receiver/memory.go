package receiver

import (
	"fmt"
	"sync"

	"github.com/librescoot/fwupload/pkg/protocol"
)

// InMemoryFIFO is a bounded byte FIFO sized to absorb an entire chunk plus
// margin (spec §5 recommends ≥256 bytes). It is safe for one producer and
// one consumer.
type InMemoryFIFO struct {
	mu   sync.Mutex
	buf  []byte
	cap  int
}

// NewInMemoryFIFO returns a FIFO with the given capacity; capacity <= 0
// uses the spec-recommended 256-byte minimum.
func NewInMemoryFIFO(capacity int) *InMemoryFIFO {
	if capacity <= 0 {
		capacity = 256
	}
	return &InMemoryFIFO{cap: capacity}
}

// Push appends a byte, dropping it and reporting false if the FIFO is
// full. Protocol flow never overflows this in practice because the host
// waits for ACKs between chunks (spec §5).
func (f *InMemoryFIFO) Push(b byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) >= f.cap {
		return false
	}
	f.buf = append(f.buf, b)
	return true
}

// PushAll pushes every byte of data, stopping (and reporting the count
// actually pushed) at the first byte that would overflow the FIFO.
func (f *InMemoryFIFO) PushAll(data []byte) int {
	for i, b := range data {
		if !f.Push(b) {
			return i
		}
	}
	return len(data)
}

// Pull implements FIFO.
func (f *InMemoryFIFO) Pull() (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return 0, false
	}
	b := f.buf[0]
	f.buf = f.buf[1:]
	return b, true
}

// WordMemoryBuffer is an in-memory, word-addressed memory region sized for
// the maximum image (protocol.MaxImageSize bytes, rounded up to a whole
// number of 16-bit words).
type WordMemoryBuffer struct {
	mu    sync.Mutex
	words []uint16
	// Fail, while set, makes every WriteWord call return an error,
	// simulating a write-subsystem failure (spec §4.3's NAK path for
	// "write-subsystem failure reported by memory writer").
	Fail bool
}

// NewWordMemoryBuffer returns a zeroed memory region large enough for
// protocol.MaxImageSize bytes.
func NewWordMemoryBuffer() *WordMemoryBuffer {
	return &WordMemoryBuffer{words: make([]uint16, (protocol.MaxImageSize+1)/2)}
}

// WriteWord implements WordMemory.
func (m *WordMemoryBuffer) WriteWord(addr uint32, word uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("memory writer: simulated failure at word address %d", addr)
	}
	if int(addr) >= len(m.words) {
		return fmt.Errorf("memory writer: address %d out of range", addr)
	}
	m.words[addr] = word
	return nil
}

// Bytes reconstructs the low-byte-first image written so far, up to n
// bytes, for test assertions.
func (m *WordMemoryBuffer) Bytes(n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, 0, n)
	for i := 0; len(out) < n; i++ {
		w := m.words[i]
		out = append(out, byte(w), byte(w>>8))
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// LoopbackUART is an in-memory UART: Send appends to a byte slice with no
// transmission delay, so TxBusy is always false once Send returns. It is
// the simulation harness's stand-in for the real peripheral's ready-bit
// register (spec §1).
type LoopbackUART struct {
	mu  sync.Mutex
	out []byte
}

// NewLoopbackUART returns an idle, empty UART.
func NewLoopbackUART() *LoopbackUART {
	return &LoopbackUART{}
}

// Send implements UART.
func (u *LoopbackUART) Send(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.out = append(u.out, b)
}

// TxBusy implements UART; the in-memory peripheral never stays busy.
func (u *LoopbackUART) TxBusy() bool {
	return false
}

// Sent returns a copy of every byte transmitted so far.
func (u *LoopbackUART) Sent() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]byte, len(u.out))
	copy(out, u.out)
	return out
}
