package uploader

import (
	"sync"
	"time"

	"github.com/librescoot/fwupload/pkg/transport"
)

// fakePort is an in-memory transport.Port standing in for a real serial
// device in tests: everything WriteAll sends is recorded, and ReadExact
// serves bytes pre-loaded by the test (the simulated device's responses).
type fakePort struct {
	mu      sync.Mutex
	written []byte
	toRead  []byte
	closed  bool
}

func newFakePort(toRead []byte) *fakePort {
	return &fakePort{toRead: append([]byte(nil), toRead...)}
}

func (p *fakePort) WriteAll(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, data...)
	return nil
}

func (p *fakePort) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.toRead) < n {
		got := p.toRead
		p.toRead = nil
		return got, transport.ErrTimeout
	}
	out := p.toRead[:n]
	p.toRead = p.toRead[n:]
	return out, nil
}

func (p *fakePort) Drain() error { return nil }
func (p *fakePort) Purge() error { return nil }
func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func openFake(resp []byte) func(name string, baud int) (transport.Port, error) {
	port := newFakePort(resp)
	return func(name string, baud int) (transport.Port, error) {
		return port, nil
	}
}
